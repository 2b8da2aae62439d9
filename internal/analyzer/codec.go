package analyzer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize bounds a single framed message (a 4K JPEG is well below it).
const maxMessageSize = 64 << 20

// request is sent to the worker process for every analyzed frame
type request struct {
	FrameData  []byte      `msgpack:"frame_data"`
	Width      int         `msgpack:"width"`
	Height     int         `msgpack:"height"`
	Confidence float64     `msgpack:"confidence"`
	Meta       requestMeta `msgpack:"meta"`
}

type requestMeta struct {
	Seq uint64 `msgpack:"seq"`
}

// response is read back from the worker process
type response struct {
	Data struct {
		PersonCount int   `msgpack:"person_count"`
		Detections  []Box `msgpack:"detections"`
	} `msgpack:"data"`
	Timing struct {
		TotalMS float64 `msgpack:"total_ms"`
	} `msgpack:"timing"`
	Error string `msgpack:"error,omitempty"`
}

// writeMessage writes v as a 4-byte big-endian length prefix followed by its
// msgpack encoding.
func writeMessage(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v interface{}) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > maxMessageSize {
		return fmt.Errorf("message length %d exceeds limit", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("failed to read message body (expected %d bytes): %w", length, err)
	}

	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
