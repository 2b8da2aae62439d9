package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	streamcapture "github.com/e7canasta/orion-people-counter/modules/stream-capture"
)

// Version information
const version = "v0.2.0"

func main() {
	// Parse command-line flags
	uri := flag.String("url", "", "Video file path or stream URL (required)")
	live := flag.Bool("live", false, "Treat the source as a live stream (rtsp, http, ...)")
	outputDir := flag.String("output", "", "Directory to save captured frames (optional)")
	outputFormat := flag.String("format", "png", "Output format: png, jpeg")
	jpegQuality := flag.Int("jpeg-quality", 90, "JPEG quality (1-100, only for jpeg format)")
	maxFrames := flag.Int("max-frames", 0, "Maximum frames to capture (0 = unlimited)")
	statsInterval := flag.Int("stats-interval", 10, "Seconds between stats reports")
	openTimeout := flag.Duration("open-timeout", streamcapture.DefaultOpenTimeout, "Timeout for each backend attempt")
	readTimeout := flag.Duration("read-timeout", streamcapture.DefaultReadTimeout, "Timeout for a single frame read")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("test-capture %s\n", version)
		os.Exit(0)
	}

	if *uri == "" {
		fmt.Fprintf(os.Stderr, "Error: --url flag is required\n\n")
		fmt.Fprintf(os.Stderr, "Usage example:\n")
		fmt.Fprintf(os.Stderr, "  test-capture --url ./clip.mp4 --output ./frames\n")
		fmt.Fprintf(os.Stderr, "  test-capture --url rtsp://192.168.1.100/stream --live --max-frames 50\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if *outputFormat != "png" && *outputFormat != "jpeg" {
		log.Fatalf("Invalid output format: %s (must be png or jpeg)", *outputFormat)
	}

	if *outputDir != "" {
		if err := os.MkdirAll(*outputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
		slog.Info("Frame saving enabled",
			"directory", *outputDir,
			"format", *outputFormat,
			"jpeg_quality", *jpegQuality,
		)
	}

	src := streamcapture.Source{URI: *uri, Live: *live}

	fmt.Printf("\n")
	fmt.Printf("Stream Capture Test %s\n", version)
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Source:        %s\n", *uri)
	fmt.Printf("  Live:          %v\n", *live)
	fmt.Printf("  Candidates:   ")
	for _, b := range streamcapture.Candidates(src) {
		fmt.Printf(" %s", b.Name)
	}
	fmt.Printf("\n")
	if *maxFrames > 0 {
		fmt.Printf("  Max Frames:    %d\n", *maxFrames)
	} else {
		fmt.Printf("  Max Frames:    unlimited\n")
	}
	fmt.Printf("\n")

	opener, err := streamcapture.NewGstOpener()
	if err != nil {
		log.Fatalf("Failed to initialize GStreamer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture, err := streamcapture.Acquire(ctx, opener, src, streamcapture.Options{
		OpenTimeout: *openTimeout,
		ReadTimeout: *readTimeout,
	})
	if err != nil {
		var acqErr *streamcapture.AcquireError
		if errors.As(err, &acqErr) {
			for _, a := range acqErr.Attempts {
				fmt.Fprintf(os.Stderr, "  %-14s %-8s %v\n", a.Backend, a.Duration.Round(time.Millisecond), a.Err)
			}
		}
		log.Fatalf("Failed to open source: %v", err)
	}
	defer capture.Close()

	info := capture.Info()
	slog.Info("Source opened",
		"backend", info.Backend,
		"width", info.Width,
		"height", info.Height,
		"fps", info.FPS,
	)

	statsTicker := time.NewTicker(time.Duration(*statsInterval) * time.Second)
	defer statsTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				printStats(capture.Stats())
			}
		}
	}()

	framesSaved, framesDropped, frameCount := 0, 0, 0
	for {
		frame, err := capture.Read(ctx)
		if errors.Is(err, io.EOF) {
			fmt.Printf("\nEnd of stream\n")
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				fmt.Printf("\n\nReceived interrupt signal, shutting down...\n")
			} else {
				slog.Error("Read failed", "error", err)
			}
			break
		}

		frameCount++
		fmt.Printf("[%s] Frame #%-6d | Seq: %-8d | %dx%d | Size: %6.1f KB\n",
			time.Now().Format("15:04:05"),
			frameCount,
			frame.Seq,
			frame.Width, frame.Height,
			float64(len(frame.Data))/1024,
		)

		if *outputDir != "" {
			if err := saveFrame(*outputDir, frame, *outputFormat, *jpegQuality); err != nil {
				slog.Error("Failed to save frame", "error", err, "seq", frame.Seq)
				framesDropped++
			} else {
				framesSaved++
			}
		}

		if *maxFrames > 0 && frameCount >= *maxFrames {
			fmt.Printf("\nReached maximum frames (%d), stopping...\n", *maxFrames)
			break
		}
	}

	fmt.Printf("\nFinal Statistics\n")
	printStats(capture.Stats())
	if *outputDir != "" {
		fmt.Printf("  Frames Saved:       %d frames\n", framesSaved)
		fmt.Printf("  Frames Dropped:     %d frames\n", framesDropped)
	}

	slog.Info("Test capture completed")
}

func printStats(stats streamcapture.Stats) {
	fmt.Printf("\n")
	fmt.Printf("  Uptime:             %s\n", stats.Uptime.Round(time.Second))
	fmt.Printf("  Frames Read:        %d frames\n", stats.FramesRead)
	fmt.Printf("  Bytes Read:         %.2f MB\n", float64(stats.BytesRead)/1024/1024)
	if d := stats.Delivery; d != nil {
		fmt.Printf("  FPS Mean:           %.2f fps\n", d.FPSMean)
		fmt.Printf("  FPS Range:          %.1f - %.1f fps\n", d.FPSMin, d.FPSMax)
		fmt.Printf("  Jitter Mean:        %.3f s\n", d.JitterMean)
		fmt.Printf("  Stable:             %v\n", d.IsStable)
	}
	fmt.Printf("\n")
}

// saveFrame saves a frame to disk as PNG or JPEG
func saveFrame(outputDir string, frame streamcapture.Frame, format string, jpegQuality int) error {
	filename := fmt.Sprintf("frame_%06d_%s.%s", frame.Seq, frame.Timestamp.Format("20060102_150405.000"), format)

	file, err := os.Create(filepath.Join(outputDir, filename))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	img := frame.Image()
	switch format {
	case "png":
		if err := png.Encode(file, img); err != nil {
			return fmt.Errorf("failed to encode PNG: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	return nil
}
