package framebus

import "sort"

// CalculateDropRate returns the share (0.0 to 1.0) of a job's events that
// never reached a subscriber because its queue was full. On a buffered queue
// the terminal event displaces the oldest one (counted as Evicted) rather
// than being dropped. A rate above zero
// means some listener missed frame updates; its max_count stays correct
// because every event carries the running maximum.
func CalculateDropRate(stats BusStats) float64 {
	total := stats.TotalSent + stats.TotalDropped
	if total == 0 {
		return 0.0
	}
	return float64(stats.TotalDropped) / float64(total)
}

// CalculateSubscriberDropRate is CalculateDropRate for one listener (a
// websocket, a data channel or a broker sink). Unknown ids report 0.0.
func CalculateSubscriberDropRate(stats BusStats, subscriberID string) float64 {
	sub, exists := stats.Subscribers[subscriberID]
	if !exists {
		return 0.0
	}

	total := sub.Sent + sub.Dropped
	if total == 0 {
		return 0.0
	}
	return float64(sub.Dropped) / float64(total)
}

// SaturatedSubscribers returns the ids of listeners whose drop rate exceeds
// threshold, sorted. The engine logs them when a job ends.
func SaturatedSubscribers(stats BusStats, threshold float64) []string {
	var ids []string
	for id := range stats.Subscribers {
		if CalculateSubscriberDropRate(stats, id) > threshold {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
