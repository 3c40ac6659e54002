package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrStreamingUnsupported is returned when the writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Serve writes sub's events to w as server-sent events until ctx is done or
// the subscriber is closed. Each event is sent as "event: message" with the
// JSON payload as data; a comment line is written every heartbeat.
func Serve(ctx context.Context, w http.ResponseWriter, sub *Subscriber, heartbeat time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Comment line so proxies and clients see the stream open immediately.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case raw, ok := <-sub.C:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
