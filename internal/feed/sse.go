package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	eventName        = "order_status"
	defaultHeartbeat = 25 * time.Second
)

// Stream writes sub to w as Server-Sent Events until ctx ends or the
// subscription closes. A comment line is sent every heartbeat to keep
// proxies from timing the connection out.
func Stream(ctx context.Context, w http.ResponseWriter, sub *Subscription, heartbeat time.Duration) error {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	rc := http.NewResponseController(w)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return err
	}

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
		case update, ok := <-sub.C:
			if !ok {
				return nil
			}
			data, err := json.Marshal(update)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "id: %s:%d\nevent: %s\ndata: %s\n\n", update.OrderID, update.Version, eventName, data); err != nil {
				return err
			}
		}
		if err := rc.Flush(); err != nil {
			return err
		}
	}
}
