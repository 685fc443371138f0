package api

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/bus"
)

// broadcaster fans engine events out to SSE connections. The bus has no
// unsubscribe, so one shared subscription feeds per-connection channels that
// are added and removed as clients come and go. Slow clients drop events
// rather than blocking the engine.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan bus.Event]struct{}
}

func newBroadcaster(events *bus.Bus) *broadcaster {
	b := &broadcaster{subs: make(map[chan bus.Event]struct{})}
	events.SubscribeAll(b.publish)
	return b
}

func (b *broadcaster) publish(ev bus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) subscribe() chan bus.Event {
	ch := make(chan bus.Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) unsubscribe(ch chan bus.Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// handleSSE streams engine events to the client as server-sent events.
func handleSSE(b *broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ch := b.subscribe()
		defer b.unsubscribe(ch)

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case ev := <-ch:
				writeSSE(c.Writer, string(ev.Type), ev.Fields)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
