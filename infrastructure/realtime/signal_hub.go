package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"post-mirror/domain/model"

	"github.com/gin-gonic/gin"
)

// SignalHub streams change signals to connected SSE clients. Signals carry no
// values, so every authenticated subscriber receives every signal and refetches
// what it is showing.
type SignalHub struct {
	mu   sync.RWMutex
	subs map[chan model.ChangeSignal]string
}

func NewSignalHub() *SignalHub {
	return &SignalHub{subs: make(map[chan model.ChangeSignal]string)}
}

// Serve registers an SSE stream for the authenticated user (user_id set by middleware).
func (h *SignalHub) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // disable nginx buffering

	ch := make(chan model.ChangeSignal, 16)
	h.addSubscriber(userID, ch)
	defer h.removeSubscriber(ch)

	_, _ = c.Writer.Write([]byte(":ok\n\n"))
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case sig := <-ch:
			data, _ := json.Marshal(sig)
			_, _ = c.Writer.Write([]byte("event: change\n"))
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(data)
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *SignalHub) addSubscriber(userID string, ch chan model.ChangeSignal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[ch] = userID
}

func (h *SignalHub) removeSubscriber(ch chan model.ChangeSignal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, ch)
}

// Subscribers returns the number of open streams.
func (h *SignalHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Signal never blocks; a slow subscriber misses hints, not data.
func (h *SignalHub) Signal(ctx context.Context, sig model.ChangeSignal) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- sig:
		default:
		}
	}
}
