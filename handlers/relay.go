package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var relayOpenStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "qd_relay_open_streams",
	Help: "Currently open notification streams",
})

// handleSubscribe is the notification relay: one ephemeral, session-filtered
// subscription per connection, streamed to the client as server-sent events.
// The subscription is released on every exit path; a message is acked only
// after its write succeeded.
func (h *HttpHandler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	ctx := r.Context()

	if err := h.sessionService.ValidateSession(ctx, sessionID); err != nil {
		h.writeError(w, err)
		return
	}

	sub, err := h.subscriber.Open(ctx, sessionID)
	if err != nil {
		h.logger.Error("failed to open subscription", "session_id", sessionID, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "subscription unavailable"})
		return
	}
	// teardown must not be cut short by the request context, which is
	// already cancelled once the client is gone
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sub.Close(closeCtx)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	relayOpenStreams.Inc()
	defer relayOpenStreams.Dec()

	log := h.logger.With("session_id", sessionID)
	log.Debug("stream opened")

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("client disconnected")
			return

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				log.Debug("keep-alive write failed, closing stream", "error", err)
				return
			}
			_ = rc.Flush()

		case msg, ok := <-sub.Messages():
			if !ok {
				log.Warn("subscription channel closed, ending stream")
				return
			}

			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg.Body); err != nil {
				// not acked: the broker redelivers within retention
				log.Error("stream write failed", "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				log.Error("stream flush failed", "error", err)
				return
			}

			if err := sub.Ack(ctx, msg); err != nil {
				log.Warn("ack failed, message may be redelivered", "error", err)
			}
		}
	}
}
