package httpapi

import (
	"fmt"
	"net/http"

	"antrid/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// handleEvents streams queue notifications over Server-Sent Events.
// Each connection gets its own hub client; the stream closes when the
// client goes away or the hub shuts down.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeFieldError(w, "", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := hub.NewClient(uuid.NewString())
	h.hub.Register(client)
	sseClientsGauge.Add(1)
	defer func() {
		h.hub.Unregister(client)
		sseClientsGauge.Add(-1)
	}()

	fmt.Fprint(w, "data: {\"event\":\"connected\"}\n\n")
	flusher.Flush()

	for {
		select {
		case payload, ok := <-client.Send:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// sockJSHandler serves the same event stream over SockJS for browsers
// that cannot hold an SSE connection open.
func (h *Handler) sockJSHandler() http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := hub.NewClient(uuid.NewString())
		h.hub.Register(client)
		defer h.hub.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		_ = session.Send(`{"event":"connected"}`)

		// Inbound payloads are ignored; the read loop only notices
		// disconnects.
		for {
			if _, err := session.Recv(); err != nil {
				return
			}
		}
	})
}
