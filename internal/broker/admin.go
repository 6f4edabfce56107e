package broker

import (
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/simstats/internal/httputil"
)

type topicInfo struct {
	Topic    string `json:"topic"`
	Messages int    `json:"messages"`
}

// AttachAdminRoutes serves the topic list and a live SSE tail under
// /debug/.
func (b *Broker) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("topics", "broker topics and message counts", func(w http.ResponseWriter, r *http.Request) {
		infos := make([]topicInfo, 0)
		for _, name := range b.Topics() {
			infos = append(infos, topicInfo{Topic: name, Messages: b.Len(name)})
		}
		httputil.WriteJSONOK(w, infos)
	})

	// Server-Sent Events for every message published after the client
	// connects, optionally filtered with ?topic=.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		filter := r.URL.Query().Get("topic")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := b.Tail()
		defer b.Untail(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case msg, ok := <-c:
				if !ok {
					return
				}
				if filter != "" && msg.Topic != filter {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, msg.Data); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
