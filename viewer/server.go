package viewer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"
)

func withCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

// RegisterRoutes mounts the websocket at /ws and the record history at
// /api/nodes.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/ws", h)
	mux.HandleFunc("/api/nodes", h.handleNodes)
}

func (h *Hub) handleNodes(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, struct {
		Clients int `json:"clients"`
		Nodes   any `json:"nodes"`
	}{Clients: h.Clients(), Nodes: h.Records()})
}

// Serve runs the viewer on addr until ctx is done, then disconnects every
// client.
func Serve(ctx context.Context, addr string, h *Hub, log zerolog.Logger) error {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving node viewer")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
