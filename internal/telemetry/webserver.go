package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rjboer/GoSigGen/internal/logging"
)

// WebServer exposes the control API and the live summary feed over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds an HTTP server around the hub's router.
func NewWebServer(addr string, hub *Hub) *WebServer {
	return &WebServer{
		hub:    hub,
		logger: hub.logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           hub.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start begins listening and shuts down when the context is canceled.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("control server shutdown", logging.Err(err))
		}
	}()

	w.logger.Info("control server listening", logging.F("addr", w.srv.Addr))
	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("control server error", logging.Err(err))
	}
}
