package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// BuildStateFunc reports the state of the shared runtime build.
type BuildStateFunc func() types.BuildState

// HealthzServer answers liveness probes. When a BuildStateFunc is set it
// reports unhealthy once the runtime build has failed.
type HealthzServer struct {
	buildState BuildStateFunc
	log        log.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func NewHealthzServer(buildState BuildStateFunc, logger log.Logger) *HealthzServer {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &HealthzServer{buildState: buildState, log: logger.New("component", "healthz")}
}

// Start listens on addr and serves in the background until Shutdown.
func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Handler: c.Handler(hdlr),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h.mu.Lock()
	h.server = server
	h.listener = listener
	h.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("Healthz server stopped", "err", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (h *HealthzServer) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	server := h.server
	h.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)
	if h.buildState != nil && h.buildState() == types.BuildStateFailed {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("runtime build failed")) //nolint:errcheck
		return
	}
	w.Write([]byte("OK")) //nolint:errcheck
}
