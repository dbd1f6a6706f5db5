package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/remixsync/remixsync/internal/core/observability/log"
)

// Server runs the hub's WebSocket and QUIC front ends over one Store.
type Server struct {
	config Config
	store  *Store
	logger log.Log

	mu           sync.Mutex
	quicListener *quic.Listener
}

func NewServer(config Config, logger log.Log) *Server {
	if logger == nil {
		logger = log.Provide()
	}
	return &Server{
		config: config,
		store:  NewStore(logger),
		logger: logger.With(log.String("component", "hub")),
	}
}

// Store exposes the underlying store, for tests and embedding.
func (srv *Server) Store() *Store {
	return srv.store
}

// Run serves both front ends until ctx is cancelled or a listener fails.
func (srv *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", srv.handleSync)
	httpServer := &http.Server{Addr: srv.config.addr(), Handler: mux}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv.logger.Info("websocket endpoint up", log.String("addr", srv.config.addr()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return srv.serveQUIC(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		srv.closeQUIC()
		return nil
	})

	return g.Wait()
}

func (srv *Server) setQUICListener(l *quic.Listener) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.quicListener = l
}

func (srv *Server) closeQUIC() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.quicListener != nil {
		_ = srv.quicListener.Close()
		srv.quicListener = nil
	}
}
