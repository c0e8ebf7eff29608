// Package server exposes validation, execution, and disassembly over
// Connect. The same port answers Connect (HTTP/JSON), gRPC, and gRPC-Web
// clients; HTTP/2 without TLS is accepted so plain gRPC clients can connect.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/chazu/jumpsub/config"
	"github.com/chazu/jumpsub/pkg/opcode"
	"github.com/chazu/jumpsub/store"
)

var log = commonlog.GetLogger("jumpsub.server")

// Procedure paths of the CodeService.
const (
	ServiceName          = "jumpsub.v1.CodeService"
	ValidateProcedure    = "/" + ServiceName + "/Validate"
	ExecuteProcedure     = "/" + ServiceName + "/Execute"
	DisassembleProcedure = "/" + ServiceName + "/Disassemble"
)

// Server serves the CodeService.
type Server struct {
	svc     *CodeService
	workers *Workers
	mux     *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store   *store.Store
	workers int
}

// WithStore sets the validation cache. Without it the server keeps an
// in-memory cache of its own.
func WithStore(s *store.Store) ServerOption {
	return func(c *serverConfig) { c.store = s }
}

// WithWorkers bounds the number of programs executing at once. The default
// is GOMAXPROCS.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// New creates a Server from cfg. A nil cfg means config.Default().
func New(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	sc := &serverConfig{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.store == nil {
		st, err := store.Open("")
		if err != nil {
			return nil, err
		}
		sc.store = st
	}
	table, err := cfg.Table()
	if err != nil {
		return nil, err
	}

	workers := NewWorkers(sc.workers)
	s := &Server{
		svc:     NewCodeService(cfg, table, sc.store, workers),
		workers: workers,
		mux:     http.NewServeMux(),
	}

	s.mux.Handle(ValidateProcedure, connect.NewUnaryHandler(ValidateProcedure, s.svc.Validate))
	s.mux.Handle(ExecuteProcedure, connect.NewUnaryHandler(ExecuteProcedure, s.svc.Execute))
	s.mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, s.svc.Disassemble))

	return s, nil
}

// Service returns the handler implementation.
func (s *Server) Service() *CodeService { return s.svc }

// Table returns the default opcode table.
func (s *Server) Table() *opcode.Table { return s.svc.table }

// Handler returns the HTTP handler, accepting HTTP/2 without TLS.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.mux, &http2.Server{})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	log.Noticef("jumpsub server listening on %s", ln.Addr())
	log.Noticef("  Connect (HTTP/JSON): http://%s%s", ln.Addr(), ValidateProcedure)
	log.Noticef("  gRPC (binary):       grpc://%s", ln.Addr())

	errc := make(chan error, 1)
	go func() { errc <- hs.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := hs.Shutdown(shutdownCtx)
	if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}

// Stop shuts down the workers.
func (s *Server) Stop() {
	s.workers.Stop()
}
