// Package capture runs the ephemeral HTTP listener that webhook deliveries
// are pointed at. Every request under the configured path prefix is read in
// full, appended to a Log, handed to an optional callback, and answered 200.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wondertwin-ai/hubverify/internal/failure"
)

// DefaultMaxBodyBytes caps a single captured delivery.
const DefaultMaxBodyBytes = 10 << 20

// Options configures a capture server.
type Options struct {
	// Addr is the listen address, e.g. ":8888". ":0" picks a free port.
	Addr string
	// PathPrefix selects which request paths are captured. Default: "/".
	PathPrefix string
	// OnReceive is called exactly once per captured delivery, after it has
	// been appended to the log.
	OnReceive func(Entry)
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// MaxBodyBytes caps request bodies. Default: DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// ShutdownTimeout bounds the graceful part of Close. Default: 2s.
	ShutdownTimeout time.Duration
}

func (o *Options) defaults() {
	if o.PathPrefix == "" {
		o.PathPrefix = "/"
	}
	if !strings.HasPrefix(o.PathPrefix, "/") {
		o.PathPrefix = "/" + o.PathPrefix
	}
	if len(o.PathPrefix) > 1 {
		o.PathPrefix = strings.TrimRight(o.PathPrefix, "/")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 2 * time.Second
	}
}

// Server is a running capture listener. The zero value and nil are valid
// and behave as an already-closed server.
type Server struct {
	opts   Options
	log    *Log
	ln     net.Listener
	srv    *http.Server
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
	served    chan struct{}
}

// Start binds the listener and begins accepting on its own goroutine. A bind
// failure is returned synchronously as a failure.CodeNetwork error.
func Start(opts Options) (*Server, error) {
	opts.defaults()

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, failure.Network("LISTEN", opts.Addr, err)
	}

	s := &Server{
		opts:   opts,
		log:    NewLog(),
		ln:     ln,
		logger: opts.Logger,
		served: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if opts.PathPrefix == "/" {
		r.HandleFunc("/*", s.handleDelivery)
	} else {
		r.HandleFunc(opts.PathPrefix, s.handleDelivery)
		r.HandleFunc(opts.PathPrefix+"/*", s.handleDelivery)
	}

	s.srv = &http.Server{
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		defer close(s.served)
		s.logger.Info("capture server listening", "addr", ln.Addr().String(), "prefix", opts.PathPrefix)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("capture server error", "err", err)
		}
	}()

	return s, nil
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		s.logger.Warn("capture read failed", "path", r.URL.Path, "err", err)
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	entry := s.log.Append(r.URL.Path, body)
	s.logger.Debug("delivery captured", "seq", entry.Seq, "path", entry.Path, "bytes", len(body))

	if s.opts.OnReceive != nil {
		s.opts.OnReceive(entry)
	}
	w.WriteHeader(http.StatusOK)
}

// Log returns the capture log. Safe to read while the server is running.
func (s *Server) Log() *Log {
	if s == nil || s.log == nil {
		return NewLog()
	}
	return s.log
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// URL returns a loopback URL for the capture prefix, for local callers.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	_, port, _ := net.SplitHostPort(addr)
	prefix := s.opts.PathPrefix
	if prefix == "/" {
		prefix = ""
	}
	return fmt.Sprintf("http://127.0.0.1:%s%s", port, prefix)
}

// Close stops accepting, waits briefly for in-flight deliveries, then
// forcibly closes what remains. The listening port is released before Close
// returns. Calling Close more than once, or on a nil Server, is a no-op.
func (s *Server) Close() error {
	if s == nil || s.srv == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			s.logger.Warn("capture server shutdown timed out, forcing close", "err", err)
			if cerr := s.srv.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				s.closeErr = cerr
			}
		}
		<-s.served
		s.logger.Info("capture server closed", "addr", s.ln.Addr().String(), "captured", s.log.Len())
	})
	return s.closeErr
}
