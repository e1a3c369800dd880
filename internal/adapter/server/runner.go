package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"devserve/internal/domain"
)

// HTTPRunner binds TCP listeners and serves HTTP on them.
type HTTPRunner struct {
	logger domain.Logger
}

// NewHTTPRunner creates a runner that manages the HTTP server lifecycle.
func NewHTTPRunner(logger domain.Logger) *HTTPRunner {
	return &HTTPRunner{logger: logger}
}

// Listen binds host:port. Errors are returned unwrapped enough for
// errors.Is(err, syscall.EADDRINUSE) to work.
func (r *HTTPRunner) Listen(host string, port int) (net.Listener, error) {
	return net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// Start serves h on ln in the background. wait blocks until the server has
// stopped and returns nil after a normal stop. stop shuts the server down,
// giving in-flight requests up to grace before closing every connection.
// stop is safe to call more than once.
func (r *HTTPRunner) Start(ln net.Listener, h http.Handler) (func() error, func(grace time.Duration), error) {
	if ln == nil {
		return nil, nil, errors.New("start http server: nil listener")
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	served := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		served <- err
	}()

	r.logger.Debug("http server started", "addr", ln.Addr().String())

	var once sync.Once
	var result error
	wait := func() error {
		once.Do(func() {
			if err := <-served; err != nil {
				result = fmt.Errorf("http serve: %w", err)
			}
		})
		return result
	}

	var stopOnce sync.Once
	stop := func(grace time.Duration) {
		stopOnce.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				r.logger.Debug("graceful shutdown incomplete, closing connections", "err", err)
				_ = srv.Close()
			}
		})
	}
	return wait, stop, nil
}
