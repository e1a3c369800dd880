package domain

import (
	"context"
	"net"
	"net/http"
	"time"
)

// RecordStore persists the instance record for one project root.
type RecordStore interface {
	Path() string
	// Read returns ErrNoRecord when the file is absent, malformed or incomplete.
	Read() (InstanceRecord, error)
	Write(rec InstanceRecord) error
	// Remove deletes the record unconditionally. A missing file is not an error.
	Remove() error
	// RemoveIfOwned deletes the record only if its pid equals pid.
	RemoveIfOwned(pid int) (bool, error)
}

// PeerClient talks to another dev server instance over loopback HTTP.
// addr is a host:port pair. Callers bound every call with ctx.
type PeerClient interface {
	RequestShutdown(ctx context.Context, addr, token string) (ShutdownReply, error)
	// Probe reports whether anything answered on addr, whatever the status.
	Probe(ctx context.Context, addr string) bool
	Info(ctx context.Context, addr string) (InstanceInfo, error)
}

// ServerRunner binds listeners and serves HTTP on them.
// Start returns a wait function that blocks until the server stops and a
// stop function that shuts it down gracefully within grace, then forcibly.
type ServerRunner interface {
	Listen(host string, port int) (net.Listener, error)
	Start(ln net.Listener, h http.Handler) (wait func() error, stop func(grace time.Duration), err error)
}

// TokenGenerator creates shutdown tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// Metrics records coordinator and live-reload activity.
type Metrics interface {
	ObserveNegotiation(outcome Outcome)
	ObserveShutdownRequest(accepted bool)
	ObserveReload()
	SetReloadClients(n int)
	Handler() http.Handler
}

// Logger provides structured logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
