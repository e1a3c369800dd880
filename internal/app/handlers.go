package app

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"devserve/internal/adapter/livereload"
	"devserve/internal/adapter/metrics"
	"devserve/internal/adapter/peer"
	"devserve/internal/adapter/static"
	"devserve/internal/domain"
)

const noCache = "no-cache, no-store, must-revalidate"

// routes builds the handler tree for one running instance. hub is nil when
// live reload is off.
func (s *Service) routes(cfg Config, rec domain.InstanceRecord, hub *livereload.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(peer.InfoPath, s.handleInfo(rec))
	mux.HandleFunc(peer.ShutdownPath, s.handleShutdown(rec.Token))
	mux.Handle(metrics.Path, s.metrics.Handler())

	reloadPath := ""
	if hub != nil {
		mux.Handle(livereload.Path, hub)
		reloadPath = livereload.Path
	}
	mux.Handle("/", static.NewHandler(cfg.Root, reloadPath))
	return mux
}

func (s *Service) handleInfo(rec domain.InstanceRecord) http.HandlerFunc {
	info := domain.InstanceInfo{
		Name: InstanceName,
		PID:  rec.PID,
		Host: rec.Host,
		Port: rec.Port,
		Root: rec.Root,
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", noCache)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(info)
	}
}

// handleShutdown stops the server when the request carries this instance's
// token, from the token query parameter or the token header.
func (s *Service) handleShutdown(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = r.Header.Get(peer.TokenHeader)
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			s.metrics.ObserveShutdownRequest(false)
			s.logger.Warn("shutdown request refused", "remote", r.RemoteAddr)
			writeText(w, http.StatusForbidden, "Forbidden")
			return
		}

		s.metrics.ObserveShutdownRequest(true)
		s.logger.Info("shutdown requested by another instance", "remote", r.RemoteAddr)
		writeText(w, http.StatusOK, acceptedPrefix)
		time.AfterFunc(shutdownDelay, s.Shutdown)
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", noCache)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
