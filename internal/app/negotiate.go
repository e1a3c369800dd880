package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"devserve/internal/domain"
)

// acceptedPrefix starts the body of an accepted shutdown reply.
const acceptedPrefix = "Shutting down"

// ResolvePriorInstance asks the instance recorded for the root, if any, to
// shut down and waits for it to release its port. It never fails: every
// problem is folded into the returned outcome.
func (s *Service) ResolvePriorInstance(ctx context.Context, cfg Config) domain.Outcome {
	cfg = cfg.withDefaults()
	outcome := s.resolvePrior(ctx, cfg)
	s.metrics.ObserveNegotiation(outcome)
	s.logger.Debug("prior instance negotiation", "outcome", outcome.String(), "record", s.store.Path())
	return outcome
}

func (s *Service) resolvePrior(ctx context.Context, cfg Config) domain.Outcome {
	rec, err := s.store.Read()
	if err != nil {
		if !errors.Is(err, domain.ErrNoRecord) {
			s.logger.Debug("read instance record failed", "err", err)
		}
		return domain.OutcomeNoRecord
	}
	if rec.PID == cfg.PID {
		return domain.OutcomeSelf
	}

	addr := net.JoinHostPort(ConnectHost(rec.Host), strconv.Itoa(rec.Port))
	reqCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownRequestTimeout)
	reply, err := s.peer.RequestShutdown(reqCtx, addr, rec.Token)
	cancel()
	if err != nil {
		s.logger.Debug("prior instance unreachable", "addr", addr, "pid", rec.PID, "err", err)
		s.discardRecord()
		return domain.OutcomeUnreachable
	}
	if reply.Status != http.StatusOK || !strings.HasPrefix(reply.Body, acceptedPrefix) {
		s.logger.Debug("prior instance declined shutdown", "addr", addr, "pid", rec.PID, "status", reply.Status)
		s.discardRecord()
		return domain.OutcomeRejected
	}

	if !s.waitForRelease(ctx, cfg, addr) {
		s.logger.Debug("prior instance still answering", "addr", addr, "pid", rec.PID)
		return domain.OutcomeStillBound
	}
	s.discardRecord()
	return domain.OutcomeReleased
}

// waitForRelease probes addr until nothing answers or the deadline passes.
func (s *Service) waitForRelease(ctx context.Context, cfg Config, addr string) bool {
	deadline := time.Now().Add(cfg.ReleaseDeadline)
	ticker := time.NewTicker(cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return false
		}
		probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		alive := s.peer.Probe(probeCtx, addr)
		cancel()
		if !alive && ctx.Err() == nil {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (s *Service) discardRecord() {
	if err := s.store.Remove(); err != nil {
		s.logger.Debug("remove stale instance record failed", "path", s.store.Path(), "err", err)
	}
}

// Status reports the recorded instance for the root and whether it answers
// on its info endpoint. It returns domain.ErrNoRecord when nothing usable is
// recorded.
func (s *Service) Status(ctx context.Context) (domain.StatusEntry, error) {
	entry := domain.StatusEntry{Path: s.store.Path()}
	rec, err := s.store.Read()
	if err != nil {
		return entry, err
	}
	entry.Record = rec

	addr := net.JoinHostPort(ConnectHost(rec.Host), strconv.Itoa(rec.Port))
	infoCtx, cancel := context.WithTimeout(ctx, DefaultShutdownRequestTimeout)
	defer cancel()
	info, err := s.peer.Info(infoCtx, addr)
	if err != nil {
		s.logger.Debug("instance info unavailable", "addr", addr, "err", err)
		return entry, nil
	}
	entry.Info = info
	entry.Alive = true
	return entry, nil
}

// StopRecorded runs the prior-instance negotiation on behalf of a caller
// that does not serve anything itself.
func (s *Service) StopRecorded(ctx context.Context) domain.Outcome {
	return s.ResolvePriorInstance(ctx, Config{})
}
