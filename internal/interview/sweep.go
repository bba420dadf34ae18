package interview

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/recon/internal/protocol"
)

// SweepResult summarises one retention pass.
type SweepResult struct {
	Sessions     int
	FilesRemoved int
}

// Retention is how long a session is kept after creation.
func (s *Service) Retention() time.Duration {
	if s.opts.Storage.RetentionMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(s.opts.Storage.RetentionMinutes) * time.Minute
}

// Sweep removes sessions older than the retention window together with their
// question audio and recorded answers. The shared introduction library is
// never touched since its files do not carry a session prefix.
func (s *Service) Sweep(ctx context.Context) SweepResult {
	removed := s.store.Sweep(s.Retention())
	var res SweepResult
	for _, sess := range removed {
		res.Sessions++
		patterns := []string{
			filepath.Join(s.opts.Storage.AudioDir, fmt.Sprintf("session_%s_*", sess.ID)),
			filepath.Join(s.opts.Storage.AnswersDir, fmt.Sprintf("answer_%s_*", sess.ID)),
		}
		for _, pattern := range patterns {
			n, err := removeMatching(pattern)
			res.FilesRemoved += n
			if err != nil {
				s.logger.Warn("failed to delete session artifacts",
					slog.String("session_id", sess.ID), slog.String("pattern", pattern), slogError(err))
			}
		}
		s.count(ctx, s.metrics.expired, "removed")
		s.publish(ctx, protocol.SessionEvent{SessionID: sess.ID, Type: protocol.EventSessionExpired, Status: string(sess.Status)})
	}
	if res.Sessions > 0 {
		s.logger.Info("expired sessions swept",
			slog.Int("sessions", res.Sessions),
			slog.Int("files", res.FilesRemoved))
	}
	return res
}

func removeMatching(pattern string) (int, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
