package server

import (
	"context"
	"time"
)

func (s *Server) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	if n := s.exportLimiter.cleanup(); n > 0 {
		s.log.Debug("evicted idle export limiters", "count", n)
	}
	if s.upstream != nil {
		s.upstream.CloseIdleConnections()
	}
}
