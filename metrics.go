package main

import (
	"context"
	"log"
	"time"
)

// RunMetrics logs session counts on a fixed tick until ctx is canceled.
func RunMetrics(ctx context.Context, srv *Server) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := srv.sessionsActive.Load()
			total := srv.sessionsCreated.Load()
			if active > 0 || total > 0 {
				log.Printf("[metrics] sessions_active=%d sessions_total=%d", active, total)
			}
		}
	}
}
