package main

import "time"

// Operational limits for the HTTP server and metrics loop.
const (
	// httpReadHeaderTimeout bounds how long the HTTP server waits to read
	// request headers before giving up on a client.
	httpReadHeaderTimeout = 10 * time.Second

	// httpShutdownTimeout bounds graceful shutdown after ctx is canceled.
	httpShutdownTimeout = 5 * time.Second

	// metricsInterval is how often RunMetrics logs session counts.
	metricsInterval = 5 * time.Second
)
