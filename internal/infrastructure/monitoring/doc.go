/*
Package monitoring provides Prometheus metrics for the pseudo-kernel.

It tracks HTTP traffic, the getpinfo channel (submits, fetches, slot
occupancy, orphan reclaims), the task table, and WebSocket event fan-out.
Metrics implements getpinfo.Recorder, so the channel reports outcomes
without depending on this package.

Usage:

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
