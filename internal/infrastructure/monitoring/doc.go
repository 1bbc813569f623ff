/*
Package monitoring provides metrics collection for the gadget runtime.

# Overview

Prometheus metrics for the hosting surface and the runtime: HTTP requests,
class loads, dependency loads, gadget declarations, acquisitions, channel
traffic, monitor rejections and page crashes.

All recording methods accept a nil receiver.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsWith(reg, reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "methodCall")
	// ... channel round-trip ...
	timer.Stop()
*/
package monitoring
