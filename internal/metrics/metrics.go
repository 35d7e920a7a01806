// Package metrics exposes the bridge's prometheus counters and the
// healthz/liveness endpoint on an internal HTTP listener.
package metrics

import (
	"net/http"

	healthz "github.com/klyve/go-healthz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// ServiceCalls counts host service calls issued by platforms.
	ServiceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habridge_service_calls_total",
		Help: "Host service calls issued, by domain and service.",
	}, []string{"domain", "service"})

	// EntityUpdates counts state publishes per platform.
	EntityUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habridge_entity_updates_total",
		Help: "Entity state publishes, by platform.",
	}, []string{"platform"})

	// CommandRejections counts commands refused by a platform (conflicting
	// direction, already at target, read-only mode).
	CommandRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habridge_command_rejections_total",
		Help: "Commands rejected by platforms, by platform and reason.",
	}, []string{"platform", "reason"})

	// EntityAvailable reports per-entity availability as 0/1.
	EntityAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "habridge_entity_available",
		Help: "Whether an entity is currently published as available.",
	}, []string{"platform", "entity"})
)

// Serve starts the metrics and health endpoint on listenAddress. It blocks,
// so callers run it in a goroutine.
func Serve(listenAddress string, logger *zap.Logger) {
	logger.Info("Starting metrics server", zap.String("listen", listenAddress))

	instance := healthz.Instance{
		Detailed: true,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", instance.Healthz())
	mux.Handle("/liveness", instance.Liveness())

	if err := http.ListenAndServe(listenAddress, mux); err != nil {
		logger.Error("Metrics server error", zap.Error(err))
	}
}
