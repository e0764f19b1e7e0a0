package observability

import (
	"context"

	"github.com/honeynil/charity-auction/internal/config"
	"github.com/honeynil/charity-auction/internal/infrastructure/observability"
)

// Setup initializes logging, metrics and tracing for the process and returns
// the tracer shutdown hook.
func Setup(serviceName string, cfg *config.Config) func(context.Context) error {
	observability.InitLogger(cfg.LogLevel)
	observability.InitMetrics(cfg.MetricsAddr)
	return observability.InitTracing(serviceName, cfg.OTLPEndpoint)
}
