//go:build wireinject

package app

import (
	"log/slog"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmcdole/skiptrack/internal/config"
)

// InitApp wires the application. A nil reg leaves the metrics unregistered.
func InitApp(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, func(), error) {
	panic(wire.Build(ProviderSet))
}
