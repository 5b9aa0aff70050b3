// Package app assembles the marker service from configuration.
package app

import (
	"fmt"
	"log/slog"

	"github.com/google/wire"

	"github.com/mmcdole/skiptrack/internal/cache"
	"github.com/mmcdole/skiptrack/internal/config"
	"github.com/mmcdole/skiptrack/internal/ledger"
	"github.com/mmcdole/skiptrack/internal/metrics"
	"github.com/mmcdole/skiptrack/internal/plexdb"
	"github.com/mmcdole/skiptrack/internal/purge"
	"github.com/mmcdole/skiptrack/internal/service"
	"github.com/mmcdole/skiptrack/internal/store"
)

// ProviderSet is the storage and service providers.
var ProviderSet = wire.NewSet(
	ProvidePlexDB,
	ProvideLedger,
	ProvideMetadataStore,
	ProvideSectionUUIDs,
	ProvidePurgeDetector,
	service.NewMetadataService,
	service.NewMarkerService,
	cache.New,
	metrics.New,
	wire.Bind(new(service.LibrarySource), new(*plexdb.DB)),
	wire.Bind(new(service.MarkerStore), new(*plexdb.DB)),
	wire.Bind(new(cache.TreeSource), new(*plexdb.DB)),
	wire.Struct(new(App), "*"),
)

// App is the assembled application
type App struct {
	Markers *service.MarkerService
	Metrics *metrics.Metrics
}

// ProvidePlexDB opens the Plex library database
func ProvidePlexDB(cfg *config.Config, logger *slog.Logger) (*plexdb.DB, func(), error) {
	db, err := plexdb.Open(cfg.Database.Path, cfg.Database.PureMode, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close plex database", "error", err)
		}
	}
	return db, cleanup, nil
}

// ProvideLedger opens the backup ledger. With the backup disabled it returns a nil Ledger.
func ProvideLedger(cfg *config.Config, logger *slog.Logger) (service.Ledger, func(), error) {
	if !cfg.Backup.Enabled {
		logger.Info("marker backup disabled")
		return nil, func() {}, nil
	}
	l, err := ledger.Open(cfg.Backup.DSN, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := l.Close(); err != nil {
			logger.Warn("failed to close backup ledger", "error", err)
		}
	}
	return l, cleanup, nil
}

// ProvideMetadataStore opens the metadata cache for the configured Plex database
func ProvideMetadataStore(cfg *config.Config) (*store.MetadataStore, func(), error) {
	st, err := store.NewMetadataStore(cfg.Cache.Dir, cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	return st, func() { st.Close() }, nil
}

// ProvideSectionUUIDs returns the configured section UUID overrides
func ProvideSectionUUIDs(cfg *config.Config) (map[int64]string, error) {
	return cfg.SectionUUIDs()
}

// ProvidePurgeDetector builds the purge detector over the ledger. It is nil when the backup
// is disabled.
func ProvidePurgeDetector(l service.Ledger, c *cache.Cache, metadata *service.MetadataService, logger *slog.Logger) *purge.Detector {
	if l == nil {
		return nil
	}
	return purge.New(l, c, metadata, logger)
}
