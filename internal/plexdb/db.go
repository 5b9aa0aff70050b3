// Package plexdb reads and writes skip markers in a Plex Media Server library database.
package plexdb

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mmcdole/skiptrack/internal/domain"
)

const (
	// markerTagType is the tag_type of the single tag row all markers reference
	markerTagType = 12

	// extraDataVersion is stamped on rows we create, matching what the server writes
	extraDataVersion = "pv%3Aversion=5"

	// userCreatedSuffix marks a thumb_url modified timestamp as belonging to a user-created marker
	userCreatedSuffix = "*"

	// chunkSize keeps IN (...) lists under SQLite's host parameter limit
	chunkSize = 500
)

// DB is the accessor for marker rows in the Plex database.
type DB struct {
	db          *gorm.DB
	markerTagID int64
	pureMode    bool
	logger      *slog.Logger
	now         func() time.Time
}

// Open opens the database file at path. In pure mode the thumb_url column is never written,
// so modified timestamps and the user-created flag are not tracked.
func Open(path string, pureMode bool, logger *slog.Logger) (*DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open plex database: %w", err)
	}

	// The media server holds its own connections; one writer from us avoids SQLITE_BUSY storms
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	d, err := New(gdb, pureMode, logger)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// New wraps an existing gorm handle and resolves the marker tag id.
func New(gdb *gorm.DB, pureMode bool, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var tag Tag
	if err := gdb.Where("tag_type = ?", markerTagType).Order("id").Limit(1).Find(&tag).Error; err != nil {
		return nil, domain.Storage(err, "look up marker tag")
	}
	if tag.ID == 0 {
		return nil, domain.Storage(domain.ErrNoMarkerTag, "open plex database")
	}

	return &DB{
		db:          gdb,
		markerTagID: tag.ID,
		pureMode:    pureMode,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Close releases the underlying connection pool
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PureMode reports whether the thumb_url column is left untouched
func (d *DB) PureMode() bool {
	return d.pureMode
}

// encodeModified builds the thumb_url value for a marker.
func encodeModified(modified *int64, userCreated bool) string {
	var b strings.Builder
	if modified != nil {
		b.WriteString(strconv.FormatInt(*modified, 10))
	}
	if userCreated {
		b.WriteString(userCreatedSuffix)
	}
	return b.String()
}

// decodeModified parses a thumb_url value written by encodeModified. Anything else
// (the server's own thumbnails, empty strings) means "not edited, not user created".
func decodeModified(s string) (*int64, bool) {
	userCreated := strings.HasSuffix(s, userCreatedSuffix)
	s = strings.TrimSuffix(s, userCreatedSuffix)
	if s == "" {
		return nil, userCreated
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, false
	}
	return &v, userCreated
}

// thumbFor returns the thumb_url value to write, and false in pure mode.
func (d *DB) thumbFor(modified *int64, userCreated bool) (string, bool) {
	if d.pureMode {
		return "", false
	}
	return encodeModified(modified, userCreated), true
}

// chunks splits ids into slices of at most chunkSize
func chunks(ids []int64) [][]int64 {
	var out [][]int64
	for len(ids) > chunkSize {
		out = append(out, ids[:chunkSize])
		ids = ids[chunkSize:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// housekeeping is the outcome of a best-effort follow-up write. It is logged, never returned
// as an error: the primary write it follows has already succeeded.
type housekeeping struct {
	task    string
	updated int
	err     error
}

func (d *DB) report(ctx context.Context, h housekeeping, attrs ...any) {
	if h.err != nil {
		d.logger.WarnContext(ctx, "best-effort update failed", append([]any{"task", h.task, "error", h.err}, attrs...)...)
		return
	}
	if h.updated > 0 {
		d.logger.DebugContext(ctx, "best-effort update", append([]any{"task", h.task, "rows", h.updated}, attrs...)...)
	}
}
