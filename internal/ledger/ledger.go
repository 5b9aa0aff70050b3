// Package ledger is the append-only log of every marker action, kept outside the Plex
// database so markers wiped by a library rescan can be found and put back.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// Ledger records marker actions per library instance
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the ledger store named by dsn and migrates it. DSNs starting with
// postgres:// or mysql:// select those drivers; anything else is a SQLite file path.
func Open(dsn string, logger *slog.Logger) (*Ledger, error) {
	dial, isSQLite, err := getDialector(dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open backup ledger: %w", err)
	}
	if isSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	return New(db, logger)
}

// getDialector returns the dialector for dsn and whether it is SQLite
func getDialector(dsn string) (gorm.Dialector, bool, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), false, nil
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), false, nil
	default:
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, false, fmt.Errorf("failed to create ledger directory: %w", err)
			}
		}
		return sqlite.Open(dsn), true, nil
	}
}

// New wraps an open handle and creates the actions table if needed
func New(db *gorm.DB, logger *slog.Logger) (*Ledger, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, domain.Storage(err, "migrate backup ledger")
	}
	return newLedger(db, logger), nil
}

func newLedger(db *gorm.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger, now: time.Now}
}

// Close releases the connection pool
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// entry builds a ledger row describing m
func (l *Ledger) entry(op domain.ActionKind, m domain.Marker, sectionUUID string) record {
	a := domain.Action{
		Op:          op,
		MarkerID:    m.ID,
		Type:        m.Type,
		EpisodeID:   m.EpisodeID,
		SeasonID:    m.SeasonID,
		ShowID:      m.ShowID,
		SectionID:   m.SectionID,
		Start:       m.Start,
		End:         m.End,
		CreatedAt:   m.CreatedAt,
		ModifiedAt:  m.ModifiedAt,
		RecordedAt:  l.now().Unix(),
		UserCreated: m.UserCreated,
		SectionUUID: sectionUUID,
	}
	return toRecord(a)
}

// append writes recs and swallows failures; the primary write they describe already succeeded
func (l *Ledger) append(ctx context.Context, op domain.ActionKind, recs []record) {
	if len(recs) == 0 {
		return
	}
	if err := l.db.WithContext(ctx).CreateInBatches(recs, 100).Error; err != nil {
		l.logger.ErrorContext(ctx, "failed to record marker actions", "error", err, "op", op.String(), "count", len(recs))
		return
	}
	l.logger.DebugContext(ctx, "recorded marker actions", "op", op.String(), "count", len(recs))
}

// RecordAdd logs a new marker
func (l *Ledger) RecordAdd(ctx context.Context, m domain.Marker, sectionUUID string) {
	l.RecordAdds(ctx, []domain.Marker{m}, sectionUUID)
}

// RecordAdds logs a batch of new markers
func (l *Ledger) RecordAdds(ctx context.Context, markers []domain.Marker, sectionUUID string) {
	recs := make([]record, len(markers))
	for i, m := range markers {
		recs[i] = l.entry(domain.ActionAdd, m, sectionUUID)
	}
	l.append(ctx, domain.ActionAdd, recs)
}

// RecordEdit logs a change to a marker's range or type
func (l *Ledger) RecordEdit(ctx context.Context, edit domain.EditResult, sectionUUID string) {
	l.RecordEdits(ctx, []domain.EditResult{edit}, sectionUUID)
}

// RecordEdits logs a batch of edits
func (l *Ledger) RecordEdits(ctx context.Context, edits []domain.EditResult, sectionUUID string) {
	recs := make([]record, len(edits))
	for i, e := range edits {
		rec := l.entry(domain.ActionEdit, e.Marker, sectionUUID)
		oldStart, oldEnd := e.OldStart, e.OldEnd
		rec.OldStart, rec.OldEnd = &oldStart, &oldEnd
		recs[i] = rec
	}
	l.append(ctx, domain.ActionEdit, recs)
}

// RecordDelete logs a marker removal
func (l *Ledger) RecordDelete(ctx context.Context, m domain.Marker, sectionUUID string) {
	l.RecordDeletes(ctx, []domain.Marker{m}, sectionUUID)
}

// RecordDeletes logs a batch of removals
func (l *Ledger) RecordDeletes(ctx context.Context, markers []domain.Marker, sectionUUID string) {
	recs := make([]record, len(markers))
	for i, m := range markers {
		recs[i] = l.entry(domain.ActionDelete, m, sectionUUID)
	}
	l.append(ctx, domain.ActionDelete, recs)
}

// RecordRestores logs restored markers in one transaction. Every entry of each old marker
// gets a restored_id backlink to the marker that replaced it, and a Restore entry is appended
// for the replacement. Unlike the other writers this returns its error.
func (l *Ledger) RecordRestores(ctx context.Context, restores []domain.Restoration, sectionUUID string) error {
	if len(restores) == 0 {
		return nil
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Backlinks first: the server may hand a restored marker its old id back
		for _, r := range restores {
			err := tx.Model(&record{}).
				Where("section_uuid = ? AND marker_id = ? AND restored_id IS NULL", sectionUUID, r.Old.MarkerID).
				Update("restored_id", r.Marker.ID).Error
			if err != nil {
				return err
			}
		}

		recs := make([]record, len(restores))
		for i, r := range restores {
			rec := l.entry(domain.ActionRestore, r.Marker, sectionUUID)
			oldID := r.Old.MarkerID
			rec.RestoresID = &oldID
			recs[i] = rec
		}
		return tx.CreateInBatches(recs, 100).Error
	})
	if err != nil {
		return domain.Storage(err, "record %d restored markers", len(restores))
	}
	return nil
}

// scopeColumn names the actions column that holds ids of scope's level
func scopeColumn(scope domain.Scope) (string, error) {
	switch scope.Level {
	case domain.LevelEpisode, domain.LevelMovie:
		return "episode_id", nil
	case domain.LevelSeason:
		return "season_id", nil
	case domain.LevelShow:
		return "show_id", nil
	case domain.LevelSection:
		return "section_id", nil
	default:
		return "", domain.Validationf("unsupported scope level %d", scope.Level)
	}
}

// latest is the subquery selecting the newest entry id of every marker matching conds
func (l *Ledger) latest(ctx context.Context, sectionUUID string, query string, args ...any) *gorm.DB {
	q := l.db.WithContext(ctx).Model(&record{}).Select("MAX(id)").Where("section_uuid = ?", sectionUUID)
	if query != "" {
		q = q.Where(query, args...)
	}
	return q.Group("marker_id")
}

// ExpectedMarkers returns the newest entry of every marker under scope that should still
// exist: its newest entry is not a Delete and it was neither restored nor ignored.
func (l *Ledger) ExpectedMarkers(ctx context.Context, scope domain.Scope, sectionUUID string) ([]domain.Action, error) {
	col, err := scopeColumn(scope)
	if err != nil {
		return nil, err
	}

	var recs []record
	err = l.db.WithContext(ctx).
		Where("id IN (?)", l.latest(ctx, sectionUUID, col+" = ?", scope.ID)).
		Where("op <> ? AND restored_id IS NULL", domain.ActionDelete).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, domain.Storage(err, "query expected markers for %s", scope)
	}
	return toActions(recs), nil
}

// LatestActions returns the newest entry for each of markerIDs that the ledger knows
func (l *Ledger) LatestActions(ctx context.Context, markerIDs []int64, sectionUUID string) (map[int64]domain.Action, error) {
	out := make(map[int64]domain.Action, len(markerIDs))
	for _, chunk := range chunks(markerIDs) {
		var recs []record
		err := l.db.WithContext(ctx).
			Where("id IN (?)", l.latest(ctx, sectionUUID, "marker_id IN ?", chunk)).
			Find(&recs).Error
		if err != nil {
			return nil, domain.Storage(err, "query latest actions")
		}
		for _, a := range toActions(recs) {
			out[a.MarkerID] = a
		}
	}
	return out, nil
}

// IgnorePurges marks the newest entries of markerIDs so purge detection skips them for
// good. It returns the number of entries updated.
func (l *Ledger) IgnorePurges(ctx context.Context, markerIDs []int64, sectionUUID string) (int64, error) {
	var total int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks(markerIDs) {
			var ids []int64
			err := tx.Model(&record{}).
				Where("section_uuid = ? AND marker_id IN ?", sectionUUID, chunk).
				Group("marker_id").
				Pluck("MAX(id)", &ids).Error
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				continue
			}
			res := tx.Model(&record{}).
				Where("id IN ? AND restored_id IS NULL", ids).
				Update("restored_id", domain.RestoredIgnored)
			if res.Error != nil {
				return res.Error
			}
			total += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, domain.Storage(err, "ignore %d purged markers", len(markerIDs))
	}
	return total, nil
}

// History returns every entry recorded for a marker, oldest first, including the entries of
// the marker it restored.
func (l *Ledger) History(ctx context.Context, markerID int64, sectionUUID string) ([]domain.Action, error) {
	var recs []record
	err := l.db.WithContext(ctx).
		Where("section_uuid = ? AND (marker_id = ? OR restored_id = ?)", sectionUUID, markerID, markerID).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, domain.Storage(err, "query history of marker %d", markerID)
	}
	return toActions(recs), nil
}

const chunkSize = 500

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
