// Package store persists library metadata (sections, episode titles and durations) between
// runs so that purge listings and shifts do not go back to the Plex database every time.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// Bucket names
var (
	bucketSections = []byte("sections")
	bucketEpisodes = []byte("episodes")
)

// MetadataStore caches domain metadata in BoltDB with an in-memory layer in front.
type MetadataStore struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte
}

// NewMetadataStore opens the store under baseCacheDir. Each Plex database gets its own
// subdirectory so two libraries never share cached ids. An empty baseCacheDir keeps
// everything in memory.
func NewMetadataStore(baseCacheDir, databasePath string) (*MetadataStore, error) {
	if baseCacheDir == "" {
		// Memory-only mode (no persistence)
		return &MetadataStore{cache: make(map[string][]byte)}, nil
	}

	dir := baseCacheDir
	if databasePath != "" {
		dir = filepath.Join(baseCacheDir, hashDatabasePath(databasePath))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "metadata.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSections, bucketEpisodes} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &MetadataStore{db: db, cache: make(map[string][]byte)}, nil
}

func hashDatabasePath(path string) string {
	normalized := filepath.Clean(path)
	if abs, err := filepath.Abs(normalized); err == nil {
		normalized = abs
	}
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

func (s *MetadataStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *MetadataStore) get(bucket []byte, key string, dest interface{}) bool {
	cacheKey := string(bucket) + ":" + key

	// Check memory cache first
	s.mu.RLock()
	if data, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return json.Unmarshal(data, dest) == nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return false
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	return json.Unmarshal(data, dest) == nil
}

// setMany writes every key of values in a single bolt transaction
func (s *MetadataStore) setMany(bucket []byte, values map[string]interface{}) error {
	encoded := make(map[string][]byte, len(values))
	for key, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		encoded[key] = data
	}

	s.mu.Lock()
	for key, data := range encoded {
		s.cache[string(bucket)+":"+key] = data
	}
	s.mu.Unlock()

	if s.db == nil {
		return nil // Memory-only mode
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		for key, data := range encoded {
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MetadataStore) set(bucket []byte, key string, value interface{}) error {
	return s.setMany(bucket, map[string]interface{}{key: value})
}

func (s *MetadataStore) delete(bucket []byte, key string) {
	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	delete(s.cache, cacheKey)
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b != nil {
			b.Delete([]byte(key))
		}
		return nil
	})
}

func (s *MetadataStore) deletePrefix(bucket []byte, prefix string) {
	s.mu.Lock()
	cachePrefix := string(bucket) + ":" + prefix
	for k := range s.cache {
		if strings.HasPrefix(k, cachePrefix) {
			delete(s.cache, k)
		}
	}
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	// Delete from BoltDB using prefix scan
	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		// Collect first: deleting under a live cursor skips keys
		var keys [][]byte
		c := b.Cursor()
		prefixBytes := []byte(prefix)
		for k, _ := c.Seek(prefixBytes); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// === Sections ===

func (s *MetadataStore) GetSections() ([]domain.Section, bool) {
	var sections []domain.Section
	ok := s.get(bucketSections, "list", &sections)
	return sections, ok
}

func (s *MetadataStore) SaveSections(sections []domain.Section) error {
	return s.set(bucketSections, "list", sections)
}

// === Episodes (hierarchical key: sec:{sectionID}:ep:{episodeID}) ===

func episodeKey(sectionID, episodeID int64) string {
	return fmt.Sprintf("sec:%d:ep:%d", sectionID, episodeID)
}

func (s *MetadataStore) GetEpisode(sectionID, episodeID int64) (domain.Episode, bool) {
	var ep domain.Episode
	ok := s.get(bucketEpisodes, episodeKey(sectionID, episodeID), &ep)
	return ep, ok
}

// GetEpisodes returns the cached episodes among ids and the ids that were not cached
func (s *MetadataStore) GetEpisodes(sectionID int64, ids []int64) (map[int64]domain.Episode, []int64) {
	found := make(map[int64]domain.Episode, len(ids))
	var missing []int64
	for _, id := range ids {
		if ep, ok := s.GetEpisode(sectionID, id); ok {
			found[id] = ep
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing
}

func (s *MetadataStore) SaveEpisodes(episodes []domain.Episode) error {
	if len(episodes) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(episodes))
	for _, ep := range episodes {
		values[episodeKey(ep.SectionID, ep.ID)] = ep
	}
	return s.setMany(bucketEpisodes, values)
}

// === Invalidation ===

// InvalidateSection wipes every cached episode of a section
func (s *MetadataStore) InvalidateSection(sectionID int64) {
	s.deletePrefix(bucketEpisodes, fmt.Sprintf("sec:%d:", sectionID))
}

// InvalidateEpisode drops a single cached episode
func (s *MetadataStore) InvalidateEpisode(sectionID, episodeID int64) {
	s.delete(bucketEpisodes, episodeKey(sectionID, episodeID))
}

func (s *MetadataStore) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string][]byte)
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	// Delete all data from all buckets
	s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSections, bucketEpisodes} {
			if tx.Bucket(bucket) == nil {
				continue
			}
			if err := tx.DeleteBucket(bucket); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}
