// Package store implements the Task Store (spec §4.2): a durable mapping
// from task ID to TaskRecord, backed by a shared key-value cache with TTL
// and mirrored to a filesystem directory (one file per task, atomically
// installed) as a crash/eviction backstop.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/mediapipe-orchestrator/internal/clients/cache"
	"github.com/yungbote/mediapipe-orchestrator/internal/domain"
	"github.com/yungbote/mediapipe-orchestrator/internal/jsonsan"
	"github.com/yungbote/mediapipe-orchestrator/internal/platform/logger"
)

// Config gathers the Task Store's tunables (spec §6's cache/disk fields).
type Config struct {
	Prefix   string
	CacheTTL time.Duration
	DiskDir  string
	DiskTTL  time.Duration
}

// Store is the durable task-record mapping. Only the Pipeline Engine
// writes for any given task; read-modify-write races inside UpdateFields
// are excluded by that single-writer discipline, not by locking here
// (matching spec §4.2's consistency model).
type Store struct {
	cache cache.Cache
	log   *logger.Logger

	prefix   string
	cacheTTL time.Duration
	diskDir  string
	diskTTL  time.Duration

	diskMu sync.Mutex
}

// New constructs a Store. diskDir is created if absent.
func New(c cache.Cache, log *logger.Logger, cfg Config) (*Store, error) {
	prefix := strings.TrimRight(cfg.Prefix, ":")
	if prefix == "" {
		prefix = "task"
	}
	diskTTL := cfg.DiskTTL
	if diskTTL < cfg.CacheTTL {
		diskTTL = cfg.CacheTTL
	}
	if cfg.DiskDir != "" {
		if err := os.MkdirAll(cfg.DiskDir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create disk dir: %w", err)
		}
	}
	return &Store{
		cache:    c,
		log:      log.With("service", "TaskStore"),
		prefix:   prefix,
		cacheTTL: cfg.CacheTTL,
		diskDir:  cfg.DiskDir,
		diskTTL:  diskTTL,
	}, nil
}

func (s *Store) cacheKey(taskID string) string {
	return s.prefix + ":" + taskID
}

// diskFilename filters taskID down to [A-Za-z0-9._-]; an empty result
// falls back to the literal "task" so the store tolerates any caller-
// supplied ID without special-casing.
func diskFilename(taskID string) string {
	var b strings.Builder
	for _, r := range taskID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = "task"
	}
	return name + ".json"
}

type diskRecord struct {
	Payload   domain.TaskRecord `json:"payload"`
	ExpiresAt int64             `json:"expires_at"`
}

// sanitize runs the recursive JSON-safety walk over every `any`-typed field
// of rec so write() can never panic or fail to marshal regardless of what
// a caller or a remote worker's response put into Result/Details/
// Intermediate/Error.Detail/Progress[].Extra.
func sanitize(rec domain.TaskRecord) domain.TaskRecord {
	rec.Result = jsonsan.Sanitize(rec.Result)
	rec.Intermediate = asStringMap(jsonsan.Sanitize(rec.Intermediate))
	rec.Details = asStringMap(jsonsan.Sanitize(rec.Details))
	if rec.Error != nil {
		cp := *rec.Error
		cp.Detail = jsonsan.Sanitize(cp.Detail)
		rec.Error = &cp
	}
	progress := make([]domain.ProgressEntry, len(rec.Progress))
	for i, p := range rec.Progress {
		p.Extra = asStringMap(jsonsan.Sanitize(p.Extra))
		progress[i] = p
	}
	rec.Progress = progress
	return rec
}

func asStringMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

// Write sanitizes rec, stores it to the cache with CacheTTL, mirrors it to
// disk with DiskTTL, and returns the sanitized record.
func (s *Store) Write(ctx context.Context, rec domain.TaskRecord) (domain.TaskRecord, error) {
	clean := sanitize(rec)

	raw, err := json.Marshal(clean)
	if err != nil {
		return domain.TaskRecord{}, fmt.Errorf("store: marshal: %w", err)
	}

	if err := s.cache.Set(ctx, s.cacheKey(clean.TaskID), raw, s.cacheTTL); err != nil {
		s.log.Warn("cache write failed", "task_id", clean.TaskID, "error", err)
	}

	if err := s.writeDisk(clean); err != nil {
		s.log.Warn("disk mirror write failed", "task_id", clean.TaskID, "error", err)
	}

	return clean, nil
}

func (s *Store) writeDisk(rec domain.TaskRecord) error {
	if s.diskDir == "" {
		return nil
	}
	dr := diskRecord{Payload: rec, ExpiresAt: time.Now().Add(s.diskTTL).Unix()}
	raw, err := json.Marshal(dr)
	if err != nil {
		return err
	}

	path := filepath.Join(s.diskDir, diskFilename(rec.TaskID))
	tmp := path + ".tmp"

	s.diskMu.Lock()
	defer s.diskMu.Unlock()

	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) readDisk(taskID string) (*domain.TaskRecord, bool) {
	if s.diskDir == "" {
		return nil, false
	}
	path := filepath.Join(s.diskDir, diskFilename(taskID))

	s.diskMu.Lock()
	raw, err := os.ReadFile(path)
	s.diskMu.Unlock()
	if err != nil {
		return nil, false
	}

	var dr diskRecord
	if err := json.Unmarshal(raw, &dr); err != nil {
		s.purgeDisk(path)
		return nil, false
	}
	if dr.ExpiresAt <= time.Now().Unix() {
		s.purgeDisk(path)
		return nil, false
	}
	return &dr.Payload, true
}

func (s *Store) purgeDisk(path string) {
	s.diskMu.Lock()
	_ = os.Remove(path)
	s.diskMu.Unlock()
}

// Get reads the cache; on miss it reads the disk mirror, verifies
// expires_at, rehydrates the cache with a fresh TTL, and returns. A record
// that is absent from both returns (nil, nil) — "not found" is not an
// error.
func (s *Store) Get(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	raw, err := s.cache.Get(ctx, s.cacheKey(taskID))
	if err == nil {
		var rec domain.TaskRecord
		if jerr := json.Unmarshal(raw, &rec); jerr == nil {
			return &rec, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("cache read failed", "task_id", taskID, "error", err)
	}

	rec, ok := s.readDisk(taskID)
	if !ok {
		return nil, nil
	}

	if raw, merr := json.Marshal(rec); merr == nil {
		if serr := s.cache.Set(ctx, s.cacheKey(taskID), raw, s.cacheTTL); serr != nil {
			s.log.Warn("cache rehydrate failed", "task_id", taskID, "error", serr)
		}
	}
	return rec, nil
}

// UpdateFields performs a read-modify-write against the current record.
// Merge semantics: "details" shallow-merges into the existing details map,
// "progress" appends the provided slice to the existing slice, any other
// key replaces the field wholesale. updated_at is always refreshed. Returns
// nil if the task does not exist.
func (s *Store) UpdateFields(ctx context.Context, taskID string, updates map[string]any) (*domain.TaskRecord, error) {
	rec, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	for key, val := range updates {
		switch key {
		case "details":
			m, ok := val.(map[string]any)
			if !ok {
				continue
			}
			if rec.Details == nil {
				rec.Details = map[string]any{}
			}
			for k, v := range m {
				rec.Details[k] = v
			}
		case "progress":
			entries, ok := val.([]domain.ProgressEntry)
			if !ok {
				continue
			}
			rec.Progress = append(rec.Progress, entries...)
		default:
			applyField(rec, key, val)
		}
	}
	rec.UpdatedAt = domain.NowISO(time.Now())

	clean, err := s.Write(ctx, *rec)
	if err != nil {
		return nil, err
	}
	return &clean, nil
}

// applyField replaces the named top-level field on rec. Only the fields
// named in spec §3's TaskRecord table are settable this way.
func applyField(rec *domain.TaskRecord, key string, val any) {
	switch key {
	case "status":
		if s, ok := val.(domain.Status); ok {
			rec.SetStatus(s)
		} else if s, ok := val.(string); ok {
			rec.SetStatus(domain.Status(s))
		}
	case "stage":
		if s, ok := val.(domain.Stage); ok {
			rec.Stage = s
		} else if s, ok := val.(string); ok {
			rec.Stage = domain.Stage(s)
		}
	case "request":
		if r, ok := val.(domain.PipelineRequest); ok {
			rec.Request = r
		}
	case "result":
		rec.Result = val
	case "error":
		if e, ok := val.(*domain.ErrorPayload); ok {
			rec.Error = e
		} else if val == nil {
			rec.Error = nil
		}
	case "intermediate":
		if m, ok := val.(map[string]any); ok {
			rec.Intermediate = m
		}
	}
}

// AppendProgress builds a single progress entry with the current timestamp
// and applies it via UpdateFields, the shorthand named in spec §4.2.
func (s *Store) AppendProgress(ctx context.Context, taskID, message string, stage string, extra map[string]any) (*domain.TaskRecord, error) {
	entry := domain.ProgressEntry{
		Timestamp: time.Now(),
		Message:   message,
		Stage:     stage,
		Extra:     extra,
	}
	return s.UpdateFields(ctx, taskID, map[string]any{
		"progress": []domain.ProgressEntry{entry},
	})
}

// Close releases the cache connection; the disk mirror persists.
func (s *Store) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}
