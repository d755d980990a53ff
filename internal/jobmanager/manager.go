// Package jobmanager implements the Job Manager (spec §4.4): the registry
// of background stage-runners the HTTP façade calls submit/get/wait
// against. One goroutine per submitted task, tracked in a live-set rather
// than polling a shared job table — the live-set is itself a stronger
// structural guarantee of "at most one stage-runner per task" than a
// lease-based claim needs at this scale.
package jobmanager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/mediapipe-orchestrator/internal/clients/remote"
	"github.com/yungbote/mediapipe-orchestrator/internal/domain"
	"github.com/yungbote/mediapipe-orchestrator/internal/pipeline"
	"github.com/yungbote/mediapipe-orchestrator/internal/platform/logger"
	"github.com/yungbote/mediapipe-orchestrator/internal/store"
)

// ErrNotFound is returned by WaitForCompletion when the record disappears
// from the Task Store before reaching a terminal state.
var ErrNotFound = errors.New("jobmanager: task not found")

// ErrTimeout is returned by WaitForCompletion when the deadline elapses
// before the task reaches a terminal state.
var ErrTimeout = errors.New("jobmanager: wait timed out")

// Config gathers the Job Manager's construction-time tunables, per spec
// §9's constructor-injection redesign note: no environment reads happen
// inside this package.
type Config struct {
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// Manager holds one Remote Job Client per worker kind (any may be nil), the
// Task Store, and the pacing constants shared by every spawned engine.
type Manager struct {
	workers pipeline.Workers
	store   *store.Store
	engine  *pipeline.Engine
	log     *logger.Logger

	pollInterval time.Duration

	mu   sync.Mutex
	live map[string]context.CancelFunc
	bg   context.Context
	cancelBG context.CancelFunc
}

// New constructs a Manager. workers' nil fields disable the corresponding
// stage, consumed by pipeline.Engine.ValidateWorkers at submit time.
func New(workers pipeline.Workers, st *store.Store, cfg Config, log *logger.Logger) *Manager {
	pollInterval := cfg.PollInterval
	if pollInterval < time.Second {
		pollInterval = time.Second
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Manager{
		workers:      workers,
		store:        st,
		engine:       pipeline.New(workers, st, pollInterval, cfg.JobTimeout, log),
		log:          log.With("service", "JobManager"),
		pollInterval: pollInterval,
		live:         map[string]context.CancelFunc{},
		bg:           bg,
		cancelBG:     cancel,
	}
}

// newTaskID allocates a 128-bit hex identifier via crypto/rand, the
// spec §4.4 ID scheme.
func newTaskID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("jobmanager: generate task id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Submit validates that every stage the request implies has a configured
// worker, allocates a task ID, writes the initial queued record, and
// spawns a detached goroutine running the Pipeline Engine for that task.
// It returns the task ID synchronously; the engine runs independently.
func (m *Manager) Submit(ctx context.Context, req domain.PipelineRequest) (string, error) {
	req = req.WithDefaults()

	stages, err := pipeline.Plan(req)
	if err != nil {
		return "", err
	}
	if err := m.engine.ValidateWorkers(stages); err != nil {
		return "", err
	}

	taskID, err := newTaskID()
	if err != nil {
		return "", err
	}

	now := domain.NowISO(timeNow())
	rec := domain.TaskRecord{
		TaskID:    taskID,
		Stage:     domain.StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Request:   req.Clone(),
		Progress:  []domain.ProgressEntry{},
	}
	rec.SetStatus(domain.StatusQueued)

	if _, err := m.store.Write(ctx, rec); err != nil {
		return "", fmt.Errorf("jobmanager: write initial record: %w", err)
	}

	runCtx, cancel := context.WithCancel(m.bg)
	m.mu.Lock()
	m.live[taskID] = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("pipeline engine panicked", "task_id", taskID, "panic", r)
			}
			m.mu.Lock()
			delete(m.live, taskID)
			m.mu.Unlock()
			cancel()
		}()
		m.engine.Run(runCtx, taskID)
	}()

	return taskID, nil
}

// GetTask delegates to the Task Store.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	return m.store.Get(ctx, taskID)
}

func isTerminal(status domain.Status) bool {
	return status == domain.StatusCompleted || status == domain.StatusFailed
}

// WaitForCompletion polls GetTask at max(pollInterval, 1s) until the record
// is terminal. It never blocks on a notification channel so that a client
// polling from a different process — one without the live Pipeline Engine
// goroutine — observes the same semantics (spec §4.4).
func (m *Manager) WaitForCompletion(ctx context.Context, taskID string, timeout time.Duration) (*domain.TaskRecord, error) {
	interval := m.pollInterval
	if interval < time.Second {
		interval = time.Second
	}

	deadline := timeNow().Add(timeout)
	for {
		rec, err := m.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, ErrNotFound
		}
		if isTerminal(rec.Status) {
			return rec, nil
		}
		if timeout > 0 && !timeNow().Before(deadline) {
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Close cancels every tracked stage-runner, then closes each Remote Job
// Client and the Task Store concurrently via an errgroup and waits for
// those close calls to return. It does not wait for the cancelled engine
// goroutines to exit.
// Cancelled engines do not write a terminal record (spec §5); their stale
// state is left for TTL reaping.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.live))
	for _, c := range m.live {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	m.cancelBG()

	g, _ := errgroup.WithContext(ctx)
	for _, client := range []*remote.Client{m.workers.Sovits, m.workers.Wav2Lip, m.workers.FaceFusion} {
		client := client
		if client == nil {
			continue
		}
		g.Go(func() error { return client.Close() })
	}
	g.Go(func() error { return m.store.Close() })

	return g.Wait()
}

func timeNow() time.Time { return time.Now() }
