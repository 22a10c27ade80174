// Package desk implements the task/tab state manager: it tracks in-flight
// and completed redaction tasks, keeps one display unit per tab, persists
// enough to survive a restart, polls the backend for status and expands
// completed batches into per-file result units. The registry here is the
// single source of truth, rendering layers only project it.
package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"

	"github.com/umputun/vigil/app/api"
	"github.com/umputun/vigil/app/store"
)

// ErrNoInput reported when a submission has no profile or no files. Nothing
// is sent and no state is touched in this case.
var ErrNoInput = errors.New("profile and at least one file required")

// ErrUnknownUnit reported for operations on a display id without a live unit
var ErrUnknownUnit = errors.New("no such unit")

// Kind tells what a display unit is bound to
type Kind string

// display unit kinds
const (
	KindPending Kind = "pending" // placeholder for a task still processing
	KindResult  Kind = "result"  // finalized result for one file
	KindError   Kind = "error"   // visible error state, unit kept inspectable
)

// NoReplacements is the report body rendered for an empty replacement list
const NoReplacements = "no replacements"

// Backend defines the subset of the api client used by the manager
type Backend interface {
	Upload(ctx context.Context, profileID string, files []api.File) (string, error)
	Status(ctx context.Context, taskID string) (string, error)
	Results(ctx context.Context, taskID string) ([]api.ReportEntry, error)
}

// Repeater retries the startup status probe to keep one transient blip from
// destroying a live task. Terminal failure still expires the task.
type Repeater interface {
	Do(ctx context.Context, fun func() error, errs ...error) error
}

// EventHandler gets lifecycle notifications. All methods are called outside
// the manager lock and must not call back into it.
type EventHandler interface {
	OnTaskCompleted(taskID string, results int)
	OnTaskExpired(taskID string)
}

// Manager is the top-level desk service wiring registry, pollers and
// reconciliation together. Configure public fields before calling Do.
type Manager struct {
	Client            Backend
	Store             store.Interface
	Interval          time.Duration // poll interval, default 2s
	ResumeConcurrency int           // parallel startup probes, default 4
	Probe             Repeater      // optional retry for startup probes
	Events            EventHandler  // optional lifecycle notifications

	mu       sync.Mutex
	state    store.State
	units    map[string]*unit
	order    []string
	activeID string
	pollers  map[string]context.CancelFunc
	ctx      context.Context //nolint:containedctx // lifecycle root for pollers started after Do

	once  sync.Once
	ready chan struct{} // closed once restore-on-load finished
}

// unit is the internal representation of a display unit (tab)
type unit struct {
	id           string
	taskID       string
	index        int
	kind         Kind
	status       string // raw backend status for pending units
	original     string
	reduced      string
	replacements []api.Replacement
	errorMsg     string
}

// UnitView is an immutable projection of a display unit for rendering.
// Text is the current text with the user's edit already applied.
type UnitView struct {
	ID           string            `json:"id"`
	TaskID       string            `json:"task_id"`
	Index        int               `json:"index"`
	Kind         Kind              `json:"kind"`
	Label        string            `json:"label"`
	Status       string            `json:"status"`
	Active       bool              `json:"active"`
	Original     string            `json:"original_text"`
	Text         string            `json:"text"`
	Report       string            `json:"report,omitempty"`
	Replacements []api.Replacement `json:"replacements,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Do runs the manager until ctx canceled: loads persisted state, restores
// known tasks and keeps pollers running. Blocking, the way services run here.
func (m *Manager) Do(ctx context.Context) {
	m.init()
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	state, err := m.Store.Load()
	if err != nil {
		log.Printf("[WARN] can't load persisted state, starting empty: %v", err)
		state = store.NewState()
	}
	m.mu.Lock()
	m.state = state
	ids := append([]string{}, state.TaskIDs...)
	m.mu.Unlock()

	m.restore(ctx, ids)

	<-ctx.Done()
	log.Print("[DEBUG] desk manager terminated")
}

// Ready returns a channel closed when restore-on-load completed. Uploads
// wait on it so a replayed submission can't race the restored state.
func (m *Manager) Ready() <-chan struct{} {
	m.init()
	return m.ready
}

// Upload validates and submits files for processing, creates the placeholder
// unit and starts polling. Re-observing a known task id is a no-op.
func (m *Manager) Upload(ctx context.Context, profileID string, files []api.File) (string, error) {
	m.init()
	if profileID == "" || len(files) == 0 {
		return "", ErrNoInput
	}

	// restore-on-load must finish before new uploads are processed
	select {
	case <-m.ready:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	taskID, err := m.Client.Upload(ctx, profileID, files)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}

	m.mu.Lock()
	if !m.state.AddTaskID(taskID) {
		m.mu.Unlock()
		log.Printf("[DEBUG] task %s already known, submission replayed", taskID)
		return taskID, nil
	}
	if _, ok := m.state.Labels[taskID]; !ok {
		m.state.Labels[taskID] = fmt.Sprintf("Task %d", len(m.state.TaskIDs))
	}
	m.persistLocked()
	m.createPlaceholderLocked(taskID)
	m.mu.Unlock()

	m.startPolling(taskID)
	log.Printf("[INFO] submitted task %s, %d file(s), profile %q", taskID, len(files), profileID)
	return taskID, nil
}

// restore probes every known task id concurrently and independently, drops
// the ones the backend no longer knows and resumes polling for the rest.
func (m *Manager) restore(ctx context.Context, ids []string) {
	concurrency := m.ResumeConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	if len(ids) > 0 {
		log.Printf("[INFO] restoring %d known task(s)", len(ids))
	}

	gr := syncs.NewSizedGroup(concurrency, syncs.Context(ctx))
	for _, id := range ids {
		taskID := id
		gr.Go(func(ctx context.Context) {
			m.restoreTask(ctx, taskID)
		})
	}

	go func() {
		gr.Wait()
		close(m.ready)
		log.Print("[DEBUG] restore-on-load completed")
	}()
}

// restoreTask issues a single status probe for one persisted task id
func (m *Manager) restoreTask(ctx context.Context, taskID string) {
	var status string
	probe := func() error {
		var err error
		status, err = m.Client.Status(ctx, taskID)
		return err
	}

	var err error
	if m.Probe != nil {
		err = m.Probe.Do(ctx, probe)
	} else {
		err = probe()
	}
	if ctx.Err() != nil {
		return // shutting down, don't touch state on a canceled probe
	}

	if err != nil {
		// the unified defensive behavior: any failed probe at startup means
		// the task is gone, its leftovers get purged
		log.Printf("[INFO] dropping task %s from previous session: %v", taskID, err)
		m.mu.Lock()
		m.state.RemoveTaskID(taskID)
		m.state.PurgeTask(taskID)
		m.persistLocked()
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.createPlaceholderLocked(taskID)
	if u, ok := m.units[taskID]; ok && status != "" {
		u.status = status
	}
	m.mu.Unlock()

	log.Printf("[INFO] resumed task %s, status %q", taskID, status)
	m.startPolling(taskID)
}

// persistLocked writes the full state through the store; must hold m.mu.
// A failing store keeps the in-memory state authoritative and only logs.
func (m *Manager) persistLocked() {
	if err := m.Store.Save(m.state); err != nil {
		log.Printf("[WARN] can't persist desk state: %v", err)
	}
}

func (m *Manager) interval() time.Duration {
	if m.Interval <= 0 {
		return 2 * time.Second
	}
	return m.Interval
}

func (m *Manager) init() {
	m.once.Do(func() {
		m.units = map[string]*unit{}
		m.pollers = map[string]context.CancelFunc{}
		m.ready = make(chan struct{})
		if m.ctx == nil {
			m.ctx = context.Background()
		}
		if m.state.Labels == nil {
			m.state = store.NewState()
		}
	})
}

func (m *Manager) notifyCompleted(taskID string, results int) {
	if m.Events != nil {
		m.Events.OnTaskCompleted(taskID, results)
	}
}

func (m *Manager) notifyExpired(taskID string) {
	if m.Events != nil {
		m.Events.OnTaskExpired(taskID)
	}
}

// reportText renders the replacement list one line per substitution,
// "entity_type: original → replacement", or the sentinel for an empty list
func reportText(replacements []api.Replacement) string {
	if len(replacements) == 0 {
		return NoReplacements
	}
	lines := make([]string, 0, len(replacements))
	for _, r := range replacements {
		lines = append(lines, fmt.Sprintf("%s: %s → %s", r.EntityType, r.Original, r.Replacement))
	}
	return strings.Join(lines, "\n")
}
