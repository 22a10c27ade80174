package desk

import (
	"context"
	"errors"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/vigil/app/api"
)

// each submitted task gets one polling loop: a cancellable goroutine bound
// to the task id, querying status on a fixed interval until a terminal
// transition or explicit stop. Ticks within one loop are strictly
// sequential, the next one never starts before the previous tick's handling
// (including the completion hand-off) finished. There is no ordering across
// loops of different tasks.

// startPolling begins the status loop for a task. Starting a second loop for
// an id already polling is a no-op, which guards against submission replays
// and reload races.
func (m *Manager) startPolling(taskID string) {
	m.init()
	m.mu.Lock()
	if _, ok := m.pollers[taskID]; ok {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.pollers[taskID] = cancel
	m.mu.Unlock()

	go m.poll(ctx, taskID)
}

// stopPolling cancels the loop for a task, idempotent. Cancellation is
// immediate, nothing waits for an in-flight request; its result is discarded
// by the loop itself.
func (m *Manager) stopPolling(taskID string) {
	m.mu.Lock()
	cancel, ok := m.pollers[taskID]
	if ok {
		delete(m.pollers, taskID)
	}
	m.mu.Unlock()
	if ok {
		cancel()
		log.Printf("[DEBUG] polling stopped for task %s", taskID)
	}
}

// poll is the recurring status check loop for one task
func (m *Manager) poll(ctx context.Context, taskID string) {
	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := m.Client.Status(ctx, taskID)
			if ctx.Err() != nil {
				return // canceled mid-request, discard whatever came back
			}

			switch {
			case errors.Is(err, api.ErrTaskNotFound):
				m.expireTask(taskID)
				return

			case err != nil:
				// transient failure, skip this tick and retry on the next one
				log.Printf("[WARN] status check failed for task %s: %v", taskID, err)

			case status == api.StatusCompleted:
				m.completeTask(ctx, taskID)
				m.stopPolling(taskID)
				return

			default:
				m.setStatus(taskID, status)
			}
		}
	}
}

// expireTask handles a 404 probe: the backend forgot the task, so does the
// desk. Removes the unit and every persisted trace, no retries.
func (m *Manager) expireTask(taskID string) {
	log.Printf("[INFO] task %s expired on the backend, purging", taskID)

	m.mu.Lock()
	m.dropUnitLocked(taskID)
	m.state.PurgeTask(taskID)
	m.state.RemoveTaskID(taskID)
	m.persistLocked()
	m.mu.Unlock()

	m.stopPolling(taskID)
	m.notifyExpired(taskID)
}

// setStatus updates the visible status label of the task's placeholder unit
// with the raw backend string
func (m *Manager) setStatus(taskID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.units[taskID]; ok && u.kind == KindPending {
		u.status = status
	}
}
