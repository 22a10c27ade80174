package desk

import (
	"context"
	"fmt"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/vigil/app/api"
)

// reconciliation expands one completed task into its per-file result units:
// the placeholder goes away and each report becomes a unit keyed by the
// composite "{task_id}_{index}" id, re-attached to whatever labels and edits
// the store kept for it. The task id itself stays known so a restart can
// probe the task and rebuild the same units.

// completeTask fetches the result batch and replaces the task's placeholder
// with result units. A failed fetch degrades the placeholder to a visible
// error unit; a malformed entry degrades only that unit, never its siblings.
func (m *Manager) completeTask(ctx context.Context, taskID string) {
	entries, err := m.Client.Results(ctx, taskID)
	if ctx.Err() != nil {
		return // loop canceled while the fetch was in flight, discard
	}
	if err != nil {
		log.Printf("[WARN] can't fetch results for task %s: %v", taskID, err)
		m.mu.Lock()
		if u, ok := m.units[taskID]; ok {
			u.kind = KindError
			u.status = "error"
			u.errorMsg = fmt.Sprintf("failed to load results: %v", err)
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.dropUnitLocked(taskID) // placeholder is done, results take its place

	for i, entry := range entries {
		displayID := fmt.Sprintf("%s_%d", taskID, i)
		if _, ok := m.units[displayID]; ok {
			continue // reload race, the unit is already there
		}

		if _, ok := m.state.Labels[displayID]; !ok {
			// server-supplied file name beats the placeholder but a label
			// the user picked earlier beats both
			label := entry.File
			if label == "" {
				label = fmt.Sprintf("Document %d", i+1)
			}
			m.state.Labels[displayID] = label
		}

		u := &unit{id: displayID, taskID: taskID, index: i}
		if entry.Report == nil {
			u.kind = KindError
			u.status = "error"
			u.errorMsg = "malformed result entry, report body missing"
			log.Printf("[WARN] malformed result entry %d for task %s", i, taskID)
		} else {
			u.kind = KindResult
			u.status = api.StatusCompleted
			u.original = entry.Report.OriginalText
			u.reduced = entry.Report.ReducedText
			u.replacements = entry.Report.Replacements
		}
		m.units[displayID] = u
		m.order = append(m.order, displayID)
	}

	// the first unit of the batch becomes the selected one
	if firstID := taskID + "_0"; len(entries) > 0 {
		if _, ok := m.units[firstID]; ok {
			m.activeID = firstID
		}
	}
	m.persistLocked()
	m.mu.Unlock()

	// an empty batch leaves no unit behind, a valid terminal state
	log.Printf("[INFO] task %s completed with %d result(s)", taskID, len(entries))
	m.notifyCompleted(taskID, len(entries))
}
