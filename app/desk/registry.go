package desk

import (
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/vigil/app/api"
)

// registry operations. All exported calls lock the manager; at most one
// mutation is in flight at a time, each followed by a full state save.

// CreatePlaceholder adds a pending unit for a submitted task. Idempotent,
// creating a unit for an id with a live unit is a no-op.
func (m *Manager) CreatePlaceholder(taskID string) {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createPlaceholderLocked(taskID)
}

func (m *Manager) createPlaceholderLocked(taskID string) {
	if _, ok := m.units[taskID]; ok {
		return
	}
	m.units[taskID] = &unit{id: taskID, taskID: taskID, kind: KindPending, status: api.StatusPending}
	m.order = append(m.order, taskID)
	log.Printf("[DEBUG] placeholder unit created for task %s", taskID)
}

// Rename sets a user-chosen label and persists it. Empty or blank labels are
// ignored, the previous label stays.
func (m *Manager) Rename(displayID, label string) error {
	m.init()
	label = strings.TrimSpace(label)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.units[displayID]; !ok {
		return ErrUnknownUnit
	}
	if label == "" {
		return nil
	}
	m.state.Labels[displayID] = label
	m.persistLocked()
	return nil
}

// EditText stores the user-edited text for a result unit. Once set it always
// wins over the server-supplied reduced text, including across restarts.
func (m *Manager) EditText(displayID, text string) error {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.units[displayID]
	if !ok {
		return ErrUnknownUnit
	}
	if u.kind != KindResult {
		return ErrUnknownUnit
	}
	m.state.Edits[displayID] = text
	m.persistLocked()
	return nil
}

// Activate marks the unit selected, deactivating all others. Exactly one
// unit is active at a time, or none right after a removal.
func (m *Manager) Activate(displayID string) error {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.units[displayID]; !ok {
		return ErrUnknownUnit
	}
	m.activeID = displayID
	return nil
}

// Remove drops the unit and purges its persisted traces. Removing a pending
// (or degraded) task unit also forgets the task and cancels its poller;
// removing a result unit leaves its siblings and the task id alone so a
// restart can rebuild them.
func (m *Manager) Remove(displayID string) error {
	m.init()
	m.mu.Lock()

	u, ok := m.units[displayID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownUnit
	}

	m.dropUnitLocked(displayID)
	m.state.Purge(displayID)

	taskUnit := u.id == u.taskID // placeholder or degraded task-level unit
	if taskUnit {
		m.state.RemoveTaskID(u.taskID)
	}
	m.persistLocked()
	m.mu.Unlock()

	if taskUnit {
		m.stopPolling(u.taskID)
	}
	log.Printf("[INFO] removed unit %s", displayID)
	return nil
}

// dropUnitLocked removes the unit from the registry without touching the
// persisted mappings; must hold m.mu
func (m *Manager) dropUnitLocked(displayID string) {
	delete(m.units, displayID)
	for i, id := range m.order {
		if id == displayID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.activeID == displayID {
		m.activeID = ""
	}
}

// Units returns all units in creation order as render-ready projections
func (m *Manager) Units() []UnitView {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]UnitView, 0, len(m.order))
	for _, id := range m.order {
		res = append(res, m.viewLocked(m.units[id]))
	}
	return res
}

// Unit returns the projection of a single unit
func (m *Manager) Unit(displayID string) (UnitView, bool) {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.units[displayID]
	if !ok {
		return UnitView{}, false
	}
	return m.viewLocked(u), true
}

// ActiveID returns the currently selected unit id, empty if none
func (m *Manager) ActiveID() string {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

func (m *Manager) viewLocked(u *unit) UnitView {
	v := UnitView{
		ID:           u.id,
		TaskID:       u.taskID,
		Index:        u.index,
		Kind:         u.kind,
		Label:        m.state.Labels[u.id],
		Status:       u.status,
		Active:       m.activeID == u.id,
		Original:     u.original,
		Replacements: u.replacements,
		Error:        u.errorMsg,
	}
	if u.kind == KindResult {
		v.Text = u.reduced
		if edited, ok := m.state.Edits[u.id]; ok {
			v.Text = edited // user edit always wins over reduced_text
		}
		v.Report = reportText(u.replacements)
	}
	return v
}
