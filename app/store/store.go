// Package store persists the desk state between runs: the ordered set of
// known task ids, user-assigned unit labels and user-edited texts. Every
// mutation is saved whole, load tolerates missing or broken data.
package store

import (
	"slices"
	"strings"
)

// State is the complete persisted desk state, three independent mappings
// keyed by string identifiers. TaskIDs keeps submission order and is
// deduplicated, Labels and Edits are keyed by display (unit) id.
type State struct {
	TaskIDs []string          `json:"task_ids"`
	Labels  map[string]string `json:"labels"`
	Edits   map[string]string `json:"edited_texts"`
}

// Interface defines persistence operations for the desk state. Save is a
// full overwrite and must be cheap enough to call after every mutation.
type Interface interface {
	Load() (State, error)
	Save(state State) error
	Close() error
}

// NewState makes an empty state with initialized maps
func NewState() State {
	return State{Labels: map[string]string{}, Edits: map[string]string{}}
}

// normalize makes sure maps are non-nil after loading partial or legacy data
func (s *State) normalize() {
	if s.Labels == nil {
		s.Labels = map[string]string{}
	}
	if s.Edits == nil {
		s.Edits = map[string]string{}
	}
}

// AddTaskID appends id keeping submission order, returns false if already known
func (s *State) AddTaskID(id string) bool {
	if slices.Contains(s.TaskIDs, id) {
		return false
	}
	s.TaskIDs = append(s.TaskIDs, id)
	return true
}

// RemoveTaskID drops id from the ordered set, no-op if not present
func (s *State) RemoveTaskID(id string) {
	s.TaskIDs = slices.DeleteFunc(s.TaskIDs, func(e string) bool { return e == id })
}

// Purge removes all per-unit traces for the given display id
func (s *State) Purge(displayID string) {
	delete(s.Labels, displayID)
	delete(s.Edits, displayID)
}

// PurgeTask removes every persisted trace of a task: the task-level entries
// plus all composite "{task_id}_{index}" entries left from a prior
// completion. Once the task id is forgotten nothing could ever rebuild or
// clean those, so they go with the task.
func (s *State) PurgeTask(taskID string) {
	prefix := taskID + "_"
	for k := range s.Labels {
		if k == taskID || strings.HasPrefix(k, prefix) {
			delete(s.Labels, k)
		}
	}
	for k := range s.Edits {
		if k == taskID || strings.HasPrefix(k, prefix) {
			delete(s.Edits, k)
		}
	}
}
