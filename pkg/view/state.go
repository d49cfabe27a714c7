// Package view holds the in-memory review state: the pending and history
// collections, the reviewer's selection and remarks, and transient notices.
package view

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/harrisonrobin/reverify/pkg/model"
	"github.com/harrisonrobin/reverify/pkg/util"
)

var (
	ErrUnknownTask = errors.New("task is not pending")
	ErrNotSelected = errors.New("task is not selected")
)

// State is safe for concurrent use.
type State struct {
	mu sync.Mutex

	pending []model.Task
	history []model.Task

	order    []string // selection in click order
	selected map[string]struct{}
	remarks  map[string]string

	// committed holds records promoted this session that the sheet has not yet
	// reported as verified, newest first.
	committed []model.Task

	notices []Notice
	now     func() time.Time
}

// New returns an empty State. A nil clock means time.Now.
func New(now func() time.Time) *State {
	if now == nil {
		now = time.Now
	}
	return &State{
		selected: make(map[string]struct{}),
		remarks:  make(map[string]string),
		now:      now,
	}
}

// Load replaces both collections with a fresh fetch. Selections of tasks that are no
// longer pending are dropped along with their remarks.
//
// Records committed this session stay in history, and out of pending, until the
// fetched history holds a verified row for them. A refresh therefore never undoes a
// local move, even when the background write failed or has not finished.
func (s *State) Load(pending, history []model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.committed = slices.DeleteFunc(s.committed, func(c model.Task) bool {
		return slices.ContainsFunc(history, func(h model.Task) bool { return sameRow(c, h) })
	})

	s.pending = slices.DeleteFunc(slices.Clone(pending), func(t model.Task) bool {
		return slices.ContainsFunc(s.committed, func(c model.Task) bool { return c.ID == t.ID })
	})
	s.history = append(slices.Clone(s.committed), history...)

	ids := make(map[string]struct{}, len(s.pending))
	for _, t := range s.pending {
		ids[t.ID] = struct{}{}
	}
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		if _, ok := ids[id]; ok {
			return false
		}
		delete(s.selected, id)
		delete(s.remarks, id)
		return true
	})
}

// Pending returns the pending tasks matching search, earliest planned date first.
func (s *State) Pending(search string) []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return project(s.pending, search, model.ColPlannedDate, false)
}

// History returns the history records matching search, latest verification first.
func (s *State) History(search string) []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return project(s.history, search, model.ColVerificationDate, true)
}

// project filters and sorts a copy of tasks. Equal or unparseable dates keep
// collection order.
func project(tasks []model.Task, search string, col model.Column, desc bool) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if Matches(t, search) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Task) int {
		return util.CompareDates(a.Get(col), b.Get(col), desc)
	})
	return out
}

// Matches reports whether any value of t contains search, ignoring case.
func Matches(t model.Task, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, v := range t.Values() {
		if v != "" && strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

// Counts returns the sizes of both collections.
func (s *State) Counts() (pending, history int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), len(s.history)
}

// Select adds or removes a pending task from the selection. Removing also drops its remark.
func (s *State) Select(id string, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !checked {
		s.deselect(id)
		return nil
	}
	if s.findPending(id) < 0 {
		return ErrUnknownTask
	}
	if _, ok := s.selected[id]; !ok {
		s.selected[id] = struct{}{}
		s.order = append(s.order, id)
	}
	return nil
}

// SelectAll replaces the selection with every pending task matching search, or clears
// the selection and all remarks when checked is false.
func (s *State) SelectAll(search string, checked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !checked {
		s.clearSelection()
		return
	}

	visible := project(s.pending, search, model.ColPlannedDate, false)
	s.order = make([]string, 0, len(visible))
	s.selected = make(map[string]struct{}, len(visible))
	for _, t := range visible {
		s.order = append(s.order, t.ID)
		s.selected[t.ID] = struct{}{}
	}
	for id := range s.remarks {
		if _, ok := s.selected[id]; !ok {
			delete(s.remarks, id)
		}
	}
}

// AllSelected reports whether every pending task matching search is selected and the
// selection holds nothing else.
func (s *State) AllSelected(search string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible := project(s.pending, search, model.ColPlannedDate, false)
	if len(visible) == 0 || len(visible) != len(s.selected) {
		return false
	}
	for _, t := range visible {
		if _, ok := s.selected[t.ID]; !ok {
			return false
		}
	}
	return true
}

// SetRemark stores the remark for a selected task.
func (s *State) SetRemark(id, remark string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.selected[id]; !ok {
		return ErrNotSelected
	}
	s.remarks[id] = remark
	return nil
}

// Selection returns the selected ids in the order they were selected.
func (s *State) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Remarks returns a copy of the remark map.
func (s *State) Remarks() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.remarks))
	for k, v := range s.remarks {
		out[k] = v
	}
	return out
}

// Commit checks the current selection and promotes it under a single lock, so a
// concurrent select, deselect or remark edit either lands before the check or after
// the promotion. check receives copies of the selection and remarks; a non-nil error
// leaves the state untouched and is returned as is.
func (s *State) Commit(verified string, check func(ids []string, remarks map[string]string) error) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := slices.Clone(s.order)
	remarks := make(map[string]string, len(s.remarks))
	for k, v := range s.remarks {
		remarks[k] = v
	}
	if check != nil {
		if err := check(ids, remarks); err != nil {
			return nil, err
		}
	}
	return s.promote(ids, verified, remarks), nil
}

// Promote moves the given pending tasks to history in one step: each record gets
// verified as its verification date and its remark from remarks, the records are
// prepended to history, and the selection and remarks are cleared. Ids that are not
// pending are ignored. The promoted records are returned in ids order.
func (s *State) Promote(ids []string, verified string, remarks map[string]string) []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promote(ids, verified, remarks)
}

func (s *State) promote(ids []string, verified string, remarks map[string]string) []model.Task {
	promoted := make([]model.Task, 0, len(ids))
	moving := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		i := s.findPending(id)
		if i < 0 {
			continue
		}
		if _, dup := moving[id]; dup {
			continue
		}
		rec := s.pending[i]
		rec.Set(model.ColVerificationDate, verified)
		rec.Set(model.ColRemarks, remarks[id])
		promoted = append(promoted, rec)
		moving[id] = struct{}{}
	}

	s.pending = slices.DeleteFunc(s.pending, func(t model.Task) bool {
		_, ok := moving[t.ID]
		return ok
	})
	s.history = append(slices.Clone(promoted), s.history...)
	s.committed = append(slices.Clone(promoted), s.committed...)
	s.clearSelection()

	return promoted
}

func (s *State) findPending(id string) int {
	return slices.IndexFunc(s.pending, func(t model.Task) bool { return t.ID == id })
}

// sameRow reports whether a fetched history record is the sheet's copy of a
// committed one. Fallback ids hash row content, so a verified row is also matched
// by its position and task id.
func sameRow(committed, fetched model.Task) bool {
	if committed.ID == fetched.ID {
		return true
	}
	return committed.RowIndex == fetched.RowIndex && committed.TaskID == fetched.TaskID
}

func (s *State) deselect(id string) {
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
		s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	}
	delete(s.remarks, id)
}

func (s *State) clearSelection() {
	s.order = nil
	s.selected = make(map[string]struct{})
	s.remarks = make(map[string]string)
}
