// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"calmirror/internal/calendar"
	"calmirror/internal/model"
)

// FakeSource is an in-memory implementation of source.Source for testing.
type FakeSource struct {
	mu    sync.RWMutex
	tasks map[string]model.Task

	// Error injection for testing
	FetchAllErr   error
	FetchByIDsErr error

	FetchAllCalls   int
	FetchByIDsCalls int
}

// NewFakeSource creates an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{tasks: make(map[string]model.Task)}
}

// PutTask adds or replaces a task record.
func (f *FakeSource) PutTask(t model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
}

// RemoveTask drops a task record entirely, as if it were deleted upstream.
func (f *FakeSource) RemoveTask(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
}

// FetchAll implements source.Source. Results are returned in id order so
// tests see deterministic output.
func (f *FakeSource) FetchAll(ctx context.Context) ([]model.Task, error) {
	f.mu.Lock()
	f.FetchAllCalls++
	f.mu.Unlock()
	if f.FetchAllErr != nil {
		return nil, f.FetchAllErr
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FetchByIDs implements source.Source. Unknown ids are silently omitted.
func (f *FakeSource) FetchByIDs(ctx context.Context, ids []string) ([]model.Task, error) {
	f.mu.Lock()
	f.FetchByIDsCalls++
	f.mu.Unlock()
	if f.FetchByIDsErr != nil {
		return nil, f.FetchByIDsErr
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []model.Task
	for _, id := range ids {
		if t, ok := f.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// FakeTarget is an in-memory implementation of calendar.Target for testing.
// Events live in a href-keyed map; writes bump a version counter so tests
// can observe change tags the way a real calendar service reports them.
type FakeTarget struct {
	mu     sync.RWMutex
	events map[string]model.CalendarEvent
	seq    int

	// CalendarID is returned by Ensure. Defaults to "fake-calendar".
	CalendarID string

	// Token is returned as the change token by ListAll and by unscripted
	// ListSince calls.
	Token string

	// Deltas are consumed in order by ListSince; when exhausted, ListSince
	// returns an empty delta carrying Token.
	Deltas []calendar.Delta

	// Error injection for testing
	EnsureErr    error
	ListAllErr   error
	ListSinceErr error
	CreateErr    error
	UpdateErr    error
	DeleteErr    error

	EnsureCalls    int
	ListAllCalls   int
	ListSinceCalls int
	CreateCalls    int
	UpdateCalls    int
	DeleteCalls    int
}

// NewFakeTarget creates an empty FakeTarget with a default calendar id and
// change token.
func NewFakeTarget() *FakeTarget {
	return &FakeTarget{
		events:     make(map[string]model.CalendarEvent),
		CalendarID: "fake-calendar",
		Token:      "token-1",
	}
}

// AddEvent seeds an event directly, bypassing Create. Useful for orphans
// and manually created entries.
func (f *FakeTarget) AddEvent(ev model.CalendarEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Version == "" {
		f.seq++
		ev.Version = fmt.Sprintf("etag-%d", f.seq)
	}
	f.events[ev.Href] = ev
}

// RemoveEvent drops an event directly, as if deleted by hand on the
// calendar.
func (f *FakeTarget) RemoveEvent(href string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, href)
}

// TouchEvent bumps an event's version without going through Update,
// simulating a manual edit on the calendar.
func (f *FakeTarget) TouchEvent(href string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[href]
	if !ok {
		return
	}
	f.seq++
	ev.Version = fmt.Sprintf("etag-%d", f.seq)
	f.events[href] = ev
}

// Event returns the stored event at href and whether it exists.
func (f *FakeTarget) Event(href string) (model.CalendarEvent, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ev, ok := f.events[href]
	return ev, ok
}

// EventByUID returns the first stored event with the given uid.
func (f *FakeTarget) EventByUID(uid string) (model.CalendarEvent, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ev := range f.events {
		if ev.UID == uid {
			return ev, true
		}
	}
	return model.CalendarEvent{}, false
}

// Len reports how many events the calendar holds.
func (f *FakeTarget) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.events)
}

// Ensure implements calendar.Target.
func (f *FakeTarget) Ensure(ctx context.Context, meta calendar.Metadata) (string, error) {
	f.mu.Lock()
	f.EnsureCalls++
	f.mu.Unlock()
	if f.EnsureErr != nil {
		return "", f.EnsureErr
	}
	return f.CalendarID, nil
}

// ListAll implements calendar.Target. Events are returned in href order.
func (f *FakeTarget) ListAll(ctx context.Context) ([]model.CalendarEvent, string, error) {
	f.mu.Lock()
	f.ListAllCalls++
	f.mu.Unlock()
	if f.ListAllErr != nil {
		return nil, "", f.ListAllErr
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.CalendarEvent, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Href < out[j].Href })
	return out, f.Token, nil
}

// ListSince implements calendar.Target, returning scripted deltas in order.
func (f *FakeTarget) ListSince(ctx context.Context, token string) (calendar.Delta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListSinceCalls++
	if f.ListSinceErr != nil {
		return calendar.Delta{}, f.ListSinceErr
	}
	if len(f.Deltas) > 0 {
		d := f.Deltas[0]
		f.Deltas = f.Deltas[1:]
		return d, nil
	}
	return calendar.Delta{Token: f.Token}, nil
}

// Create implements calendar.Target. The href is derived from the task id
// the way a CalDAV PUT would place it.
func (f *FakeTarget) Create(ctx context.Context, task model.Task) (model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if f.CreateErr != nil {
		return model.CalendarEvent{}, f.CreateErr
	}

	f.seq++
	ev := model.CalendarEvent{
		Href:        "/fake/" + task.ID + ".ics",
		UID:         task.ID,
		Summary:     task.Title,
		Description: task.Description,
		Start:       task.Start,
		End:         task.End,
		Version:     fmt.Sprintf("etag-%d", f.seq),
	}
	f.events[ev.Href] = ev
	return ev, nil
}

// Update implements calendar.Target with put semantics: the event at href
// is overwritten whether or not it already exists.
func (f *FakeTarget) Update(ctx context.Context, href string, task model.Task) (model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	if f.UpdateErr != nil {
		return model.CalendarEvent{}, f.UpdateErr
	}

	f.seq++
	ev := model.CalendarEvent{
		Href:        href,
		UID:         task.ID,
		Summary:     task.Title,
		Description: task.Description,
		Start:       task.Start,
		End:         task.End,
		Version:     fmt.Sprintf("etag-%d", f.seq),
	}
	f.events[href] = ev
	return ev, nil
}

// Delete implements calendar.Target. Deleting a missing href is not an
// error, matching the contract.
func (f *FakeTarget) Delete(ctx context.Context, href string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.events, href)
	return nil
}
