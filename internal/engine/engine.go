// Package engine implements the reconciliation core: it derives the
// desired event set from the workspace's task records and converges the
// calendar onto it. The calendar is never read back as a source of truth;
// listings only tell the engine what exists so it can compute a plan.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"calmirror/internal/calendar"
	"calmirror/internal/model"
	"calmirror/internal/render"
	"calmirror/internal/source"
	"calmirror/internal/store"
)

// Engine drives reconciliation runs against one source and one calendar
// target. Runs are serialized; overlapping passes would race on the
// mapping set and the change token.
type Engine struct {
	store  store.Store
	source source.Source
	target calendar.Target
	logger *slog.Logger

	mu sync.Mutex
}

// New builds an engine. A nil logger falls back to slog.Default.
func New(st store.Store, src source.Source, tgt calendar.Target, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, source: src, target: tgt, logger: logger}
}

// RunOpts modifies a full reconciliation pass.
type RunOpts struct {
	// Force runs even when the last full pass is more recent than the
	// configured interval.
	Force bool
}

// RunFull reconciles the complete desired set against the calendar. Unless
// forced, it is a no-op while the last full pass is fresher than the
// configured interval. The change token and pass timestamp advance only
// when every applied item succeeded, so a failed item is retried by the
// next pass.
func (e *Engine) RunFull(ctx context.Context, opts RunOpts) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	state, err := e.store.Settings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("loading settings: %w", err)
	}
	if !opts.Force && !state.FullSyncDue(started) {
		e.logger.Debug("full sync not due",
			"interval_minutes", state.FullSyncIntervalMinutes)
		return Report{Skipped: true, Duration: time.Since(started)}, nil
	}

	tasks, err := e.source.FetchAll(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("fetching tasks: %w", err)
	}
	desired := desiredSet(tasks)

	mappings, err := e.store.Mappings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("loading mappings: %w", err)
	}

	l, err := e.listEvents(ctx, state.ChangeToken)
	if err != nil {
		return Report{}, fmt.Errorf("listing events: %w", err)
	}

	rep := e.apply(ctx, diff(desired, mappings, l), desired)
	rep.FullListing = l.full
	rep.Duration = time.Since(started)

	if rep.Clean() {
		if err := e.store.SaveSyncProgress(ctx, l.token, time.Now().UTC()); err != nil {
			return rep, fmt.Errorf("saving sync progress: %w", err)
		}
	}

	e.logger.Info("full sync complete",
		"tasks", len(desired),
		"created", rep.Created,
		"updated", rep.Updated,
		"deleted", rep.Deleted,
		"failed", rep.Failed,
		"full_listing", rep.FullListing,
		"duration", rep.Duration,
	)
	return rep, nil
}

// RunScoped reconciles only the given task ids without listing the
// calendar. It never touches the change token or the full-pass timestamp
// and never deletes events outside the id set; ids the source no longer
// returns, or returns archived, are treated as not desired.
func (e *Engine) RunScoped(ctx context.Context, ids []string) (Report, error) {
	if len(ids) == 0 {
		return Report{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	tasks, err := e.source.FetchByIDs(ctx, ids)
	if err != nil {
		return Report{}, fmt.Errorf("fetching tasks: %w", err)
	}
	byID := make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var rep Report
	for _, id := range ids {
		m, err := e.store.Mapping(ctx, id)
		if err != nil {
			rep.fail("mapping "+id, err)
			continue
		}

		task, present := byID[id]
		if !present || !task.Eligible() {
			// Nothing belongs on the calendar for this id.
			if m == nil {
				continue
			}
			if err := e.deleteEvent(ctx, id, m.Href); err != nil {
				rep.fail("delete "+id, err)
				e.logger.Error("scoped delete failed", "task", id, "error", err)
				continue
			}
			rep.Deleted++
			continue
		}

		switch {
		case m == nil:
			if err := e.createEvent(ctx, task); err != nil {
				rep.fail("create "+id, err)
				e.logger.Error("scoped create failed", "task", id, "error", err)
				continue
			}
			rep.Created++
		case render.ContentHash(task) != m.ContentHash:
			if err := e.updateEvent(ctx, task, m.Href); err != nil {
				rep.fail("update "+id, err)
				e.logger.Error("scoped update failed", "task", id, "error", err)
				continue
			}
			rep.Updated++
		}
	}

	rep.Duration = time.Since(started)
	e.logger.Info("scoped sync complete",
		"ids", len(ids),
		"created", rep.Created,
		"updated", rep.Updated,
		"deleted", rep.Deleted,
		"failed", rep.Failed,
		"duration", rep.Duration,
	)
	return rep, nil
}

// listEvents resolves the calendar listing for a run: incremental while a
// token is held and honored, full otherwise. A rejected token falls back
// to a full listing within the same run.
func (e *Engine) listEvents(ctx context.Context, token string) (listing, error) {
	if token != "" {
		delta, err := e.target.ListSince(ctx, token)
		if err == nil {
			return listing{
				events:       delta.Changed,
				deletedUIDs:  toSet(delta.DeletedUIDs),
				deletedHrefs: toSet(delta.DeletedHrefs),
				token:        delta.Token,
			}, nil
		}
		if !errors.Is(err, calendar.ErrTokenInvalid) {
			return listing{}, err
		}
		e.logger.Warn("change token rejected, listing calendar in full", "error", err)
	}

	events, next, err := e.target.ListAll(ctx)
	if err != nil {
		return listing{}, err
	}
	return listing{events: events, token: next, full: true}, nil
}

// apply executes a plan in delete, update, create order. Each item's
// mapping is persisted immediately after its calendar write so a crash
// mid-run never leaves an event the store does not know about.
func (e *Engine) apply(ctx context.Context, p plan, desired map[string]model.Task) Report {
	var rep Report

	for _, d := range p.deletes {
		if err := e.deleteEvent(ctx, d.taskID, d.href); err != nil {
			rep.fail("delete "+d.href, err)
			e.logger.Error("delete failed", "href", d.href, "task", d.taskID, "error", err)
			continue
		}
		rep.Deleted++
	}
	for _, u := range p.updates {
		if err := e.updateEvent(ctx, desired[u.taskID], u.href); err != nil {
			rep.fail("update "+u.taskID, err)
			e.logger.Error("update failed", "task", u.taskID, "error", err)
			continue
		}
		rep.Updated++
	}
	for _, id := range p.creates {
		if err := e.createEvent(ctx, desired[id]); err != nil {
			rep.fail("create "+id, err)
			e.logger.Error("create failed", "task", id, "error", err)
			continue
		}
		rep.Created++
	}

	return rep
}

func (e *Engine) createEvent(ctx context.Context, task model.Task) error {
	ev, err := e.target.Create(ctx, task)
	if err != nil {
		return err
	}
	return e.store.PutMapping(ctx, task.ID, model.MappingEntry{
		Href:        ev.Href,
		ContentHash: render.ContentHash(task),
		Version:     ev.Version,
	})
}

func (e *Engine) updateEvent(ctx context.Context, task model.Task, href string) error {
	ev, err := e.target.Update(ctx, href, task)
	if err != nil {
		return err
	}
	return e.store.PutMapping(ctx, task.ID, model.MappingEntry{
		Href:        ev.Href,
		ContentHash: render.ContentHash(task),
		Version:     ev.Version,
	})
}

func (e *Engine) deleteEvent(ctx context.Context, taskID, href string) error {
	if err := e.target.Delete(ctx, href); err != nil {
		return err
	}
	if taskID == "" {
		return nil
	}
	return e.store.DeleteMapping(ctx, taskID)
}

func desiredSet(tasks []model.Task) map[string]model.Task {
	desired := make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		if t.Eligible() {
			desired[t.ID] = t
		}
	}
	return desired
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
