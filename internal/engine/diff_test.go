package engine

import (
	"testing"

	"calmirror/internal/model"
	"calmirror/internal/render"
)

func TestDiffVersionDivergenceNeedsBothTags(t *testing.T) {
	tsk := task("t1", "Ship report", "2026-03-01")
	desired := map[string]model.Task{"t1": tsk}
	hash := render.ContentHash(tsk)

	tests := []struct {
		name       string
		mapped     string
		listed     string
		wantUpdate bool
	}{
		{name: "both set and diverged", mapped: "etag-1", listed: "etag-2", wantUpdate: true},
		{name: "both set and equal", mapped: "etag-1", listed: "etag-1", wantUpdate: false},
		{name: "mapping tag missing", mapped: "", listed: "etag-2", wantUpdate: false},
		{name: "listing tag missing", mapped: "etag-1", listed: "", wantUpdate: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mappings := map[string]model.MappingEntry{
				"t1": {Href: "/cal/t1.ics", ContentHash: hash, Version: tt.mapped},
			}
			l := listing{
				events: []model.CalendarEvent{{Href: "/cal/t1.ics", UID: "t1", Version: tt.listed}},
				full:   true,
			}

			p := diff(desired, mappings, l)
			if got := len(p.updates) == 1; got != tt.wantUpdate {
				t.Errorf("updates = %v, wantUpdate %v", p.updates, tt.wantUpdate)
			}
			if len(p.creates) != 0 || len(p.deletes) != 0 {
				t.Errorf("unexpected creates %v or deletes %v", p.creates, p.deletes)
			}
		})
	}
}

func TestDiffIncrementalAbsenceIsNotVanished(t *testing.T) {
	// An incremental listing only names what changed; a mapped event that
	// simply is not mentioned still exists.
	tsk := task("t1", "Ship report", "2026-03-01")
	desired := map[string]model.Task{"t1": tsk}
	mappings := map[string]model.MappingEntry{
		"t1": {Href: "/cal/t1.ics", ContentHash: render.ContentHash(tsk), Version: "etag-1"},
	}

	p := diff(desired, mappings, listing{full: false})
	if !p.empty() {
		t.Errorf("plan = %+v, want empty", p)
	}
}

func TestDiffIncrementalDeletionByHref(t *testing.T) {
	// Some providers report removals without the correlation uid; the
	// mapping's href still identifies the vanished event.
	tsk := task("t1", "Ship report", "2026-03-01")
	desired := map[string]model.Task{"t1": tsk}
	mappings := map[string]model.MappingEntry{
		"t1": {Href: "/cal/t1.ics", ContentHash: render.ContentHash(tsk), Version: "etag-1"},
	}
	l := listing{
		deletedHrefs: map[string]struct{}{"/cal/t1.ics": {}},
	}

	p := diff(desired, mappings, l)
	if len(p.creates) != 1 || p.creates[0] != "t1" {
		t.Errorf("creates = %v, want [t1]", p.creates)
	}
}

func TestDiffPlanIsSorted(t *testing.T) {
	desired := map[string]model.Task{
		"b": task("b", "B", "2026-03-01"),
		"a": task("a", "A", "2026-03-01"),
		"c": task("c", "C", "2026-03-01"),
	}
	l := listing{
		events: []model.CalendarEvent{
			{Href: "/cal/z-orphan.ics", UID: "ghost-z"},
			{Href: "/cal/a-orphan.ics", UID: "ghost-a"},
		},
		full: true,
	}

	p := diff(desired, nil, l)

	if len(p.creates) != 3 || p.creates[0] != "a" || p.creates[1] != "b" || p.creates[2] != "c" {
		t.Errorf("creates = %v, want sorted ids", p.creates)
	}
	if len(p.deletes) != 2 || p.deletes[0].href != "/cal/a-orphan.ics" {
		t.Errorf("deletes = %v, want sorted hrefs", p.deletes)
	}
}

func TestDiffOrphanKeepsMappingsAlone(t *testing.T) {
	// Orphan deletions carry no task id, so applying them never drops a
	// mapping that still belongs to a live task.
	l := listing{
		events: []model.CalendarEvent{{Href: "/cal/manual.ics"}},
		full:   true,
	}

	p := diff(nil, nil, l)
	if len(p.deletes) != 1 {
		t.Fatalf("deletes = %v, want one orphan", p.deletes)
	}
	if p.deletes[0].taskID != "" {
		t.Errorf("orphan delete carries task id %q", p.deletes[0].taskID)
	}
}
