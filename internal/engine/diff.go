package engine

import (
	"sort"

	"calmirror/internal/model"
	"calmirror/internal/render"
)

// listing is the engine's view of the calendar for one run: a complete
// snapshot when full is set, otherwise only the events changed or removed
// since the previous change token.
type listing struct {
	events       []model.CalendarEvent
	deletedUIDs  map[string]struct{}
	deletedHrefs map[string]struct{}
	token        string
	full         bool
}

type updateItem struct {
	taskID string
	href   string
}

// deleteItem targets one calendar event. taskID is empty for orphan events
// that no mapping claims.
type deleteItem struct {
	taskID string
	href   string
}

// plan is the ordered work a run applies: deletes first, then updates,
// then creates.
type plan struct {
	deletes []deleteItem
	updates []updateItem
	creates []string
}

func (p plan) empty() bool {
	return len(p.deletes) == 0 && len(p.updates) == 0 && len(p.creates) == 0
}

// diff computes the plan that moves the calendar to the desired set. The
// event uid is the only correlation key; hrefs and version tags are
// provider bookkeeping carried through the mapping entries.
func diff(desired map[string]model.Task, mappings map[string]model.MappingEntry, l listing) plan {
	listed := make(map[string]model.CalendarEvent, len(l.events))
	for _, ev := range l.events {
		if ev.UID != "" {
			listed[ev.UID] = ev
		}
	}

	var p plan

	// Events owned by no known task are foreign matter on a derived
	// calendar and get removed.
	for _, ev := range l.events {
		_, isDesired := desired[ev.UID]
		_, isMapped := mappings[ev.UID]
		if ev.UID == "" || (!isDesired && !isMapped) {
			p.deletes = append(p.deletes, deleteItem{href: ev.Href})
		}
	}

	// Mapped tasks that fell out of the desired set lose their event.
	for taskID, m := range mappings {
		if _, ok := desired[taskID]; !ok {
			p.deletes = append(p.deletes, deleteItem{taskID: taskID, href: m.Href})
		}
	}

	for taskID, task := range desired {
		m, mapped := mappings[taskID]
		ev, isListed := listed[taskID]

		if !mapped {
			if isListed {
				// The event exists but its mapping was lost; rewrite in
				// place instead of creating a duplicate.
				p.updates = append(p.updates, updateItem{taskID: taskID, href: ev.Href})
				continue
			}
			p.creates = append(p.creates, taskID)
			continue
		}

		if vanished(m, taskID, l, isListed) {
			p.creates = append(p.creates, taskID)
			continue
		}

		if render.ContentHash(task) != m.ContentHash {
			p.updates = append(p.updates, updateItem{taskID: taskID, href: m.Href})
			continue
		}

		// The hash matches, so the task is unchanged; a diverging version
		// tag then means the event was edited by hand and gets rewritten
		// from the task.
		if isListed && ev.Version != "" && m.Version != "" && ev.Version != m.Version {
			p.updates = append(p.updates, updateItem{taskID: taskID, href: m.Href})
		}
	}

	// Map iteration order is random; sort for stable logs and retries.
	sort.Slice(p.deletes, func(i, j int) bool { return p.deletes[i].href < p.deletes[j].href })
	sort.Slice(p.updates, func(i, j int) bool { return p.updates[i].taskID < p.updates[j].taskID })
	sort.Strings(p.creates)

	return p
}

// vanished reports whether a mapped task's calendar event no longer
// exists: absent from a full snapshot, or named by the incremental
// listing's removal set.
func vanished(m model.MappingEntry, taskID string, l listing, isListed bool) bool {
	if l.full {
		return !isListed
	}
	if _, ok := l.deletedUIDs[taskID]; ok {
		return true
	}
	_, ok := l.deletedHrefs[m.Href]
	return ok
}
