// Package history accumulates play events into a long-lived per-entity
// aggregate across many pipeline runs. Unlike the consolidation engine,
// which re-derives a ranked view from scratch each time, the aggregate is
// the growing, authoritative record the views are derived from.
package history

import (
	"time"

	"github.com/jmurren/spintally/consolidate"
	"github.com/jmurren/spintally/rules"
)

// Event is one recorded play of an entity.
type Event struct {
	PlayedAt time.Time `json:"played_at"`
	MsPlayed int64     `json:"ms_played"`
}

// EventRecord is an incoming play event together with the entity metadata
// needed to locate or seed its aggregate entry.
type EventRecord struct {
	ID          string
	Name        string
	Attribution string
	Kind        consolidate.Kind
	PlayedAt    time.Time
	MsPlayed    int64
}

// Entity is one entry in the complete-history aggregate: the same counters
// a CanonicalEntity carries plus the event-level timeline.
type Entity struct {
	Key         string           `json:"key"`
	Kind        consolidate.Kind `json:"kind"`
	Name        string           `json:"name"`
	Attribution string           `json:"attribution"`
	PlayCount   int              `json:"play_count"`
	DurationMs  int64            `json:"ms_played"`
	SourceIDs   []string         `json:"original_ids"`
	Events      []Event          `json:"events"`
}

// Metadata summarizes the whole aggregate.
type Metadata struct {
	UpdatedAt   time.Time `json:"updated_at"`
	EntityCount int       `json:"entity_count"`
	TotalPlays  int       `json:"total_plays"`
	TotalMs     int64     `json:"total_ms_played"`
	Earliest    time.Time `json:"earliest_played_at"`
	Latest      time.Time `json:"latest_played_at"`
}

// Aggregate is the complete listening history for one entity kind.
type Aggregate struct {
	Kind     consolidate.Kind `json:"kind"`
	Meta     Metadata         `json:"metadata"`
	Entities []*Entity        `json:"-"` // serialized under a kind-named array, see snapshot.go

	index map[string]*Entity
}

// NewAggregate returns an empty aggregate for one entity kind.
func NewAggregate(kind consolidate.Kind) *Aggregate {
	return &Aggregate{Kind: kind, index: make(map[string]*Entity)}
}

func (a *Aggregate) rebuildIndex() {
	a.index = make(map[string]*Entity, len(a.Entities))
	for _, e := range a.Entities {
		a.index[e.Key] = e
	}
}

// Lookup returns the entity for a grouping key, if present.
func (a *Aggregate) Lookup(key string) (*Entity, bool) {
	if a.index == nil {
		a.rebuildIndex()
	}
	e, ok := a.index[key]
	return e, ok
}

// MergeIncoming folds a batch of fresh events into the aggregate. Each
// event either increments an existing entity located by grouping key or
// seeds a new one with a play count of 1. Events are appended in batch
// order; callers fetching time-ordered batches keep timelines chronological
// without any re-sort. The aggregate's global date range is recomputed by
// scanning every entity afterwards, since a new entity can extend either
// boundary.
//
// Merging does NOT deduplicate by event identity: submitting the same
// batch twice double-counts. Feeding each fetched batch exactly once is
// the caller's responsibility.
func (a *Aggregate) MergeIncoming(store rules.Store, incoming []EventRecord) {
	if a.index == nil {
		a.rebuildIndex()
	}

	for _, ev := range incoming {
		key := consolidate.Key(store, ev.Attribution, ev.Name)
		e, ok := a.index[key]
		if !ok {
			e = &Entity{
				Key:         key,
				Kind:        a.Kind,
				Name:        ev.Name,
				Attribution: ev.Attribution,
			}
			a.Entities = append(a.Entities, e)
			a.index[key] = e
		}

		e.PlayCount++
		e.DurationMs += ev.MsPlayed
		e.Events = append(e.Events, Event{PlayedAt: ev.PlayedAt, MsPlayed: ev.MsPlayed})
		if ev.ID != "" && !containsString(e.SourceIDs, ev.ID) {
			e.SourceIDs = append(e.SourceIDs, ev.ID)
		}
	}

	a.recomputeMeta()
}

func (a *Aggregate) recomputeMeta() {
	m := Metadata{UpdatedAt: time.Now().UTC(), EntityCount: len(a.Entities)}
	for _, e := range a.Entities {
		m.TotalPlays += e.PlayCount
		m.TotalMs += e.DurationMs
		for _, ev := range e.Events {
			if m.Earliest.IsZero() || ev.PlayedAt.Before(m.Earliest) {
				m.Earliest = ev.PlayedAt
			}
			if ev.PlayedAt.After(m.Latest) {
				m.Latest = ev.PlayedAt
			}
		}
	}
	a.Meta = m
}

// TopRecords converts the aggregate into raw records for the consolidation
// engine, which is how ranked top-N views are re-derived from the complete
// history.
func (a *Aggregate) TopRecords() []consolidate.RawRecord {
	out := make([]consolidate.RawRecord, 0, len(a.Entities))
	for _, e := range a.Entities {
		id := ""
		if len(e.SourceIDs) > 0 {
			id = e.SourceIDs[0]
		}
		out = append(out, consolidate.RawRecord{
			ID:          id,
			Name:        e.Name,
			Attribution: e.Attribution,
			Kind:        e.Kind,
			PlayCount:   e.PlayCount,
			DurationMs:  e.DurationMs,
		})
	}
	return out
}

func containsString(list []string, x string) bool {
	for _, v := range list {
		if v == x {
			return true
		}
	}
	return false
}
