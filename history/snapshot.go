package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jmurren/spintally/consolidate"
)

// ======================= Snapshot persistence ======================= //
//
// Each aggregate is written as a self-describing JSON document with the
// entity array keyed by kind ("songs", "albums", "artists"). Timestamped
// filenames sort lexically, so the most recent snapshot is always the
// last glob match.

const snapshotTimeLayout = "20060102T150405"

// Exactly one kind array is non-null per document; Load infers the kind
// from which one. No omitempty, so an empty aggregate still carries its
// (empty) array.
type snapshotDoc struct {
	Meta    Metadata  `json:"metadata"`
	Songs   []*Entity `json:"songs"`
	Albums  []*Entity `json:"albums"`
	Artists []*Entity `json:"artists"`
}

func kindLabel(kind consolidate.Kind) string {
	switch kind {
	case consolidate.KindAlbum:
		return "albums"
	case consolidate.KindArtist:
		return "artists"
	default:
		return "songs"
	}
}

// Save writes the aggregate to path. The kind array is always present,
// even when empty, because Load infers the kind from which array the
// document carries.
func Save(path string, a *Aggregate) error {
	entities := a.Entities
	if entities == nil {
		entities = []*Entity{}
	}

	doc := snapshotDoc{Meta: a.Meta}
	switch a.Kind {
	case consolidate.KindAlbum:
		doc.Albums = entities
	case consolidate.KindArtist:
		doc.Artists = entities
	default:
		doc.Songs = entities
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing history snapshot: %w", err)
	}
	return nil
}

// SaveTimestamped writes the aggregate to dir under a timestamped name,
// e.g. complete_history_songs_20240131T093000.json, and returns the path.
func SaveTimestamped(dir string, a *Aggregate, now time.Time) (string, error) {
	name := fmt.Sprintf("complete_history_%s_%s.json", kindLabel(a.Kind), now.UTC().Format(snapshotTimeLayout))
	path := filepath.Join(dir, name)
	if err := Save(path, a); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads an aggregate snapshot from path. The entity kind is inferred
// from which array the document carries.
func Load(path string) (*Aggregate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading history snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing history snapshot %s: %w", path, err)
	}

	a := &Aggregate{Meta: doc.Meta}
	switch {
	case doc.Albums != nil:
		a.Kind, a.Entities = consolidate.KindAlbum, doc.Albums
	case doc.Artists != nil:
		a.Kind, a.Entities = consolidate.KindArtist, doc.Artists
	default:
		a.Kind, a.Entities = consolidate.KindSong, doc.Songs
	}
	a.rebuildIndex()
	return a, nil
}

// LoadLatest reads the most recent snapshot for a kind from dir. A dir
// with no matching snapshots yields a fresh empty aggregate, not an error.
func LoadLatest(dir string, kind consolidate.Kind) (*Aggregate, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("complete_history_%s_*.json", kindLabel(kind)))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing history snapshots: %w", err)
	}
	if len(matches) == 0 {
		return NewAggregate(kind), nil
	}
	sort.Strings(matches)
	return Load(matches[len(matches)-1])
}
