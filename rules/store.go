// Package rules holds the equivalence rules accumulated across runs:
// previously-approved mappings from name variants to a canonical name,
// scoped to one artist credit. Rules are only ever appended, never edited.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Rule records one approved equivalence: under Attribution, every name in
// Variants (lower-cased, trimmed) denotes the entity named Canonical.
type Rule struct {
	Attribution string    `json:"attribution"`
	Canonical   string    `json:"canonical_name"`
	Variants    []string  `json:"variants"`
	Source      string    `json:"source"` // "auto", "interactive" or "oracle"
	CreatedAt   time.Time `json:"created_at"`
}

// Store is an immutable collection of rules. WithRule returns a new Store;
// the zero value is an empty, usable store. The engine threads a Store
// through a run and the driver persists the final value once.
type Store struct {
	rules []Rule
	index map[string]string // attribution \x1f variant -> canonical (folded)
}

const keySep = "\x1f"

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func indexKey(attribution, variant string) string {
	return fold(attribution) + keySep + fold(variant)
}

// NewStore builds a store from existing rules, e.g. a loaded snapshot.
func NewStore(rs []Rule) Store {
	s := Store{}
	for _, r := range rs {
		s = s.WithRule(r)
	}
	return s
}

// WithRule returns a new store with r appended. Variant names are folded
// on the way in. A variant already mapped under the same attribution keeps
// its earlier canonical name: rules are never overwritten, only added.
func (s Store) WithRule(r Rule) Store {
	folded := make([]string, 0, len(r.Variants))
	for _, v := range r.Variants {
		folded = append(folded, fold(v))
	}
	r.Variants = folded

	next := Store{
		rules: make([]Rule, len(s.rules), len(s.rules)+1),
		index: make(map[string]string, len(s.index)+len(r.Variants)),
	}
	copy(next.rules, s.rules)
	for k, v := range s.index {
		next.index[k] = v
	}

	next.rules = append(next.rules, r)
	for _, v := range r.Variants {
		k := indexKey(r.Attribution, v)
		if _, exists := next.index[k]; !exists {
			next.index[k] = fold(r.Canonical)
		}
	}
	return next
}

// Lookup reports the canonical (folded) name for a variant under an
// attribution, if any rule covers it.
func (s Store) Lookup(attribution, name string) (string, bool) {
	if s.index == nil {
		return "", false
	}
	canonical, ok := s.index[indexKey(attribution, name)]
	return canonical, ok
}

// Rules returns a copy of the rule list in append order.
func (s Store) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len reports how many rules the store holds.
func (s Store) Len() int {
	return len(s.rules)
}

// Recent returns up to n of the most recently appended rules, oldest first.
// Used to seed oracle prompts with approved examples.
func (s Store) Recent(n int) []Rule {
	if n <= 0 || len(s.rules) == 0 {
		return nil
	}
	start := len(s.rules) - n
	if start < 0 {
		start = 0
	}
	out := make([]Rule, len(s.rules)-start)
	copy(out, s.rules[start:])
	return out
}

// ========================================================== //
// Snapshot persistence

type snapshot struct {
	Metadata struct {
		SavedAt time.Time `json:"saved_at"`
		Count   int       `json:"count"`
	} `json:"metadata"`
	Rules []Rule `json:"rules"`
}

const filePrefix = "rules_"

// Save writes the store as a JSON snapshot to path.
func Save(path string, s Store) error {
	var snap snapshot
	snap.Metadata.SavedAt = time.Now().UTC()
	snap.Metadata.Count = s.Len()
	snap.Rules = s.Rules()

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// SaveTimestamped writes the store under dir with a timestamped filename
// so LoadLatest can find it on the next run. Returns the path written.
func SaveTimestamped(dir string, s Store, now time.Time) (string, error) {
	name := filePrefix + now.UTC().Format("20060102T150405") + ".json"
	path := filepath.Join(dir, name)
	if err := Save(path, s); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads a single rules snapshot from path.
func Load(path string) (Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Store{}, fmt.Errorf("read rules file: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Store{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return NewStore(snap.Rules), nil
}

// LoadLatest finds the most recent rules snapshot in dir by filename
// timestamp and loads it. A missing directory or an empty one yields an
// empty store, not an error: the first run starts from nothing.
func LoadLatest(dir string) (Store, string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.json"))
	if err != nil {
		return Store{}, "", err
	}
	if len(matches) == 0 {
		return Store{}, "", nil
	}
	sort.Strings(matches) // timestamp format sorts lexically
	latest := matches[len(matches)-1]
	s, err := Load(latest)
	if err != nil {
		return Store{}, "", err
	}
	return s, latest, nil
}
