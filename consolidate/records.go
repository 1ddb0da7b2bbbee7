// Package consolidate folds raw, possibly duplicated play-count records
// into canonical, ranked entities. The engine is pure: all file and network
// access stays in the driver and the fetch collaborators.
package consolidate

import (
	"encoding/json"
	"fmt"
)

// Kind identifies what a record counts plays of.
type Kind string

const (
	KindSong   Kind = "song"
	KindAlbum  Kind = "album"
	KindArtist Kind = "artist"
)

// RawRecord is one observation of play activity for a single entity
// variant, as a source spelled it. IDs are source-assigned and NOT stable
// across variants; identity is decided by name, never by metadata.
type RawRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Attribution string   `json:"attribution"` // artist credit; "" folds to the unknown sentinel
	Kind        Kind     `json:"kind"`
	PlayCount   int      `json:"play_count"`
	DurationMs  int64    `json:"ms_played"` // total time listened, not track length
	ImageURL    string   `json:"image_url,omitempty"`
	Genres      []string `json:"genres,omitempty"`
}

// CanonicalEntity is the merged form of one or more equivalent RawRecords.
// PlayCount always equals the sum of MemberPlayCounts, and Consolidated
// equals len(MemberIDs) == len(MemberPlayCounts).
type CanonicalEntity struct {
	Name             string   `json:"name"`
	Key              string   `json:"key"`
	Kind             Kind     `json:"kind"`
	PlayCount        int      `json:"play_count"`
	DurationMs       int64    `json:"ms_played"`
	Consolidated     int      `json:"consolidated_count"`
	MemberIDs        []string `json:"original_ids"`
	MemberPlayCounts []int    `json:"original_play_counts"`
	Rank             int      `json:"rank"`
	ImageURL         string   `json:"image_url,omitempty"`
}

// ValidationError marks a RawRecord that violates the input contract.
// It is fatal to the consolidation call that saw it: merges are plain
// summation, so a negative magnitude would silently corrupt every total.
type ValidationError struct {
	ID    string
	Name  string
	Field string
	Value int64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record %q (id=%s): %s is negative (%d)", e.Name, e.ID, e.Field, e.Value)
}

func (r RawRecord) validate() error {
	if r.PlayCount < 0 {
		return &ValidationError{ID: r.ID, Name: r.Name, Field: "play_count", Value: int64(r.PlayCount)}
	}
	if r.DurationMs < 0 {
		return &ValidationError{ID: r.ID, Name: r.Name, Field: "ms_played", Value: r.DurationMs}
	}
	return nil
}

// ParseRawRecord converts one source JSON object into a validated RawRecord,
// isolating duck-typed payload access at the I/O boundary.
func ParseRawRecord(data []byte, kind Kind) (RawRecord, error) {
	var r RawRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return RawRecord{}, fmt.Errorf("parse raw record: %w", err)
	}
	r.Kind = kind
	if err := r.validate(); err != nil {
		return RawRecord{}, err
	}
	return r, nil
}
