package spotify

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ========================================================== //
// Account data exports
//
// Spotify account exports come in two shapes: the basic
// StreamingHistory*.json files and the extended endsong_*.json files.
// Both are arrays of per-play objects; unreadable or malformed files are
// skipped with a log line rather than failing the whole load.

type streamingHistoryEntry struct {
	EndTime    string `json:"endTime"` // "2021-01-01 13:30", minute precision
	ArtistName string `json:"artistName"`
	TrackName  string `json:"trackName"`
	MsPlayed   int64  `json:"msPlayed"`
}

type endsongEntry struct {
	Ts         string `json:"ts"` // RFC3339
	MsPlayed   int64  `json:"ms_played"`
	TrackName  string `json:"master_metadata_track_name"`
	ArtistName string `json:"master_metadata_album_artist_name"`
	AlbumName  string `json:"master_metadata_album_album_name"`
	TrackURI   string `json:"spotify_track_uri"`
}

const streamingHistoryTimeLayout = "2006-01-02 15:04"

// LoadExports reads every StreamingHistory*.json and endsong_*.json under
// dir and returns the plays sorted by time. Files that cannot be read or
// parsed are counted and skipped.
func LoadExports(dir string) ([]Play, error) {
	var paths []string
	for _, pattern := range []string{"StreamingHistory*.json", "endsong_*.json"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("globbing exports: %w", err)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no export files found under %s", dir)
	}

	var plays []Play
	skipped := 0
	for _, p := range paths {
		filePlays, err := loadExportFile(p)
		if err != nil {
			skipped++
			log.Printf("export: skipping %s: %v", p, err)
			continue
		}
		plays = append(plays, filePlays...)
	}
	if skipped > 0 {
		log.Printf("export: skipped %d of %d files", skipped, len(paths))
	}

	sort.Slice(plays, func(i, j int) bool { return plays[i].PlayedAt.Before(plays[j].PlayedAt) })
	return plays, nil
}

func loadExportFile(path string) ([]Play, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if filepath.Base(path)[0] == 'e' {
		return parseEndsong(data)
	}
	return parseStreamingHistory(data)
}

func parseStreamingHistory(data []byte) ([]Play, error) {
	var entries []streamingHistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing streaming history: %w", err)
	}

	plays := make([]Play, 0, len(entries))
	for _, e := range entries {
		t, err := time.Parse(streamingHistoryTimeLayout, e.EndTime)
		if err != nil {
			continue
		}
		plays = append(plays, Play{
			TrackName:  e.TrackName,
			ArtistName: e.ArtistName,
			PlayedAt:   t,
			MsPlayed:   e.MsPlayed,
		})
	}
	return plays, nil
}

func parseEndsong(data []byte) ([]Play, error) {
	var entries []endsongEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing endsong export: %w", err)
	}

	plays := make([]Play, 0, len(entries))
	for _, e := range entries {
		if e.TrackName == "" {
			continue // podcast or local file rows carry no track metadata
		}
		t, err := time.Parse(time.RFC3339, e.Ts)
		if err != nil {
			continue
		}
		plays = append(plays, Play{
			TrackID:    e.TrackURI,
			TrackName:  e.TrackName,
			AlbumName:  e.AlbumName,
			ArtistName: e.ArtistName,
			PlayedAt:   t,
			MsPlayed:   e.MsPlayed,
		})
	}
	return plays, nil
}
