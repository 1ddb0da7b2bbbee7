package spotify

import (
	"github.com/jmurren/spintally/consolidate"
	"github.com/jmurren/spintally/history"
)

// ========================================================== //
// Shaping plays for the history and consolidation layers

// entityFields projects the per-kind name, attribution and ID out of a
// play. Artist entities use the artist name as their own attribution so
// every artist groups with itself and nothing else.
func entityFields(p Play, kind consolidate.Kind) (id, name, attribution string) {
	switch kind {
	case consolidate.KindAlbum:
		return "", p.AlbumName, p.ArtistName
	case consolidate.KindArtist:
		return "", p.ArtistName, p.ArtistName
	default:
		return p.TrackID, p.TrackName, p.ArtistName
	}
}

// Events converts plays into history event records for one entity kind.
// Plays with no name for that kind (an export row without album metadata,
// say) are dropped.
func Events(plays []Play, kind consolidate.Kind) []history.EventRecord {
	out := make([]history.EventRecord, 0, len(plays))
	for _, p := range plays {
		id, name, attribution := entityFields(p, kind)
		if name == "" {
			continue
		}
		out = append(out, history.EventRecord{
			ID:          id,
			Name:        name,
			Attribution: attribution,
			Kind:        kind,
			PlayedAt:    p.PlayedAt,
			MsPlayed:    p.MsPlayed,
		})
	}
	return out
}

// Records aggregates plays into raw play-count records for one entity
// kind, one record per exact spelling. The consolidation engine decides
// afterwards which spellings are the same entity.
func Records(plays []Play, kind consolidate.Kind) []consolidate.RawRecord {
	type key struct{ name, attribution string }

	index := make(map[key]int)
	var records []consolidate.RawRecord

	for _, p := range plays {
		id, name, attribution := entityFields(p, kind)
		if name == "" {
			continue
		}

		k := key{name, attribution}
		i, ok := index[k]
		if !ok {
			i = len(records)
			index[k] = i
			records = append(records, consolidate.RawRecord{
				ID:          id,
				Name:        name,
				Attribution: attribution,
				Kind:        kind,
				ImageURL:    p.ImageURL,
			})
		}
		records[i].PlayCount++
		records[i].DurationMs += p.MsPlayed
		if records[i].ID == "" {
			records[i].ID = id
		}
	}
	return records
}
