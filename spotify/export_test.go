package spotify_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmurren/spintally/spotify"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const streamingHistorySample = `[
  {"endTime": "2021-01-02 13:30", "artistName": "The Beatles", "trackName": "Come Together", "msPlayed": 259000},
  {"endTime": "2021-01-01 08:15", "artistName": "Queen", "trackName": "Don't Stop Me Now", "msPlayed": 209000}
]`

const endsongSample = `[
  {"ts": "2022-06-01T10:00:00Z", "ms_played": 180000,
   "master_metadata_track_name": "Something",
   "master_metadata_album_artist_name": "The Beatles",
   "master_metadata_album_album_name": "Abbey Road",
   "spotify_track_uri": "spotify:track:abc123"},
  {"ts": "2022-06-01T11:00:00Z", "ms_played": 95000,
   "master_metadata_track_name": "",
   "master_metadata_album_artist_name": "",
   "master_metadata_album_album_name": ""}
]`

func TestLoadExports_ParsesBothFormatsSortedByTime(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "StreamingHistory0.json", streamingHistorySample)
	writeFile(t, dir, "endsong_0.json", endsongSample)

	plays, err := spotify.LoadExports(dir)
	require.NoError(t, err)

	// The podcast row without track metadata is dropped.
	require.Len(t, plays, 3)

	require.Equal(t, "Don't Stop Me Now", plays[0].TrackName)
	require.Equal(t, "Come Together", plays[1].TrackName)
	require.Equal(t, "Something", plays[2].TrackName)

	require.Equal(t, "Abbey Road", plays[2].AlbumName)
	require.Equal(t, "spotify:track:abc123", plays[2].TrackID)
	require.Equal(t, int64(180000), plays[2].MsPlayed)
}

func TestLoadExports_SkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "StreamingHistory0.json", streamingHistorySample)
	writeFile(t, dir, "StreamingHistory1.json", "{ not json at all")

	plays, err := spotify.LoadExports(dir)
	require.NoError(t, err, "a bad file reduces yield, it does not abort the load")
	require.Len(t, plays, 2)
}

func TestLoadExports_EmptyDirIsError(t *testing.T) {
	_, err := spotify.LoadExports(t.TempDir())
	require.Error(t, err)
}
