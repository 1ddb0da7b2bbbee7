package spotify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubClient(fn roundTripFunc) *Client {
	return &Client{http: &http.Client{Transport: fn}}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestRecentlyPlayed_EmptyAccountIsNotAnError(t *testing.T) {
	c := stubClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"items": [], "cursors": {}, "next": null}`), nil
	})

	plays, err := c.RecentlyPlayed(context.Background(), 3)
	require.NoError(t, err)
	require.Empty(t, plays)
}

func TestRecentlyPlayed_FirstPageFailureIsSourceUnavailable(t *testing.T) {
	c := stubClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(404, `{"error": "not found"}`), nil
	})

	_, err := c.RecentlyPlayed(context.Background(), 3)
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestRecentlyPlayed_LaterPageFailureKeepsCollectedPlays(t *testing.T) {
	const firstPage = `{
		"items": [{
			"played_at": "2024-03-01T10:00:00.000Z",
			"track": {
				"id": "t1", "name": "Come Together", "duration_ms": 259000,
				"album": {"name": "Abbey Road", "images": []},
				"artists": [{"name": "The Beatles"}]
			}
		}],
		"cursors": {"before": "1709287200000"},
		"next": "https://api.spotify.com/v1/me/player/recently-played?before=1709287200000"
	}`

	calls := 0
	c := stubClient(func(*http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return jsonResponse(200, firstPage), nil
		}
		return jsonResponse(404, `{"error": "gone"}`), nil
	})

	plays, err := c.RecentlyPlayed(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, plays, 1)
	require.Equal(t, "Come Together", plays[0].TrackName)
	require.Equal(t, 2, calls)
}
