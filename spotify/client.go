// Package spotify fetches play events from the Spotify Web API and from
// account data exports, and shapes them for the history and consolidation
// layers.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/jmurren/spintally/internal/auth"
)

// ========================================================== //
// Types

// ErrSourceUnavailable indicates nothing at all could be fetched: later
// page failures only reduce a run's yield, so this surfaces only when the
// very first page fails.
var ErrSourceUnavailable = errors.New("spotify: source unavailable")

// Play is one observed playback of a track, from either the API or an
// account export.
type Play struct {
	TrackID    string
	TrackName  string
	AlbumName  string
	ArtistName string
	ImageURL   string
	PlayedAt   time.Time
	MsPlayed   int64
}

// Client calls the Spotify Web API with the stored OAuth token. OnCall,
// when set, is invoked once per API request with the outcome; the fetch
// keeps going after failures, they only reduce how much a run yields.
type Client struct {
	http   *http.Client
	OnCall func(label string, err error)
}

// NewClient builds a client around the persisted OAuth token.
func NewClient(ctx context.Context) (*Client, error) {
	hc, err := auth.Client(ctx)
	if err != nil {
		return nil, err
	}
	hc.Timeout = 15 * time.Second
	return &Client{http: hc}, nil
}

func (c *Client) report(label string, err error) {
	if c.OnCall != nil {
		c.OnCall(label, err)
	}
}

// ========================================================== //
// HTTP and retry logic

func (c *Client) doRequest(ctx context.Context, endpoint string, query map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}

	if len(query) > 0 {
		u, _ := url.Parse(endpoint)
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		req.URL = u
	}

	req.Header.Set("Accept", "application/json")

	return fetchWithRetry(c.http, req, 5)
}

func fetchWithRetry(client *http.Client, req *http.Request, maxRetries int) ([]byte, int, error) {
	var lastErr error
	var status int

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(backoff(attempt))
			continue
		}

		status = resp.StatusCode
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if status >= 200 && status < 300 {
			return body, status, nil
		}
		if status == 429 {
			time.Sleep(time.Second)
			continue
		}
		if status >= 500 {
			time.Sleep(backoff(attempt))
			continue
		}

		// client / 4xx error
		return body, status, nil
	}

	return nil, status, lastErr
}

func backoff(attempt int) time.Duration {
	base := 20 * time.Millisecond
	f := math.Pow(2, float64(attempt))
	jitter := time.Duration(rand.Intn(200)) * time.Millisecond
	return time.Duration(float64(base)*f) + jitter
}

// ========================================================== //
// Recently played

type recentlyPlayedPage struct {
	Items []struct {
		PlayedAt string `json:"played_at"`
		Track    struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			DurationMs int64  `json:"duration_ms"`
			Album      struct {
				Name   string `json:"name"`
				Images []struct {
					URL string `json:"url"`
				} `json:"images"`
			} `json:"album"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"track"`
	} `json:"items"`
	Cursors struct {
		Before string `json:"before"`
	} `json:"cursors"`
	Next *string `json:"next"`
}

// RecentlyPlayed walks the recently-played endpoint backwards in time, up
// to maxPages pages of 50. A failed page ends the walk with whatever was
// collected so far; only a failed FIRST page surfaces ErrSourceUnavailable.
// An account with nothing played recently yields an empty, error-free
// result.
func (c *Client) RecentlyPlayed(ctx context.Context, maxPages int) ([]Play, error) {
	if maxPages <= 0 {
		maxPages = 1
	}

	var plays []Play
	before := ""

	for page := 0; page < maxPages; page++ {
		label := fmt.Sprintf("recently-played page %d", page+1)
		params := map[string]string{"limit": "50"}
		if before != "" {
			params["before"] = before
		}

		body, status, err := c.doRequest(ctx, "https://api.spotify.com/v1/me/player/recently-played", params)
		if err == nil && status != 200 {
			err = fmt.Errorf("spotify returned status %d", status)
		}
		if err != nil {
			c.report(label, err)
			if page == 0 {
				return nil, fmt.Errorf("recently-played: %w: %v", ErrSourceUnavailable, err)
			}
			log.Printf("fetch: %s failed, keeping %d plays: %v", label, len(plays), err)
			break
		}

		var p recentlyPlayedPage
		if err := json.Unmarshal(body, &p); err != nil {
			c.report(label, err)
			if page == 0 {
				return nil, fmt.Errorf("recently-played: %w: %v", ErrSourceUnavailable, err)
			}
			log.Printf("fetch: %s unparseable, keeping %d plays: %v", label, len(plays), err)
			break
		}
		c.report(label, nil)

		for _, it := range p.Items {
			playedAt, err := time.Parse(time.RFC3339Nano, it.PlayedAt)
			if err != nil {
				continue
			}
			artist := ""
			if len(it.Track.Artists) > 0 {
				artist = it.Track.Artists[0].Name
			}
			img := ""
			if len(it.Track.Album.Images) > 0 {
				img = it.Track.Album.Images[0].URL
			}
			plays = append(plays, Play{
				TrackID:    it.Track.ID,
				TrackName:  it.Track.Name,
				AlbumName:  it.Track.Album.Name,
				ArtistName: artist,
				ImageURL:   img,
				PlayedAt:   playedAt,
				MsPlayed:   it.Track.DurationMs,
			})
		}

		if p.Next == nil || *p.Next == "" || p.Cursors.Before == "" {
			break
		}
		before = p.Cursors.Before
	}

	return plays, nil
}
