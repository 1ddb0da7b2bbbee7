// Package auth handles the Spotify OAuth dance for the pipeline and keeps
// the token persisted on disk, refreshing it transparently on use.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jmurren/spintally/internal/secret"
	"golang.org/x/oauth2"
)

var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.spotify.com/authorize",
	TokenURL: "https://accounts.spotify.com/api/token",
}

var ErrNoToken = errors.New("no spotify token; run the auth command first")

var config *oauth2.Config

func tokenPath() string {
	if p := os.Getenv("SPOTIFY_TOKEN_PATH"); p != "" {
		return p
	}
	return filepath.Join("data", "spotify_token.json")
}

func oauthConfig() *oauth2.Config {
	if config == nil {
		config = &oauth2.Config{
			ClientID:     secret.AuthConfig.ClientID,
			ClientSecret: secret.AuthConfig.ClientSecret,
			RedirectURL:  secret.AuthConfig.RedirectURL,
			Scopes:       secret.AuthConfig.Scopes,
			Endpoint:     Endpoint,
		}
	}
	return config
}

// HasToken reports whether a usable, refreshable token is on disk.
func HasToken() error {
	if _, err := os.Stat(tokenPath()); err != nil {
		if os.IsNotExist(err) {
			return ErrNoToken
		}
		return fmt.Errorf("stat token file: %w", err)
	}
	if _, err := loadToken(oauthConfig()); err != nil {
		return fmt.Errorf("load/refresh spotify token: %w", err)
	}
	return nil
}

// ---------------------------------------------
// Interactive authorization (CLI)
// ---------------------------------------------

var expectedState = "spintally-oauth-state"

// Authorize runs the one-time authorization flow: it prints the consent
// URL, serves the redirect callback on the configured address, exchanges
// the code, and persists the token. Blocks until the callback arrives or
// ctx is canceled.
func Authorize(ctx context.Context, listenAddr string) error {
	cfg := oauthConfig()
	fmt.Printf("Open this URL in a browser and approve access:\n\n  %s\n\n",
		cfg.AuthCodeURL(expectedState, oauth2.AccessTypeOffline))

	done := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("state") != expectedState {
			http.Error(w, "invalid oauth state", http.StatusBadRequest)
			done <- fmt.Errorf("oauth callback: invalid state")
			return
		}
		code := r.FormValue("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			done <- fmt.Errorf("oauth callback: missing code")
			return
		}
		tok, err := cfg.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, "cannot exchange token", http.StatusInternalServerError)
			done <- fmt.Errorf("exchange token: %w", err)
			return
		}
		if err := saveToken(tok); err != nil {
			http.Error(w, "cannot save token", http.StatusInternalServerError)
			done <- err
			return
		}
		fmt.Fprintln(w, "Authorized. You can close this tab.")
		done <- nil
	})

	srv := &http.Server{Addr: listenAddr, Handler: mux}
	go srv.ListenAndServe()
	defer srv.Close()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------
// Token persistence
// ---------------------------------------------

type storedToken struct {
	AccessToken string `json:"access_token"`
	Type        string `json:"token_type"`
	Refresh     string `json:"refresh_token"`
	Expires     string `json:"expiry"`
}

func saveToken(tok *oauth2.Token) error {
	st := storedToken{
		AccessToken: tok.AccessToken,
		Type:        tok.TokenType,
		Refresh:     tok.RefreshToken,
		Expires:     tok.Expiry.Format(time.RFC3339Nano),
	}

	path := tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// loadToken reads the stored token, refreshes it if needed, and writes
// back any updates.
func loadToken(cfg *oauth2.Config) (*oauth2.Token, error) {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	expiry, err := time.Parse(time.RFC3339Nano, st.Expires)
	if err != nil {
		return nil, fmt.Errorf("parse token expiry: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    st.Type,
		RefreshToken: st.Refresh,
		Expiry:       expiry,
	}

	// TokenSource auto-refreshes when expired
	newTok, err := cfg.TokenSource(context.Background(), tok).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if newTok.AccessToken != tok.AccessToken || !newTok.Expiry.Equal(tok.Expiry) {
		if err := saveToken(newTok); err != nil {
			return nil, err
		}
	}
	return newTok, nil
}

// Client returns an HTTP client that sends the stored, auto-refreshed
// token with every request.
func Client(ctx context.Context) (*http.Client, error) {
	cfg := oauthConfig()
	tok, err := loadToken(cfg)
	if err != nil {
		return nil, fmt.Errorf("load spotify token: %w", err)
	}
	return cfg.Client(ctx, tok), nil
}
