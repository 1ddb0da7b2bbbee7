// Package secret loads Spotify API credentials from the environment or a
// local authconfig.json. Credentials never live in the main config file.
package secret

import (
	"encoding/json"
	"fmt"
	"os"
)

type AuthConfigStruct struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`
}

var AuthConfig AuthConfigStruct

// LoadSecrets fills AuthConfig from, in order:
// 1. Environment variables
// 2. authconfig.json in the working directory
func LoadSecrets() error {
	id := os.Getenv("SPOTIFY_CLIENT_ID")
	secret := os.Getenv("SPOTIFY_CLIENT_SECRET")
	redirect := os.Getenv("SPOTIFY_REDIRECT_URI")

	if id != "" && secret != "" && redirect != "" {
		AuthConfig = AuthConfigStruct{
			ClientID:     id,
			ClientSecret: secret,
			RedirectURL:  redirect,
			Scopes: []string{
				"user-read-recently-played",
				"user-top-read",
			},
		}
		return nil
	}

	b, err := os.ReadFile("authconfig.json")
	if err == nil {
		if err := json.Unmarshal(b, &AuthConfig); err != nil {
			return fmt.Errorf("invalid authconfig.json: %w", err)
		}
		return nil
	}

	return fmt.Errorf("missing Spotify configuration ENV vars or authconfig.json")
}
