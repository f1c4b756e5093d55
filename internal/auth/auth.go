// Package auth persists render-server basic-auth credentials as a small
// JSON file, mirroring the original tooling's credential store (spec §6
// "Basic-auth credential store").
package auth

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
)

// Load reads a credentials file containing a JSON 2-array [username,
// password].
func Load(path string) (*renderclient.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: reading %s: %w", path, err)
	}

	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("auth: parsing %s: %w", path, err)
	}

	return &renderclient.Credentials{Username: pair[0], Password: pair[1]}, nil
}

// Save writes credentials to path as a JSON 2-array, creating the file with
// 0600 permissions.
func Save(path string, creds renderclient.Credentials) error {
	data, err := json.Marshal([2]string{creds.Username, creds.Password})
	if err != nil {
		return fmt.Errorf("auth: marshaling credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("auth: writing %s: %w", path, err)
	}
	return nil
}
