package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const tokenFile = "api_token"

// APIToken returns the bearer token for the management API. CHIRPD_API_TOKEN
// wins; otherwise the token is read from the data dir, and generated there on
// first use so the daemon and the CLI agree on it.
func APIToken(cfg Config) (string, error) {
	if cfg.Server.Token != "" {
		return cfg.Server.Token, nil
	}
	path := filepath.Join(cfg.Storage.DataDir, tokenFile)
	if data, err := os.ReadFile(path); err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			return tok, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading API token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing API token: %w", err)
	}
	return tok, nil
}
