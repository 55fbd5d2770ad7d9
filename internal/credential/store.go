package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

// Store reads and writes the shared credential list kept in the segment
// store's admin_config table. Rows look like
// {key: "orbit_api_keys", value: {keys: [...]}}.
type Store struct {
	baseURL   string
	apiKey    string
	configKey string
	maxKeys   int
	client    *http.Client
	logger    *slog.Logger
}

type configRow struct {
	Value struct {
		Keys []string `json:"keys"`
	} `json:"value"`
}

type configUpsert struct {
	Key       string    `json:"key"`
	Value     configVal `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type configVal struct {
	Keys []string `json:"keys"`
}

func NewStore(baseURL, apiKey string, cfg config.CredentialConfig, log *slog.Logger) *Store {
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 20
	}
	return &Store{
		baseURL:   baseURL,
		apiKey:    apiKey,
		configKey: cfg.ConfigKey,
		maxKeys:   maxKeys,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    log.With(slog.String("component", "credential-store")),
	}
}

// Fetch retrieves the shared key list. A missing or empty row is not an
// error; it returns an empty slice.
func (s *Store) Fetch(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/admin_config?key=eq.%s&select=value",
		s.baseURL, url.QueryEscape(s.configKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build credential fetch request: %w", err)
	}
	s.auth(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch credentials: unexpected status %d", resp.StatusCode)
	}

	var rows []configRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode credential rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].Value.Keys, nil
}

// Append merges a new key into the stored list, keeping at most maxKeys most
// recent entries, and upserts the row.
func (s *Store) Append(ctx context.Context, newKey string) error {
	if newKey == "" {
		return fmt.Errorf("credential must not be empty")
	}
	existing, err := s.Fetch(ctx)
	if err != nil {
		return err
	}
	for _, k := range existing {
		if k == newKey {
			return nil
		}
	}
	merged := append(existing, newKey)
	if len(merged) > s.maxKeys {
		merged = merged[len(merged)-s.maxKeys:]
	}

	payload := configUpsert{
		Key:       s.configKey,
		Value:     configVal{Keys: merged},
		UpdatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal credential upsert: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/admin_config?on_conflict=key", s.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build credential upsert request: %w", err)
	}
	s.auth(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("upsert credentials: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *Store) auth(req *http.Request) {
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
}
