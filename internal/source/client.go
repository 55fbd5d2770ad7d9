// Package source feeds the turn queue with text segments fetched from the
// shared segment store, deduplicated by a watermark timestamp.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/eburonlabs/orbit-relay/internal/config"
	"github.com/eburonlabs/orbit-relay/internal/protocol"
)

// Client speaks the segment store's REST dialect: rows keyed by channel id
// with a text column and a created_at timestamp.
type Client struct {
	baseURL string
	apiKey  string
	table   string
	client  *http.Client
}

type segmentRow struct {
	Text      string    `json:"transcribe_text_segment"`
	CreatedAt time.Time `json:"created_at"`
}

type segmentInsert struct {
	ChannelID string    `json:"meeting_id"`
	Text      string    `json:"transcribe_text_segment"`
	CreatedAt time.Time `json:"created_at"`
}

func NewClient(cfg config.SegmentsConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		table:   cfg.Table,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchSince returns all segments for the channel newer than the watermark,
// ordered ascending by timestamp. An empty result is not an error.
func (c *Client) FetchSince(ctx context.Context, channelID string, watermark time.Time) ([]protocol.Segment, error) {
	endpoint := fmt.Sprintf(
		"%s/rest/v1/%s?meeting_id=eq.%s&created_at=gt.%s&select=transcribe_text_segment,created_at&order=created_at.asc",
		c.baseURL, c.table, url.QueryEscape(channelID),
		url.QueryEscape(watermark.UTC().Format(time.RFC3339Nano)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build segment fetch request: %w", err)
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch segments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch segments: unexpected status %d", resp.StatusCode)
	}

	var rows []segmentRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode segment rows: %w", err)
	}

	segments := make([]protocol.Segment, 0, len(rows))
	for _, row := range rows {
		segments = append(segments, protocol.Segment{Text: row.Text, Timestamp: row.CreatedAt})
	}
	return segments, nil
}

// Push publishes a locally-captured segment back to the shared channel.
func (c *Client) Push(ctx context.Context, channelID, text string) error {
	if channelID == "" || text == "" {
		return fmt.Errorf("channel id and text must not be empty")
	}
	payload := []segmentInsert{{
		ChannelID: channelID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal segment: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, c.table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build segment push request: %w", err)
	}
	c.auth(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push segment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push segment: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
