package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

func init() {
	Register("inline", newInlineBackend)
}

// inlineBackend calls a generateContent-style REST endpoint that returns a
// single base64 audio payload inline in the response body. The request pins
// the response modality to audio only.
type inlineBackend struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

func newInlineBackend(cfg config.SynthesisConfig, _ func(string) (Backend, bool), log *slog.Logger) (Backend, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &inlineBackend{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: timeout},
		logger:   log.With(slog.String("component", "synth-inline")),
	}, nil
}

type inlineRequest struct {
	Contents         []inlineContent `json:"contents"`
	GenerationConfig inlineGenConfig `json:"generationConfig"`
}

type inlineContent struct {
	Parts []inlinePart `json:"parts"`
}

type inlinePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *inlineDataPart `json:"inlineData,omitempty"`
}

type inlineDataPart struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type inlineGenConfig struct {
	ResponseModalities []string         `json:"responseModalities"`
	SpeechConfig       inlineSpeechConf `json:"speechConfig"`
}

type inlineSpeechConf struct {
	VoiceConfig inlineVoiceConf `json:"voiceConfig"`
}

type inlineVoiceConf struct {
	PrebuiltVoiceConfig inlinePrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type inlinePrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type inlineResponse struct {
	Candidates []struct {
		Content struct {
			Parts []inlinePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (b *inlineBackend) Synthesize(ctx context.Context, req BackendRequest) ([]byte, error) {
	if req.Credential == "" {
		return nil, &AuthError{Reason: "no credential bound"}
	}
	if b.endpoint == "" {
		return nil, &ProviderError{Backend: "inline", Err: fmt.Errorf("no endpoint configured")}
	}

	payload := inlineRequest{
		Contents: []inlineContent{{Parts: []inlinePart{{Text: req.Prompt}}}},
		GenerationConfig: inlineGenConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: inlineSpeechConf{
				VoiceConfig: inlineVoiceConf{
					PrebuiltVoiceConfig: inlinePrebuiltVoice{VoiceName: req.Voice},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Backend: "inline", Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", b.endpoint, b.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Backend: "inline", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.Credential)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Backend: "inline", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &QuotaError{StatusCode: resp.StatusCode, Message: string(msg)}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("provider rejected credential (status %d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProviderError{Backend: "inline", Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
	}

	var decoded inlineResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ProviderError{Backend: "inline", Err: fmt.Errorf("decode response: %w", err)}
	}

	for _, cand := range decoded.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, &DecodeError{Reason: fmt.Sprintf("base64 payload: %v", err)}
			}
			return raw, nil
		}
	}

	// Provider completed the turn without audio.
	b.logger.Debug("inline backend returned no audio part")
	return nil, nil
}
