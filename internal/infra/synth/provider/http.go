package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// Payload styles understood by HTTPProvider.
const (
	StyleGeneric = "generic"
	StyleOpenAI  = "openai"
)

const (
	defaultFormat   = "mp3"
	defaultLanguage = "en"
	maxErrorBody    = 4 << 10
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	Name    string
	URL     string
	APIKey  string
	Model   string
	Style   string
	Timeout time.Duration
}

// HTTPProvider implements Provider for JSON-over-HTTP synthesis endpoints.
type HTTPProvider struct {
	cfg        HTTPConfig
	httpClient *http.Client
}

// NewHTTPProvider creates a new HTTP synthesis provider.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Style == "" {
		cfg.Style = StyleGeneric
	}
	return &HTTPProvider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name returns the provider's name.
func (p *HTTPProvider) Name() string {
	return p.cfg.Name
}

// Synthesize posts the text and returns the raw audio body.
func (p *HTTPProvider) Synthesize(
	ctx context.Context,
	text string,
	voice domain.VoiceOptions,
) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Provider: p.cfg.Name, Code: http.StatusBadRequest, Message: "text cannot be empty"}
	}

	jsonData, err := json.Marshal(p.buildRequest(text, voice))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize call to %s: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{
			Provider:   p.cfg.Name,
			Code:       resp.StatusCode,
			Message:    errorMessage(body, resp.Status),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio from %s: %w", p.cfg.Name, err)
	}
	if len(audio) == 0 {
		return nil, &Error{Provider: p.cfg.Name, Code: resp.StatusCode, Message: ErrEmptyAudio.Error()}
	}

	return audio, nil
}

func (p *HTTPProvider) buildRequest(text string, voice domain.VoiceOptions) map[string]any {
	format := voice.Format
	if format == "" {
		format = defaultFormat
	}

	if p.cfg.Style == StyleOpenAI {
		body := map[string]any{
			"model":           p.cfg.Model,
			"input":           text,
			"voice":           voice.Voice,
			"response_format": format,
		}
		if voice.Speed > 0 {
			body["speed"] = voice.Speed
		}
		return body
	}

	language := voice.Language
	if language == "" {
		language = defaultLanguage
	}
	body := map[string]any{
		"text":     text,
		"voice":    voice.Voice,
		"format":   format,
		"language": language,
	}
	if voice.Speed > 0 {
		body["speed"] = voice.Speed
	}
	if p.cfg.Model != "" {
		body["model"] = p.cfg.Model
	}
	for k, v := range voice.Extra {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}
	return body
}

// errorMessage extracts a readable message from a JSON error body, falling back to raw text.
func errorMessage(body []byte, status string) string {
	var structured struct {
		Detail string `json:"detail"`
		Error  any    `json:"error"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if structured.Detail != "" {
			return structured.Detail
		}
		switch e := structured.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return status
	}
	return msg
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
