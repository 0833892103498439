package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/socialcommunity/moderation/util"
)

const (
	DefaultGeminiHost  = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel = "gemini-1.5-flash"
)

type GeminiClient struct {
	Client *http.Client
	Host   string
	APIKey string
	Model  string
	Schema Schema
	Logger *slog.Logger
}

var _ Classifier = (*GeminiClient)(nil)

type GeminiConfig struct {
	Host    string
	APIKey  string
	Model   string
	Schema  Schema
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewGeminiClient(config GeminiConfig) *GeminiClient {
	if config.Host == "" {
		config.Host = DefaultGeminiHost
	}
	if config.Model == "" {
		config.Model = DefaultGeminiModel
	}
	if config.Schema == "" {
		config.Schema = SchemaFull
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &GeminiClient{
		Client: util.SingleAttemptHTTPClient(config.Timeout),
		Host:   strings.TrimSuffix(config.Host, "/"),
		APIKey: config.APIKey,
		Model:  config.Model,
		Schema: config.Schema,
		Logger: config.Logger.With("component", "classifier", "model", config.Model),
	}
}

// request and response shapes: https://ai.google.dev/api/generate-content
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (gc *GeminiClient) Classify(ctx context.Context, p Payload) (*Verdict, error) {
	text, err := gc.generate(ctx, p.Kind, BuildPrompt(p, gc.Schema))
	if err != nil {
		classifierFailureCount.WithLabelValues(string(p.Kind), StageRequest).Inc()
		return nil, requestFailure(p.Kind, err)
	}
	v, err := ParseVerdict(text, gc.Schema)
	if err != nil {
		classifierFailureCount.WithLabelValues(string(p.Kind), StageParse).Inc()
		gc.Logger.Warn("unparsable classifier output", "kind", p.Kind, "err", err, "raw", text)
		return nil, parseFailure(p.Kind, err)
	}
	gc.Logger.Debug("classifier verdict", "kind", p.Kind, "isViolation", v.IsViolation, "category", v.Category, "confidence", v.Confidence)
	return v, nil
}

// Sends a single generateContent request and returns the text of the first candidate.
func (gc *GeminiClient) generate(ctx context.Context, kind Kind, prompt string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", gc.Host, url.PathEscape(gc.Model), url.QueryEscape(gc.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", util.UserAgent("moderation-classifier"))

	start := time.Now()
	defer func() {
		classifierAPIDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	resp, err := gc.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	classifierAPICount.WithLabelValues(string(kind), fmt.Sprint(resp.StatusCode)).Inc()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read classifier response body: %w", err)
	}

	var gr geminiResponse
	jsonErr := json.Unmarshal(respBytes, &gr)
	if resp.StatusCode != http.StatusOK {
		if jsonErr == nil && gr.Error != nil {
			return "", fmt.Errorf("classifier request failed statusCode=%d: %s", resp.StatusCode, gr.Error.Message)
		}
		return "", fmt.Errorf("classifier request failed statusCode=%d", resp.StatusCode)
	}
	if jsonErr != nil {
		return "", fmt.Errorf("failed to decode classifier response JSON: %w", jsonErr)
	}
	if gr.Error != nil {
		return "", fmt.Errorf("classifier returned error: %s", gr.Error.Message)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("classifier returned no candidates")
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}
