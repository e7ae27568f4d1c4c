// Package analysis asks a completion endpoint to read a chart image and turns
// the answer into per-section text.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/tuvi/config"
	"github.com/mohammad-safakhou/tuvi/internal/chart"
	"github.com/mohammad-safakhou/tuvi/internal/metrics"
)

// ErrCallFailed is returned when the completion call itself fails.
var ErrCallFailed = chart.ErrAnalysisCall

// Mode selects how the model is asked to answer and how results are rendered.
type Mode string

const (
	ModeStructured Mode = "structured"
	ModeFreeText   Mode = "freetext"
)

// Completer is the subset of the go-openai client the engine uses.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Subject is the human-readable birth data sent along with the image.
type Subject struct {
	Date string
	Slot string
	Sex  string
}

func SubjectOf(fp chart.Fingerprint) Subject {
	return Subject{Date: fp.Date().String(), Slot: fp.Slot.Display(), Sex: string(fp.Sex)}
}

// NewClient builds a go-openai client for an OpenAI-compatible endpoint.
func NewClient(cfg config.LLMConfig) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return openai.NewClientWithConfig(oc)
}

type Engine struct {
	client Completer
	cfg    config.LLMConfig
	logger *zap.Logger
}

func New(client Completer, cfg config.LLMConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "auto"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.AnalysisMode == "" {
		cfg.AnalysisMode = string(ModeStructured)
	}
	return &Engine{client: client, cfg: cfg, logger: logger}
}

func (e *Engine) Mode() Mode { return Mode(e.cfg.AnalysisMode) }

// Analyze sends the chart image and birth data in a single call. Answers that
// do not parse degrade to overview, error and raw; they never fail. A failed
// call returns a result holding only the error section.
func (e *Engine) Analyze(ctx context.Context, img []byte, mediaType string, s Subject) (Result, error) {
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	mode := e.Mode()
	req := openai.ChatCompletionRequest{
		Model: e.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(mode)},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: userPrompt(s)},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL: "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(img),
				}},
			}},
		},
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err == nil && len(resp.Choices) == 0 {
		err = fmt.Errorf("completion returned no choices")
	}
	if err != nil {
		metrics.Errors.WithLabelValues("analysis").Inc()
		e.logger.Error("analysis call failed", zap.Error(err))
		return Result{ErrorKey: "Đã xảy ra lỗi khi phân tích lá số. Vui lòng thử lại sau."},
			fmt.Errorf("%w: %v", ErrCallFailed, err)
	}

	text := resp.Choices[0].Message.Content
	e.logger.Info("analysis completed", zap.String("model", resp.Model), zap.Int("chars", len(text)))
	metrics.AnalysesPerformed.Inc()

	if mode == ModeFreeText {
		return Result{Overview: strings.TrimSpace(text)}, nil
	}
	res, perr := Parse(text)
	if perr != nil {
		metrics.Errors.WithLabelValues("analysis_parse").Inc()
		e.logger.Warn("analysis response degraded", zap.Error(perr))
	}
	return res, nil
}

// Parse reads the first JSON object in text into a Result. On failure it
// returns the degraded result together with an error wrapping
// chart.ErrAnalysisParse.
func Parse(text string) (Result, error) {
	obj, err := firstObject(text)
	if err != nil {
		return degrade(text, err), fmt.Errorf("%w: %v", chart.ErrAnalysisParse, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return degrade(text, err), fmt.Errorf("%w: %v", chart.ErrAnalysisParse, err)
	}

	res := Result{}
	for name, raw := range fields {
		key, ok := ParseSection(name)
		if !ok {
			continue
		}
		if v := valueText(raw); v != "" {
			res[key] = v
		}
	}
	if len(res) == 0 {
		err := fmt.Errorf("no known sections in response")
		return degrade(text, err), fmt.Errorf("%w: %v", chart.ErrAnalysisParse, err)
	}
	return res, nil
}

// valueText unquotes strings and compacts anything else.
func valueText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}

func degrade(text string, reason error) Result {
	return Result{
		Overview: "Không thể đọc kết quả phân tích theo từng cung. Nội dung gốc được giữ nguyên bên dưới.",
		ErrorKey: reason.Error(),
		RawKey:   text,
	}
}

// Ping sends a tiny request and returns the model the endpoint resolved.
func (e *Engine) Ping(ctx context.Context) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     e.cfg.Model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
		MaxTokens: 5,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	return resp.Model, nil
}
