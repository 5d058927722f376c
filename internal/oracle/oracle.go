// Package oracle wraps the language model behind the two calls the pipeline
// makes: question to SQL, and (question, result table) to answer text.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/logging"
	"github.com/mahdi-taghi/business-assistant-ari/internal/metrics"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

var ErrNoCompletion = errors.New("no completion returned")

// Usage is token accounting reported by the provider, when available.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of one model call.
type Completion struct {
	Text  string
	Model string
	Usage *Usage
}

// Tokens returns the total token count, or 0 when the provider reported none.
func (c Completion) Tokens() int {
	if c.Usage == nil {
		return 0
	}
	return c.Usage.TotalTokens
}

// Oracle is the natural-language side of the pipeline.
type Oracle interface {
	GenerateSQL(ctx context.Context, question string) (Completion, error)
	Answer(ctx context.Context, question, table string) (Completion, error)
}

// Completer sends one system+user exchange to a model.
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (Completion, error)
}

// Config selects and parameterizes a backend.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	SQLModel    string
	AnswerModel string
	Table       string
	Timeout     time.Duration
}

// Client implements Oracle on top of any Completer.
type Client struct {
	c           Completer
	sqlModel    string
	answerModel string
	sqlPrompt   string
	logger      zerolog.Logger
}

// New builds the backend named by cfg.Provider.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	var (
		c   Completer
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		c = NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	case ProviderGemini:
		c, err = NewGeminiClient(ctx, cfg.APIKey)
	default:
		err = fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(c, cfg.SQLModel, cfg.AnswerModel, cfg.Table, logger), nil
}

// NewClient wraps c with the prompts for table.
func NewClient(c Completer, sqlModel, answerModel, table string, logger zerolog.Logger) *Client {
	return &Client{
		c:           c,
		sqlModel:    sqlModel,
		answerModel: answerModel,
		sqlPrompt:   SQLSystemPrompt(table),
		logger:      logger.With().Str("component", "oracle").Logger(),
	}
}

// GenerateSQL asks the model for a query answering question.
func (o *Client) GenerateSQL(ctx context.Context, question string) (Completion, error) {
	comp, err := o.call(ctx, "sql", o.sqlModel, o.sqlPrompt, question)
	if err != nil {
		return Completion{}, err
	}
	comp.Text = CleanSQL(comp.Text)
	return comp, nil
}

// Answer asks the model to phrase table as an answer to question.
func (o *Client) Answer(ctx context.Context, question, table string) (Completion, error) {
	return o.call(ctx, "answer", o.answerModel, AnswerSystemPrompt, AnswerPrompt(question, table))
}

func (o *Client) call(ctx context.Context, call, model, system, user string) (Completion, error) {
	start := time.Now()
	comp, err := o.c.Complete(ctx, model, system, user)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.OracleDuration.WithLabelValues(call, status).Observe(time.Since(start).Seconds())

	if err != nil {
		return Completion{}, fmt.Errorf("%s call: %w", call, err)
	}
	if comp.Model == "" {
		comp.Model = model
	}
	o.logger.Debug().
		Str("call", call).
		Str("model", comp.Model).
		Dur("latency", time.Since(start)).
		Str("input", logging.Truncate(user)).
		Str("output", logging.Truncate(comp.Text)).
		Msg("oracle call completed")
	return comp, nil
}

var fence = regexp.MustCompile("(?s)^```[A-Za-z]*\\s*\n?(.*?)\\s*```$")

// CleanSQL strips surrounding whitespace and a markdown code fence.
func CleanSQL(s string) string {
	s = strings.TrimSpace(s)
	if m := fence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	return s
}
