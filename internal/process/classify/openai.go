package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

const (
	defaultOpenAIModel = openai.GPT4oMini
	openAIScorerBurst  = 1

	openAISystemPrompt = "You are a zero-shot text classifier for automotive cybersecurity news. " +
		"For every candidate label, estimate independently the probability (0 to 1) that the article is about it. " +
		"Answer with a JSON object of the form {\"scores\": {\"<label>\": <probability>}} using the labels verbatim."
)

// chatCompleter is the subset of the go-openai client the scorer uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIScorer asks a chat model for independent per-label probabilities.
type OpenAIScorer struct {
	name    string
	model   string
	client  chatCompleter
	limiter *rate.Limiter
}

// NewOpenAIScorer builds a scorer over the OpenAI API. baseURL may point at
// any OpenAI-compatible endpoint; an empty value uses the default.
func NewOpenAIScorer(apiKey, baseURL, model string, rps float64) *OpenAIScorer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return newOpenAIScorer(openai.NewClientWithConfig(cfg), model, rps)
}

func newOpenAIScorer(client chatCompleter, model string, rps float64) *OpenAIScorer {
	if model == "" {
		model = defaultOpenAIModel
	}

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	return &OpenAIScorer{
		name:    "openai:" + model,
		model:   model,
		client:  client,
		limiter: rate.NewLimiter(limit, openAIScorerBurst),
	}
}

// Name implements ModelScorer.
func (o *OpenAIScorer) Name() string {
	return o.name
}

type openAIScores struct {
	Scores map[string]float64 `json:"scores"`
}

// Score implements ModelScorer. Labels the model omits score 0.
func (o *OpenAIScorer) Score(ctx context.Context, text string, labels []string) ([]domain.LabelScore, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openAISystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildOpenAIPrompt(text, labels)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion: %w", apperrors.ErrEmptyResponse)
	}

	var parsed openAIScores
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("parse openai scores: %w", err)
	}

	out := make([]domain.LabelScore, 0, len(labels))

	for _, l := range labels {
		p := parsed.Scores[l]
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}

		out = append(out, domain.LabelScore{Label: l, Score: p})
	}

	return sortScores(out), nil
}

func buildOpenAIPrompt(text string, labels []string) string {
	var b strings.Builder

	b.WriteString("Candidate labels:\n")

	for _, l := range labels {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteByte('\n')
	}

	b.WriteString("\nArticle:\n")
	b.WriteString(text)

	return b.String()
}
