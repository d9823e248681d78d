// Package services – AssistantService
//
// Research assistant over a stored search result. Answers are grounded: the
// patents in the history entry's payload are rendered into snippets, the
// question selects the most relevant ones through the retrieval index, and
// only those snippets are handed to the language model. When no model is
// configured the assistant degrades to returning the retrieved snippets
// directly, so the endpoint works without an API key.
package services

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tbourn/go-patent-backend/internal/domain"
	"github.com/tbourn/go-patent-backend/internal/search"
)

// DefaultAssistantModel is used when no model is configured explicitly.
const DefaultAssistantModel = "claude-sonnet-4-20250514"

// defaultTopK is how many snippets ground an answer.
const defaultTopK = 5

const assistantSystemPrompt = "You are a patent research assistant. Answer strictly from the patent " +
	"excerpts provided in the prompt. If the excerpts do not contain the answer, say so plainly. " +
	"Do not invent patent numbers, dates, or legal conclusions."

// LLMCaller is the language-model surface the assistant needs.
type LLMCaller interface {
	Answer(ctx context.Context, system, prompt string) (string, error)
	ModelName() string
}

// AnthropicMessager abstracts the Anthropic messages API for testability.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicCaller implements LLMCaller over the Anthropic SDK.
type AnthropicCaller struct {
	messages AnthropicMessager
	model    string
}

// NewAnthropicCaller builds a caller for the given API key and model. An
// empty model selects DefaultAssistantModel.
func NewAnthropicCaller(apiKey, model string) *AnthropicCaller {
	if model = strings.TrimSpace(model); model == "" {
		model = DefaultAssistantModel
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicCaller{messages: &c.Messages, model: model}
}

// ModelName returns the configured model identifier.
func (a *AnthropicCaller) ModelName() string { return a.model }

// Answer sends one prompt and concatenates the text blocks of the reply.
func (a *AnthropicCaller) Answer(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   1024,
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// HistoryReader fetches a user's stored search. *HistoryService satisfies it.
type HistoryReader interface {
	Get(ctx context.Context, userID, id string) (*domain.SearchHistory, error)
}

// AssistantAnswer is one grounded reply.
type AssistantAnswer struct {
	Answer string `json:"answer"`
	// Sources are the snippets the answer was grounded on, best match first.
	Sources []string `json:"sources"`
	// Model is the model that produced the answer; "retrieval" when no
	// language model is configured.
	Model string `json:"model"`
}

// AssistantService answers questions about one stored search result.
type AssistantService struct {
	// History provides the stored payload to ground on.
	History HistoryReader
	// LLM may be nil; answers are then retrieval-only.
	LLM LLMCaller
	// TopK caps how many snippets ground an answer. Zero selects the default.
	TopK int
}

// NewAssistantService constructs an AssistantService. llm may be nil.
func NewAssistantService(history HistoryReader, llm LLMCaller) *AssistantService {
	return &AssistantService{History: history, LLM: llm, TopK: defaultTopK}
}

func (s *AssistantService) topK() int {
	if s.TopK > 0 {
		return s.TopK
	}
	return defaultTopK
}

// Ask answers a question about the given history entry.
//
// Errors: ErrEmptyQuestion for a blank question, ErrHistoryNotFound when the
// entry is absent or foreign, ErrNoResultPayload when the entry carries no
// stored result.
func (s *AssistantService) Ask(ctx context.Context, userID, historyID, question string) (*AssistantAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	rec, err := s.History.Get(ctx, userID, historyID)
	if err != nil {
		return nil, err
	}
	if len(rec.Result) == 0 {
		return nil, ErrNoResultPayload
	}

	snippets := peekResult(rec.Result).snippets()
	idx := search.NewIndexFromStrings(snippets)

	sources := make([]string, 0, s.topK())
	for _, r := range idx.TopK(question, s.topK()) {
		sources = append(sources, r.Snippet)
	}
	// A question that matches nothing still gets some grounding rather than
	// an answer from thin air.
	if len(sources) == 0 && len(snippets) > 0 {
		n := min(s.topK(), len(snippets))
		sources = append(sources, snippets[:n]...)
	}

	if s.LLM == nil {
		return &AssistantAnswer{
			Answer:  retrievalAnswer(rec, sources),
			Sources: sources,
			Model:   "retrieval",
		}, nil
	}

	answer, err := s.LLM.Answer(ctx, assistantSystemPrompt, buildPrompt(rec, question, sources))
	if err != nil {
		return nil, fmt.Errorf("assistant model call: %w", err)
	}
	return &AssistantAnswer{
		Answer:  stripCodeFences(answer),
		Sources: sources,
		Model:   s.LLM.ModelName(),
	}, nil
}

// buildPrompt assembles the grounded user prompt.
func buildPrompt(rec *domain.SearchHistory, question string, sources []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search: molecule %q, countries %s, %d patents found.\n\n",
		rec.Molecule, rec.Countries, rec.TotalPatents)
	sb.WriteString("Patent excerpts:\n")
	for i, src := range sources {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, src)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

// retrievalAnswer is the model-free fallback: a short framing line plus the
// retrieved snippets.
func retrievalAnswer(rec *domain.SearchHistory, sources []string) string {
	if len(sources) == 0 {
		return fmt.Sprintf("The stored search for %q (%s) contains no patent entries to answer from.",
			rec.Molecule, rec.Countries)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Most relevant patents from the stored search for %q (%s):\n", rec.Molecule, rec.Countries)
	for i, src := range sources {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, src)
	}
	return sb.String()
}

// stripCodeFences removes a wrapping markdown code fence, which some models
// add despite instructions.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
