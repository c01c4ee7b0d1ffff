package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
)

// DefaultMinChars is the shortest text sent for extraction.
const DefaultMinChars = 50

const extractSystemPrompt = "You are a helpful assistant that extracts specified metadata from policy text. " +
	"Always output JSON only."

const extractFieldsPrompt = `Extract the following information and output as JSON with keys: ` +
	`summary, keywords, entities, effective_date, fund_codes, ilcs_citations, title, ` +
	`category, sub_category, topic, year, content_type.
- summary: a brief summary of the text
- keywords: a list of important keywords or phrases
- entities: a list of named entities (persons, organizations, etc.) mentioned
- effective_date: the effective or issuance date of the policy (if present)
- fund_codes: any fund or account codes mentioned (if any)
- ilcs_citations: any ILCS (Illinois Compiled Statutes) citations (e.g., '5 ILCS 430/...') mentioned
- title: the title of the policy or document (if present)
- category: the general category of the policy (e.g., Financial, HR, Academic)
- sub_category: a more specific sub-category of the policy (if applicable)
- topic: the main topic or subject of the policy text
- year: the year associated with the policy (if present)
- content_type: the type of content (e.g., policy, guideline, procedure, report)
If a field is not found or applicable, use an empty string or empty list. JSON only, no explanation.`

// Extractor implements domain.MetadataExtractor with a chat completion in JSON mode.
type Extractor struct {
	client   *openai.Client
	model    string
	minChars int
	logger   *zap.Logger
}

// NewExtractor creates an extractor. minChars <= 0 selects DefaultMinChars.
func NewExtractor(cfg *Config, minChars int) *Extractor {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		client:   newClient(cfg),
		model:    cfg.Model,
		minChars: minChars,
		logger:   logger,
	}
}

// Extract returns the metadata for text, or nil when the text is too short or the model
// found nothing.
func (x *Extractor) Extract(ctx context.Context, text string) (*chunk.Metadata, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < x.minChars {
		return nil, nil
	}

	resp, err := x.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: x.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Text:\n\"\"\"\n" + text + "\n\"\"\"\n" + extractFieldsPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		return nil, parseAPIError("metadata", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("metadata: empty completion: %w", domain.ErrDependencyUnavailable)
	}

	md, err := parseMetadata(resp.Choices[0].Message.Content)
	if err != nil {
		x.logger.Warn("Unparseable metadata completion", zap.String("model", x.model), zap.Error(err))
		return nil, fmt.Errorf("metadata: %w: %w", domain.ErrDependencyUnavailable, err)
	}
	if md.IsEmpty() {
		return nil, nil
	}
	return md, nil
}

// rawMetadata accepts the loose shapes models produce: year as number or string,
// lists as arrays or a single string.
type rawMetadata struct {
	Title         string          `json:"title"`
	Category      string          `json:"category"`
	SubCategory   string          `json:"sub_category"`
	Topic         string          `json:"topic"`
	ContentType   string          `json:"content_type"`
	Summary       string          `json:"summary"`
	EffectiveDate string          `json:"effective_date"`
	Year          json.RawMessage `json:"year"`
	Keywords      json.RawMessage `json:"keywords"`
	Entities      json.RawMessage `json:"entities"`
	FundCodes     json.RawMessage `json:"fund_codes"`
	Citations     json.RawMessage `json:"ilcs_citations"`
}

// parseMetadata decodes the first JSON object in content, tolerating code fences.
func parseMetadata(content string) (*chunk.Metadata, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	var raw rawMetadata
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}

	return &chunk.Metadata{
		Title:         chunk.Str(raw.Title),
		Category:      chunk.Str(raw.Category),
		SubCategory:   chunk.Str(raw.SubCategory),
		Topic:         chunk.Str(raw.Topic),
		ContentType:   chunk.Str(raw.ContentType),
		Summary:       chunk.Str(raw.Summary),
		EffectiveDate: chunk.Str(raw.EffectiveDate),
		Year:          parseYear(raw.Year),
		Keywords:      parseList(raw.Keywords),
		Entities:      parseList(raw.Entities),
		FundCodes:     parseList(raw.FundCodes),
		Citations:     parseList(raw.Citations),
	}, nil
}

func parseYear(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n int
	if json.Unmarshal(raw, &n) == nil && n > 0 {
		return &n
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		s = strings.TrimSpace(s)
		if len(s) >= 4 {
			if y, err := strconv.Atoi(s[:4]); err == nil && y > 0 {
				return &y
			}
		}
	}
	return nil
}

func parseList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []string
	if json.Unmarshal(raw, &items) != nil {
		var one string
		if json.Unmarshal(raw, &one) != nil {
			return nil
		}
		items = []string{one}
	}
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
