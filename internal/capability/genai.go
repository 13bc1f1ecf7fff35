package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"salespilot/internal/library"
	"salespilot/internal/logging"
)

// Config configures the GenAI collaborator client.
type Config struct {
	APIKey string `yaml:"api_key" json:"api_key"`
	Model  string `yaml:"model" json:"model"` // default gemini-2.5-flash
}

// GenAIClient implements Categorizer, Generator, and QuestionPhraser on top
// of Google's Gemini API. Classification and question phrasing use structured
// JSON responses at temperature 0; generation is free text.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates the collaborator client.
func NewGenAIClient(ctx context.Context, cfg Config) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIClient{client: client, model: cfg.Model}, nil
}

// Categorize asks the dispatcher model for the top category labels matching
// the query, given the library catalog.
func (c *GenAIClient) Categorize(ctx context.Context, query string, catalog []library.CategorySummary) ([]string, error) {
	catalogJSON, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", err)
	}

	prompt := fmt.Sprintf(`You are the routing dispatcher for a sales assistant.
Review the user's intent and select the top %d most relevant categories from the catalog.

Catalog:
%s

User query:
%s`, KCategories, catalogJSON, query)

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"categories": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: fmt.Sprintf("The top %d category names that best match the user intent.", KCategories),
			},
			"reasoning": {
				Type:        genai.TypeString,
				Description: "Brief explanation of why these categories were chosen.",
			},
		},
		Required: []string{"categories"},
	}

	raw, err := c.generateJSON(ctx, prompt, schema)
	if err != nil {
		return nil, fmt.Errorf("categorize failed: %w", err)
	}

	var decision CategoryDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return nil, fmt.Errorf("categorize returned malformed JSON: %w", err)
	}

	logging.Get(logging.CategoryCapability).Debug("categorized query",
		zap.Strings("categories", decision.Categories),
		zap.String("reasoning", decision.Reasoning))
	return decision.Categories, nil
}

// PhraseClarifyingQuestion turns the missing-variable list into a single
// conversational question.
func (c *GenAIClient) PhraseClarifyingQuestion(ctx context.Context, missing []string) (string, error) {
	if len(missing) == 0 {
		return "", nil
	}

	prompt := fmt.Sprintf(`You are a sales assistant gathering details to fill a template.
The following pieces of information are still missing: %s.
Write one short, natural, conversational question asking the user to provide them.
Return only the question text.`, strings.Join(missing, ", "))

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"question": {Type: genai.TypeString},
		},
		Required: []string{"question"},
	}

	raw, err := c.generateJSON(ctx, prompt, schema)
	if err != nil {
		return "", fmt.Errorf("question phrasing failed: %w", err)
	}
	var out struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("question phrasing returned malformed JSON: %w", err)
	}
	return out.Question, nil
}

// Generate fills the winning template from the manifest snapshot and writes
// the final sales artifact.
func (c *GenAIClient) Generate(ctx context.Context, record *library.PromptRecord, snapshot map[string]string) (string, error) {
	contextJSON, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode context: %w", err)
	}
	metadataJSON, err := json.MarshalIndent(record.Metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	prompt := fmt.Sprintf(`You are a world-class B2B enterprise sales copywriter.
Fulfill the template below using the known context.

Rules:
1. No fluff. Cut all "hope this finds you well" filler.
2. Human tone: confident, direct, peer-to-peer. No marketing speak.
3. Return only the final artifact. No meta-text, no "here is the draft".
4. If the context names a company or product, make the copy specific to it.

Template constraints:
%s

Known context:
%s

Template to fulfill:
%s`, metadataJSON, contextJSON, record.Template)

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("generation returned no text")
	}

	logging.Get(logging.CategoryCapability).Debug("artifact generated",
		zap.String("record", record.ID), zap.Int("chars", len(text)))
	return text, nil
}

// generateJSON runs one structured-output call at temperature 0.
func (c *GenAIClient) generateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
		Temperature:      genai.Ptr[float32](0),
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", err
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	return text, nil
}
