package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Payload is one fully shaped request to a provider.
type Payload struct {
	SystemInstruction string
	Content           string
	// Schema is an optional JSON Schema describing the expected object.
	Schema        json.RawMessage
	Images        [][]byte
	ImageMIMEType string
	Tier          ModelTier
}

// Generator sends a payload to an AI provider with a single credential and returns the
// raw response text.
type Generator interface {
	Generate(ctx context.Context, apiKey string, p Payload) (string, error)
}

// NewGenerator returns the generator for the configured provider.
func NewGenerator(config *Config) Generator {
	if config == nil {
		config = DefaultConfig()
	}
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIGenerator(config)
	default:
		return NewGeminiGenerator(config)
	}
}

// GeminiGenerator implements Generator for Google Gemini
type GeminiGenerator struct {
	config *Config

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiGenerator creates a Gemini generator. Clients are created lazily per API key.
func NewGeminiGenerator(config *Config) *GeminiGenerator {
	return &GeminiGenerator{config: config, clients: make(map[string]*genai.Client)}
}

func (g *GeminiGenerator) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, apiKey string, p Payload) (string, error) {
	modelName := g.config.GetModel(p.Tier)
	if modelName == "" {
		return "", fmt.Errorf("no model configured for tier %s", p.Tier)
	}
	client, err := g.client(ctx, apiKey)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"
	if p.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.SystemInstruction)}}
	}
	if len(p.Schema) > 0 {
		schema, err := toGenaiSchema(p.Schema)
		if err != nil {
			return "", fmt.Errorf("failed to convert response schema: %w", err)
		}
		model.ResponseSchema = schema
	}

	parts := []genai.Part{genai.Text(p.Content)}
	mime := p.ImageMIMEType
	if mime == "" {
		mime = "image/png"
	}
	for _, img := range p.Images {
		parts = append(parts, genai.Blob{MIMEType: mime, Data: img})
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return extractTextFromResponse(resp)
}

// Close releases every cached client.
func (g *GeminiGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var firstErr error
	for key, c := range g.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(g.clients, key)
	}
	return firstErr
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

// jsonSchema is the subset of JSON Schema that Gemini response schemas can express.
type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Enum        []string               `json:"enum"`
	Items       *jsonSchema            `json:"items"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Required    []string               `json:"required"`
}

func toGenaiSchema(raw json.RawMessage) (*genai.Schema, error) {
	var s jsonSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return convertSchema(&s), nil
}

func convertSchema(s *jsonSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}
	if s.Items != nil {
		out.Items = convertSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = convertSchema(prop)
		}
	}
	return out
}
