package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIGenerator implements Generator for OpenAI chat completions.
type OpenAIGenerator struct {
	config  *Config
	baseURL string

	mu      sync.Mutex
	clients map[string]openai.Client
}

// NewOpenAIGenerator creates an OpenAI generator.
func NewOpenAIGenerator(config *Config) *OpenAIGenerator {
	return &OpenAIGenerator{config: config, clients: make(map[string]openai.Client)}
}

// WithBaseURL points the generator at an OpenAI-compatible endpoint.
func (g *OpenAIGenerator) WithBaseURL(url string) *OpenAIGenerator {
	g.baseURL = url
	return g
}

func (g *OpenAIGenerator) client(apiKey string) (openai.Client, error) {
	if apiKey == "" {
		return openai.Client{}, fmt.Errorf("API key is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if g.baseURL != "" {
		opts = append(opts, option.WithBaseURL(g.baseURL))
	}
	c := openai.NewClient(opts...)
	g.clients[apiKey] = c
	return c, nil
}

// Generate implements Generator. The schema, when present, is appended to the system
// message because json_object mode does not take one.
func (g *OpenAIGenerator) Generate(ctx context.Context, apiKey string, p Payload) (string, error) {
	modelName := g.config.GetModel(p.Tier)
	if modelName == "" {
		return "", fmt.Errorf("no model configured for tier %s", p.Tier)
	}
	client, err := g.client(apiKey)
	if err != nil {
		return "", err
	}

	system := p.SystemInstruction
	if len(p.Schema) > 0 {
		system += "\n\nRespond with a single JSON object matching this JSON Schema:\n" + string(p.Schema)
	}

	content := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(p.Content)}
	mime := p.ImageMIMEType
	if mime == "" {
		mime = "image/png"
	}
	for _, img := range p.Images {
		content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(content),
		},
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}
