// Package openai is the reference GraphExtractor implementation. It
// prompts a chat-completion LLM to surface entities and relationships
// from memory text and parses the JSON response.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ob-labs/personamem-go/pkg/graphextract"
)

// Client is a GraphExtractor backed by the OpenAI chat completions API.
type Client struct {
	client       *openai.Client
	model        string
	customPrompt string
}

// Config configures a Client. Model defaults to "gpt-4" when unset.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, graphextract.ErrInvalidConfig
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4"
	}

	return &Client{client: openai.NewClientWithConfig(conf), model: model}, nil
}

// NewClientWithPrompt builds a Client with a custom system prompt.
func NewClientWithPrompt(cfg Config, customPrompt string) (*Client, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c.customPrompt = customPrompt
	return c, nil
}

// Extract prompts the LLM for entities and relationships in text and
// parses the result. LLM failures are wrapped in ErrProviderUnavailable;
// per spec.md §4.6, callers are expected to log and swallow these so
// the memory is still indexed without graph content.
func (c *Client) Extract(ctx context.Context, text string, extractCtx graphextract.Context) (graphextract.Result, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Input:\n%s", text)},
		},
		Temperature: 0,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return graphextract.Result{}, fmt.Errorf("%w: %v", graphextract.ErrProviderUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return graphextract.Result{}, fmt.Errorf("%w: no choices returned from OpenAI API", graphextract.ErrProviderUnavailable)
	}

	result, err := parseResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return graphextract.Result{}, fmt.Errorf("%w: parse: %v", graphextract.ErrProviderUnavailable, err)
	}
	return result, nil
}

// Close is a no-op; the OpenAI SDK holds no resources to release.
func (c *Client) Close() error { return nil }

func (c *Client) systemPrompt() string {
	if c.customPrompt != "" {
		return c.customPrompt
	}
	return `You are a knowledge graph builder. Extract entities and relationships from the input text.

Rules:
1. CANONICAL: Use the most specific proper name for an entity (e.g. "Alice", not "she").
2. TYPED: Give every entity an open-vocabulary type tag (person, organization, place, event, concept, ...).
3. CONFIDENT: Assign a confidence in [0, 1] reflecting how certain the text makes the entity.
4. DIRECTED: Relationships are directed triples (source, target, type) with a strength in [0, 1].
5. SPARSE: Only extract relationships the text directly supports; do not infer transitive links.

Example:
Input: Alice works at Acme. Acme is headquartered in Paris.
Output: {"entities": [{"name": "Alice", "type": "person", "confidence": 0.95}, {"name": "Acme", "type": "organization", "confidence": 0.95}, {"name": "Paris", "type": "place", "confidence": 0.9}], "relationships": [{"source": "Alice", "target": "Acme", "type": "works_at", "strength": 0.9}, {"source": "Acme", "target": "Paris", "type": "hq_in", "strength": 0.9}]}

Return JSON: {"entities": [{"name": ..., "type": ..., "confidence": ...}], "relationships": [{"source": ..., "target": ..., "type": ..., "strength": ...}]}
If no entities or relationships are present, return {"entities": [], "relationships": []}.

Extract from the text below:`
}

type entityPayload struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type relationshipPayload struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

type responsePayload struct {
	Entities      []entityPayload       `json:"entities"`
	Relationships []relationshipPayload `json:"relationships"`
}

func parseResponse(response string) (graphextract.Result, error) {
	response = removeCodeBlocks(response)

	var payload responsePayload
	if err := json.Unmarshal([]byte(response), &payload); err != nil {
		return graphextract.Result{}, fmt.Errorf("invalid JSON response: %w", err)
	}

	result := graphextract.Result{
		Entities:      make([]graphextract.ExtractedEntity, 0, len(payload.Entities)),
		Relationships: make([]graphextract.ExtractedRelationship, 0, len(payload.Relationships)),
	}
	for _, e := range payload.Entities {
		if e.Name == "" {
			continue
		}
		result.Entities = append(result.Entities, graphextract.ExtractedEntity{
			Name: e.Name, Type: e.Type, Confidence: e.Confidence,
		})
	}
	for _, r := range payload.Relationships {
		if r.Source == "" || r.Target == "" || r.Type == "" {
			continue
		}
		result.Relationships = append(result.Relationships, graphextract.ExtractedRelationship{
			Source: r.Source, Target: r.Target, Type: r.Type, Strength: r.Strength,
		})
	}
	return result, nil
}

func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}

var _ graphextract.Extractor = (*Client)(nil)
