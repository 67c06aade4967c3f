package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientMissingAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestNewClientDefaultsModel(t *testing.T) {
	c, err := NewClient(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", c.model)
}

func TestNewClientWithPromptOverridesSystemPrompt(t *testing.T) {
	c, err := NewClientWithPrompt(Config{APIKey: "sk-test"}, "custom prompt")
	require.NoError(t, err)
	assert.Equal(t, "custom prompt", c.systemPrompt())
}

func TestParseResponseParsesEntitiesAndRelationships(t *testing.T) {
	raw := "```json\n" + `{"entities": [{"name": "Alice", "type": "person", "confidence": 0.9}], ` +
		`"relationships": [{"source": "Alice", "target": "Acme", "type": "works_at", "strength": 0.8}]}` + "\n```"

	result, err := parseResponse(raw)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Alice", result.Entities[0].Name)
	assert.Equal(t, "person", result.Entities[0].Type)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "works_at", result.Relationships[0].Type)
}

func TestParseResponseEmptyResult(t *testing.T) {
	result, err := parseResponse(`{"entities": [], "relationships": []}`)
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
	assert.Empty(t, result.Relationships)
}

func TestParseResponseDropsIncompleteEntries(t *testing.T) {
	raw := `{"entities": [{"name": "", "type": "person"}], "relationships": [{"source": "A", "target": "", "type": "x"}]}`
	result, err := parseResponse(raw)
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
	assert.Empty(t, result.Relationships)
}

func TestParseResponseMalformedJSON(t *testing.T) {
	_, err := parseResponse("not json")
	assert.Error(t, err)
}

func TestRemoveCodeBlocks(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, removeCodeBlocks("```json\n"+`{"a": 1}`+"\n```"))
	assert.Equal(t, `{"a": 1}`, removeCodeBlocks(`{"a": 1}`))
}
