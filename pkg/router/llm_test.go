package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quarrydata/quarry/pkg/llm"
)

type mockClient struct {
	response string
	err      error
}

func (m *mockClient) Complete(context.Context, string, string, ...llm.Option) (string, error) {
	return m.response, m.err
}

func TestLLMRouterParsesDecision(t *testing.T) {
	client := &mockClient{response: `{"type": "schema_query", "reason": "metadata only", "confidence": 0.9}`}
	r := NewLLMRouter(nil, client, nil)

	got := r.Classify(context.Background(), "how many distinct customers?", false)
	assert.Equal(t, TypeSchemaQuery, got.Type)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestLLMRouterStripsFences(t *testing.T) {
	client := &mockClient{response: "```json\n{\"type\": \"new_query\", \"reason\": \"needs rows\"}\n```"}
	r := NewLLMRouter(nil, client, nil)

	got := r.Classify(context.Background(), "total sales by region", false)
	assert.Equal(t, TypeNewQuery, got.Type)
}

func TestLLMRouterFallsBackOnError(t *testing.T) {
	client := &mockClient{err: errors.New("rate limited")}
	r := NewLLMRouter(nil, client, nil)

	got := r.Classify(context.Background(), "how many distinct customers are there?", false)
	assert.Equal(t, TypeSchemaQuery, got.Type)
}

func TestLLMRouterFallsBackOnGarbage(t *testing.T) {
	client := &mockClient{response: "I think this needs a new query."}
	r := NewLLMRouter(nil, client, nil)

	got := r.Classify(context.Background(), "total sales by region", false)
	assert.Equal(t, TypeNewQuery, got.Type)
}

func TestLLMRouterRejectsReformatWithoutPrior(t *testing.T) {
	client := &mockClient{response: `{"type": "reformat_previous", "reason": "reshape"}`}
	r := NewLLMRouter(nil, client, nil)

	got := r.Classify(context.Background(), "sort it by sales", false)
	assert.NotEqual(t, TypeReformatPrevious, got.Type)
}

func TestLLMRouterRejectsUnknownType(t *testing.T) {
	client := &mockClient{response: `{"type": "something_else"}`}
	r := NewLLMRouter(nil, client, nil)

	got := r.Classify(context.Background(), "how many distinct customers are there?", false)
	assert.Equal(t, TypeSchemaQuery, got.Type)
}
