package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quarrydata/quarry/pkg/query"
)

const defaultHTTPTimeout = 60 * time.Second

// HTTPEngine talks to an analytics engine over its HTTP query API.
type HTTPEngine struct {
	BaseURL  string
	Username string // optional basic auth
	Password string

	client *http.Client
}

// NewHTTPEngine creates an HTTPEngine for the given base URL.
func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// NewHTTPEngineWithAuth creates an HTTPEngine with basic auth credentials.
func NewHTTPEngineWithAuth(baseURL, username, password string) *HTTPEngine {
	e := NewHTTPEngine(baseURL)
	e.Username = username
	e.Password = password
	return e
}

// Execute posts the query to the engine's query endpoint.
func (e *HTTPEngine) Execute(ctx context.Context, q *query.Query) (*Result, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, NewExecutionError(KindBadRequest, fmt.Errorf("marshal query: %w", err))
	}

	raw, err := e.do(ctx, http.MethodPost, e.BaseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, NewExecutionError(KindTransient, fmt.Errorf("parse engine response: %w", err))
	}
	if result.RowCount == 0 {
		result.RowCount = len(result.Data)
	}
	return &result, nil
}

// FetchMetadata retrieves field metadata for a datasource.
func (e *HTTPEngine) FetchMetadata(ctx context.Context, datasourceID string) ([]RawField, error) {
	raw, err := e.do(ctx, http.MethodGet, e.BaseURL+"/metadata/"+url.PathEscape(datasourceID), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Fields []RawField `json:"fields"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse metadata response: %w", err)
	}
	return resp.Fields, nil
}

// FetchFieldStatistics retrieves statistics for one field.
func (e *HTTPEngine) FetchFieldStatistics(ctx context.Context, datasourceID, fieldName string) (*FieldStats, error) {
	u := e.BaseURL + "/metadata/" + url.PathEscape(datasourceID) + "/fields/" + url.PathEscape(fieldName) + "/stats"
	raw, err := e.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var stats FieldStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("parse field statistics: %w", err)
	}
	return &stats, nil
}

func (e *HTTPEngine) do(ctx context.Context, method, url string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, NewExecutionError(KindBadRequest, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.Username != "" {
		req.SetBasicAuth(e.Username, e.Password)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, AsExecutionError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewExecutionError(KindTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 500 {
			msg = msg[:500] + "..."
		}
		return nil, NewExecutionError(kindFromStatus(resp.StatusCode),
			fmt.Errorf("engine returned %d: %s", resp.StatusCode, msg))
	}
	return raw, nil
}
