package gitclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/xela07ax/repogov-platform/internal/resilience"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"errors"`
}

// GraphQL выполняет запрос к GraphQL-эндпоинту через ту же цепочку защиты.
// GraphQL всегда POST, поэтому кэш не участвует; rate limit и breaker — общие
// с REST (один удаленный сервис — один лимит).
func (c *Client) GraphQL(ctx context.Context, query string, vars map[string]any, out any) error {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   c.graphqlURL,
		Body:   graphqlRequest{Query: query, Variables: vars},
	})
	if err != nil {
		return err
	}

	var gr graphqlResponse
	if err := json.Unmarshal(resp.Body, &gr); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gr.Errors) > 0 {
		// GraphQL возвращает 200 даже на ошибки запроса: поднимаем как 4xx
		if gr.Errors[0].Type == "RATE_LIMITED" {
			return &resilience.ThrottleError{Cause: fmt.Errorf("graphql: %s", gr.Errors[0].Message)}
		}
		return &resilience.RequestError{StatusCode: http.StatusUnprocessableEntity, Body: gr.Errors[0].Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}
