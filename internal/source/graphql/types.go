package graphql

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request is the standard GraphQL POST body.
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Response is the standard GraphQL envelope.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors []ResponseError `json:"errors,omitempty"`
}

type ResponseError struct {
	Message string `json:"message"`
}

// HTTPError is a non-2xx transport response. Classification keys off the
// status code (429/5xx transient, 401/403 terminal).
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
}

func (e *HTTPError) HTTPStatus() int { return e.Status }

// QueryError aggregates the errors array of a GraphQL response. These are
// schema or query faults and classify terminal by default.
type QueryError struct {
	Messages []string
}

func (e *QueryError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}
