package executor

import "github.com/gqlgate/gqlgate/internal/gqlerr"

// Response is the normalized result envelope of one executed operation.
type Response struct {
	Data       any             `json:"data"`
	Errors     []*gqlerr.Error `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}
