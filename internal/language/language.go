// Package language is the boundary to the GraphQL engine: parsing, schema
// loading and query validation are delegated to gqlparser and exposed through
// a small stable surface so the rest of the module never imports it directly.
package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// ParseQuery parses a query document. The returned error, if any, is a
// *gqlerror.Error carrying source locations.
func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema builds a validated schema from SDL.
func LoadSchema(name, sdl string) (*Schema, error) {
	return gqlparser.LoadSchema(&ast.Source{Name: name, Input: sdl})
}

// Validate runs the engine's default validation rules against doc.
func Validate(schema *Schema, doc *QueryDocument) gqlerror.List {
	return validator.Validate(schema, doc)
}
