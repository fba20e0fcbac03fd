package executor

import (
	"github.com/gqlgate/gqlgate/internal/language"
	"github.com/gqlgate/gqlgate/internal/schema"
)

// collectedFieldMap preserves field order from the original query.
type collectedFieldMap struct {
	fields []collectedField
	index  map[string]int
}

type collectedField struct {
	ResponseName string
	Fields       []*language.Field
}

func newCollectedFieldMap() *collectedFieldMap {
	return &collectedFieldMap{index: make(map[string]int)}
}

func (cfm *collectedFieldMap) add(responseName string, field *language.Field) {
	if idx, ok := cfm.index[responseName]; ok {
		cfm.fields[idx].Fields = append(cfm.fields[idx].Fields, field)
		return
	}
	cfm.index[responseName] = len(cfm.fields)
	cfm.fields = append(cfm.fields, collectedField{
		ResponseName: responseName,
		Fields:       []*language.Field{field},
	})
}

// collectFields groups the selections applying to objDef, resolving fragment
// spreads and @skip/@include.
func collectFields(st *state, objDef *language.Definition, selectionSet language.SelectionSet) []collectedField {
	grouped := newCollectedFieldMap()
	visited := make(map[string]bool)
	collectFieldsImpl(st, objDef, selectionSet, grouped, visited)
	return grouped.fields
}

func collectFieldsImpl(st *state, objDef *language.Definition, selectionSet language.SelectionSet, grouped *collectedFieldMap, visited map[string]bool) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *language.Field:
			if !shouldIncludeNode(st, sel.Directives) {
				continue
			}
			responseName := sel.Alias
			if responseName == "" {
				responseName = sel.Name
			}
			grouped.add(responseName, sel)

		case *language.InlineFragment:
			if !shouldIncludeNode(st, sel.Directives) {
				continue
			}
			if !typeApplies(st.schema, objDef, sel.TypeCondition) {
				continue
			}
			collectFieldsImpl(st, objDef, sel.SelectionSet, grouped, visited)

		case *language.FragmentSpread:
			if !shouldIncludeNode(st, sel.Directives) {
				continue
			}
			if visited[sel.Name] {
				continue
			}
			visited[sel.Name] = true
			frag := st.doc.Fragments.ForName(sel.Name)
			if frag == nil {
				continue
			}
			if !typeApplies(st.schema, objDef, frag.TypeCondition) {
				continue
			}
			if !shouldIncludeNode(st, frag.Directives) {
				continue
			}
			collectFieldsImpl(st, objDef, frag.SelectionSet, grouped, visited)
		}
	}
}

// typeApplies reports whether a fragment with the given type condition
// selects into objDef. An empty condition always applies; an abstract
// condition applies when objDef is one of its possible types.
func typeApplies(s *schema.Schema, objDef *language.Definition, condition string) bool {
	if condition == "" || condition == objDef.Name {
		return true
	}
	for _, possible := range s.AST().PossibleTypes[condition] {
		if possible.Name == objDef.Name {
			return true
		}
	}
	return false
}

func shouldIncludeNode(st *state, directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := directiveIf(st, skip); ok && v {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if v, ok := directiveIf(st, include); ok && !v {
			return false
		}
	}
	return true
}

func directiveIf(st *state, d *language.Directive) (value, ok bool) {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false, false
	}
	raw, err := arg.Value.Value(st.variables)
	if err != nil {
		return false, false
	}
	b, ok := raw.(bool)
	return b, ok
}

// mergeSelectionSets merges the sub-selections of duplicate field nodes.
func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}
