package executor

import (
	"context"
	"fmt"
	"reflect"

	"github.com/gqlgate/gqlgate/internal/gqlerr"
	"github.com/gqlgate/gqlgate/internal/language"
	"github.com/gqlgate/gqlgate/internal/schema"
)

// Args is the engine call contract.
type Args struct {
	Schema        *schema.Schema
	Document      *language.QueryDocument
	OperationName string
	Variables     map[string]any
	RootValue     any
	// Observer receives per-field begin/end hooks. Nil disables them.
	Observer schema.FieldObserver
}

// state holds per-request execution state. One request is driven by one
// logical control flow; no locking is needed here.
type state struct {
	schema    *schema.Schema
	doc       *language.QueryDocument
	op        *language.OperationDefinition
	variables map[string]any
	observer  schema.FieldObserver
	batches   *schema.BatchTable
	ctx       context.Context
	errors    []*gqlerr.Error
}

func (st *state) addError(e *gqlerr.Error, node *schema.PathNode) {
	st.errors = append(st.errors, e.WithPath(node.Path()))
}

func (st *state) hasErrorAt(node *schema.PathNode) bool {
	path := node.Path()
	for _, e := range st.errors {
		if reflect.DeepEqual(e.Path, path) {
			return true
		}
	}
	return false
}

// Operation selects the operation to execute from a parsed document.
func Operation(doc *language.QueryDocument, name string) (*language.OperationDefinition, *gqlerr.Error) {
	if name == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0], nil
		}
		return nil, gqlerr.OperationResolution("must provide operation name when the document contains multiple operations")
	}
	if op := doc.Operations.ForName(name); op != nil {
		return op, nil
	}
	return nil, gqlerr.OperationResolution(fmt.Sprintf("operation %q not found in document", name))
}

// Execute runs one operation and returns its normalized response.
func Execute(ctx context.Context, args Args) *Response {
	op, gerr := Operation(args.Document, args.OperationName)
	if gerr != nil {
		return &Response{Errors: []*gqlerr.Error{gerr}}
	}

	variables, gerr := coerceVariableValues(args.Schema, op, args.Variables)
	if gerr != nil {
		return &Response{Errors: []*gqlerr.Error{gerr}}
	}

	rootDef := args.Schema.RootType(op.Operation)
	if rootDef == nil {
		return &Response{Errors: []*gqlerr.Error{
			gqlerr.Newf(gqlerr.CodeOperationResolution, "schema does not support %s operations", op.Operation),
		}}
	}

	st := &state{
		schema:    args.Schema,
		doc:       args.Document,
		op:        op,
		variables: variables,
		observer:  args.Observer,
		batches:   schema.NewBatchTable(),
		ctx:       ctx,
	}

	data := executeSelectionSet(st, rootDef, op.SelectionSet, args.RootValue, nil)

	resp := &Response{Errors: st.errors}
	if data != nil {
		resp.Data = data
	}
	return resp
}

type pendingField struct {
	name   string
	def    *language.FieldDefinition // nil for __typename
	fields []*language.Field
	node   *schema.PathNode
	raw    any
	err    error
}

// executeSelectionSet resolves then completes all fields of one object.
// Every sibling resolver runs before any result is awaited, so an object
// batch observes the full selection before it fires.
func executeSelectionSet(st *state, objDef *language.Definition, sels language.SelectionSet, source any, parent *schema.PathNode) map[string]any {
	groups := collectFields(st, objDef, sels)
	pending := make([]pendingField, 0, len(groups))

	for _, g := range groups {
		node := parent.Append(g.ResponseName)
		first := g.Fields[0]

		if first.Name == "__typename" {
			pending = append(pending, pendingField{name: g.ResponseName, node: node, raw: objDef.Name})
			continue
		}

		fieldDef := objDef.Fields.ForName(first.Name)
		if fieldDef == nil {
			st.addError(gqlerr.Newf(gqlerr.CodeValidationFailed, "cannot query field %q on type %q", first.Name, objDef.Name), node)
			continue
		}

		args := coerceArguments(st, fieldDef, first.Arguments, node)
		params := schema.ResolveParams{
			Context: st.ctx,
			Source:  source,
			Args:    args,
			Info: &schema.ResolveInfo{
				FieldName:  first.Name,
				ParentType: objDef.Name,
				ReturnType: fieldDef.Type,
				Path:       node,
				Fields:     g.Fields,
				Operation:  st.op,
				Variables:  st.variables,
				Observer:   st.observer,
				Batches:    st.batches,
			},
		}

		raw, err := st.resolverFor(objDef.Name, first.Name)(params)
		pending = append(pending, pendingField{
			name:   g.ResponseName,
			def:    fieldDef,
			fields: g.Fields,
			node:   node,
			raw:    raw,
			err:    err,
		})
	}

	result := make(map[string]any, len(pending))
	for i, pf := range pending {
		if pf.def == nil {
			result[pf.name] = pf.raw
			continue
		}

		var completed any
		if pf.err != nil {
			st.addError(gqlerr.Internal(pf.err), pf.node)
		} else {
			completed = completeValue(st, pf.def.Type, pf.fields, pf.raw, pf.node)
		}

		if pf.def.Type.NonNull && isNullish(completed) {
			// Propagate null to the nearest nullable ancestor; at the root
			// this nulls the entire payload. The siblings never completed
			// still settle in the background so their hooks end.
			for _, rest := range pending[i+1:] {
				settleAbandoned(st.ctx, rest.raw)
			}
			return nil
		}
		if isNullish(completed) {
			result[pf.name] = nil
		} else {
			result[pf.name] = completed
		}
	}
	return result
}

// settleAbandoned awaits deferred content the completion pass will never
// consume. Resolution for these values has already started; awaiting them in
// the background guarantees their field hooks still receive an end call.
func settleAbandoned(ctx context.Context, v any) {
	switch r := v.(type) {
	case Deferred:
		go func() { _, _ = r.Await(ctx) }()
	case []any:
		go func() {
			for _, item := range r {
				if d, ok := item.(Deferred); ok {
					_, _ = d.Await(ctx)
				}
			}
		}()
	}
}

func (st *state) resolverFor(typeName, field string) schema.FieldResolver {
	if r := st.schema.Resolver(typeName, field); r != nil {
		return r
	}
	if r := st.schema.DefaultResolver(); r != nil {
		return r
	}
	return DefaultFieldResolver
}

func completeValue(st *state, typ *language.Type, fields []*language.Field, result any, node *schema.PathNode) any {
	// Deferred results settle here, transparently to callers above.
	for {
		d, ok := result.(Deferred)
		if !ok {
			break
		}
		v, err := d.Await(st.ctx)
		if err != nil {
			st.addError(gqlerr.Internal(err), node)
			return nil
		}
		result = v
	}

	if typ.NonNull {
		if isNullish(result) {
			if !st.hasErrorAt(node) {
				st.addError(gqlerr.Newf(gqlerr.CodeInternal, "cannot return null for non-nullable field %s", fieldPathString(node)), node)
			}
			return nil
		}
		inner := &language.Type{NamedType: typ.NamedType, Elem: typ.Elem, Position: typ.Position}
		completed := completeValue(st, inner, fields, result, node)
		if isNullish(completed) {
			return nil
		}
		return completed
	}

	if isNullish(result) {
		return nil
	}

	if typ.Elem != nil {
		return completeListValue(st, typ, fields, result, node)
	}

	def := st.schema.Definition(typ.NamedType)
	if def == nil {
		st.addError(gqlerr.Newf(gqlerr.CodeInternal, "unknown type %s", typ.NamedType), node)
		return nil
	}

	switch def.Kind {
	case language.Scalar, language.Enum:
		serialized, err := serializeLeaf(def, result)
		if err != nil {
			st.addError(gqlerr.Internal(err), node)
			return nil
		}
		return serialized
	case language.Object:
		return executeSelectionSet(st, def, mergeSelectionSets(fields), result, node)
	case language.Interface, language.Union:
		return completeAbstractValue(st, def, fields, result, node)
	default:
		st.addError(gqlerr.Newf(gqlerr.CodeInternal, "cannot complete value of unexpected kind %s", def.Kind), node)
		return nil
	}
}

func completeListValue(st *state, listType *language.Type, fields []*language.Field, result any, node *schema.PathNode) any {
	var items []any
	if direct, ok := result.([]any); ok {
		items = direct
	} else {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice {
			st.addError(gqlerr.Newf(gqlerr.CodeInternal, "expected list value, got %T", result), node)
			return nil
		}
		items = make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
	}

	inner := listType.Elem
	completed := make([]any, len(items))
	for i, item := range items {
		child := node.Append(i)
		v := completeValue(st, inner, fields, item, child)
		if inner.NonNull && isNullish(v) {
			// Error already recorded by inner completion; nullify the list
			// and settle the abandoned tail so the field hook still ends.
			for _, rest := range items[i+1:] {
				settleAbandoned(st.ctx, rest)
			}
			return nil
		}
		completed[i] = v
	}
	return completed
}

func completeAbstractValue(st *state, def *language.Definition, fields []*language.Field, result any, node *schema.PathNode) any {
	resolve := st.schema.TypeResolver(def.Name)
	if resolve == nil {
		st.addError(gqlerr.Newf(gqlerr.CodeInternal, "no type resolver registered for abstract type %s", def.Name), node)
		return nil
	}
	typeName, err := resolve(st.ctx, result)
	if err != nil {
		st.addError(gqlerr.Internal(err), node)
		return nil
	}
	concrete := st.schema.Definition(typeName)
	if concrete == nil || concrete.Kind != language.Object {
		st.addError(gqlerr.Newf(gqlerr.CodeInternal, "abstract type %s resolved to non-object type %q", def.Name, typeName), node)
		return nil
	}
	return executeSelectionSet(st, concrete, mergeSelectionSets(fields), result, node)
}

func serializeLeaf(def *language.Definition, result any) (any, error) {
	if def.Kind == language.Enum {
		switch v := result.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		}
		return nil, fmt.Errorf("cannot serialize %T as enum %s", result, def.Name)
	}
	return coerceScalar(def.Name, result)
}

func fieldPathString(node *schema.PathNode) string {
	out := ""
	for i, elem := range node.Path() {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				out += "."
			}
			out += v
		case int:
			out += fmt.Sprintf("[%d]", v)
		}
	}
	return out
}

// isNullish reports nil interfaces and typed nils.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
