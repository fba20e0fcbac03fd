// Package schema pairs an engine-loaded GraphQL schema with the resolver
// registry the executor runs against: per-field resolvers, per-type batched
// object resolvers, abstract type resolvers and a default resolver.
package schema

import (
	"context"
	"sync"

	"github.com/gqlgate/gqlgate/internal/language"
)

// ResolveParams carries everything a field resolver may need.
type ResolveParams struct {
	Context context.Context
	// Source is the parent object value (nil for root fields).
	Source any
	// Args are the coerced field arguments.
	Args map[string]any
	Info *ResolveInfo
}

// ResolveInfo describes the field's position in schema and result tree.
type ResolveInfo struct {
	FieldName  string
	ParentType string
	ReturnType *language.Type
	// Path is this field's node in the result tree.
	Path *PathNode
	// Fields are the merged AST field nodes selecting this field.
	Fields    []*language.Field
	Operation *language.OperationDefinition
	Variables map[string]any

	// Observer is the per-field instrumentation capability, threaded
	// explicitly through execution. Nil when no listener cares.
	Observer FieldObserver
	// Batches is the request-scoped side table of pending object batches.
	Batches *BatchTable
}

// FieldResolver produces a field value. The result may be a plain value, an
// executor Deferred, or a slice whose elements may be Deferred.
type FieldResolver func(p ResolveParams) (any, error)

// ObjectResolver resolves a whole parent object at once, given the complete
// field selection accumulated from its sibling fields. It runs once per
// object instance; its result becomes the source the sibling field resolvers
// see.
type ObjectResolver func(ctx context.Context, source any, fields map[string]*language.Field) (any, error)

// TypeResolver names the concrete object type for an abstract-typed value.
type TypeResolver func(ctx context.Context, value any) (string, error)

// FieldEndFunc concludes one observed field resolution with its settled
// result or error.
type FieldEndFunc func(result any, err error)

// FieldObserver is the narrow per-field hook surface exposed to the executor.
type FieldObserver interface {
	WillResolveField(p ResolveParams) FieldEndFunc
}

// ResolverWrapper decorates a field resolver at registration time. Once
// installed, it keeps instrumentation on resolvers registered later.
type ResolverWrapper func(typeName, fieldName string, base FieldResolver) FieldResolver

// Schema combines the engine's validated type system with resolvers.
type Schema struct {
	ast *language.Schema

	mu           sync.RWMutex
	resolvers    map[string]FieldResolver
	objects      map[string]ObjectResolver
	abstract     map[string]TypeResolver
	defaultRes   FieldResolver
	wrapper      ResolverWrapper
	instrumented bool
}

// New wraps an already-loaded engine schema.
func New(astSchema *language.Schema) *Schema {
	return &Schema{
		ast:       astSchema,
		resolvers: make(map[string]FieldResolver),
		objects:   make(map[string]ObjectResolver),
		abstract:  make(map[string]TypeResolver),
	}
}

// Build loads SDL through the engine and wraps it.
func Build(name, sdl string) (*Schema, error) {
	astSchema, err := language.LoadSchema(name, sdl)
	if err != nil {
		return nil, err
	}
	return New(astSchema), nil
}

func (s *Schema) AST() *language.Schema { return s.ast }

// Definition returns the named type definition, nil when absent.
func (s *Schema) Definition(name string) *language.Definition { return s.ast.Types[name] }

// RootType returns the object definition for the given operation kind.
func (s *Schema) RootType(op language.Operation) *language.Definition {
	switch op {
	case language.Query:
		return s.ast.Query
	case language.Mutation:
		return s.ast.Mutation
	case language.Subscription:
		return s.ast.Subscription
	}
	return nil
}

func fieldKey(typeName, field string) string { return typeName + "." + field }

// RegisterResolver binds a resolver to Type.field, replacing any previous
// one. When a wrapper is installed the resolver is decorated on the way in,
// so registering after instrumentation cannot shed the field wrapper.
func (s *Schema) RegisterResolver(typeName, field string, r FieldResolver) {
	s.mu.RLock()
	wrap := s.wrapper
	s.mu.RUnlock()
	if wrap != nil {
		// Outside the lock: the wrapper may read other registries.
		r = wrap(typeName, field, r)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolvers[fieldKey(typeName, field)] = r
}

// Resolver returns the explicit resolver for Type.field, or nil.
func (s *Schema) Resolver(typeName, field string) FieldResolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolvers[fieldKey(typeName, field)]
}

// RegisterObjectResolver declares batched object resolution for a type.
func (s *Schema) RegisterObjectResolver(typeName string, r ObjectResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[typeName] = r
}

func (s *Schema) ObjectResolver(typeName string) ObjectResolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[typeName]
}

// RegisterTypeResolver binds concrete-type resolution for an interface or
// union type.
func (s *Schema) RegisterTypeResolver(typeName string, r TypeResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abstract[typeName] = r
}

func (s *Schema) TypeResolver(typeName string) TypeResolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.abstract[typeName]
}

// SetDefaultResolver overrides the fallback resolver used for fields without
// an explicit one.
func (s *Schema) SetDefaultResolver(r FieldResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultRes = r
}

func (s *Schema) DefaultResolver() FieldResolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultRes
}

// SetResolverWrapper installs the decorator applied to every subsequently
// registered field resolver.
func (s *Schema) SetResolverWrapper(w ResolverWrapper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrapper = w
}

// MarkInstrumented flips the one-time instrumentation marker. It returns
// false when the schema was already instrumented, guarding double wrapping.
func (s *Schema) MarkInstrumented() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instrumented {
		return false
	}
	s.instrumented = true
	return true
}

// Instrumented reports whether field instrumentation has been applied.
func (s *Schema) Instrumented() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instrumented
}
