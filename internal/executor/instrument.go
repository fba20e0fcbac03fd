package executor

import (
	"context"
	"strings"
	"sync"

	"github.com/gqlgate/gqlgate/internal/language"
	"github.com/gqlgate/gqlgate/internal/schema"
)

// Instrument wraps every field resolver of every concrete object type
// (introspection types excluded) so that per-field begin/end hooks fire and
// types with a registered object resolver route through batched resolution.
// Resolvers registered later are wrapped on registration, so instrumentation
// survives late RegisterResolver calls. Applied at most once per schema;
// later calls are no-ops.
func Instrument(s *schema.Schema) {
	if !s.MarkInstrumented() {
		return
	}
	for name, def := range s.AST().Types {
		if def.Kind != language.Object || strings.HasPrefix(name, "__") {
			continue
		}
		batch := s.ObjectResolver(name)
		for _, fd := range def.Fields {
			if strings.HasPrefix(fd.Name, "__") {
				continue
			}
			base := s.Resolver(name, fd.Name)
			s.RegisterResolver(name, fd.Name, wrapFieldResolver(s, base, batch))
		}
	}
	s.SetResolverWrapper(func(typeName, fieldName string, base schema.FieldResolver) schema.FieldResolver {
		if strings.HasPrefix(typeName, "__") || strings.HasPrefix(fieldName, "__") {
			return base
		}
		return wrapFieldResolver(s, base, s.ObjectResolver(typeName))
	})
}

func noopEnd(any, error) {}

func wrapFieldResolver(s *schema.Schema, base schema.FieldResolver, batch schema.ObjectResolver) schema.FieldResolver {
	return func(p schema.ResolveParams) (any, error) {
		inner := base
		if inner == nil {
			if inner = s.DefaultResolver(); inner == nil {
				inner = DefaultFieldResolver
			}
		}
		if p.Info == nil {
			// Called outside the engine; nothing to instrument.
			return inner(p)
		}

		end := schema.FieldEndFunc(noopEnd)
		if p.Info.Observer != nil {
			if e := p.Info.Observer.WillResolveField(p); e != nil {
				end = e
			}
		}

		if batch != nil && p.Info.Batches != nil {
			return batchedResolve(p, inner, batch, end), nil
		}

		result, err := inner(p)
		if err != nil {
			// The hook observes the synchronous failure and the engine still
			// receives the same error.
			end(nil, err)
			return nil, err
		}
		return observeResult(result, end), nil
	}
}

// batchedResolve registers this field's selection under the shared parent
// node and defers resolution until the node's batch fires. The returned
// Deferred is the value the engine sees; it is first awaited only after all
// sibling fields registered.
func batchedResolve(p schema.ResolveParams, inner schema.FieldResolver, batch schema.ObjectResolver, end schema.FieldEndFunc) Deferred {
	var fieldNode *language.Field
	if len(p.Info.Fields) > 0 {
		fieldNode = p.Info.Fields[0]
	}
	source := p.Source
	b := p.Info.Batches.Register(p.Info.Path.Parent(), p.Info.FieldName, fieldNode,
		func(ctx context.Context, fields map[string]*language.Field) (any, error) {
			return batch(ctx, source, fields)
		})

	return Defer(func(ctx context.Context) (any, error) {
		resolved, err := b.Await(ctx)
		if err != nil {
			end(nil, err)
			return nil, err
		}
		q := p
		q.Source = resolved
		result, err := inner(q)
		if err == nil {
			result, err = settle(ctx, result)
		}
		if err != nil {
			end(nil, err)
			return nil, err
		}
		end(result, nil)
		return result, nil
	})
}

// observeResult attaches the end hook to a settled or deferred result while
// returning the original result shape, so resolution behavior stays
// unobservable to the engine.
func observeResult(result any, end schema.FieldEndFunc) any {
	switch r := result.(type) {
	case Deferred:
		return &observedDeferred{inner: r, end: end}
	case []any:
		deferredCount := 0
		for _, item := range r {
			if _, ok := item.(Deferred); ok {
				deferredCount++
			}
		}
		if deferredCount == 0 {
			end(result, nil)
			return result
		}
		return observeSlice(r, deferredCount, end)
	default:
		end(result, nil)
		return result
	}
}

type observedDeferred struct {
	inner Deferred
	end   schema.FieldEndFunc
	once  sync.Once
}

func (o *observedDeferred) Await(ctx context.Context) (any, error) {
	v, err := o.inner.Await(ctx)
	o.once.Do(func() {
		if err != nil {
			o.end(nil, err)
		} else {
			o.end(v, nil)
		}
	})
	return v, err
}

// observeSlice keeps each element's original shape but reports the hook only
// once, after the slice as a whole settled (or failed).
func observeSlice(items []any, deferredCount int, end schema.FieldEndFunc) []any {
	j := &sliceJoiner{
		remaining: deferredCount,
		resolved:  make([]any, len(items)),
		end:       end,
	}
	out := make([]any, len(items))
	for i, item := range items {
		if d, ok := item.(Deferred); ok {
			out[i] = &joinedDeferred{inner: d, joiner: j, index: i}
		} else {
			j.resolved[i] = item
			out[i] = item
		}
	}
	return out
}

type sliceJoiner struct {
	mu        sync.Mutex
	remaining int
	resolved  []any
	err       error
	done      bool
	end       schema.FieldEndFunc
}

func (j *sliceJoiner) settle(index int, v any, err error) {
	j.mu.Lock()
	if j.done {
		j.mu.Unlock()
		return
	}
	if err != nil && j.err == nil {
		j.err = err
	}
	j.resolved[index] = v
	j.remaining--
	fire := j.remaining == 0
	if fire {
		j.done = true
	}
	resolved, ferr := j.resolved, j.err
	j.mu.Unlock()

	if fire {
		if ferr != nil {
			j.end(nil, ferr)
		} else {
			j.end(resolved, nil)
		}
	}
}

type joinedDeferred struct {
	inner  Deferred
	joiner *sliceJoiner
	index  int
	once   sync.Once
}

func (d *joinedDeferred) Await(ctx context.Context) (any, error) {
	v, err := d.inner.Await(ctx)
	d.once.Do(func() { d.joiner.settle(d.index, v, err) })
	return v, err
}
