package executor

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gqlgate/gqlgate/internal/schema"
)

// DefaultFieldResolver resolves a field from the source value: map lookup by
// field name, struct field by name or `graphql`/`json` tag, or a no-argument
// method. Function-valued results are invoked.
func DefaultFieldResolver(p schema.ResolveParams) (any, error) {
	if p.Source == nil {
		return nil, nil
	}
	name := p.Info.FieldName

	if m, ok := p.Source.(map[string]any); ok {
		return callIfFunc(m[name])
	}

	v := reflect.ValueOf(p.Source)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, nil
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if fieldMatches(sf, name) {
			return callIfFunc(v.Field(i).Interface())
		}
	}

	// Fall back to a no-argument method with the same name.
	mv := reflect.ValueOf(p.Source).MethodByName(exportedName(name))
	if mv.IsValid() && mv.Type().NumIn() == 0 {
		return callMethod(mv)
	}
	return nil, nil
}

func exportedName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func fieldMatches(sf reflect.StructField, name string) bool {
	for _, key := range []string{"graphql", "json"} {
		if tag, ok := sf.Tag.Lookup(key); ok {
			if tagName, _, _ := strings.Cut(tag, ","); tagName == name {
				return true
			}
		}
	}
	return strings.EqualFold(sf.Name, name)
}

func callIfFunc(v any) (any, error) {
	switch fn := v.(type) {
	case func() any:
		return fn(), nil
	case func() (any, error):
		return fn()
	default:
		return v, nil
	}
}

func callMethod(mv reflect.Value) (any, error) {
	out := mv.Call(nil)
	switch len(out) {
	case 1:
		return out[0].Interface(), nil
	case 2:
		var err error
		if e := out[1].Interface(); e != nil {
			var ok bool
			if err, ok = e.(error); !ok {
				return nil, fmt.Errorf("method returned non-error second value %T", e)
			}
		}
		return out[0].Interface(), err
	default:
		return nil, nil
	}
}
