package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/gqlgate/gqlgate/internal/gqlerr"
	"github.com/gqlgate/gqlgate/internal/language"
	"github.com/gqlgate/gqlgate/internal/schema"
)

// coerceVariableValues coerces the request variables against the operation's
// variable definitions. Failures stop execution before any resolver runs.
func coerceVariableValues(s *schema.Schema, op *language.OperationDefinition, raw map[string]any) (map[string]any, *gqlerr.Error) {
	coerced := make(map[string]any, len(op.VariableDefinitions))
	for _, varDef := range op.VariableDefinitions {
		name := varDef.Variable
		val, ok := raw[name]
		if !ok {
			if varDef.DefaultValue != nil {
				dv, err := varDef.DefaultValue.Value(nil)
				if err != nil {
					return nil, gqlerr.Newf(gqlerr.CodeBadRequest, "variable $%s has an invalid default: %v", name, err)
				}
				val = dv
			} else if varDef.Type.NonNull {
				return nil, gqlerr.Newf(gqlerr.CodeBadRequest, "variable $%s of required type %s was not provided", name, varDef.Type.String())
			} else {
				continue
			}
		}
		if val == nil && varDef.Type.NonNull {
			return nil, gqlerr.Newf(gqlerr.CodeBadRequest, "variable $%s of type %s cannot be null", name, varDef.Type.String())
		}
		cv, err := coerceValue(s, val, varDef.Type)
		if err != nil {
			return nil, gqlerr.Newf(gqlerr.CodeBadRequest, "variable $%s of type %s cannot be coerced: %v", name, varDef.Type.String(), err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceArguments coerces one field's arguments; failures become located
// errors rather than aborting the whole operation.
func coerceArguments(st *state, fieldDef *language.FieldDefinition, args language.ArgumentList, node *schema.PathNode) map[string]any {
	coerced := make(map[string]any, len(fieldDef.Arguments))
	for _, argDef := range fieldDef.Arguments {
		arg := args.ForName(argDef.Name)
		if arg == nil {
			if argDef.DefaultValue != nil {
				if dv, err := argDef.DefaultValue.Value(nil); err == nil {
					coerced[argDef.Name] = dv
				}
			} else if argDef.Type.NonNull {
				st.addError(gqlerr.Newf(gqlerr.CodeBadRequest, "argument %q of required type %s was not provided", argDef.Name, argDef.Type.String()), node)
			}
			continue
		}
		raw, err := arg.Value.Value(st.variables)
		if err != nil {
			st.addError(gqlerr.Newf(gqlerr.CodeBadRequest, "argument %q cannot be evaluated: %v", argDef.Name, err), node)
			continue
		}
		cv, err := coerceValue(st.schema, raw, argDef.Type)
		if err != nil {
			st.addError(gqlerr.Newf(gqlerr.CodeBadRequest, "argument %q cannot be coerced: %v", argDef.Name, err), node)
			continue
		}
		coerced[argDef.Name] = cv
	}
	return coerced
}

func coerceValue(s *schema.Schema, val any, typ *language.Type) (any, error) {
	if val == nil {
		if typ.NonNull {
			return nil, fmt.Errorf("cannot coerce null to %s", typ.String())
		}
		return nil, nil
	}
	if typ.Elem != nil {
		rv := reflect.ValueOf(val)
		if rv.Kind() != reflect.Slice {
			// GraphQL coerces a single value to a one-element list.
			item, err := coerceValue(s, val, typ.Elem)
			if err != nil {
				return nil, err
			}
			return []any{item}, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := coerceValue(s, rv.Index(i).Interface(), typ.Elem)
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	}

	def := s.Definition(typ.NamedType)
	if def == nil {
		return nil, fmt.Errorf("unknown type %s", typ.NamedType)
	}
	switch def.Kind {
	case language.Scalar:
		return coerceScalar(def.Name, val)
	case language.Enum:
		name, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("enum %s expects a name, got %T", def.Name, val)
		}
		for _, ev := range def.EnumValues {
			if ev.Name == name {
				return name, nil
			}
		}
		return nil, fmt.Errorf("%q is not a value of enum %s", name, def.Name)
	case language.InputObject:
		m, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("input object %s expects a map, got %T", def.Name, val)
		}
		out := make(map[string]any, len(def.Fields))
		for _, fd := range def.Fields {
			fv, present := m[fd.Name]
			if !present {
				if fd.DefaultValue != nil {
					if dv, err := fd.DefaultValue.Value(nil); err == nil {
						out[fd.Name] = dv
					}
					continue
				}
				if fd.Type.NonNull {
					return nil, fmt.Errorf("input field %s.%s of required type %s was not provided", def.Name, fd.Name, fd.Type.String())
				}
				continue
			}
			cv, err := coerceValue(s, fv, fd.Type)
			if err != nil {
				return nil, err
			}
			out[fd.Name] = cv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("type %s cannot be used as an input", def.Name)
	}
}

func coerceScalar(name string, val any) (any, error) {
	switch name {
	case "Int":
		switch v := val.(type) {
		case int:
			return v, nil
		case int32:
			return int(v), nil
		case int64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("cannot coerce %v to Int", v)
			}
			return int(v), nil
		case json.Number:
			i, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %v to Int", v)
			}
			return int(i), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to Int", val)
	case "Float":
		switch v := val.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			return v.Float64()
		}
		return nil, fmt.Errorf("cannot coerce %T to Float", val)
	case "Boolean":
		if v, ok := val.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to Boolean", val)
	case "String":
		if v, ok := val.(string); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to String", val)
	case "ID":
		switch v := val.(type) {
		case string:
			return v, nil
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case float64:
			if v == math.Trunc(v) {
				return strconv.FormatInt(int64(v), 10), nil
			}
		case json.Number:
			return v.String(), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to ID", val)
	default:
		// Custom scalars pass through; their runtime representation is the
		// caller's business.
		return val, nil
	}
}
