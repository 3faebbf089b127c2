package tools

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

// Definition describes a tool the model may call: a name, a human-readable
// description and a JSON schema for its parameters. The schema is what gets
// sent to providers; the function stays local.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
	Func        Func               `json:"-"`
	Tags        []string           `json:"tags,omitempty"`
}

// Func wraps a Go function with a pre-compiled invoker.
type Func struct {
	fn      interface{}
	invoke  func(context.Context, []byte) (interface{}, error)
	inType  reflect.Type
	outType reflect.Type
}

// NewToolFromFunc builds a Definition from a Go function. Supported
// signatures:
//
//	func(Input) (Result, error)
//	func(context.Context, Input) (Result, error)
//
// The parameter schema is reflected from the Input struct's json tags.
func NewToolFromFunc(name, description string, fn interface{}) (*Definition, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}
	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, errors.New("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errType) {
		return nil, errors.New("second return value must be an error")
	}

	inType, err := inputTypeOf(funcType)
	if err != nil {
		return nil, err
	}

	schema := &jsonschema.Schema{Type: "object"}
	if inType != nil {
		reflector := jsonschema.Reflector{
			// expand definitions inline instead of using $refs
			DoNotReference: true,
		}
		schema = reflector.Reflect(reflect.New(inType).Elem().Interface())
		if schema.Type == "" && schema.Ref == "" {
			schema.Type = "object"
		}
	}

	return &Definition{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Func: Func{
			fn:      fn,
			invoke:  makeInvoker(fn, funcType, inType),
			inType:  inType,
			outType: funcType.Out(0),
		},
	}, nil
}

func inputTypeOf(funcType reflect.Type) (reflect.Type, error) {
	switch funcType.NumIn() {
	case 0:
		return nil, nil
	case 1:
		if funcType.In(0) == ctxType {
			return nil, nil
		}
		return funcType.In(0), nil
	case 2:
		if funcType.In(0) != ctxType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		return funcType.In(1), nil
	default:
		return nil, errors.Errorf("unsupported tool function arity %d", funcType.NumIn())
	}
}

func makeInvoker(fn interface{}, funcType reflect.Type, inType reflect.Type) func(context.Context, []byte) (interface{}, error) {
	funcValue := reflect.ValueOf(fn)
	wantsCtx := funcType.NumIn() > 0 && funcType.In(0) == ctxType

	return func(ctx context.Context, args []byte) (interface{}, error) {
		var in []reflect.Value
		if wantsCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		if inType != nil {
			input := reflect.New(inType).Interface()
			if len(args) > 0 {
				if err := json.Unmarshal(args, input); err != nil {
					return nil, errors.Wrap(err, "failed to unmarshal arguments")
				}
			}
			in = append(in, reflect.ValueOf(input).Elem())
		}

		log.Debug().
			Str("func_type", funcType.String()).
			Int("args_len", len(args)).
			Msg("invoking tool function")

		return extractResults(funcValue.Call(in))
	}
}

// Invoke calls the tool function with the given JSON arguments.
func (f *Func) Invoke(ctx context.Context, args []byte) (interface{}, error) {
	if f.invoke == nil {
		return nil, errors.New("tool function not initialized")
	}
	return f.invoke(ctx, args)
}

func extractResults(results []reflect.Value) (interface{}, error) {
	switch len(results) {
	case 1:
		return results[0].Interface(), nil
	case 2:
		result := results[0].Interface()
		if errV := results[1].Interface(); errV != nil {
			if err, ok := errV.(error); ok {
				return result, err
			}
			return result, errors.Errorf("unexpected error type: %T", errV)
		}
		return result, nil
	default:
		return nil, errors.Errorf("unexpected number of return values: %d", len(results))
	}
}
