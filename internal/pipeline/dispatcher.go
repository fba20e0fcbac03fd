package pipeline

import (
	"context"

	"github.com/gqlgate/gqlgate/internal/executor"
	"github.com/gqlgate/gqlgate/internal/gqlerr"
	"github.com/gqlgate/gqlgate/internal/schema"
)

// dispatcher fans lifecycle events out to the listeners of one request. The
// typed per-phase lists are built once, at request start, in registration
// order.
type dispatcher struct {
	parsing    []ParsingListener
	validation []ValidationListener
	execution  []ExecutionListener
	operation  []OperationListener
	response   []ResponseListener
	errListen  []ErrorListener
	responders []OperationResponder
	fields     []FieldListener
}

func newDispatcher(ctx context.Context, rc *RequestContext, plugins []Plugin) (*dispatcher, error) {
	d := &dispatcher{}
	for _, p := range plugins {
		l, err := p.RequestDidStart(ctx, rc)
		if err != nil {
			return nil, err
		}
		if l == nil {
			continue
		}
		if x, ok := l.(ParsingListener); ok {
			d.parsing = append(d.parsing, x)
		}
		if x, ok := l.(ValidationListener); ok {
			d.validation = append(d.validation, x)
		}
		if x, ok := l.(ExecutionListener); ok {
			d.execution = append(d.execution, x)
		}
		if x, ok := l.(OperationListener); ok {
			d.operation = append(d.operation, x)
		}
		if x, ok := l.(ResponseListener); ok {
			d.response = append(d.response, x)
		}
		if x, ok := l.(ErrorListener); ok {
			d.errListen = append(d.errListen, x)
		}
		if x, ok := l.(OperationResponder); ok {
			d.responders = append(d.responders, x)
		}
		if x, ok := l.(FieldListener); ok {
			d.fields = append(d.fields, x)
		}
	}
	return d, nil
}

// reverseEnds bundles collected end callbacks into one EndFunc that fires
// them most-recently-started first, mirroring scoped-resource nesting.
func reverseEnds(ends []EndFunc) EndFunc {
	return func(err error) {
		for i := len(ends) - 1; i >= 0; i-- {
			ends[i](err)
		}
	}
}

// Start/end pairing: starts run in registration order. When a start fails,
// the ends already collected still run (with the failure) before the phase
// aborts, so every started listener releases what it acquired.

func (d *dispatcher) parsingDidStart(ctx context.Context, rc *RequestContext) (EndFunc, error) {
	ends := make([]EndFunc, 0, len(d.parsing))
	for _, l := range d.parsing {
		end, err := l.ParsingDidStart(ctx, rc)
		if err != nil {
			reverseEnds(ends)(err)
			return nil, err
		}
		if end != nil {
			ends = append(ends, end)
		}
	}
	return reverseEnds(ends), nil
}

func (d *dispatcher) validationDidStart(ctx context.Context, rc *RequestContext) (EndFunc, error) {
	ends := make([]EndFunc, 0, len(d.validation))
	for _, l := range d.validation {
		end, err := l.ValidationDidStart(ctx, rc)
		if err != nil {
			reverseEnds(ends)(err)
			return nil, err
		}
		if end != nil {
			ends = append(ends, end)
		}
	}
	return reverseEnds(ends), nil
}

func (d *dispatcher) executionDidStart(ctx context.Context, rc *RequestContext) (EndFunc, error) {
	ends := make([]EndFunc, 0, len(d.execution))
	for _, l := range d.execution {
		end, err := l.ExecutionDidStart(ctx, rc)
		if err != nil {
			reverseEnds(ends)(err)
			return nil, err
		}
		if end != nil {
			ends = append(ends, end)
		}
	}
	return reverseEnds(ends), nil
}

// Ordered hooks: strictly sequential in registration order because later
// listeners may depend on earlier mutations of rc. The first error aborts the
// remainder.

func (d *dispatcher) didResolveOperation(ctx context.Context, rc *RequestContext) error {
	for _, l := range d.operation {
		if err := l.DidResolveOperation(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}

func (d *dispatcher) willSendResponse(ctx context.Context, rc *RequestContext) error {
	for _, l := range d.response {
		if err := l.WillSendResponse(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}

func (d *dispatcher) didEncounterErrors(ctx context.Context, rc *RequestContext, errs []*gqlerr.Error) error {
	for _, l := range d.errListen {
		if err := l.DidEncounterErrors(ctx, rc, errs); err != nil {
			return err
		}
	}
	return nil
}

// responseForOperation returns the first non-nil response, skipping the
// remaining responders.
func (d *dispatcher) responseForOperation(ctx context.Context, rc *RequestContext) (*executor.Response, error) {
	for _, l := range d.responders {
		resp, err := l.ResponseForOperation(ctx, rc)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

// fieldObserver exposes the field listeners to the engine. Nil when no
// listener cares about fields, so uninstrumented requests pay nothing.
func (d *dispatcher) fieldObserver() schema.FieldObserver {
	if len(d.fields) == 0 {
		return nil
	}
	return d
}

// WillResolveField implements schema.FieldObserver over the field listeners.
// End handlers fire in reverse start order, like the phase-level pairs.
func (d *dispatcher) WillResolveField(p schema.ResolveParams) schema.FieldEndFunc {
	ends := make([]schema.FieldEndFunc, 0, len(d.fields))
	for _, l := range d.fields {
		if end := l.WillResolveField(p); end != nil {
			ends = append(ends, end)
		}
	}
	if len(ends) == 0 {
		return nil
	}
	return func(result any, err error) {
		for i := len(ends) - 1; i >= 0; i-- {
			ends[i](result, err)
		}
	}
}
