// Package bind wires resolved providers into the parameters of ordinary
// functions at call time. The association between a parameter and a
// provider name is an explicit side-table declared up front with Bind;
// nothing is discovered from signatures at call time.
package bind

import (
	"context"
	"fmt"
	"reflect"

	"github.com/pkg/errors"

	"github.com/twitter/icebox/container"
)

var (
	errType = reflect.TypeOf(new(error)).Elem()
	ctxType = reflect.TypeOf(new(context.Context)).Elem()
)

// Binding is a call wrapper around one function. Parameters marked with
// Bind are filled from the container when Call runs; parameters the
// caller supplies explicitly are passed through untouched and never
// resolved.
type Binding struct {
	c      *container.Container
	fn     reflect.Value
	ft     reflect.Type
	params map[int]string
	hasErr bool
}

// New wraps fn for injection. fn must be a non-variadic function; if
// its last result is an error it is split off and returned from Call.
func New(c *container.Container, fn interface{}) (*Binding, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, errors.Errorf("fn must be a func; was %v", t)
	}
	if t.IsVariadic() {
		return nil, errors.Errorf("fn must not be variadic; was %v", t)
	}
	hasErr := t.NumOut() > 0 && t.Out(t.NumOut()-1).Implements(errType)
	return &Binding{c: c, fn: v, ft: t, params: make(map[int]string), hasErr: hasErr}, nil
}

// Bind marks parameter param (zero-based) to be filled from the named
// provider. Panics on an out-of-range parameter, as that is a
// programming error at wiring time.
func (b *Binding) Bind(param int, provider string) *Binding {
	if param < 0 || param >= b.ft.NumIn() {
		panic(fmt.Errorf("bind: parameter %d out of range for %v", param, b.ft))
	}
	b.params[param] = provider
	return b
}

// Call invokes the wrapped function. Each parameter is filled, in
// precedence order, from: the caller's explicit args map, the bound
// provider (resolved against scope, which may be nil), or ctx itself
// for a context.Context parameter. Any parameter left unfilled is an
// error. Returns the function's results, minus a trailing error result
// which is returned separately.
func (b *Binding) Call(ctx context.Context, scope *container.Scope, args map[int]interface{}) (result []interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("calling %v: %v", b.ft, r)
		}
	}()

	in := make([]reflect.Value, b.ft.NumIn())
	for i := 0; i < b.ft.NumIn(); i++ {
		pt := b.ft.In(i)
		if v, ok := args[i]; ok {
			av, err := argValue(v, pt)
			if err != nil {
				return nil, errors.Wrapf(err, "explicit argument %d", i)
			}
			in[i] = av
			continue
		}
		if name, ok := b.params[i]; ok {
			v, err := b.c.ResolveIn(ctx, scope, name)
			if err != nil {
				return nil, errors.Wrapf(err, "filling parameter %d from provider %q", i, name)
			}
			av, err := argValue(v, pt)
			if err != nil {
				return nil, errors.Wrapf(err, "provider %q for parameter %d", name, i)
			}
			in[i] = av
			continue
		}
		if pt == ctxType {
			in[i] = reflect.ValueOf(ctx)
			continue
		}
		return nil, errors.Errorf("parameter %d of %v is neither bound nor supplied", i, b.ft)
	}

	out := b.fn.Call(in)
	if b.hasErr {
		last := out[len(out)-1]
		out = out[:len(out)-1]
		if !last.IsNil() {
			return unwrap(out), last.Interface().(error)
		}
	}
	return unwrap(out), nil
}

func argValue(v interface{}, pt reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch pt.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
			return reflect.Zero(pt), nil
		}
		return reflect.Value{}, errors.Errorf("nil is not assignable to %v", pt)
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(pt) {
		return reflect.Value{}, errors.Errorf("%v is not assignable to %v", rv.Type(), pt)
	}
	return rv, nil
}

func unwrap(out []reflect.Value) []interface{} {
	results := make([]interface{}, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	return results
}
