package wbxml

import (
	"fmt"
	"io"
	"reflect"
	"strconv"

	"github.com/pkg/errors"
)

// Marshal walks the object graph rooted at v and writes its WBXML
// form to w. The root type and every bound object reachable from it
// must be registered. Members are emitted in declaration order; the
// optional filter set selects among tagged members.
func (r *Registry) Marshal(ctx *Context, w io.Writer, v interface{}, filters ...string) error {
	if ctx == nil {
		ctx = NewContext()
	}
	ctx.Reset()

	e := NewEncoder(w)
	if err := e.writeHeader(ctx); err != nil {
		return err
	}

	val := reflect.ValueOf(v)
	for val.Kind() == reflect.Ptr || val.Kind() == reflect.Interface {
		if val.IsNil() {
			return errors.Wrap(ErrSchemaMissing, "nil root")
		}
		val = val.Elem()
	}
	b := r.bindingFor(val.Type())
	if b == nil {
		return errors.Wrapf(ErrSchemaMissing, "%s", val.Type())
	}

	if err := e.pushPage(ctx, b.page.Index); err != nil {
		return err
	}
	if err := e.pushElement(b.token, true); err != nil {
		return err
	}
	if err := r.marshalMembers(ctx, e, val, b, filters, b.root.Name); err != nil {
		return err
	}
	if err := e.popElement(); err != nil {
		return err
	}
	if err := e.popPage(ctx); err != nil {
		return err
	}
	return e.finalize(ctx)
}

func (r *Registry) marshalMembers(ctx *Context, e *Encoder, val reflect.Value, b *binding, filters []string, path string) error {
	for _, m := range b.members {
		fv := val.FieldByIndex(m.index)
		crumb := path + "." + m.name
		if isEmptyMember(fv, m) {
			if m.required {
				return errors.Wrap(ErrRequiredMissing, crumb)
			}
			continue
		}
		if !m.matchesFilter(filters) {
			continue
		}
		if err := r.marshalMember(ctx, e, fv, m, filters, crumb); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) marshalMember(ctx *Context, e *Encoder, fv reflect.Value, m *memberBinding, filters []string, crumb string) error {
	switch m.kind {
	case kindString:
		return r.marshalText(ctx, e, m.token, fv.String())

	case kindInt:
		return r.marshalText(ctx, e, m.token, strconv.FormatInt(fv.Int(), 10))

	case kindUint:
		return r.marshalText(ctx, e, m.token, strconv.FormatUint(fv.Uint(), 10))

	case kindBytes:
		return e.pushOpaque(byte(m.token), fv.Bytes())

	case kindBool:
		// Presence of the empty element is the value; false was
		// already skipped as empty.
		if err := e.pushElement(byte(m.token), false); err != nil {
			return err
		}
		return e.popElement()

	case kindStruct:
		return r.marshalStruct(ctx, e, fv, m.token, filters, crumb)

	case kindValue:
		return r.marshalCarrier(ctx, e, fv, crumb)

	case kindSlice:
		return r.marshalCollection(ctx, e, fv, m, filters, crumb)

	case kindIface:
		return r.marshalDynamic(ctx, e, fv.Elem(), m, filters, crumb)

	case kindCodec:
		codec, ok := r.opaques[m.elem]
		if !ok {
			return errors.Wrap(ErrUnsupportedOpaqueTarget, crumb)
		}
		data, err := codec.EncodeOpaque(fv.Interface())
		if err != nil {
			return errors.Wrap(err, crumb)
		}
		return e.pushOpaque(byte(m.token), data)
	}
	return errors.Wrapf(ErrSchemaMissing, "%s: unhandled member kind", crumb)
}

// marshalStruct emits a bound object member. A ghost member defers to
// the object's own element bracket; otherwise the member token
// brackets the object's body, switching to the object's page inside.
func (r *Registry) marshalStruct(ctx *Context, e *Encoder, fv reflect.Value, token int, filters []string, crumb string) error {
	sv := fv
	if sv.Kind() == reflect.Ptr {
		sv = sv.Elem()
	}
	cb := r.bindingFor(sv.Type())
	if cb == nil {
		return errors.Wrapf(ErrSchemaMissing, "%s: %s", crumb, sv.Type())
	}
	if token == NoIndex {
		return r.marshalObject(ctx, e, sv, cb, filters, crumb)
	}
	if err := e.pushElement(byte(token), true); err != nil {
		return err
	}
	if err := e.pushPage(ctx, cb.page.Index); err != nil {
		return err
	}
	if err := r.marshalMembers(ctx, e, sv, cb, filters, crumb); err != nil {
		return err
	}
	if err := e.popPage(ctx); err != nil {
		return err
	}
	return e.popElement()
}

// marshalObject emits a bound object under its own element bracket,
// switching to its page first so the token is read in the right page.
func (r *Registry) marshalObject(ctx *Context, e *Encoder, sv reflect.Value, cb *binding, filters []string, crumb string) error {
	if err := e.pushPage(ctx, cb.page.Index); err != nil {
		return err
	}
	if err := e.pushElement(cb.token, true); err != nil {
		return err
	}
	if err := r.marshalMembers(ctx, e, sv, cb, filters, crumb); err != nil {
		return err
	}
	if err := e.popElement(); err != nil {
		return err
	}
	return e.popPage(ctx)
}

func (r *Registry) marshalCarrier(ctx *Context, e *Encoder, fv reflect.Value, crumb string) error {
	if fv.Kind() == reflect.Ptr {
		fv = fv.Elem()
	}
	v := fv.Interface().(Value)
	if v.Field.Token < minElementToken {
		return errors.Wrapf(ErrPageMissing, "%s: carrier has no element identity", crumb)
	}
	if err := e.pushPage(ctx, v.Field.Page); err != nil {
		return err
	}
	content := !v.Empty()
	if err := e.pushElement(v.Field.Token, content); err != nil {
		return err
	}
	if len(v.Data) > 0 {
		if err := e.opaque(v.Data); err != nil {
			return err
		}
	} else if v.Text != "" {
		if err := r.writeText(ctx, e, v.Text); err != nil {
			return err
		}
	}
	if err := e.popElement(); err != nil {
		return err
	}
	return e.popPage(ctx)
}

// marshalCollection emits a collection member. A non-ghost member
// brackets all items with its own token; a ghost member emits each
// item's own bracket instead.
func (r *Registry) marshalCollection(ctx *Context, e *Encoder, fv reflect.Value, m *memberBinding, filters []string, crumb string) error {
	ghost := m.token == NoIndex
	n := fv.Len()
	if !ghost {
		if err := e.pushElement(byte(m.token), n > 0); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		item := fv.Index(i)
		itemCrumb := fmt.Sprintf("%s[%d]", crumb, i)
		switch m.elemKind {
		case kindString:
			s := item.String()
			if ghost {
				if err := e.pushElement(byte(m.itemToken), true); err != nil {
					return err
				}
				if err := r.writeText(ctx, e, s); err != nil {
					return err
				}
				if err := e.popElement(); err != nil {
					return err
				}
			} else if err := r.writeText(ctx, e, s); err != nil {
				return err
			}

		case kindValue:
			if err := r.marshalCarrier(ctx, e, item, itemCrumb); err != nil {
				return err
			}

		case kindStruct:
			sv := item
			if sv.Kind() == reflect.Ptr {
				if sv.IsNil() {
					continue
				}
				sv = sv.Elem()
			}
			cb := r.bindingFor(sv.Type())
			if cb == nil {
				return errors.Wrapf(ErrSchemaMissing, "%s: %s", itemCrumb, sv.Type())
			}
			if ghost {
				if err := r.marshalObject(ctx, e, sv, cb, filters, itemCrumb); err != nil {
					return err
				}
			} else {
				// The wrapper element already brackets the item.
				if err := e.pushPage(ctx, cb.page.Index); err != nil {
					return err
				}
				if err := r.marshalMembers(ctx, e, sv, cb, filters, itemCrumb); err != nil {
					return err
				}
				if err := e.popPage(ctx); err != nil {
					return err
				}
			}
		}
	}
	if !ghost {
		return e.popElement()
	}
	return nil
}

// marshalDynamic emits a generic member from its runtime value.
func (r *Registry) marshalDynamic(ctx *Context, e *Encoder, dv reflect.Value, m *memberBinding, filters []string, crumb string) error {
	for dv.Kind() == reflect.Ptr || dv.Kind() == reflect.Interface {
		if dv.IsNil() {
			return nil
		}
		dv = dv.Elem()
	}
	switch {
	case dv.Kind() == reflect.String:
		return r.marshalText(ctx, e, m.token, dv.String())
	case dv.Kind() == reflect.Slice && dv.Type().Elem().Kind() == reflect.Uint8:
		if m.token == NoIndex {
			return e.opaque(dv.Bytes())
		}
		return e.pushOpaque(byte(m.token), dv.Bytes())
	case dv.Type() == valueType:
		return r.marshalCarrier(ctx, e, dv, crumb)
	case dv.Kind() == reflect.Struct:
		return r.marshalStruct(ctx, e, dv, m.token, filters, crumb)
	}
	return r.marshalText(ctx, e, m.token, fmt.Sprint(dv.Interface()))
}

func (r *Registry) marshalText(ctx *Context, e *Encoder, token int, s string) error {
	if token == NoIndex {
		// Ghost text inherits the surrounding bracket.
		return r.writeText(ctx, e, s)
	}
	if err := e.pushElement(byte(token), true); err != nil {
		return err
	}
	if err := r.writeText(ctx, e, s); err != nil {
		return err
	}
	return e.popElement()
}

func (r *Registry) writeText(ctx *Context, e *Encoder, s string) error {
	if ctx.OpaqueStrings {
		return e.opaque([]byte(s))
	}
	return e.inlineString(s)
}

func isEmptyMember(fv reflect.Value, m *memberBinding) bool {
	switch fv.Kind() {
	case reflect.Ptr, reflect.Interface:
		return fv.IsNil()
	}
	switch m.kind {
	case kindString, kindBytes, kindSlice:
		return fv.Len() == 0
	case kindBool:
		return !fv.Bool()
	case kindValue:
		v := fv.Interface().(Value)
		return v.Field.Token == 0 && v.Empty()
	case kindCodec:
		return fv.IsZero()
	}
	return false
}
