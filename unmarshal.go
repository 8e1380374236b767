package wbxml

import (
	"encoding/hex"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type entryKind int

const (
	entryObject entryKind = iota
	entryCollection
	entryScalar
	entryCarrier
	entryPlaceholder
)

// parseEntry is one open-element frame of the parse stack: the value
// being populated and the members eligible to receive the next child
// element.
type parseEntry struct {
	kind       entryKind
	target     reflect.Value
	candidates []*memberBinding
	elem       reflect.Type
	field      CodePageField
}

// Unmarshal reads one WBXML document from rd into v, which must be a
// non-nil pointer to a registered struct type. The first start element
// is the root bracket and populates v directly; every further element
// must resolve to a declared member.
func (r *Registry) Unmarshal(ctx *Context, rd io.Reader, v interface{}) error {
	if ctx == nil {
		ctx = NewContext()
	}
	ctx.Reset()

	pv := reflect.ValueOf(v)
	if pv.Kind() != reflect.Ptr || pv.IsNil() {
		return errors.Wrap(ErrSchemaMissing, "target must be a non-nil pointer")
	}
	b := r.bindingFor(pv.Elem().Type())
	if b == nil {
		return errors.Wrapf(ErrSchemaMissing, "%s", pv.Elem().Type())
	}

	d := NewDecoder(rd, r)
	stack := []*parseEntry{{kind: entryObject, target: pv, candidates: b.members, field: b.root}}
	rootSeen := false

	for {
		tok, err := d.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case StartElement:
			if ctx.CaptureXML {
				fmt.Fprintf(&ctx.capture, "<%s>", t.Name)
			}
			if !rootSeen {
				rootSeen = true
				continue
			}
			if len(stack) == 0 {
				return errors.Wrap(ErrMalformed, "element after document end")
			}
			top := stack[len(stack)-1]
			m := findField(top.candidates, t.Field)
			if m == nil {
				return errors.Wrapf(ErrUnmappedElement, "%s: <%s> (page %d, token %#x)",
					breadcrumb(stack), t.Name, t.Field.Page, t.Field.Token)
			}
			entry, err := r.enter(top, m, t.Field)
			if err != nil {
				return errors.Wrapf(err, "%s", breadcrumb(stack))
			}
			stack = append(stack, entry)

		case CharData:
			if ctx.CaptureXML {
				ctx.capture.Write(t)
			}
			if err := r.assignText(stack, t); err != nil {
				return err
			}

		case Opaque:
			if ctx.CaptureXML {
				ctx.capture.WriteString(hex.EncodeToString(t))
			}
			if err := r.assignOpaque(stack, t); err != nil {
				return err
			}

		case EndElement:
			if ctx.CaptureXML {
				fmt.Fprintf(&ctx.capture, "</%s>", t.Name)
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// enter builds the frame for a resolved start element, instantiating
// and attaching the child value it targets.
func (r *Registry) enter(parent *parseEntry, m *memberBinding, cp CodePageField) (*parseEntry, error) {
	fv := parent.target.Elem().FieldByIndex(m.index)

	switch m.kind {
	case kindBool:
		fv.SetBool(true)
		return &parseEntry{kind: entryPlaceholder, target: parent.target, field: cp}, nil

	case kindStruct:
		target, cb, err := r.instantiate(fv, m, cp)
		if err != nil {
			return nil, err
		}
		return &parseEntry{kind: entryObject, target: target, candidates: cb.members, field: cp}, nil

	case kindValue:
		return r.enterCarrier(fv, cp)

	case kindSlice:
		return r.enterCollection(fv, m, cp)

	default:
		// Scalar: the coming text or opaque event carries the value.
		return &parseEntry{
			kind:       entryScalar,
			target:     parent.target,
			candidates: []*memberBinding{m},
			field:      cp,
		}, nil
	}
}

// instantiate creates the bound object a struct member targets and
// attaches it to the field. The model override applies when the field
// can hold it.
func (r *Registry) instantiate(fv reflect.Value, m *memberBinding, cp CodePageField) (reflect.Value, *binding, error) {
	ct := m.elem
	if m.model != nil {
		ct = m.model
	}
	if cp.Model != nil {
		ct = cp.Model
	}
	if fv.Kind() != reflect.Interface && fv.Type() != ct && (fv.Kind() != reflect.Ptr || fv.Type().Elem() != ct) {
		ct = m.elem
	}
	cb := r.bindingFor(ct)
	if cb == nil {
		return reflect.Value{}, nil, errors.Wrapf(ErrSchemaMissing, "%s", ct)
	}

	if fv.Kind() == reflect.Ptr {
		np := reflect.New(ct)
		fv.Set(np)
		return np, cb, nil
	}
	return fv.Addr(), cb, nil
}

func (r *Registry) enterCarrier(fv reflect.Value, cp CodePageField) (*parseEntry, error) {
	carrier := Value{Field: cp}
	if fv.Kind() == reflect.Ptr {
		np := reflect.New(valueType)
		np.Elem().Set(reflect.ValueOf(carrier))
		fv.Set(np)
		return &parseEntry{kind: entryCarrier, target: np, field: cp}, nil
	}
	fv.Set(reflect.ValueOf(carrier))
	return &parseEntry{kind: entryCarrier, target: fv.Addr(), field: cp}, nil
}

// enterCollection attaches one item to the collection member. String
// collections are targeted directly so text events append; object and
// carrier items get their own frame.
func (r *Registry) enterCollection(fv reflect.Value, m *memberBinding, cp CodePageField) (*parseEntry, error) {
	switch m.elemKind {
	case kindString:
		return &parseEntry{kind: entryCollection, target: fv.Addr(), elem: m.elem, field: cp}, nil

	case kindValue:
		carrier := Value{Field: cp}
		if fv.Type().Elem().Kind() == reflect.Ptr {
			np := reflect.New(valueType)
			np.Elem().Set(reflect.ValueOf(carrier))
			fv.Set(reflect.Append(fv, np))
			return &parseEntry{kind: entryCarrier, target: np, field: cp}, nil
		}
		fv.Set(reflect.Append(fv, reflect.ValueOf(carrier)))
		return &parseEntry{kind: entryCarrier, target: fv.Index(fv.Len() - 1).Addr(), field: cp}, nil

	default:
		it := m.elem
		if m.model != nil {
			it = m.model
		}
		if cp.Model != nil {
			it = cp.Model
		}
		if fv.Type().Elem().Kind() != reflect.Ptr && fv.Type().Elem() != it {
			it = m.elem
		}
		cb := r.bindingFor(it)
		if cb == nil {
			return nil, errors.Wrapf(ErrSchemaMissing, "%s", it)
		}
		np := reflect.New(it)
		if fv.Type().Elem().Kind() == reflect.Ptr {
			fv.Set(reflect.Append(fv, np))
			return &parseEntry{kind: entryObject, target: np, candidates: cb.members, field: cp}, nil
		}
		fv.Set(reflect.Append(fv, np.Elem()))
		return &parseEntry{kind: entryObject, target: fv.Index(fv.Len() - 1).Addr(), candidates: cb.members, field: cp}, nil
	}
}

func (r *Registry) assignText(stack []*parseEntry, t CharData) error {
	if len(stack) == 0 {
		log.Debugf("wbxml: ignoring text %q outside document", t)
		return nil
	}
	top := stack[len(stack)-1]
	switch top.kind {
	case entryCollection:
		sl := top.target.Elem()
		sl.Set(reflect.Append(sl, reflect.ValueOf(string(t)).Convert(top.elem)))
		return nil
	case entryCarrier:
		carrier := top.target.Interface().(*Value)
		carrier.Text += string(t)
		return nil
	}
	m := findField(top.candidates, top.field)
	if m == nil {
		log.Debugf("wbxml: ignoring text %q at %s", t, breadcrumb(stack))
		return nil
	}
	fv := top.target.Elem().FieldByIndex(m.index)
	return setScalarText(fv, m, string(t), breadcrumb(stack))
}

func (r *Registry) assignOpaque(stack []*parseEntry, data Opaque) error {
	if len(stack) == 0 {
		return errors.Wrap(ErrUnmappedOpaque, "opaque outside document")
	}
	top := stack[len(stack)-1]
	switch top.kind {
	case entryCarrier:
		carrier := top.target.Interface().(*Value)
		carrier.Data = append([]byte(nil), data...)
		return nil
	case entryCollection:
		if top.elem.Kind() == reflect.String {
			sl := top.target.Elem()
			sl.Set(reflect.Append(sl, reflect.ValueOf(string(data)).Convert(top.elem)))
			return nil
		}
		return errors.Wrapf(ErrUnmappedOpaque, "%s", breadcrumb(stack))
	}

	m := findField(top.candidates, top.field)
	if m == nil {
		return errors.Wrapf(ErrUnmappedOpaque, "%s", breadcrumb(stack))
	}
	fv := top.target.Elem().FieldByIndex(m.index)
	crumb := breadcrumb(stack)

	switch m.kind {
	case kindString:
		fv.SetString(string(data))
	case kindBytes:
		fv.SetBytes(append([]byte(nil), data...))
	case kindInt, kindUint:
		return setScalarText(fv, m, string(data), crumb)
	case kindIface:
		// A payload that is itself a WBXML document stays raw bytes.
		if probeDocument(data, r) {
			fv.Set(reflect.ValueOf(append([]byte(nil), data...)))
		} else {
			fv.Set(reflect.ValueOf(string(data)))
		}
	default:
		codec, ok := r.opaques[m.elem]
		if !ok {
			return errors.Wrapf(ErrUnsupportedOpaqueTarget, "%s (%s)", crumb, fv.Type())
		}
		decoded, err := codec.DecodeOpaque(append([]byte(nil), data...))
		if err != nil {
			return errors.Wrapf(err, "%s", crumb)
		}
		dv := reflect.ValueOf(decoded)
		if fv.Kind() == reflect.Ptr && dv.Kind() != reflect.Ptr {
			np := reflect.New(fv.Type().Elem())
			np.Elem().Set(dv)
			dv = np
		}
		fv.Set(dv)
	}
	return nil
}

func setScalarText(fv reflect.Value, m *memberBinding, s, crumb string) error {
	switch m.kind {
	case kindString:
		fv.SetString(s)
	case kindInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return errors.Wrapf(ErrMalformed, "%s: %v", crumb, err)
		}
		fv.SetInt(i)
	case kindUint:
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return errors.Wrapf(ErrMalformed, "%s: %v", crumb, err)
		}
		fv.SetUint(u)
	case kindBytes:
		fv.SetBytes([]byte(s))
	case kindIface:
		fv.Set(reflect.ValueOf(s))
	default:
		log.Debugf("wbxml: ignoring text for %s member %s", fv.Type(), m.name)
	}
	return nil
}

// probeDocument reports whether b opens like a WBXML document: a
// parseable header followed by at least one resolvable event.
func probeDocument(b []byte, finder PageFinder) bool {
	d := NewDecoderBytes(b, finder)
	_, err := d.Next()
	return err == nil
}

func breadcrumb(stack []*parseEntry) string {
	names := make([]string, 0, len(stack))
	for _, e := range stack {
		if e.field.Name != "" {
			names = append(names, e.field.Name)
		}
	}
	return strings.Join(names, ".")
}
