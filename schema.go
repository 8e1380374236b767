package wbxml

import (
	"reflect"

	"github.com/pkg/errors"
)

// NoIndex marks a ghost member: one that emits no element bracket of
// its own, its children appearing directly inside the surrounding
// element.
const NoIndex = -1

// TokenEntry names one element token of a code page. Model, when set,
// is a prototype of the concrete type a decoder instantiates for this
// token (the modelClass override).
type TokenEntry struct {
	Name  string
	Model interface{}
}

// Page is a declarative code page: a numbered namespace of element
// tokens with a document public identity.
type Page struct {
	Index    int
	PublicID uint32
	Tokens   map[byte]TokenEntry
}

// Member declares the binding of one struct field. Token is the
// element token within the owning binding's page, or NoIndex for a
// ghost member. ItemToken brackets the items of a ghost collection of
// strings. Model overrides the concrete type instantiated for the
// member. Filters tags the member for marshal-time filter sets.
type Member struct {
	Name      string
	Token     int
	ItemToken int
	Model     interface{}
	Required  bool
	Filters   []string
}

// OpaqueCodec converts between a typed member value and an opaque
// payload. Register one for member types the engines do not handle
// natively.
type OpaqueCodec interface {
	EncodeOpaque(v interface{}) ([]byte, error)
	DecodeOpaque(b []byte) (interface{}, error)
}

// PageFinder resolves a (page, token) pair to its schema field. The
// Registry is the canonical implementation.
type PageFinder interface {
	FindField(page int, code byte) (CodePageField, error)
}

type memberKind int

const (
	kindString memberKind = iota
	kindBytes
	kindBool
	kindInt
	kindUint
	kindStruct
	kindSlice
	kindIface
	kindValue
	kindCodec
)

type memberBinding struct {
	name      string
	token     int
	itemToken int
	index     []int
	kind      memberKind
	typ       reflect.Type
	elem      reflect.Type
	elemKind  memberKind
	model     reflect.Type
	required  bool
	filters   map[string]struct{}
	classes   map[reflect.Type]struct{}
}

// matchesFilter is permissive on empty: a member is filtered out only
// when both its tag set and the caller's set are non-empty and
// disjoint.
func (m *memberBinding) matchesFilter(filters []string) bool {
	if len(m.filters) == 0 || len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if _, ok := m.filters[f]; ok {
			return true
		}
	}
	return false
}

type binding struct {
	typ     reflect.Type
	page    *Page
	token   byte
	root    CodePageField
	members []*memberBinding
}

// Registry holds the declared bindings: for each object type its code
// page, element token, and ordered member list. Immutable once
// declarations are done; safe to share across concurrent marshal and
// unmarshal calls.
type Registry struct {
	pages    map[int]*Page
	fields   map[int]CodePageField
	bindings map[reflect.Type]*binding
	opaques  map[reflect.Type]OpaqueCodec
}

func NewRegistry() *Registry {
	return &Registry{
		pages:    make(map[int]*Page),
		fields:   make(map[int]CodePageField),
		bindings: make(map[reflect.Type]*binding),
		opaques:  make(map[reflect.Type]OpaqueCodec),
	}
}

// AddPage declares a code page and its token names.
func (r *Registry) AddPage(p Page) error {
	if p.Index < 0 || p.Index > 255 {
		return errors.Errorf("wbxml: page index %d out of range", p.Index)
	}
	if _, ok := r.pages[p.Index]; ok {
		return errors.Errorf("wbxml: page %d already declared", p.Index)
	}
	for code, entry := range p.Tokens {
		if code < minElementToken || code > maxElementToken {
			return errors.Errorf("wbxml: page %d: token %#x out of range [%#x, %#x]",
				p.Index, code, minElementToken, maxElementToken)
		}
		r.fields[fieldKey(p.Index, code)] = CodePageField{
			Page:  p.Index,
			Token: code,
			Name:  entry.Name,
			Model: baseType(entry.Model),
		}
	}
	page := p
	r.pages[p.Index] = &page
	return nil
}

// MustAddPage is AddPage, panicking on declaration errors.
func (r *Registry) MustAddPage(p Page) {
	if err := r.AddPage(p); err != nil {
		panic(err)
	}
}

// RegisterOpaque declares an inner codec for a member type. Codecs
// must be registered before any binding that uses the type.
func (r *Registry) RegisterOpaque(proto interface{}, codec OpaqueCodec) {
	r.opaques[baseType(proto)] = codec
}

// Register binds a struct type to (page, token) and declares its
// members in emission order.
func (r *Registry) Register(proto interface{}, page int, token byte, members ...Member) error {
	t := baseType(proto)
	if t == nil || t.Kind() != reflect.Struct {
		return errors.Errorf("wbxml: cannot bind %T, need a struct", proto)
	}
	pg, ok := r.pages[page]
	if !ok {
		return errors.Wrapf(ErrPageMissing, "binding %s: page %d not declared", t.Name(), page)
	}
	if token < minElementToken || token > maxElementToken {
		return errors.Errorf("wbxml: binding %s: token %#x out of range", t.Name(), token)
	}
	if _, ok := r.bindings[t]; ok {
		return errors.Errorf("wbxml: %s already bound", t.Name())
	}

	b := &binding{typ: t, page: pg, token: token}
	b.root = CodePageField{Page: page, Token: token, Name: t.Name()}
	if entry, ok := pg.Tokens[token]; ok && entry.Name != "" {
		b.root.Name = entry.Name
	}

	for _, dm := range members {
		m, err := r.compileMember(t, dm)
		if err != nil {
			return errors.Wrapf(err, "binding %s", t.Name())
		}
		b.members = append(b.members, m)
	}
	r.bindings[t] = b
	return nil
}

// MustRegister is Register, panicking on declaration errors.
func (r *Registry) MustRegister(proto interface{}, page int, token byte, members ...Member) {
	if err := r.Register(proto, page, token, members...); err != nil {
		panic(err)
	}
}

func (r *Registry) compileMember(t reflect.Type, dm Member) (*memberBinding, error) {
	sf, ok := t.FieldByName(dm.Name)
	if !ok {
		return nil, errors.Errorf("no field %s", dm.Name)
	}
	if dm.Token != NoIndex && (dm.Token < minElementToken || dm.Token > maxElementToken) {
		return nil, errors.Errorf("member %s: token %#x out of range", dm.Name, dm.Token)
	}

	m := &memberBinding{
		name:      dm.Name,
		token:     dm.Token,
		itemToken: NoIndex,
		index:     sf.Index,
		typ:       sf.Type,
		model:     baseType(dm.Model),
		required:  dm.Required,
		filters:   make(map[string]struct{}, len(dm.Filters)),
		classes:   make(map[reflect.Type]struct{}, 2),
	}
	for _, f := range dm.Filters {
		m.filters[f] = struct{}{}
	}
	if dm.ItemToken != 0 {
		if dm.ItemToken < minElementToken || dm.ItemToken > maxElementToken {
			return nil, errors.Errorf("member %s: item token %#x out of range", dm.Name, dm.ItemToken)
		}
		m.itemToken = dm.ItemToken
	}

	ft := sf.Type
	if ft.Kind() == reflect.Ptr {
		ft = ft.Elem()
	}
	switch {
	case ft == valueType:
		m.kind = kindValue
		m.classes[valueType] = struct{}{}
	case r.opaques[ft] != nil:
		m.kind = kindCodec
		m.elem = ft
		m.classes[ft] = struct{}{}
	case ft.Kind() == reflect.String:
		m.kind = kindString
	case ft.Kind() == reflect.Bool:
		m.kind = kindBool
	case ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Uint8:
		m.kind = kindBytes
	case ft.Kind() == reflect.Slice:
		m.kind = kindSlice
		et := ft.Elem()
		if et.Kind() == reflect.Ptr {
			et = et.Elem()
		}
		m.elem = et
		switch {
		case et == valueType:
			m.elemKind = kindValue
			m.classes[valueType] = struct{}{}
		case et.Kind() == reflect.String:
			m.elemKind = kindString
		case et.Kind() == reflect.Struct:
			m.elemKind = kindStruct
			m.classes[et] = struct{}{}
		default:
			return nil, errors.Errorf("member %s: unsupported collection element type %s", dm.Name, et)
		}
		if m.token == NoIndex && m.elemKind == kindString && m.itemToken == NoIndex {
			return nil, errors.Errorf("member %s: ghost string collection needs ItemToken", dm.Name)
		}
	case ft.Kind() == reflect.Interface && ft.NumMethod() == 0:
		m.kind = kindIface
	case ft.Kind() == reflect.Struct:
		m.kind = kindStruct
		m.elem = ft
		m.classes[ft] = struct{}{}
	case isIntKind(ft.Kind()):
		m.kind = kindInt
	case isUintKind(ft.Kind()):
		m.kind = kindUint
	default:
		m.kind = kindCodec
		m.elem = ft
		m.classes[ft] = struct{}{}
	}

	if m.model != nil {
		m.classes[m.model] = struct{}{}
	}
	if m.token == NoIndex {
		switch m.kind {
		case kindStruct, kindSlice, kindValue, kindIface:
		default:
			return nil, errors.Errorf("member %s: ghost binding needs an element-shaped type", dm.Name)
		}
	}
	return m, nil
}

func (r *Registry) bindingFor(t reflect.Type) *binding {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return r.bindings[t]
}

// FindField resolves a (page, token) pair against the declared pages.
func (r *Registry) FindField(page int, code byte) (CodePageField, error) {
	f, ok := r.fields[fieldKey(page, code)]
	if !ok {
		if _, ok := r.pages[page]; !ok {
			return CodePageField{}, errors.Wrapf(ErrUnmappedElement, "unknown page %d", page)
		}
		return CodePageField{}, errors.Wrapf(ErrUnmappedElement, "unknown code %#x in page %d", code, page)
	}
	return f, nil
}

// findField resolves an incoming element against a candidate member
// set. Resolution order: token match (a collection's item token
// counts), then modelClass match, then the sole-candidate fallbacks
// for generic containers and Value carriers.
func findField(candidates []*memberBinding, cp CodePageField) *memberBinding {
	for _, m := range candidates {
		if m.token != NoIndex && byte(m.token) == cp.Token {
			return m
		}
		if m.kind == kindSlice && m.itemToken != NoIndex && byte(m.itemToken) == cp.Token {
			return m
		}
	}
	if cp.Model != nil {
		for _, m := range candidates {
			if _, ok := m.classes[cp.Model]; ok {
				return m
			}
		}
	}
	if len(candidates) == 1 {
		m := candidates[0]
		if m.kind == kindIface {
			return m
		}
		if _, ok := m.classes[valueType]; ok {
			return m
		}
	}
	return nil
}

func fieldKey(page int, code byte) int {
	return page<<8 | int(code)
}

func baseType(proto interface{}) reflect.Type {
	if proto == nil {
		return nil
	}
	t := reflect.TypeOf(proto)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUintKind(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
