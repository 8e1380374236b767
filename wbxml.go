/*
Package wbxml implements a schema-driven WBXML marshaller: a
bidirectional codec between typed Go object graphs and the WAP Binary
XML wire format used by protocols such as ActiveSync and SyncML.

Specifications of the standard are available at https://www.w3.org/TR/wbxml.

The mapping between wire tokens and Go values is declared up front on a
Registry: each struct type is bound to a code page and element token,
and each of its members to a token within that page. Both engines
consume the same registry; no struct tags and no per-call binding
derivation are involved.

	reg := wbxml.NewRegistry()
	reg.MustAddPage(wbxml.Page{Index: 13, PublicID: 1, Tokens: map[byte]wbxml.TokenEntry{
		0x05: {Name: "Ping"},
		0x0A: {Name: "HeartbeatInterval"},
	}})
	reg.MustRegister(Ping{}, 13, 0x05,
		wbxml.Member{Name: "HeartbeatInterval", Token: 0x0A})

	var buf bytes.Buffer
	err := reg.Marshal(wbxml.NewContext(), &buf, &Ping{HeartbeatInterval: "480"})

This package supports most WBXML constructs, except:
  - Process Instruction (PI)
  - Literal tag and attribute (LITERAL)
  - Extension tokens (EXT*)
  - Attributes (the attribute bit on a tag is rejected)
  - String tables on emission (reads are supported, writes never emit one)

WBXML grammar is:

	start		= version publicid charset strtbl body
	strtbl		= length *byte
	body		= *pi element *pi
	element	= stag [ 1*attribute END ] [ *content END ]

	content	= element | string | extension | entity | pi | opaque

	stag		= TAG | ( LITERAL index )

	string		= inline | tableref
	inline		= STR_I termstr
	tableref	= STR_T index

	entity		= ENTITY entcode
	entcode	= mb_u_int32			// UCS-4 character code

	opaque		= OPAQUE length *byte

	version	= u_int8 containing WBXML version number
	publicid	= mb_u_int32 | ( zero index )
	charset	= mb_u_int32
	termstr	= charset-dependent string with termination
	index		= mb_u_int32			// integer index into string table.
	length		= mb_u_int32			// integer length.
	zero		= u_int8			// containing the value zero (0).
*/
package wbxml

import "reflect"

// Wire defaults. The version byte follows the ActiveSync convention;
// charset 106 is the IANA MIBenum for UTF-8.
const (
	DefaultVersion  uint8  = 0x03
	DefaultPublicID uint32 = 1
	CharsetUTF8     uint32 = 106
)

// CodePageField identifies one element within a code page: the page
// index, the token byte, the element name, and (optionally) the
// concrete type a decoder instantiates for it.
type CodePageField struct {
	Page  int
	Token byte
	Name  string
	Model reflect.Type
}

// Token is an interface holding one of the event types:
// StartElement, EndElement, CharData, Opaque.
type Token interface{}

// StartElement represents the start tag of a WBXML element, resolved
// against the registry's code pages.
type StartElement struct {
	Field   CodePageField
	Name    string
	Content bool
	Offset  int
}

// EndElement represents the end tag of a WBXML element.
type EndElement struct {
	Name   string
	Offset int
}

// CharData represents multiple adjacent strings (inline or tableref)
// and entities, aggregated into one text run.
type CharData []byte

// Opaque represents an opaque run of uninterpreted bytes.
type Opaque []byte

// Header represents the header of a WBXML document.
type Header struct {
	Version     uint8
	PublicID    uint32
	Charset     uint32
	StringTable []byte
}

const (
	gloSwitchPage = 0x0  // 	Change the code page for the current token state. Followed by a single u_int8 indicating the new code page number.
	gloEnd        = 0x1  // 	Indicates the end of an attribute list or the end of an element.
	gloEntity     = 0x2  // 	A character entity. Followed by a mb_u_int32 encoding the character entity number.
	gloStrI       = 0x3  // 	Inline string. Followed by a termstr.
	gloLiteral    = 0x4  // 	An unknown tag or attribute name. Followed by an mb_u_int32 that encodes an offset into the string table.
	gloExtI0      = 0x40 // 	Inline string document-type-specific extension token. Token is followed by a termstr.
	gloExtI1      = 0x41 // 	Inline string document-type-specific extension token. Token is followed by a termstr.
	gloExtI2      = 0x42 // 	Inline string document-type-specific extension token. Token is followed by a termstr.
	gloPi         = 0x43 // 	Processing instruction.
	gloLiteralC   = 0x44 // 	Unknown tag, with content.
	gloExtT0      = 0x80 // 	Inline integer document-type-specific extension token. Token is followed by a mb_uint_32.
	gloExtT1      = 0x81 // 	Inline integer document-type-specific extension token. Token is followed by a mb_uint_32.
	gloExtT2      = 0x82 // 	Inline integer document-type-specific extension token. Token is followed by a mb_uint_32.
	gloStrT       = 0x83 // 	String table reference. Followed by a mb_u_int32 encoding a byte offset from the beginning of the string table.
	gloLiteralA   = 0x84 // 	Unknown tag, with attributes.
	gloExt0       = 0xC0 // 	Single-byte document-type-specific extension token.
	gloExt1       = 0xC1 // 	Single-byte document-type-specific extension token.
	gloExt2       = 0xC2 // 	Single-byte document-type-specific extension token.
	gloOpaque     = 0xC3 // 	Opaque document-type-specific data.
	gloLiteralAC  = 0xC4 // 	Unknown tag, with content and attributes.
)

// Tag represents a non-global tag in a WBXML document.
type Tag byte

const tagAttrMask = 0x80
const tagContentMask = 0x40

// Element tokens live in the low six bits of a tag byte.
const (
	minElementToken = 0x05
	maxElementToken = 0x3F
)

// Attr returns if a Tag has some attributes following it.
func (t Tag) Attr() bool {
	return t&tagAttrMask == tagAttrMask
}

// Content returns if a Tag has some content following it.
func (t Tag) Content() bool {
	return t&tagContentMask == tagContentMask
}

// ID returns the code identifying a Tag in its code space.
func (t Tag) ID() byte {
	return byte(t & 0x03F)
}
