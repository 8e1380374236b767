package wbxml

import "github.com/pkg/errors"

// Sentinel errors for every failure class of the codec. Engine errors
// wrap these with a breadcrumb, a dot-joined path from the root: the
// root element name followed by member names when marshalling, and
// element names (not member names) when unmarshalling. Callers
// classify with errors.Is and still see where in the document the
// failure happened.
var (
	// ErrSchemaMissing reports a root or nested object whose type has
	// no registered binding.
	ErrSchemaMissing = errors.New("wbxml: no binding for type")

	// ErrPageMissing reports that no code page could be determined for
	// an element about to be entered.
	ErrPageMissing = errors.New("wbxml: no code page")

	// ErrRequiredMissing reports a member marked Required whose value
	// is nil or empty at marshal time.
	ErrRequiredMissing = errors.New("wbxml: required member missing")

	// ErrUnmappedElement reports an incoming start element that
	// resolves to no member of the object being populated.
	ErrUnmappedElement = errors.New("wbxml: unmapped element")

	// ErrUnmappedOpaque reports an opaque payload with no assignable
	// target.
	ErrUnmappedOpaque = errors.New("wbxml: unmapped opaque")

	// ErrUnsupportedOpaqueTarget reports an opaque payload for a typed
	// member with no registered inner codec.
	ErrUnsupportedOpaqueTarget = errors.New("wbxml: no codec for opaque target")

	// ErrMalformed reports a syntactically invalid WBXML stream.
	ErrMalformed = errors.New("wbxml: malformed document")
)
