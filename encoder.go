package wbxml

import (
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Encoder is the byte-level WBXML writer. It tracks open elements so
// empty elements (content bit unset) get no END opcode, and emits
// SWITCH_PAGE opcodes through the context's code-page stack.
type Encoder struct {
	w      io.Writer
	offset int
	open   []bool
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, open: make([]bool, 0, 8)}
}

// writeHeader emits version, public id, charset and an empty string
// table, defaulting unset context fields.
func (e *Encoder) writeHeader(ctx *Context) error {
	if ctx.Version == 0 {
		log.Warnf("wbxml: version unset, defaulting to %#x", DefaultVersion)
		ctx.Version = DefaultVersion
	}
	if err := e.writeVersion(ctx); err != nil {
		return err
	}
	if ctx.PublicID == 0 {
		log.Warnf("wbxml: public id unset, defaulting to %d", DefaultPublicID)
		ctx.PublicID = DefaultPublicID
	}
	if err := e.writePublicID(ctx); err != nil {
		return err
	}
	if ctx.Charset == 0 {
		log.Warn("wbxml: charset unset, defaulting to UTF-8")
		ctx.Charset = CharsetUTF8
	}
	if err := e.writeEncoding(ctx); err != nil {
		return err
	}
	return e.writeStringTable(ctx)
}

func (e *Encoder) writeVersion(ctx *Context) error {
	return writeByte(e, ctx.Version)
}

func (e *Encoder) writePublicID(ctx *Context) error {
	return writeMbUint32(e, ctx.PublicID)
}

func (e *Encoder) writeEncoding(ctx *Context) error {
	return writeMbUint32(e, ctx.Charset)
}

// writeStringTable emits a zero-length table; strings are always
// inlined or opaqued.
func (e *Encoder) writeStringTable(ctx *Context) error {
	return writeMbUint32(e, 0)
}

// pushElement emits an element's start tag. Elements opened without
// content are closed implicitly: popElement writes no END for them.
func (e *Encoder) pushElement(token byte, content bool) error {
	b := token
	if content {
		b |= tagContentMask
	}
	e.open = append(e.open, content)
	return writeByte(e, b)
}

func (e *Encoder) popElement() error {
	n := len(e.open) - 1
	if n < 0 {
		return errors.Wrap(ErrMalformed, "unbalanced element close")
	}
	content := e.open[n]
	e.open = e.open[:n]
	if !content {
		return nil
	}
	return writeByte(e, gloEnd)
}

func (e *Encoder) inlineString(s string) error {
	if err := writeByte(e, gloStrI); err != nil {
		return err
	}
	return writeString(e, []byte(s))
}

func (e *Encoder) opaque(data []byte) error {
	if err := writeByte(e, gloOpaque); err != nil {
		return err
	}
	if err := writeMbUint32(e, uint32(len(data))); err != nil {
		return err
	}
	return writeSlice(e, data)
}

// pushOpaque emits a complete element bracketing one opaque payload.
func (e *Encoder) pushOpaque(token byte, data []byte) error {
	if err := e.pushElement(token, true); err != nil {
		return err
	}
	if err := e.opaque(data); err != nil {
		return err
	}
	return e.popElement()
}

func (e *Encoder) switchCodePage(page int) error {
	if err := writeByte(e, gloSwitchPage); err != nil {
		return err
	}
	return writeByte(e, byte(page))
}

// pushPage makes page the active code page, emitting a SWITCH_PAGE
// when the top of the stack differs. The switch precedes the element
// token it applies to.
func (e *Encoder) pushPage(ctx *Context, page int) error {
	if top, ok := ctx.pages.peek(); !ok || top != page {
		if err := e.switchCodePage(page); err != nil {
			return err
		}
	}
	ctx.pages.push(page)
	return nil
}

// popPage restores the parent's page, emitting the switch back when it
// differs from the popped one.
func (e *Encoder) popPage(ctx *Context) error {
	popped, ok := ctx.pages.pop()
	if !ok {
		return errors.Wrap(ErrPageMissing, "page stack underflow")
	}
	if top, ok := ctx.pages.peek(); ok && top != popped {
		return e.switchCodePage(top)
	}
	return nil
}

// finalize verifies the element bracket discipline held up.
func (e *Encoder) finalize(ctx *Context) error {
	if len(e.open) != 0 {
		return errors.Wrapf(ErrMalformed, "%d elements left open", len(e.open))
	}
	return nil
}
