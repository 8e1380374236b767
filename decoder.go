package wbxml

import (
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Decoder is the byte-level WBXML reader: a pull tokenizer yielding
// StartElement, CharData, Opaque and EndElement events. Element tokens
// are resolved against the finder as they are read, honoring
// SWITCH_PAGE opcodes. Adjacent inline strings, table references and
// entities aggregate into one CharData.
type Decoder struct {
	r      io.Reader
	finder PageFinder

	page       int
	offset     int
	headerRead bool
	pending    []Token
	stack      []CodePageField
	err        error

	Header Header
}

// NewDecoder reads a WBXML document from r, resolving tokens through
// finder. The header is consumed on the first call to Next.
func NewDecoder(r io.Reader, finder PageFinder) *Decoder {
	return &Decoder{r: r, finder: finder}
}

// NewDecoderBytes decodes an in-memory document.
func NewDecoderBytes(b []byte, finder PageFinder) *Decoder {
	return NewDecoder(bytes.NewReader(b), finder)
}

// Next returns the next event in the stream, or nil and io.EOF at the
// end. Errors are sticky.
func (d *Decoder) Next() (Token, error) {
	if d.err != nil {
		return nil, d.err
	}
	tok, err := d.next()
	if err != nil {
		d.err = err
	}
	return tok, err
}

func (d *Decoder) next() (Token, error) {
	if !d.headerRead {
		if err := d.readHeader(); err != nil {
			return nil, err
		}
		d.headerRead = true
	}
	if len(d.pending) > 0 {
		tok := d.pending[0]
		d.pending = d.pending[1:]
		return tok, nil
	}

	var cdata CharData
	for {
		b, err := readByte(d)
		if err == io.EOF {
			if len(d.stack) != 0 {
				return nil, errors.Wrapf(ErrMalformed, "unexpected EOF at depth %d", len(d.stack))
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}

		switch b {
		case gloSwitchPage:
			index, err := readByte(d)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformed, "position %d: truncated page switch", d.offset)
			}
			d.page = int(index)

		case gloStrI, gloStrT, gloEntity:
			if err := d.charData(&cdata, b); err != nil {
				return nil, err
			}

		case gloEnd:
			end, err := d.popEnd()
			if err != nil {
				return nil, err
			}
			return d.emit(cdata, end), nil

		case gloOpaque:
			length, err := mbUint32(d)
			if err != nil {
				return nil, err
			}
			data, err := readSlice(d, length)
			if err != nil {
				return nil, err
			}
			return d.emit(cdata, Opaque(data)), nil

		case gloPi, gloLiteral, gloLiteralA, gloLiteralC, gloLiteralAC,
			gloExt0, gloExt1, gloExt2,
			gloExtI0, gloExtI1, gloExtI2,
			gloExtT0, gloExtT1, gloExtT2:
			return nil, errors.Wrapf(ErrMalformed, "position %d: unsupported token %#x", d.offset, b)

		default:
			tag := Tag(b)
			if tag.Attr() {
				return nil, errors.Wrapf(ErrMalformed, "position %d: attributes not supported", d.offset)
			}
			field, err := d.finder.FindField(d.page, tag.ID())
			if err != nil {
				return nil, errors.Wrapf(err, "position %d", d.offset)
			}
			start := StartElement{Field: field, Name: field.Name, Content: tag.Content(), Offset: d.offset}
			if tag.Content() {
				d.stack = append(d.stack, field)
				return d.emit(cdata, start), nil
			}
			// Empty element: the END event follows immediately.
			if cdata != nil {
				d.pending = append(d.pending, start, EndElement{Name: field.Name, Offset: d.offset})
				return cdata, nil
			}
			d.pending = append(d.pending, EndElement{Name: field.Name, Offset: d.offset})
			return start, nil
		}
	}
}

// emit returns the aggregated text run first when one is pending,
// queueing tok behind it.
func (d *Decoder) emit(cdata CharData, tok Token) Token {
	if cdata != nil {
		d.pending = append(d.pending, tok)
		return cdata
	}
	return tok
}

func (d *Decoder) popEnd() (Token, error) {
	n := len(d.stack) - 1
	if n < 0 {
		return nil, errors.Wrapf(ErrMalformed, "position %d: unbalanced END", d.offset)
	}
	field := d.stack[n]
	d.stack = d.stack[:n]
	return EndElement{Name: field.Name, Offset: d.offset}, nil
}

// readHeader reads the wbxml header.
func (d *Decoder) readHeader() error {
	var h Header
	var err error

	h.Version, err = readByte(d)
	if err != nil {
		return err
	}

	h.PublicID, err = mbUint32(d)
	if err != nil {
		return err
	}
	if h.PublicID == 0 {
		h.PublicID, err = mbUint32(d)
		if err != nil {
			return err
		}
	}

	h.Charset, err = mbUint32(d)
	if err != nil {
		return err
	}

	length, err := mbUint32(d)
	if err != nil {
		return err
	}
	if length > 0 {
		h.StringTable, err = readSlice(d, length)
		if err != nil {
			return err
		}
	}
	d.Header = h
	return nil
}

// GetString resolves a string-table reference.
func (d *Decoder) GetString(i uint32) ([]byte, error) {
	if i >= uint32(len(d.Header.StringTable)) {
		return nil, errors.Wrapf(ErrMalformed, "%d is not a valid string reference (max %d)", i, len(d.Header.StringTable))
	}
	for end, b := range d.Header.StringTable[i:] {
		if b == 0 {
			return d.Header.StringTable[i : i+uint32(end)], nil
		}
	}
	return nil, errors.Wrap(ErrMalformed, "string table: no NULL terminator found")
}

// charData accumulates one text construct into the pending run.
// Entities fold to their UTF-8 form.
func (d *Decoder) charData(cdata *CharData, b byte) error {
	if *cdata == nil {
		*cdata = make(CharData, 0, 8)
	}
	switch b {
	case gloStrI:
		str, err := readString(d)
		if err != nil {
			return err
		}
		*cdata = append(*cdata, str...)
	case gloStrT:
		index, err := mbUint32(d)
		if err != nil {
			return err
		}
		str, err := d.GetString(index)
		if err != nil {
			return err
		}
		*cdata = append(*cdata, str...)
	case gloEntity:
		entcode, err := mbUint32(d)
		if err != nil {
			return err
		}
		var buf [4]byte
		rlen := utf8.RuneLen(rune(entcode))
		if rlen < 0 {
			return errors.Wrapf(ErrMalformed, "position %d: entity %#x is not a valid rune", d.offset, entcode)
		}
		utf8.EncodeRune(buf[:rlen], rune(entcode))
		*cdata = append(*cdata, buf[:rlen]...)
	}
	return nil
}
