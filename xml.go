package wbxml

import (
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
)

// XML pretty-prints a WBXML stream as textual XML. Opaque payloads
// render as hex. Diagnostic only.
func XML(w io.Writer, d *Decoder) error {
	x := xml.NewEncoder(w)
	x.Indent("", "  ")
	defer x.Flush()

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
			x.EncodeToken(xml.StartElement{Name: xml.Name{Local: t.Name}})
		case CharData:
			x.EncodeToken(xml.CharData(t))
		case Opaque:
			x.EncodeToken(xml.CharData(hex.EncodeToString(t)))
		case EndElement:
			x.EncodeToken(xml.EndElement{Name: xml.Name{Local: t.Name}})
		default:
			return fmt.Errorf("unknown token %T:\n  %+v", t, t)
		}
	}
}
