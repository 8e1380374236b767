package wbxml

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	reg := testRegistry()

	tests := []struct {
		name string
		in   interface{}
		out  interface{}
	}{
		{"scalar", &Ping{HeartbeatInterval: "480"}, &Ping{}},
		{"page switch", &Session{Child: &Child{Name: "x"}}, &Session{}},
		{"cross-page nesting", &FolderSync{
			Status:  1,
			Changes: &Changes{Folders: []Folder{{DisplayName: "Inbox"}}},
		}, &FolderSync{}},
		{"ghost string collection", &Search{Filters: []string{"a", "b"}}, &Search{}},
		{"opaque and bool", &Provision{Policy: []byte{0xDE, 0xAD}, Remote: true}, &Provision{}},
		{"inner codec", &Device{Location: Coordinates{Lat: 1.5, Lon: 2.25}}, &Device{}},
		{"value carriers", &Bag{Items: []Value{
			{Field: CodePageField{Page: 3, Token: 0x06, Name: "Alpha"}, Text: "hi"},
			{Field: CodePageField{Page: 3, Token: 0x07, Name: "Beta"}, Data: []byte{0x01, 0x02}},
		}}, &Bag{}},
	}

	for testID, test := range tests {
		buf := bytes.NewBuffer(nil)
		if err := reg.Marshal(NewContext(), buf, test.in); err != nil {
			t.Errorf("case %d (%s): marshal: %s", testID, test.name, err)
			continue
		}
		if err := reg.Unmarshal(NewContext(), bytes.NewReader(buf.Bytes()), test.out); err != nil {
			t.Errorf("case %d (%s): unmarshal: %s", testID, test.name, err)
			continue
		}
		assert.Equal(t, test.in, test.out, "case %d (%s)", testID, test.name)
	}
}

func TestRoundTripOpaqueStrings(t *testing.T) {
	reg := testRegistry()
	ctx := NewContext()
	ctx.OpaqueStrings = true

	in := &Search{Filters: []string{"a", "b"}}
	buf := bytes.NewBuffer(nil)
	if err := reg.Marshal(ctx, buf, in); err != nil {
		t.Fatalf("marshal: %s", err)
	}

	out := &Search{}
	if err := reg.Unmarshal(NewContext(), bytes.NewReader(buf.Bytes()), out); err != nil {
		t.Fatalf("unmarshal: %s", err)
	}
	assert.Equal(t, in, out)
}

func TestUnmarshalNestedDocumentOpaque(t *testing.T) {
	reg := testRegistry()

	inner := bytes.NewBuffer(nil)
	if err := reg.Marshal(NewContext(), inner, &Ping{HeartbeatInterval: "60"}); err != nil {
		t.Fatalf("inner marshal: %s", err)
	}

	in := &Envelope{Payload: inner.Bytes()}
	buf := bytes.NewBuffer(nil)
	if err := reg.Marshal(NewContext(), buf, in); err != nil {
		t.Fatalf("marshal: %s", err)
	}

	out := &Envelope{}
	if err := reg.Unmarshal(NewContext(), bytes.NewReader(buf.Bytes()), out); err != nil {
		t.Fatalf("unmarshal: %s", err)
	}
	// The payload parses as a WBXML document, so the raw bytes are kept.
	assert.Equal(t, inner.Bytes(), out.Payload)
}

func TestUnmarshalPlainOpaqueBecomesString(t *testing.T) {
	reg := testRegistry()

	buf := bytes.NewBuffer(nil)
	if err := reg.Marshal(NewContext(), buf, &Envelope{Payload: []byte("plain text")}); err != nil {
		t.Fatalf("marshal: %s", err)
	}

	out := &Envelope{}
	if err := reg.Unmarshal(NewContext(), bytes.NewReader(buf.Bytes()), out); err != nil {
		t.Fatalf("unmarshal: %s", err)
	}
	assert.Equal(t, "plain text", out.Payload)
}

func TestUnmarshalUnmappedElement(t *testing.T) {
	reg := testRegistry()

	// DisplayName directly under FolderSync resolves to no member.
	input := []byte{
		0x03, 0x01, 0x6A, 0x00,
		0x00, 0x07,
		0x45,
		0x48, 0x03, 'a', 0x00, 0x01,
		0x01,
	}
	err := reg.Unmarshal(NewContext(), bytes.NewReader(input), &FolderSync{})
	assert.ErrorIs(t, err, ErrUnmappedElement)
	assert.Contains(t, err.Error(), "FolderSync")
}

func TestUnmarshalTolerantText(t *testing.T) {
	reg := testRegistry()

	// Stray text directly inside the root maps to no member and is
	// dropped without error.
	input := []byte{
		0x03, 0x01, 0x6A, 0x00,
		0x00, 0x07,
		0x45,
		0x03, 'z', 0x00,
		0x01,
	}
	out := &FolderSync{}
	err := reg.Unmarshal(NewContext(), bytes.NewReader(input), out)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	assert.Equal(t, &FolderSync{}, out)
}

func TestUnmarshalUnsupportedOpaqueTarget(t *testing.T) {
	reg := testRegistry()

	// Temperature has no inner codec; an opaque payload for it is fatal.
	input := []byte{
		0x03, 0x01, 0x6A, 0x00,
		0x00, 0x04,
		0x45,
		0x47, 0xC3, 0x02, '2', '1', 0x01,
		0x01,
	}
	err := reg.Unmarshal(NewContext(), bytes.NewReader(input), &Device{})
	assert.ErrorIs(t, err, ErrUnsupportedOpaqueTarget)
}

func TestUnmarshalBalancedStack(t *testing.T) {
	reg := testRegistry()

	buf := bytes.NewBuffer(nil)
	in := &FolderSync{Status: 1, Changes: &Changes{Folders: []Folder{{DisplayName: "A"}, {DisplayName: "B"}}}}
	if err := reg.Marshal(NewContext(), buf, in); err != nil {
		t.Fatalf("marshal: %s", err)
	}

	d := NewDecoderBytes(buf.Bytes(), reg)
	starts, ends := 0, 0
	for {
		tok, err := d.Next()
		if err != nil {
			break
		}
		switch tok.(type) {
		case StartElement:
			starts++
		case EndElement:
			ends++
		}
	}
	assert.Equal(t, starts, ends, "every start element is matched by an END")
}

func TestUnmarshalCaptureXML(t *testing.T) {
	reg := testRegistry()

	buf := bytes.NewBuffer(nil)
	if err := reg.Marshal(NewContext(), buf, &Ping{HeartbeatInterval: "480"}); err != nil {
		t.Fatalf("marshal: %s", err)
	}

	ctx := NewContext()
	ctx.CaptureXML = true
	if err := reg.Unmarshal(ctx, bytes.NewReader(buf.Bytes()), &Ping{}); err != nil {
		t.Fatalf("unmarshal: %s", err)
	}
	assert.Equal(t, "<Ping><HeartbeatInterval>480</HeartbeatInterval></Ping>", ctx.XML())
}

func TestUnmarshalTargetValidation(t *testing.T) {
	reg := testRegistry()

	err := reg.Unmarshal(NewContext(), bytes.NewReader(nil), Ping{})
	assert.ErrorIs(t, err, ErrSchemaMissing)

	type Unbound struct{ X string }
	err = reg.Unmarshal(NewContext(), bytes.NewReader(nil), &Unbound{})
	assert.ErrorIs(t, err, ErrSchemaMissing)
}

func TestContextReuse(t *testing.T) {
	reg := testRegistry()
	ctx := NewContext()
	ctx.CaptureXML = true

	doc := bytes.NewBuffer(nil)
	if err := reg.Marshal(ctx, doc, &Ping{HeartbeatInterval: "1"}); err != nil {
		t.Fatalf("marshal: %s", err)
	}

	for i := 0; i < 2; i++ {
		out := &Ping{}
		if err := reg.Unmarshal(ctx, bytes.NewReader(doc.Bytes()), out); err != nil {
			t.Fatalf("pass %d: %s", i, err)
		}
		assert.Equal(t, &Ping{HeartbeatInterval: "1"}, out, "pass %d", i)
		assert.Equal(t, "<Ping><HeartbeatInterval>1</HeartbeatInterval></Ping>", ctx.XML(), "capture resets per call, pass %d", i)
	}
}
