package wbxml

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collectTokens(t *testing.T, d *Decoder) []Token {
	var tokens []Token
	for {
		tok, err := d.Next()
		if err == io.EOF {
			return tokens
		}
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		tokens = append(tokens, tok)
	}
}

func TestDecoderHeader(t *testing.T) {
	reg := testRegistry()
	input := []byte{
		0x03, 0x01, 0x6A, 0x00,
		0x00, 0x0D, 0x45, 0x01,
	}
	d := NewDecoderBytes(input, reg)
	if _, err := d.Next(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	assert.Equal(t, uint8(0x03), d.Header.Version)
	assert.Equal(t, uint32(1), d.Header.PublicID)
	assert.Equal(t, CharsetUTF8, d.Header.Charset)
	assert.Empty(t, d.Header.StringTable)
}

func TestDecoderEventStream(t *testing.T) {
	reg := testRegistry()
	input := []byte{
		0x03, 0x01, 0x6A, 0x00,
		0x00, 0x0D,
		0x45,
		0x4A, 0x03, '4', '8', '0', 0x00, 0x01,
		0x01,
	}
	tokens := collectTokens(t, NewDecoderBytes(input, reg))

	expected := []Token{
		StartElement{Field: CodePageField{Page: 13, Token: 0x05, Name: "Ping"}, Name: "Ping", Content: true, Offset: 7},
		StartElement{Field: CodePageField{Page: 13, Token: 0x0A, Name: "HeartbeatInterval"}, Name: "HeartbeatInterval", Content: true, Offset: 8},
		CharData("480"),
		EndElement{Name: "HeartbeatInterval", Offset: 14},
		EndElement{Name: "Ping", Offset: 15},
	}
	assert.Equal(t, expected, tokens)
}

func TestDecoderEmptyElement(t *testing.T) {
	reg := testRegistry()
	input := []byte{
		0x03, 0x01, 0x6A, 0x00,
		0x05, // <Session/> on page 0, no content bit
	}
	tokens := collectTokens(t, NewDecoderBytes(input, reg))

	if assert.Len(t, tokens, 2) {
		start, ok := tokens[0].(StartElement)
		if assert.True(t, ok) {
			assert.Equal(t, "Session", start.Name)
			assert.False(t, start.Content)
		}
		assert.Equal(t, "Session", tokens[1].(EndElement).Name)
	}
}

func TestDecoderStringTable(t *testing.T) {
	reg := testRegistry()
	input := []byte{
		0x03, 0x01, 0x6A, 0x03, 'h', 'i', 0x00, // three-byte string table
		0x45,       // <Session>
		0x83, 0x00, // STR_T 0
		0x01,
	}
	tokens := collectTokens(t, NewDecoderBytes(input, reg))

	if assert.Len(t, tokens, 3) {
		assert.Equal(t, CharData("hi"), tokens[1])
	}
}

func TestDecoderEntityFolding(t *testing.T) {
	reg := testRegistry()
	input := []byte{
		0x03, 0x01, 0x6A, 0x00,
		0x45,
		0x03, 'X', 0x00, // STR_I "X"
		0x02, 0x26, // ENTITY '&'
		0x03, 'Y', 0x00, // STR_I "Y"
		0x01,
	}
	tokens := collectTokens(t, NewDecoderBytes(input, reg))

	if assert.Len(t, tokens, 3) {
		assert.Equal(t, CharData("X&Y"), tokens[1], "adjacent strings and entities fold into one run")
	}
}

func TestDecoderErrors(t *testing.T) {
	reg := testRegistry()
	tests := []struct {
		name     string
		input    []byte
		expected error
	}{
		{
			name:     "attribute bit set",
			input:    []byte{0x03, 0x01, 0x6A, 0x00, 0xC5},
			expected: ErrMalformed,
		},
		{
			name:     "unbalanced END",
			input:    []byte{0x03, 0x01, 0x6A, 0x00, 0x01},
			expected: ErrMalformed,
		},
		{
			name:     "truncated element",
			input:    []byte{0x03, 0x01, 0x6A, 0x00, 0x45},
			expected: ErrMalformed,
		},
		{
			name:     "unknown code in page",
			input:    []byte{0x03, 0x01, 0x6A, 0x00, 0x00, 0x07, 0x45, 0x7F},
			expected: ErrUnmappedElement,
		},
		{
			name:     "unsupported PI",
			input:    []byte{0x03, 0x01, 0x6A, 0x00, 0x43},
			expected: ErrMalformed,
		},
		{
			name:     "truncated opaque",
			input:    []byte{0x03, 0x01, 0x6A, 0x00, 0x45, 0xC3, 0x10, 0x01},
			expected: ErrMalformed,
		},
	}

	for testID, test := range tests {
		d := NewDecoderBytes(test.input, reg)
		var err error
		for err == nil {
			_, err = d.Next()
		}
		assert.ErrorIs(t, err, test.expected, "case %d: %s", testID, test.name)

		// Errors are sticky.
		_, again := d.Next()
		assert.Equal(t, err, again, "case %d: %s", testID, test.name)
	}
}

func TestDecoderPageTracking(t *testing.T) {
	reg := testRegistry()
	input := []byte{
		0x03, 0x01, 0x6A, 0x00,
		0x00, 0x00, 0x45, // switch to page 0, <Session>
		0x00, 0x01, 0x46, // switch to page 1, <Child>
		0x47, 0x03, 'x', 0x00, 0x01, // <Name>x</Name>
		0x01,             // </Child>
		0x00, 0x00, 0x01, // switch back, </Session>
	}
	tokens := collectTokens(t, NewDecoderBytes(input, reg))

	var names []string
	for _, tok := range tokens {
		if st, ok := tok.(StartElement); ok {
			names = append(names, st.Name)
		}
	}
	assert.Equal(t, []string{"Session", "Child", "Name"}, names)
}
