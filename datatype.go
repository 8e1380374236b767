package wbxml

import (
	"io"

	"github.com/pkg/errors"
)

func readByte(d *Decoder) (byte, error) {
	var b [1]byte
	n, err := d.r.Read(b[:])
	d.offset += n
	if err == nil && n == 0 {
		return 0, io.ErrNoProgress
	}
	return b[0], err
}

func writeByte(e *Encoder, b byte) error {
	buf := [1]byte{b}
	n, err := e.w.Write(buf[:])
	e.offset += n
	return err
}

func mbUint(d *Decoder, max int) (uint64, error) {
	var result uint64

	for i := 0; i < max; i++ {
		b, err := readByte(d)
		if err != nil {
			return 0, err
		}

		result = (result << 7) | (uint64(b) & 0x7f)

		if b&0x80 == 0x00 { // final byte
			return result, nil
		}
	}
	return 0, errors.Wrapf(ErrMalformed, "multi-byte integer is longer than expected %d bytes", max)
}

func mbUint32(d *Decoder) (uint32, error) {
	u, err := mbUint(d, 4)
	if err != nil {
		return 0, err
	}
	return uint32(u), nil
}

func writeMbUint(e *Encoder, v uint64, max int) error {
	var buf [10]byte
	i := len(buf) - 1
	buf[i] = byte(v & 0x7f)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		buf[i] = byte(v&0x7f) | 0x80
	}
	if len(buf)-i > max {
		return errors.Wrapf(ErrMalformed, "multi-byte integer is longer than expected %d bytes", max)
	}
	return writeSlice(e, buf[i:])
}

func writeMbUint32(e *Encoder, v uint32) error {
	return writeMbUint(e, uint64(v), 4)
}

// readString reads a termstr: bytes up to and including the NULL
// terminator, which is not part of the result.
func readString(d *Decoder) ([]byte, error) {
	result := make([]byte, 0, 8)
	for {
		b, err := readByte(d)
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return result, nil
		}
		result = append(result, b)
	}
}

func writeString(e *Encoder, s []byte) error {
	if err := writeSlice(e, s); err != nil {
		return err
	}
	return writeByte(e, 0)
}

func readSlice(d *Decoder, length uint32) ([]byte, error) {
	result := make([]byte, length)
	n, err := io.ReadFull(d.r, result)
	d.offset += n
	if err != nil {
		return result[:n], errors.Wrapf(ErrMalformed, "expected %d bytes, got %d", length, n)
	}
	return result, nil
}

func writeSlice(e *Encoder, s []byte) error {
	n, err := e.w.Write(s)
	e.offset += n
	return err
}
