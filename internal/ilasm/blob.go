package ilasm

import (
	"fmt"
	"strings"
)

// The encoders in this file produce the raw bytes of custom attribute
// blobs. The downstream assembler consumes them as hex text, so every
// byte has to match the metadata wire format exactly.

// HexBytes formats bytes as upper-case space-separated hex pairs.
func HexBytes(bs []byte) string {
	var sb strings.Builder
	for i, b := range bs {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// LittleEndian encodes n into exactly byteCount little-endian bytes,
// failing when the value does not fit unsigned.
func LittleEndian(n uint64, byteCount int) ([]byte, error) {
	if byteCount < 1 || byteCount > 8 {
		return nil, fmt.Errorf("byte count must be between 1 and 8, got %d", byteCount)
	}
	if byteCount < 8 && n >= 1<<(8*byteCount) {
		return nil, fmt.Errorf("%d does not fit in %d little-endian bytes", n, byteCount)
	}
	out := make([]byte, byteCount)
	for i := range out {
		out[i] = byte(n >> (8 * i))
	}
	return out, nil
}

// HexBytesLE is LittleEndian rendered as hex text.
func HexBytesLE(n uint64, byteCount int) (string, error) {
	bs, err := LittleEndian(n, byteCount)
	if err != nil {
		return "", err
	}
	return HexBytes(bs), nil
}

// GuidBlob reorders a canonical 16-byte GUID into custom-attribute form:
// a fixed 01 00 prolog, the first 4-byte field reversed, the two 2-byte
// fields each reversed, and the trailing 8 bytes verbatim.
func GuidBlob(g [16]byte) []byte {
	out := make([]byte, 0, 18)
	out = append(out, 0x01, 0x00)
	out = append(out, g[3], g[2], g[1], g[0])
	out = append(out, g[5], g[4])
	out = append(out, g[7], g[6])
	out = append(out, g[8:]...)
	return out
}

// PascalString encodes text as a single length byte followed by its UTF-8
// bytes. Lengths above 127 do not fit the one-byte prefix.
func PascalString(text string) ([]byte, error) {
	encoded := []byte(text)
	if len(encoded) > 0x7F {
		return nil, fmt.Errorf("text too long for a Pascal string: %d bytes", len(encoded))
	}
	return append([]byte{byte(len(encoded))}, encoded...), nil
}

// SerString encodes text with the compressed length prefix used by
// metadata SerString values: one byte with top bit 0 up to 0x7F, two
// bytes with top bits 10 up to 0x3FFF, four bytes with top bits 110 up
// to 0x1FFFFFFF.
func SerString(text string) ([]byte, error) {
	encoded := []byte(text)
	length := len(encoded)

	var prefix []byte
	switch {
	case length <= 0x7F:
		prefix = []byte{byte(length)}
	case length <= 0x3FFF:
		prefix = []byte{
			byte(length>>8&0x3F | 0b1000_0000),
			byte(length),
		}
	case length <= 0x1FFFFFFF:
		prefix = []byte{
			byte(length>>24&0x1F | 0b1100_0000),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		}
	default:
		return nil, fmt.Errorf("text too long for SerString: %d bytes", length)
	}

	return append(prefix, encoded...), nil
}
