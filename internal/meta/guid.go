package meta

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseGUID parses a canonical "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx"
// string into its 16 raw bytes, kept in text order. The attribute-blob
// reordering happens at render time.
func ParseGUID(s string) ([16]byte, error) {
	var out [16]byte

	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return out, fmt.Errorf("malformed GUID %q: want xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx", s)
	}

	digits := strings.ReplaceAll(s, "-", "")
	raw, err := hex.DecodeString(digits)
	if err != nil {
		return out, fmt.Errorf("malformed GUID %q: %w", s, err)
	}
	copy(out[:], raw)
	return out, nil
}

// NewGuidConstant builds a GUID constant from its canonical string form.
func NewGuidConstant(name, guid string) (*GuidConstant, error) {
	raw, err := ParseGUID(guid)
	if err != nil {
		return nil, err
	}
	return &GuidConstant{Name: name, Bytes: raw, Display: strings.ToUpper(guid)}, nil
}
