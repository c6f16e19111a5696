package meta

import "strings"

// wellKnownTypes maps definition-language type names to their ILAsm
// representation. Anything not listed here passes through unchanged unless
// one of the structural rules in ilBase applies.
var wellKnownTypes = map[string]string{
	"BOOL":        "valuetype [Windows.Win32.winmd]Windows.Win32.Foundation.BOOL",
	"BSTR":        "valuetype [Windows.Win32.winmd]Windows.Win32.Foundation.BSTR",
	"BYTE":        "uint8",
	"FILETIME":    "valuetype [Windows.Win32.winmd]Windows.Win32.Foundation.FILETIME",
	"GUID":        "valuetype [netstandard]System.Guid",
	"HRESULT":     "valuetype [Windows.Win32.winmd]Windows.Win32.Foundation.HRESULT",
	"INT8":        "int8",
	"INT16":       "int16",
	"INT32":       "int32",
	"INT64":       "int64",
	"IUnknown":    "[Windows.Win32.winmd]Windows.Win32.System.Com.IUnknown",
	"PROPID":      "uint32",
	"PROPVARIANT": "valuetype [Windows.Win32.winmd]Windows.Win32.System.Com.StructuredStorage.PROPVARIANT",
	"size_t":      "native uint",
	"UINT8":       "uint8",
	"UINT16":      "uint16",
	"UINT32":      "uint32",
	"UINT64":      "uint64",
	"VARTYPE":     "uint16",
}

// ILType resolves the reference to its ILAsm representation, appending one
// indirection marker per pointer level.
func (t TypeRef) ILType(m *Metadata) string {
	return t.ilBase(m) + strings.Repeat("*", t.Stars)
}

func (t TypeRef) ilBase(m *Metadata) string {
	if remapped, ok := wellKnownTypes[t.Name]; ok {
		return remapped
	}

	// "I" + uppercase + lowercase names a locally declared COM interface.
	if isInterfaceName(t.Name) {
		return "class " + m.Name + "." + t.Name
	}

	if _, ok := m.FuncPtrByName(t.Name); ok {
		return "class " + m.Name + "." + t.Name
	}

	return t.Name
}

func isInterfaceName(name string) bool {
	if len(name) <= 2 || name[0] != 'I' {
		return false
	}
	return name[1] >= 'A' && name[1] <= 'Z' && name[2] >= 'a' && name[2] <= 'z'
}

// Enrich links a freshly constructed return or argument type reference to
// a previously declared enumeration. When the reference's would-be output
// name matches an enumeration, the reference is rewritten to the
// enumeration's base integer type and the enumeration is recorded as its
// backing link. Runs exactly once per reference, at construction time, so
// only enumerations declared strictly earlier resolve.
func (m *Metadata) Enrich(t *TypeRef) {
	if t.Stars != 0 {
		return
	}
	enum, ok := m.EnumByName(t.ilBase(m))
	if !ok {
		return
	}
	t.Name = enum.BaseType.Name
	t.Stars = enum.BaseType.Stars
	t.BaseEnum = enum.Name
}
