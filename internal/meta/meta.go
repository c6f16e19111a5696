// Package meta holds the declaration model built by the collector and
// consumed by the ILAsm renderer. The model is append-only while collecting
// and read-only once rendering starts.
package meta

import (
	"fmt"
	"sort"
	"strings"
)

// Direction describes the data flow of an argument.
type Direction int

const (
	DirIn Direction = iota + 1
	DirOut
	DirInOut
)

// In reports whether data flows into the callee.
func (d Direction) In() bool { return d == DirIn || d == DirInOut }

// Out reports whether data flows back to the caller.
func (d Direction) Out() bool { return d == DirOut || d == DirInOut }

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	case DirInOut:
		return "inout"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ArgAttribute is a marker attribute attached to an argument.
type ArgAttribute string

const (
	AttrConst  ArgAttribute = "const"
	AttrComOut ArgAttribute = "com_out"
)

// TypeRef identifies a base type name plus a pointer indirection depth.
// BaseEnum is set only by enrichment, never by a declaration.
type TypeRef struct {
	Name     string
	Stars    int
	BaseEnum string
}

// Argument is a single parameter of a function-like entity.
// CountInArg and ConstCount are mutually exclusive; the collector rejects
// declarations carrying both.
type Argument struct {
	Name       string
	Type       TypeRef
	Direction  Direction
	Optional   bool
	Attributes map[ArgAttribute]bool
	CountInArg *int
	ConstCount *int
}

// HasAttr reports whether the marker attribute is present.
func (a *Argument) HasAttr(attr ArgAttribute) bool { return a.Attributes[attr] }

// NeedsParamBlock reports whether the argument emits a .param attribute
// block: any marker attribute, array-size spec, or enrichment-recorded
// enum link requires one.
func (a *Argument) NeedsParamBlock() bool {
	return len(a.Attributes) > 0 || a.CountInArg != nil || a.ConstCount != nil || a.Type.BaseEnum != ""
}

// FunctionLike is the shape shared by free functions, function-pointer
// types and interface methods: a name, an ordered argument list and a
// return type. Argument insertion order is the output parameter order.
type FunctionLike struct {
	Name       string
	ReturnType TypeRef
	Args       []*Argument
}

// AddArg appends an argument to the entity's parameter list.
func (f *FunctionLike) AddArg(a *Argument) { f.Args = append(f.Args, a) }

// Function is a free function exported from a DLL.
type Function struct {
	FunctionLike
	DLL      string
	CallConv string
}

// DefaultCallConv is the pinvokeimpl calling convention used when a
// function declaration does not specify one.
const DefaultCallConv = "winapi"

// WinapiCallConvCode is the System.Runtime.InteropServices.CallingConvention
// value used for function-pointer types.
const WinapiCallConvCode = 1

// FunctionPointerType is an unmanaged function pointer described as a
// delegate type.
type FunctionPointerType struct {
	FunctionLike
	CallConvCode int
}

// Method is a COM interface method.
type Method struct {
	FunctionLike
}

// Interface is a COM-style interface. Group and Value are the two bytes
// substituted into the fixed identifier template.
type Interface struct {
	Name     string
	Group    int
	Value    int
	BaseType TypeRef
	Methods  []*Method
}

// EnumVariant is a named integer constant within an enumeration.
type EnumVariant struct {
	Name  string
	Value int64
}

// Enumeration is a named integer type with ordered variants. Variant order
// is insertion order; names are unique within the enumeration.
type Enumeration struct {
	Name     string
	BaseType TypeRef
	Flags    bool

	Variants     []*EnumVariant
	variantNames map[string]bool
}

// AddVariant appends a variant, rejecting duplicate names.
func (e *Enumeration) AddVariant(name string, value int64) error {
	if e.variantNames[name] {
		return fmt.Errorf("enumeration %s already has a variant named %s", e.Name, name)
	}
	if e.variantNames == nil {
		e.variantNames = make(map[string]bool)
	}
	e.variantNames[name] = true
	e.Variants = append(e.Variants, &EnumVariant{Name: name, Value: value})
	return nil
}

// StructField is a single field of a sequential value type.
type StructField struct {
	Name string
	Type TypeRef
}

// StructType is a sequential value type with ordered fields.
type StructType struct {
	Name   string
	Fields []*StructField
}

// GuidConstant is a named GUID exposed as a static field. Bytes hold the
// canonical big-endian text order; Display is the canonical string form.
type GuidConstant struct {
	Name    string
	Bytes   [16]byte
	Display string
}

// Metadata is the complete declaration graph for one run. Created exactly
// once from the first declaration; everything else attaches to it.
type Metadata struct {
	Name    string
	Version string

	Funcs      []*Function
	FuncPtrs   []*FunctionPointerType
	Interfaces []*Interface
	Enums      []*Enumeration
	Structs    []*StructType
	GuidConsts []*GuidConstant

	enumsByName map[string]*Enumeration
	dlls        map[string]bool
}

// New creates the metadata header.
func New(name, version string) *Metadata {
	return &Metadata{
		Name:        name,
		Version:     version,
		enumsByName: make(map[string]*Enumeration),
		dlls:        make(map[string]bool),
	}
}

// AddDLL records a referenced DLL. The import set is case-folded; the
// renderer emits it in sorted order.
func (m *Metadata) AddDLL(name string) { m.dlls[strings.ToLower(name)] = true }

// SortedDLLs returns the distinct lower-cased DLL names in sorted order.
func (m *Metadata) SortedDLLs() []string {
	out := make([]string, 0, len(m.dlls))
	for dll := range m.dlls {
		out = append(out, dll)
	}
	sort.Strings(out)
	return out
}

// AddEnum registers an enumeration, rejecting duplicate names.
func (m *Metadata) AddEnum(e *Enumeration) error {
	if _, exists := m.enumsByName[e.Name]; exists {
		return fmt.Errorf("enumeration %s is already declared", e.Name)
	}
	m.enumsByName[e.Name] = e
	m.Enums = append(m.Enums, e)
	return nil
}

// EnumByName looks up a previously declared enumeration.
func (m *Metadata) EnumByName(name string) (*Enumeration, bool) {
	e, ok := m.enumsByName[name]
	return e, ok
}

// FuncPtrByName looks up a previously declared function-pointer type.
func (m *Metadata) FuncPtrByName(name string) (*FunctionPointerType, bool) {
	for _, fp := range m.FuncPtrs {
		if fp.Name == name {
			return fp, true
		}
	}
	return nil, false
}
