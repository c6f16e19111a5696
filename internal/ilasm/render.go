// Package ilasm renders the collected metadata model as ILAsm text and
// provides the binary attribute-blob encoders the output embeds as hex.
package ilasm

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"metatext2il/internal/meta"
)

// RenderError reports a model item the renderer could not resolve or
// encode. Fatal; nothing is written when rendering fails.
type RenderError struct {
	Msg string
	Err error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render: %s: %v", e.Msg, e.Err)
	}
	return "render: " + e.Msg
}

func (e *RenderError) Unwrap() error { return e.Err }

const ilTemplate = `{{- range .SortedDLLs}}
.module extern '{{.}}'
{{- end}}
.assembly extern netstandard
{
    .publickeytoken = (
        cc 7b 13 ff cd 2d dd 51
    )
    .ver 2:1:0:0
}
.assembly extern Windows.Win32.winmd
{
    .ver 0:0:0:0
}

.assembly {{.Name}}.winmd
{
    .ver {{.Version}}
}

.module {{.Name}}.winmd
.imagebase 0x00400000
.file alignment 0x00000200
.stackreserve 0x00100000
.subsystem 0x0003 // WindowsCui
.corflags 0x00000001 // ILOnly
{{range .FuncPtrs}}
.class public auto autochar sealed beforefieldinit {{$.Name}}.{{.Name}}
    extends [netstandard]System.MulticastDelegate
{
    .custom instance void [netstandard]System.Runtime.InteropServices.UnmanagedFunctionPointerAttribute::.ctor(valuetype [netstandard]System.Runtime.InteropServices.CallingConvention) = (
        01 00 {{callConvHex .CallConvCode}} 00 00
    )

    .method public hidebysig specialname rtspecialname
        instance void .ctor (
            object 'object',
            native int 'method'
        ) runtime managed
    {
    }

    // the actual pointer is described using a method named Invoke
    .method public hidebysig newslot virtual
        instance {{ilType .ReturnType}} Invoke (
            {{argList .Args}}
        ) runtime managed
    {
{{paramAttrs .Args}}    }
}
{{end}}
{{- if or .Funcs .GuidConsts}}
.class public auto autochar abstract sealed beforefieldinit {{.Name}}.Apis
    extends [netstandard]System.Object
{
{{- range .Funcs}}
    .method public hidebysig pinvokeimpl("{{.DLL}}" nomangle {{.CallConv}})
        {{ilType .ReturnType}} {{.Name}} (
            {{argList .Args}}
        ) cil managed
    {
{{paramAttrs .Args}}    }
{{end}}
{{- range .GuidConsts}}
    .field public static valuetype [netstandard]System.Guid '{{.Name}}'
    .custom instance void [Windows.Win32.winmd]Windows.Win32.Foundation.Metadata.GuidAttribute::.ctor(
        uint32, uint16, uint16, uint8, uint8, uint8, uint8, uint8, uint8, uint8, uint8) = (
            {{guidHex .}} // {{.Display}}
            00 00 )
{{end}}
}
{{end}}
{{- range .Interfaces}}
.class interface public abstract auto ansi {{$.Name}}.{{.Name}}
    implements {{ilType .BaseType}}
{
    .custom instance void [Windows.Win32.winmd]Windows.Win32.Foundation.Metadata.GuidAttribute::.ctor(uint32, uint16, uint16, uint8, uint8, uint8, uint8, uint8, uint8, uint8, uint8) = (
        01 00
        69 0F 17 23
        C1 40
        8A 27
        00 00
        00 {{byteHex .Group}} 00 {{byteHex .Value}} 00 00
        00 00
    )
{{range .Methods}}
    .method public hidebysig newslot abstract virtual
        instance {{ilType .ReturnType}} {{.Name}} (
            {{argList .Args}}
        ) cil managed
    {
{{paramAttrs .Args}}    }
{{end}}
}
{{end}}
{{- range .Enums}}
.class public auto ansi sealed {{$.Name}}.{{.Name}}
       extends [netstandard]System.Enum
{
{{- if .Flags}}
  .custom instance void [netstandard]System.FlagsAttribute::.ctor() = ( 01 00 00 00 )
{{- end}}
  .field public specialname rtspecialname {{ilType .BaseType}} value__
{{- $enum := .}}
{{- range .Variants}}
  .field public static literal valuetype {{$.Name}}.{{$enum.Name}} {{.Name}} = {{ilType $enum.BaseType}}({{.Value}})
{{- end}}
}
{{end}}
{{- range .Structs}}
.class public sequential ansi sealed beforefieldinit {{$.Name}}.{{.Name}}
       extends [netstandard]System.ValueType
{
{{- range .Fields}}
  .field public {{ilType .Type}} '{{.Name}}'
{{- end}}
}
{{end}}`

// Render produces the full ILAsm text for the model.
func Render(md *meta.Metadata) (string, error) {
	funcs := template.FuncMap{
		"ilType":  func(t meta.TypeRef) string { return t.ILType(md) },
		"argList": func(args []*meta.Argument) string { return renderArgList(md, args) },
		"paramAttrs": func(args []*meta.Argument) (string, error) {
			return renderParamAttrs(args)
		},
		"callConvHex": func(code int) (string, error) {
			return HexBytesLE(uint64(code), 4)
		},
		"byteHex": func(v int) string { return fmt.Sprintf("%02X", v) },
		"guidHex": func(gc *meta.GuidConstant) string { return HexBytes(GuidBlob(gc.Bytes)) },
	}

	tmpl, err := template.New("ilasm").Funcs(funcs).Parse(ilTemplate)
	if err != nil {
		return "", &RenderError{Msg: "parse template", Err: err}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, md); err != nil {
		return "", &RenderError{Msg: "execute template", Err: err}
	}
	return buf.String(), nil
}

// WriteFile renders the model and writes the result to path. The file is
// only touched after rendering succeeded, so a failed run leaves no
// partial output behind.
func WriteFile(path string, md *meta.Metadata) error {
	output, err := Render(md)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// renderArgList renders the parenthesized parameter list of a
// function-like entity, one argument per line.
func renderArgList(md *meta.Metadata, args []*meta.Argument) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		var sb strings.Builder
		if arg.Direction.In() {
			sb.WriteString("[in] ")
		}
		if arg.Direction.Out() {
			sb.WriteString("[out] ")
		}
		if arg.Optional {
			sb.WriteString("[opt] ")
		}
		sb.WriteString(arg.Type.ILType(md))
		sb.WriteString(" '")
		sb.WriteString(arg.Name)
		sb.WriteString("'")
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, ",\n            ")
}

// renderParamAttrs renders the .param blocks carrying the attribute blobs
// implied by each argument's attribute set, array-size spec and backing
// enum link. Arguments needing no blob emit nothing.
func renderParamAttrs(args []*meta.Argument) (string, error) {
	var sb strings.Builder
	for i, arg := range args {
		if !arg.NeedsParamBlock() {
			continue
		}
		fmt.Fprintf(&sb, "        .param [%d]\n", i+1)

		if arg.HasAttr(meta.AttrConst) {
			sb.WriteString("            .custom instance void [Windows.Win32.winmd]Windows.Win32.Foundation.Metadata.ConstAttribute::.ctor() = (\n")
			sb.WriteString("                01 00 00 00\n")
			sb.WriteString("            )\n")
		}
		if arg.HasAttr(meta.AttrComOut) {
			sb.WriteString("            .custom instance void [Windows.Win32.winmd]Windows.Win32.Foundation.Metadata.ComOutPtrAttribute::.ctor() = (\n")
			sb.WriteString("                01 00 00 00\n")
			sb.WriteString("            )\n")
		}

		switch {
		case arg.CountInArg != nil:
			name, err := PascalString("CountParamIndex")
			if err != nil {
				return "", &RenderError{Msg: "encode CountParamIndex", Err: err}
			}
			index, err := HexBytesLE(uint64(*arg.CountInArg), 2)
			if err != nil {
				return "", &RenderError{Msg: fmt.Sprintf("encode count index for argument %s", arg.Name), Err: err}
			}
			sb.WriteString("            .custom instance void [Windows.Win32.winmd]Windows.Win32.Foundation.Metadata.NativeArrayInfoAttribute::.ctor() = (\n")
			sb.WriteString("                01 00 01 00\n")
			sb.WriteString("                53 06\n")
			fmt.Fprintf(&sb, "                %s // length prefix plus \"CountParamIndex\"\n", HexBytes(name))
			fmt.Fprintf(&sb, "                %s // %d\n", index, *arg.CountInArg)
			sb.WriteString("            )\n")
		case arg.ConstCount != nil:
			name, err := PascalString("CountConst")
			if err != nil {
				return "", &RenderError{Msg: "encode CountConst", Err: err}
			}
			count, err := HexBytesLE(uint64(*arg.ConstCount), 4)
			if err != nil {
				return "", &RenderError{Msg: fmt.Sprintf("encode constant count for argument %s", arg.Name), Err: err}
			}
			sb.WriteString("            .custom instance void [Windows.Win32.winmd]Windows.Win32.Foundation.Metadata.NativeArrayInfoAttribute::.ctor() = (\n")
			sb.WriteString("                01 00 01 00\n")
			sb.WriteString("                53 08\n")
			fmt.Fprintf(&sb, "                %s // length prefix plus \"CountConst\"\n", HexBytes(name))
			fmt.Fprintf(&sb, "                %s // %d\n", count, *arg.ConstCount)
			sb.WriteString("            )\n")
		}

		if arg.Type.BaseEnum != "" {
			encoded, err := SerString(arg.Type.BaseEnum)
			if err != nil {
				return "", &RenderError{Msg: fmt.Sprintf("encode enum link for argument %s", arg.Name), Err: err}
			}
			sb.WriteString("            .custom instance void [Windows.Win32.winmd]Windows.Win32.Foundation.Metadata.AssociatedEnumAttribute::.ctor(string) = (\n")
			sb.WriteString("                01 00\n")
			fmt.Fprintf(&sb, "                %s // %s\n", HexBytes(encoded), arg.Type.BaseEnum)
			sb.WriteString("                00 00\n")
			sb.WriteString("            )\n")
		}
	}
	return sb.String(), nil
}
