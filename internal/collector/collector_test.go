package collector_test

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"metatext2il/internal/collector"
	"metatext2il/internal/meta"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, src string) (*meta.Metadata, error) {
	t.Helper()
	c := collector.New(discardLogger())
	err := c.Collect(strings.NewReader(src), "test.txt")
	return c.Metadata(), err
}

const header = "meta\tFoo\t1.0\n"

func TestCollectorErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr any // pointer to the expected error type
		detail  string
	}{
		{
			name:    "unknown command",
			src:     header + "bogus\tx\n",
			wantErr: &collector.GrammarError{},
			detail:  "unknown command",
		},
		{
			name:    "wrong field count",
			src:     header + "fn\tDoThing\n",
			wantErr: &collector.GrammarError{},
			detail:  "usage: fn NAME RETTYPE RETSTARS",
		},
		{
			name:    "command before header",
			src:     "dll\tfoo.dll\n",
			wantErr: &collector.ContextError{},
			detail:  `"dll" entry without a previous "meta" entry`,
		},
		{
			name:    "duplicate header",
			src:     header + header,
			wantErr: &collector.SemanticError{},
			detail:  "already declared",
		},
		{
			name:    "fn without dll",
			src:     header + "fn\tDoThing\tHRESULT\t0\n",
			wantErr: &collector.ContextError{},
			detail:  `"fn" entry without a previous "dll" entry`,
		},
		{
			name:    "arg without function-like",
			src:     header + "arg\tin\tcount\tUINT32\t0\n",
			wantErr: &collector.ContextError{},
			detail:  `"arg" entry without a previous "fn, fptr or meth" entry`,
		},
		{
			name:    "meth without interface",
			src:     header + "meth\tRead\tHRESULT\t0\n",
			wantErr: &collector.ContextError{},
		},
		{
			name:    "variant without enum",
			src:     header + "variant\tWarning\t1\n",
			wantErr: &collector.ContextError{},
		},
		{
			name:    "field without struct",
			src:     header + "field\tsize\tUINT64\t0\n",
			wantErr: &collector.ContextError{},
		},
		{
			name:    "conflicting count attributes",
			src:     header + "fptr\tCb\tvoid\t0\narg\tin\tdata\tBYTE\t1\tca0 cc16\n",
			wantErr: &collector.SemanticError{},
			detail:  "mutually exclusive",
		},
		{
			name:    "unknown argument attribute",
			src:     header + "fptr\tCb\tvoid\t0\narg\tin\tdata\tBYTE\t1\tvolatile\n",
			wantErr: &collector.GrammarError{},
		},
		{
			name:    "bad direction",
			src:     header + "fptr\tCb\tvoid\t0\narg\tsideways\tdata\tBYTE\t1\n",
			wantErr: &collector.GrammarError{},
		},
		{
			name:    "negative pointer depth",
			src:     header + "fptr\tCb\tvoid\t-1\n",
			wantErr: &collector.SemanticError{},
			detail:  "pointer depth",
		},
		{
			name:    "interface group out of range",
			src:     header + "iface\tIFoo\t256\t0\tIUnknown\n",
			wantErr: &collector.SemanticError{},
			detail:  "group must be between 0 and 255",
		},
		{
			name:    "interface value out of range",
			src:     header + "iface\tIFoo\t0\t-3\tIUnknown\n",
			wantErr: &collector.SemanticError{},
		},
		{
			name:    "duplicate enumeration",
			src:     header + "enum\tSEVERITY\tuint32\nenum\tSEVERITY\tuint32\n",
			wantErr: &collector.SemanticError{},
			detail:  "already declared",
		},
		{
			name:    "duplicate variant",
			src:     header + "enum\tSEVERITY\tuint32\nvariant\tWarning\t1\nvariant\tWarning\t2\n",
			wantErr: &collector.SemanticError{},
			detail:  "already has a variant",
		},
		{
			name:    "pointer enum base type",
			src:     header + "enum\tSEVERITY\tuint32*\n",
			wantErr: &collector.SemanticError{},
			detail:  "must not be a pointer",
		},
		{
			name:    "malformed guid",
			src:     header + "guid\tCLSID_Foo\t12345\n",
			wantErr: &collector.SemanticError{},
			detail:  "malformed GUID",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := collect(t, tc.src)
			require.Error(t, err)
			switch want := tc.wantErr.(type) {
			case *collector.GrammarError:
				var ge *collector.GrammarError
				assert.True(t, errors.As(err, &ge), "want GrammarError, got %T: %v", err, err)
			case *collector.ContextError:
				var ce *collector.ContextError
				assert.True(t, errors.As(err, &ce), "want ContextError, got %T: %v", err, err)
			case *collector.SemanticError:
				var se *collector.SemanticError
				assert.True(t, errors.As(err, &se), "want SemanticError, got %T: %v", err, err)
			default:
				t.Fatalf("unhandled expected error type %T", want)
			}
			if tc.detail != "" {
				assert.Contains(t, err.Error(), tc.detail)
			}
		})
	}
}

func TestErrorsCarryFileAndLine(t *testing.T) {
	_, err := collect(t, header+"dll\tfoo.dll\n"+"bogus\tx\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test.txt:3:")
}

func TestFreeFunctionCollection(t *testing.T) {
	md, err := collect(t, header+
		"dll\tFoo.dll\n"+
		"fn\tDoThing\tHRESULT\t0\n"+
		"arg\tin\tcount\tUINT32\t0\n"+
		"optarg\tout\tresult\tBSTR\t1\n")
	require.NoError(t, err)

	assert.Equal(t, "Foo", md.Name)
	assert.Equal(t, "1.0", md.Version)
	assert.Equal(t, []string{"foo.dll"}, md.SortedDLLs())

	require.Len(t, md.Funcs, 1)
	fn := md.Funcs[0]
	assert.Equal(t, "DoThing", fn.Name)
	assert.Equal(t, "Foo.dll", fn.DLL)
	assert.Equal(t, "winapi", fn.CallConv)
	assert.Equal(t, meta.TypeRef{Name: "HRESULT"}, fn.ReturnType)

	require.Len(t, fn.Args, 2)
	assert.Equal(t, "count", fn.Args[0].Name)
	assert.Equal(t, meta.DirIn, fn.Args[0].Direction)
	assert.False(t, fn.Args[0].Optional)
	assert.Equal(t, "result", fn.Args[1].Name)
	assert.Equal(t, meta.DirOut, fn.Args[1].Direction)
	assert.True(t, fn.Args[1].Optional)
	assert.Equal(t, 1, fn.Args[1].Type.Stars)
}

func TestArgumentAttributes(t *testing.T) {
	md, err := collect(t, header+
		"fptr\tReadCb\tHRESULT\t0\n"+
		"arg\tin\tdata\tBYTE\t1\tconst ca0\n"+
		"arg\tin\tsize\tUINT32\t0\n"+
		"arg\tout\tobject\tvoid\t2\tcom_out\n"+
		"arg\tin\tfixed\tBYTE\t1\tcc16\n")
	require.NoError(t, err)

	require.Len(t, md.FuncPtrs, 1)
	args := md.FuncPtrs[0].Args
	require.Len(t, args, 4)

	assert.True(t, args[0].HasAttr(meta.AttrConst))
	require.NotNil(t, args[0].CountInArg)
	assert.Equal(t, 0, *args[0].CountInArg)
	assert.Nil(t, args[0].ConstCount)

	assert.False(t, args[1].NeedsParamBlock())

	assert.True(t, args[2].HasAttr(meta.AttrComOut))

	require.NotNil(t, args[3].ConstCount)
	assert.Equal(t, 16, *args[3].ConstCount)
}

func TestInterfaceAndMethods(t *testing.T) {
	md, err := collect(t, header+
		"iface\tIInStream\t3\t4\tIUnknown\n"+
		"meth\tRead\tHRESULT\t0\n"+
		"arg\tout\tdata\tvoid\t1\n"+
		"stdmeth\tCommit\n"+
		"arg\tin\tflags\tUINT32\t0\n")
	require.NoError(t, err)

	require.Len(t, md.Interfaces, 1)
	iface := md.Interfaces[0]
	assert.Equal(t, "IInStream", iface.Name)
	assert.Equal(t, 3, iface.Group)
	assert.Equal(t, 4, iface.Value)
	assert.Equal(t, "IUnknown", iface.BaseType.Name)

	require.Len(t, iface.Methods, 2)
	assert.Equal(t, "Read", iface.Methods[0].Name)
	require.Len(t, iface.Methods[0].Args, 1)

	// stdmeth is shorthand for an HRESULT method; a following arg line
	// attaches to it, not to the previous method.
	commit := iface.Methods[1]
	assert.Equal(t, "Commit", commit.Name)
	assert.Equal(t, "HRESULT", commit.ReturnType.Name)
	require.Len(t, commit.Args, 1)
	assert.Equal(t, "flags", commit.Args[0].Name)
}

func TestEnrichmentFollowsDeclarationOrder(t *testing.T) {
	md, err := collect(t, header+
		"enum\tSEVERITY\tuint32\n"+
		"variant\tWarning\t1\n"+
		"fptr\tCb\tSEVERITY\t0\n"+
		"arg\tin\tsev\tSEVERITY\t0\n"+
		"arg\tin\tlater\tFORMAT\t0\n"+
		"enum\tFORMAT\tuint16\n")
	require.NoError(t, err)

	fptr := md.FuncPtrs[0]
	assert.Equal(t, "uint32", fptr.ReturnType.Name)
	assert.Equal(t, "SEVERITY", fptr.ReturnType.BaseEnum)

	assert.Equal(t, "uint32", fptr.Args[0].Type.Name)
	assert.Equal(t, "SEVERITY", fptr.Args[0].Type.BaseEnum)

	// FORMAT was declared after the argument; forward references do not
	// resolve.
	assert.Equal(t, "FORMAT", fptr.Args[1].Type.Name)
	assert.Empty(t, fptr.Args[1].Type.BaseEnum)
}

func TestStructsAndGuids(t *testing.T) {
	md, err := collect(t, header+
		"struct\tFILEINFO\n"+
		"field\tsize\tUINT64\t0\n"+
		"field\tname\twchar_t\t1\n"+
		"guid\tCLSID_Handler\t23170f69-40c1-278a-1000-000110070000\n")
	require.NoError(t, err)

	require.Len(t, md.Structs, 1)
	assert.Equal(t, "FILEINFO", md.Structs[0].Name)
	require.Len(t, md.Structs[0].Fields, 2)
	assert.Equal(t, 1, md.Structs[0].Fields[1].Type.Stars)

	require.Len(t, md.GuidConsts, 1)
	assert.Equal(t, "CLSID_Handler", md.GuidConsts[0].Name)
	assert.Equal(t, "23170F69-40C1-278A-1000-000110070000", md.GuidConsts[0].Display)
}

func TestCommentsAndBlankLines(t *testing.T) {
	md, err := collect(t, "# leading comment\n\n   \n"+
		"meta\tFoo\t1.0\t# trailing comment\n"+
		"dll\tfoo.dll # same-line comment\n")
	require.NoError(t, err)
	assert.Equal(t, "Foo", md.Name)
	assert.Equal(t, []string{"foo.dll"}, md.SortedDLLs())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIncludeExpandsInPlace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "enums.txt",
		"enum\tSEVERITY\tuint32\n"+
			"variant\tWarning\t1\n")
	main := writeFile(t, dir, "main.txt",
		header+
			"include\tenums.txt\n"+
			"fptr\tCb\tvoid\t0\n"+
			"arg\tin\tsev\tSEVERITY\t0\n")

	c := collector.New(discardLogger())
	require.NoError(t, c.CollectPath(main))

	md := c.Metadata()
	require.Len(t, md.Enums, 1)
	// The included enumeration is declared before the argument, so the
	// reference in the including file enriches against it.
	assert.Equal(t, "SEVERITY", md.FuncPtrs[0].Args[0].Type.BaseEnum)
	assert.Equal(t, "uint32", md.FuncPtrs[0].Args[0].Type.Name)
}

func TestIncludeCycleDetected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", header+"include\tb.txt\n")
	writeFile(t, dir, "b.txt", "include\ta.txt\n")

	c := collector.New(discardLogger())
	err := c.CollectPath(filepath.Join(dir, "a.txt"))
	require.Error(t, err)

	var se *collector.SemanticError
	assert.True(t, errors.As(err, &se), "want SemanticError, got %T: %v", err, err)
	assert.Contains(t, err.Error(), "include cycle")
}
