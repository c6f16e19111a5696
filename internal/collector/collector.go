// Package collector parses the tab-separated metadata definition language
// and builds the declaration model. It is a stateful builder: a handful of
// "current" context slots (header, DLL, function-like entity, interface,
// enumeration, struct) track what each line attaches to, and every command
// validates the slots it needs before mutating the model.
package collector

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"metatext2il/internal/meta"
)

var (
	countInArgRe = regexp.MustCompile(`^ca([0-9]+)$`)
	constCountRe = regexp.MustCompile(`^cc([0-9]+)$`)
)

// Collector accumulates declarations from one or more definition files
// into a single metadata model. Not safe for concurrent use; the whole
// pipeline is a single-threaded one-shot transform.
type Collector struct {
	logger *slog.Logger

	md    *meta.Metadata
	dll   string
	fn    *meta.FunctionLike
	iface *meta.Interface
	enum  *meta.Enumeration
	strct *meta.StructType

	// Absolute paths of files currently being expanded, outermost first.
	// Re-entering one of them means an include cycle.
	stack []string
}

// New returns an empty collector.
func New(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// Metadata returns the collected model. Nil until a header declaration has
// been seen.
func (c *Collector) Metadata() *meta.Metadata { return c.md }

// CollectPath parses the named file, expanding includes depth-first.
func (c *Collector) CollectPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	for _, active := range c.stack {
		if active == abs {
			return &SemanticError{Detail: fmt.Sprintf("include cycle: %s is already being expanded", path)}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	c.stack = append(c.stack, abs)
	defer func() { c.stack = c.stack[:len(c.stack)-1] }()

	return c.Collect(f, path)
}

// Collect parses lines from r, attributing errors to the given file name.
func (c *Collector) Collect(r io.Reader, file string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	for sc.Scan() {
		line++
		if err := c.collectLine(file, line, sc.Text()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	return nil
}

func (c *Collector) collectLine(file string, line int, raw string) error {
	ln := strings.TrimRight(raw, "\r\n")

	if idx := strings.IndexByte(ln, '#'); idx != -1 {
		ln = strings.TrimRight(ln[:idx], " \t")
	}
	if strings.TrimSpace(ln) == "" {
		return nil
	}

	pieces := strings.Split(ln, "\t")
	cmd := pieces[0]

	if cmd == "meta" {
		if len(pieces) != 3 {
			return c.usage(file, line, "meta NAME VERSION")
		}
		if c.md != nil {
			return &SemanticError{File: file, Line: line, Detail: "metadata header already declared"}
		}
		c.md = meta.New(pieces[1], pieces[2])
		return nil
	}

	if c.md == nil {
		return &ContextError{File: file, Line: line, Command: cmd, Missing: "meta"}
	}

	switch cmd {
	case "dll":
		if len(pieces) != 2 {
			return c.usage(file, line, "dll NAME")
		}
		c.dll = pieces[1]
		c.md.AddDLL(pieces[1])
		return nil

	case "fn":
		if len(pieces) != 4 {
			return c.usage(file, line, "fn NAME RETTYPE RETSTARS")
		}
		if c.dll == "" {
			return &ContextError{File: file, Line: line, Command: cmd, Missing: "dll"}
		}
		ret, err := c.typeRef(file, line, pieces[2], pieces[3])
		if err != nil {
			return err
		}
		fn := &meta.Function{
			FunctionLike: meta.FunctionLike{Name: pieces[1], ReturnType: ret},
			DLL:          c.dll,
			CallConv:     meta.DefaultCallConv,
		}
		c.md.Funcs = append(c.md.Funcs, fn)
		c.fn = &fn.FunctionLike
		return nil

	case "fptr":
		if len(pieces) != 4 {
			return c.usage(file, line, "fptr NAME RETTYPE RETSTARS")
		}
		ret, err := c.typeRef(file, line, pieces[2], pieces[3])
		if err != nil {
			return err
		}
		fptr := &meta.FunctionPointerType{
			FunctionLike: meta.FunctionLike{Name: pieces[1], ReturnType: ret},
			CallConvCode: meta.WinapiCallConvCode,
		}
		c.md.FuncPtrs = append(c.md.FuncPtrs, fptr)
		c.fn = &fptr.FunctionLike
		return nil

	case "arg", "optarg":
		if len(pieces) != 5 && len(pieces) != 6 {
			return c.usage(file, line, cmd+" DIRECTION NAME TYPE STARS [ATTRIBS]")
		}
		if c.fn == nil {
			return &ContextError{File: file, Line: line, Command: cmd, Missing: "fn, fptr or meth"}
		}
		attribs := ""
		if len(pieces) == 6 {
			attribs = pieces[5]
		}
		arg, err := c.argument(file, line, pieces[1], pieces[2], pieces[3], pieces[4], attribs)
		if err != nil {
			return err
		}
		arg.Optional = cmd == "optarg"
		c.fn.AddArg(arg)
		return nil

	case "iface":
		if len(pieces) != 5 {
			return c.usage(file, line, "iface NAME GROUP VALUE BASETYPE")
		}
		group, err := c.byteValue(file, line, "group", pieces[2])
		if err != nil {
			return err
		}
		value, err := c.byteValue(file, line, "value", pieces[3])
		if err != nil {
			return err
		}
		iface := &meta.Interface{
			Name:     pieces[1],
			Group:    group,
			Value:    value,
			BaseType: meta.TypeRef{Name: pieces[4]},
		}
		c.md.Interfaces = append(c.md.Interfaces, iface)
		c.iface = iface
		return nil

	case "meth":
		if len(pieces) != 4 {
			return c.usage(file, line, "meth NAME RETTYPE RETSTARS")
		}
		if c.iface == nil {
			return &ContextError{File: file, Line: line, Command: cmd, Missing: "iface"}
		}
		ret, err := c.typeRef(file, line, pieces[2], pieces[3])
		if err != nil {
			return err
		}
		m := &meta.Method{FunctionLike: meta.FunctionLike{Name: pieces[1], ReturnType: ret}}
		c.iface.Methods = append(c.iface.Methods, m)
		c.fn = &m.FunctionLike
		return nil

	case "stdmeth":
		if len(pieces) != 2 {
			return c.usage(file, line, "stdmeth NAME")
		}
		if c.iface == nil {
			return &ContextError{File: file, Line: line, Command: cmd, Missing: "iface"}
		}
		m := &meta.Method{FunctionLike: meta.FunctionLike{
			Name:       pieces[1],
			ReturnType: meta.TypeRef{Name: "HRESULT"},
		}}
		c.iface.Methods = append(c.iface.Methods, m)
		c.fn = &m.FunctionLike
		return nil

	case "enum":
		if len(pieces) != 3 && len(pieces) != 4 {
			return c.usage(file, line, "enum NAME BASETYPE [flags]")
		}
		if strings.Contains(pieces[2], "*") {
			return &SemanticError{File: file, Line: line, Detail: fmt.Sprintf("enumeration %s: base type must not be a pointer", pieces[1])}
		}
		flags := false
		if len(pieces) == 4 {
			if pieces[3] != "flags" {
				return c.usage(file, line, "enum NAME BASETYPE [flags]")
			}
			flags = true
		}
		enum := &meta.Enumeration{
			Name:     pieces[1],
			BaseType: meta.TypeRef{Name: pieces[2]},
			Flags:    flags,
		}
		if err := c.md.AddEnum(enum); err != nil {
			return &SemanticError{File: file, Line: line, Detail: err.Error()}
		}
		c.enum = enum
		return nil

	case "variant":
		if len(pieces) != 3 {
			return c.usage(file, line, "variant NAME VALUE")
		}
		if c.enum == nil {
			return &ContextError{File: file, Line: line, Command: cmd, Missing: "enum"}
		}
		value, err := strconv.ParseInt(pieces[2], 10, 64)
		if err != nil {
			return &GrammarError{File: file, Line: line, Msg: fmt.Sprintf("variant value %q is not an integer", pieces[2])}
		}
		if err := c.enum.AddVariant(pieces[1], value); err != nil {
			return &SemanticError{File: file, Line: line, Detail: err.Error()}
		}
		return nil

	case "struct":
		if len(pieces) != 2 {
			return c.usage(file, line, "struct NAME")
		}
		strct := &meta.StructType{Name: pieces[1]}
		c.md.Structs = append(c.md.Structs, strct)
		c.strct = strct
		return nil

	case "field":
		if len(pieces) != 4 {
			return c.usage(file, line, "field NAME TYPE STARS")
		}
		if c.strct == nil {
			return &ContextError{File: file, Line: line, Command: cmd, Missing: "struct"}
		}
		stars, err := c.stars(file, line, pieces[3])
		if err != nil {
			return err
		}
		c.strct.Fields = append(c.strct.Fields, &meta.StructField{
			Name: pieces[1],
			Type: meta.TypeRef{Name: pieces[2], Stars: stars},
		})
		return nil

	case "guid":
		if len(pieces) != 3 {
			return c.usage(file, line, "guid NAME GUIDSTR")
		}
		gc, err := meta.NewGuidConstant(pieces[1], pieces[2])
		if err != nil {
			return &SemanticError{File: file, Line: line, Detail: err.Error()}
		}
		c.md.GuidConsts = append(c.md.GuidConsts, gc)
		return nil

	case "include":
		if len(pieces) != 2 {
			return c.usage(file, line, "include PATH")
		}
		path := pieces[1]
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(file), path)
		}
		c.logger.Debug("Expanding include", "from", file, "line", line, "path", path)
		return c.CollectPath(path)

	default:
		return &GrammarError{File: file, Line: line, Msg: fmt.Sprintf("unknown command %q", cmd)}
	}
}

// typeRef builds a return or argument type reference and enriches it
// against the enumerations declared so far.
func (c *Collector) typeRef(file string, line int, name, starsStr string) (meta.TypeRef, error) {
	stars, err := c.stars(file, line, starsStr)
	if err != nil {
		return meta.TypeRef{}, err
	}
	tr := meta.TypeRef{Name: name, Stars: stars}
	c.md.Enrich(&tr)
	return tr, nil
}

func (c *Collector) argument(file string, line int, dirStr, name, typeName, starsStr, attribs string) (*meta.Argument, error) {
	var dir meta.Direction
	switch dirStr {
	case "in":
		dir = meta.DirIn
	case "out":
		dir = meta.DirOut
	case "inout":
		dir = meta.DirInOut
	default:
		return nil, &GrammarError{File: file, Line: line, Msg: fmt.Sprintf("unknown argument direction %q (want in, out or inout)", dirStr)}
	}

	tr, err := c.typeRef(file, line, typeName, starsStr)
	if err != nil {
		return nil, err
	}

	arg := &meta.Argument{
		Name:       name,
		Type:       tr,
		Direction:  dir,
		Attributes: make(map[meta.ArgAttribute]bool),
	}

	for _, word := range strings.Fields(attribs) {
		if m := countInArgRe.FindStringSubmatch(word); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, &GrammarError{File: file, Line: line, Msg: fmt.Sprintf("bad count-by-index attribute %q", word)}
			}
			arg.CountInArg = &n
			continue
		}
		if m := constCountRe.FindStringSubmatch(word); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, &GrammarError{File: file, Line: line, Msg: fmt.Sprintf("bad constant-count attribute %q", word)}
			}
			arg.ConstCount = &n
			continue
		}
		switch word {
		case "const":
			arg.Attributes[meta.AttrConst] = true
		case "com_out":
			arg.Attributes[meta.AttrComOut] = true
		default:
			return nil, &GrammarError{File: file, Line: line, Msg: fmt.Sprintf("unknown argument attribute %q", word)}
		}
	}

	if arg.CountInArg != nil && arg.ConstCount != nil {
		return nil, &SemanticError{File: file, Line: line, Detail: fmt.Sprintf("argument %s: count-by-index and constant-count attributes are mutually exclusive", name)}
	}

	return arg, nil
}

func (c *Collector) stars(file string, line int, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &GrammarError{File: file, Line: line, Msg: fmt.Sprintf("pointer depth %q is not an integer", s)}
	}
	if n < 0 {
		return 0, &SemanticError{File: file, Line: line, Detail: fmt.Sprintf("pointer depth must not be negative, got %d", n)}
	}
	return n, nil
}

func (c *Collector) byteValue(file string, line int, what, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &GrammarError{File: file, Line: line, Msg: fmt.Sprintf("%s %q is not an integer", what, s)}
	}
	if n < 0 || n > 255 {
		return 0, &SemanticError{File: file, Line: line, Detail: fmt.Sprintf("%s must be between 0 and 255, got %d", what, n)}
	}
	return n, nil
}

func (c *Collector) usage(file string, line int, usage string) error {
	return &GrammarError{File: file, Line: line, Msg: "usage: " + usage}
}
