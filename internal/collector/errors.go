package collector

import "fmt"

// GrammarError reports an unknown command or a command with the wrong
// field count. Fatal; the run aborts on the first one.
type GrammarError struct {
	File string
	Line int
	Msg  string
}

func (e *GrammarError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// ContextError reports a command issued without its required preceding
// context (e.g. an argument line before any function declaration).
type ContextError struct {
	File    string
	Line    int
	Command string
	Missing string
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("%s:%d: %q entry without a previous %q entry", e.File, e.Line, e.Command, e.Missing)
}

// SemanticError reports a well-formed command whose content violates a
// model invariant: duplicate names, out-of-range bytes, conflicting
// array-size attributes, include cycles.
type SemanticError struct {
	File   string
	Line   int
	Detail string
}

func (e *SemanticError) Error() string {
	if e.File == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Detail)
}
