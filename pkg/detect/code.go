package detect

import (
	"go/parser"
	"go/token"
	"regexp"
)

// code.go supplements spec.md §1's "unsafe code" detection target
// (SPEC_FULL.md §4.7): it flags tool arguments/outputs that look like
// shell/code injection payloads, using go/parser as one signal (a string
// that parses as a Go statement list is suspicious coming back from a
// "search" or "summarize" tool) alongside shell-metacharacter heuristics.

var shellMetaRe = regexp.MustCompile(`(\$\(|` + "`" + `|;\s*rm\s|&&|\|\|\|?|>\s*/dev/|curl\s+-s|wget\s+)`)

func looksLikeUnsafeCode(s string) bool {
	if shellMetaRe.MatchString(s) {
		return true
	}
	return parsesAsGoStatements(s)
}

// parsesAsGoStatements reports whether s parses as a (non-trivial) Go
// statement list — a strong signal that the string is code rather than
// prose, when found inside what should be plain-text tool content.
func parsesAsGoStatements(s string) bool {
	if len(s) < 8 {
		return false
	}
	fset := token.NewFileSet()
	src := "package p\nfunc f() {\n" + s + "\n}\n"
	_, err := parser.ParseFile(fset, "", src, parser.AllErrors)
	return err == nil
}
