// Package lang implements the lexer, parser, and AST for the policy rule
// DSL (§4.1): imports, predicate definitions, and "raise ... if:" rules.
package lang

import "fmt"

// Span is a source location range, attached to every AST node so that
// compile errors and (transitively) violations can be localized (§8
// invariant 4).
type Span struct {
	File      string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

func (s Span) String() string {
	if s.File == "" {
		return fmt.Sprintf("%d:%d", s.StartLine, s.StartCol)
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.StartLine, s.StartCol)
}

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokNewline
	TokIdent
	TokString
	TokRegex
	TokNumber
	TokTag // <EMAIL_ADDRESS> etc.

	// Punctuation / operators
	TokLParen
	TokRParen
	TokLBrace
	TokRBrace
	TokLBracket
	TokRBracket
	TokColon
	TokComma
	TokDot
	TokSemicolon
	TokArrow   // ->
	TokAssign  // := or =
	TokEq      // ==
	TokNe      // !=
	TokLt
	TokLe
	TokGt
	TokGe
	TokStar // *

	// Keywords
	TokFrom
	TokImport
	TokRaise
	TokIf
	TokAnd
	TokOr
	TokNot
	TokIn
	TokIs
	TokTrue
	TokFalse
	TokNull
)

var keywords = map[string]TokenKind{
	"from":   TokFrom,
	"import": TokImport,
	"raise":  TokRaise,
	"if":     TokIf,
	"and":    TokAnd,
	"or":     TokOr,
	"not":    TokNot,
	"in":     TokIn,
	"is":     TokIs,
	"true":   TokTrue,
	"false":  TokFalse,
	"null":   TokNull,
}

// Token is a single lexical token with its source span and literal text.
type Token struct {
	Kind TokenKind
	Text string
	Span Span
}
