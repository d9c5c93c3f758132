// Package compile implements the type checker and rule compiler (spec
// §4.2): it resolves identifiers, assigns types to free variables, and
// normalizes each rule body into generators (quantifiers over finite
// collections) followed by filters (patterns, flow edges, boolean
// predicates), rejecting rules that are not range-restricted under
// negation (Datalog-style, §8 invariant 6).
package compile

import (
	"fmt"

	"traceguard/pkg/lang"
)

// TypeError is raised when a rule body references an undefined symbol, a
// value of the wrong type, or a negated atom that is not range-restricted
// (spec §7).
type TypeError struct {
	Span lang.Span
	Msg  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Span, e.Msg)
}

// eventTypes are the Type annotations a VarBinding/MembershipBinding may
// declare that quantify over trace events rather than arbitrary Values.
var eventTypes = map[string]bool{
	"Event": true, "Message": true, "ToolCall": true, "ToolOutput": true,
}

// builtinCollections are implicit names usable on the right-hand side of a
// membership binding, resolved against the trace at evaluation time rather
// than against any bound variable.
var builtinCollections = map[string]string{
	"events":       "Event",
	"messages":     "Message",
	"tool_calls":   "ToolCall",
	"tool_outputs": "ToolOutput",
}

// BuiltinCollection reports whether name is one of the implicit trace
// collections usable on the right-hand side of a membership binding, and
// the event type it yields.
func BuiltinCollection(name string) (string, bool) {
	t, ok := builtinCollections[name]
	return t, ok
}

// isReservedIdent reports whether name resolves without a generator
// binding it: a built-in trace collection, or "params" (the map of
// caller-supplied values passed to Policy.Analyze, spec §6).
func isReservedIdent(name string) bool {
	if _, ok := builtinCollections[name]; ok {
		return true
	}
	return name == "params"
}

// Predicate is a compiled `name(params) := expr` definition.
type Predicate struct {
	Def *lang.PredicateDef
}

// Rule is one compiled `raise ... if: ...` rule: a normalized atom list
// split into generators (evaluated first, producing candidate bindings)
// and filters (evaluated as soon as their free variables are bound).
type Rule struct {
	Source       *lang.Rule
	Generators   []lang.Atom
	Filters      []lang.Atom
	FilterVars   [][]string // free variable names each filter depends on
	VarTypes     map[string]string
}

// Program is a fully type-checked, normalized policy: zero or more
// predicates and one compiled Rule per `raise ... if:` statement.
type Program struct {
	Predicates map[string]*Predicate
	Rules      []*Rule
}

// Compile type-checks and normalizes a parsed policy file.
func Compile(f *lang.File) (*Program, error) {
	preds := map[string]*Predicate{}
	for _, pd := range f.Predicates {
		preds[pd.Name] = &Predicate{Def: pd}
	}
	for _, pd := range f.Predicates {
		bound := map[string]string{}
		for _, p := range pd.Params {
			bound[p.Name] = p.Type
		}
		if err := checkExpr(pd.Body, bound, preds); err != nil {
			return nil, err
		}
	}

	prog := &Program{Predicates: preds}
	for _, r := range f.Rules {
		cr, err := compileRule(r, preds)
		if err != nil {
			return nil, err
		}
		prog.Rules = append(prog.Rules, cr)
	}
	return prog, nil
}

func compileRule(r *lang.Rule, preds map[string]*Predicate) (*Rule, error) {
	varTypes := map[string]string{}
	var generators []lang.Atom
	var filters []lang.Atom

	for _, atom := range r.Body {
		switch a := atom.(type) {
		case *lang.VarBinding:
			if _, dup := varTypes[a.Name]; dup {
				return nil, &TypeError{Span: a.Span, Msg: fmt.Sprintf("variable %q is bound more than once", a.Name)}
			}
			varTypes[a.Name] = a.Type
			generators = append(generators, a)
		case *lang.MembershipBinding:
			if _, dup := varTypes[a.Name]; dup {
				return nil, &TypeError{Span: a.Span, Msg: fmt.Sprintf("variable %q is bound more than once", a.Name)}
			}
			if err := checkMembershipSource(a); err != nil {
				return nil, err
			}
			varTypes[a.Name] = a.Type
			generators = append(generators, a)
		default:
			filters = append(filters, atom)
		}
	}

	if len(generators) == 0 {
		return nil, &TypeError{Span: r.Span, Msg: "rule body has no generator; every rule must bind at least one free variable"}
	}

	// Errors inside ErrorCtor keyword/positional expressions must also
	// reference only bound variables.
	if r.Ctor != nil {
		for _, e := range r.Ctor.Positional {
			if err := checkExpr(e, varTypes, preds); err != nil {
				return nil, err
			}
		}
		for _, e := range r.Ctor.Keyword {
			if err := checkExpr(e, varTypes, preds); err != nil {
				return nil, err
			}
		}
	}

	var filterVars [][]string
	for _, f := range filters {
		vars, err := checkFilterAtom(f, varTypes, preds)
		if err != nil {
			return nil, err
		}
		filterVars = append(filterVars, vars)
	}

	if err := checkRangeRestriction(filters, varTypes); err != nil {
		return nil, err
	}

	return &Rule{
		Source:     r,
		Generators: generators,
		Filters:    filters,
		FilterVars: filterVars,
		VarTypes:   varTypes,
	}, nil
}

// checkMembershipSource validates `(x: T) in expr`. Only a source that names
// a built-in trace collection is checked, against T; any other source is
// accepted here unchecked. The evaluator iterates only the built-in
// collections (events, messages, tool_calls, tool_outputs) and reports an
// error for any other membership source.
func checkMembershipSource(mb *lang.MembershipBinding) error {
	id, ok := mb.Expr.(*lang.Ident)
	if !ok {
		return nil // not a collection name; not checked here
	}
	if t, ok := builtinCollections[id.Name]; ok && t != mb.Type && mb.Type != "Event" {
		return &TypeError{Span: mb.Span, Msg: fmt.Sprintf("membership binding declares %q but %q yields %q", mb.Type, id.Name, t)}
	}
	return nil
}

// checkFilterAtom type-checks one non-generator atom and returns the set
// of free variable names it references (for range-restriction checking
// and for the evaluator's "run as soon as ready" scheduling).
func checkFilterAtom(atom lang.Atom, bound map[string]string, preds map[string]*Predicate) ([]string, error) {
	vars := map[string]bool{}
	switch a := atom.(type) {
	case *lang.PatternAssertion:
		collectIdents(a.Target, vars)
		if id, ok := a.Target.(*lang.Ident); ok {
			if t, known := bound[id.Name]; known && t != "ToolCall" && t != "Event" {
				return nil, &TypeError{Span: a.Span, Msg: fmt.Sprintf("%q is bound as %s, not ToolCall", id.Name, t)}
			} else if !known {
				return nil, &TypeError{Span: a.Span, Msg: fmt.Sprintf("undefined variable %q", id.Name)}
			}
		}
	case *lang.FlowAssertion:
		collectIdents(a.From, vars)
		collectIdents(a.To, vars)
	case *lang.BoolAtom:
		collectIdents(a.Expr, vars)
		if err := checkExpr(a.Expr, bound, preds); err != nil {
			return nil, err
		}
	}
	names := make([]string, 0, len(vars))
	for v := range vars {
		if _, known := bound[v]; !known {
			if isReservedIdent(v) {
				continue
			}
			return nil, &TypeError{Span: atom.AtomSpan(), Msg: fmt.Sprintf("undefined variable %q", v)}
		}
		names = append(names, v)
	}
	return names, nil
}

// checkExpr walks an expression tree verifying every identifier is either
// a bound variable or a reserved name. Call callees are not resolved here (a
// name that is not a predicate is taken as a detector call); only a
// predicate call's argument count is checked.
func checkExpr(e lang.Expr, bound map[string]string, preds map[string]*Predicate) error {
	switch x := e.(type) {
	case *lang.Ident:
		if _, ok := bound[x.Name]; ok {
			return nil
		}
		if isReservedIdent(x.Name) {
			return nil
		}
		return &TypeError{Span: x.Span, Msg: fmt.Sprintf("undefined symbol %q", x.Name)}
	case *lang.AttrExpr:
		return checkExpr(x.Recv, bound, preds)
	case *lang.IndexExpr:
		if err := checkExpr(x.Recv, bound, preds); err != nil {
			return err
		}
		return checkExpr(x.Index, bound, preds)
	case *lang.CallExpr:
		if pred, ok := preds[x.Callee]; ok {
			if len(x.Positional) != len(pred.Def.Params) {
				return &TypeError{Span: x.Span, Msg: fmt.Sprintf("predicate %q expects %d argument(s), got %d", x.Callee, len(pred.Def.Params), len(x.Positional))}
			}
		}
		for _, a := range x.Positional {
			if err := checkExpr(a, bound, preds); err != nil {
				return err
			}
		}
		for _, a := range x.Keyword {
			if err := checkExpr(a, bound, preds); err != nil {
				return err
			}
		}
		return nil
	case *lang.BinaryExpr:
		if err := checkExpr(x.Left, bound, preds); err != nil {
			return err
		}
		return checkExpr(x.Right, bound, preds)
	case *lang.NotExpr:
		return checkExpr(x.Operand, bound, preds)
	default:
		return nil // literals
	}
}

// collectIdents gathers every Ident referenced anywhere in e.
func collectIdents(e lang.Expr, out map[string]bool) {
	switch x := e.(type) {
	case *lang.Ident:
		out[x.Name] = true
	case *lang.AttrExpr:
		collectIdents(x.Recv, out)
	case *lang.IndexExpr:
		collectIdents(x.Recv, out)
		collectIdents(x.Index, out)
	case *lang.CallExpr:
		for _, a := range x.Positional {
			collectIdents(a, out)
		}
		for _, a := range x.Keyword {
			collectIdents(a, out)
		}
	case *lang.BinaryExpr:
		collectIdents(x.Left, out)
		collectIdents(x.Right, out)
	case *lang.NotExpr:
		collectIdents(x.Operand, out)
	}
}

// checkRangeRestriction rejects any rule where an identifier appears only
// inside a `not` and was never bound by a generator (Datalog-style
// range-restriction, §8 invariant 6).
func checkRangeRestriction(filters []lang.Atom, varTypes map[string]string) error {
	for _, atom := range filters {
		ba, ok := atom.(*lang.BoolAtom)
		if !ok {
			continue
		}
		if err := checkNotRanges(ba.Expr, varTypes); err != nil {
			return err
		}
	}
	return nil
}

func checkNotRanges(e lang.Expr, varTypes map[string]string) error {
	switch x := e.(type) {
	case *lang.NotExpr:
		free := map[string]bool{}
		collectIdents(x.Operand, free)
		for name := range free {
			if _, bound := varTypes[name]; !bound {
				if isReservedIdent(name) {
					continue
				}
				return &TypeError{Span: x.Span, Msg: fmt.Sprintf("negated atom introduces unbound variable %q (not range-restricted)", name)}
			}
		}
		return checkNotRanges(x.Operand, varTypes)
	case *lang.BinaryExpr:
		if err := checkNotRanges(x.Left, varTypes); err != nil {
			return err
		}
		return checkNotRanges(x.Right, varTypes)
	}
	return nil
}
