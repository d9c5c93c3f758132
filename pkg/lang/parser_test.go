package lang

import "testing"

func TestParseInboxExfiltrationRule(t *testing.T) {
	src := `raise "email sent to an unreviewed recipient after reading the inbox" if:
  (a: ToolCall); (b: ToolCall); a -> b
  a is tool:get_inbox(*)
  b is tool:send_email({to: r"^(?!Peter$).*$"})
`
	f, err := Parse("policy.sec", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(f.Rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(f.Rules))
	}
	rule := f.Rules[0]
	if rule.Ctor.IsCall {
		t.Fatalf("expected a bare string error kind, got a call ctor")
	}
	if rule.Ctor.Kind == "" {
		t.Fatalf("expected non-empty error kind")
	}
	if len(rule.Body) != 5 {
		t.Fatalf("got %d atoms, want 5: %+v", len(rule.Body), rule.Body)
	}

	if _, ok := rule.Body[0].(*VarBinding); !ok {
		t.Fatalf("atom 0: got %T, want *VarBinding", rule.Body[0])
	}
	if _, ok := rule.Body[1].(*VarBinding); !ok {
		t.Fatalf("atom 1: got %T, want *VarBinding", rule.Body[1])
	}
	flow, ok := rule.Body[2].(*FlowAssertion)
	if !ok {
		t.Fatalf("atom 2: got %T, want *FlowAssertion", rule.Body[2])
	}
	if id, ok := flow.From.(*Ident); !ok || id.Name != "a" {
		t.Fatalf("flow.From = %+v, want Ident(a)", flow.From)
	}

	pa0, ok := rule.Body[3].(*PatternAssertion)
	if !ok {
		t.Fatalf("atom 3: got %T, want *PatternAssertion", rule.Body[3])
	}
	if !pa0.HasName || pa0.Name != "get_inbox" {
		t.Fatalf("pattern assertion 0 name = %q/%v, want get_inbox/true", pa0.Name, pa0.HasName)
	}
	if _, ok := pa0.Pattern.(*PatWildcard); !ok {
		t.Fatalf("pattern 0 = %T, want *PatWildcard", pa0.Pattern)
	}

	pa1, ok := rule.Body[4].(*PatternAssertion)
	if !ok {
		t.Fatalf("atom 4: got %T, want *PatternAssertion", rule.Body[4])
	}
	obj, ok := pa1.Pattern.(*PatObject)
	if !ok {
		t.Fatalf("pattern 1 = %T, want *PatObject", pa1.Pattern)
	}
	toPat, ok := obj.Fields["to"].(*PatRegex)
	if !ok {
		t.Fatalf("field 'to' = %T, want *PatRegex", obj.Fields["to"])
	}
	if toPat.Pattern != `^(?!Peter$).*$` {
		t.Fatalf("got regex %q", toPat.Pattern)
	}
}

func TestParseSemicolonSeparatedSingleLineBody(t *testing.T) {
	src := `raise "leak" if: (a: ToolCall); (b: ToolCall); a -> b; a is tool:get_inbox(*); b is tool:send_email({to: r"^(?!Peter$).*$"})`
	f, err := Parse("p.sec", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(f.Rules) != 1 || len(f.Rules[0].Body) != 5 {
		t.Fatalf("got %+v", f.Rules)
	}
}

func TestParsePredicateDef(t *testing.T) {
	src := `is_untrusted(c: ToolCall) := c.function.name == "get_inbox"
`
	f, err := Parse("p.sec", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(f.Predicates) != 1 {
		t.Fatalf("got %d predicates, want 1", len(f.Predicates))
	}
	pd := f.Predicates[0]
	if pd.Name != "is_untrusted" || len(pd.Params) != 1 {
		t.Fatalf("unexpected predicate def: %+v", pd)
	}
	if pd.Params[0].Name != "c" || pd.Params[0].Type != "ToolCall" {
		t.Fatalf("unexpected param: %+v", pd.Params[0])
	}
	bin, ok := pd.Body.(*BinaryExpr)
	if !ok || bin.Op != OpEq {
		t.Fatalf("body = %+v, want equality BinaryExpr", pd.Body)
	}
}

func TestParseImport(t *testing.T) {
	f, err := Parse("p.sec", "from detectors.pii import contains_pii\n\nraise \"x\" if: (a: ToolCall); contains_pii(a)\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(f.Imports) != 1 {
		t.Fatalf("got %d imports, want 1", len(f.Imports))
	}
	imp := f.Imports[0]
	if imp.Module != "detectors.pii" || len(imp.Names) != 1 || imp.Names[0] != "contains_pii" {
		t.Fatalf("unexpected import: %+v", imp)
	}
}

func TestParseErrorCtorCall(t *testing.T) {
	src := `raise PolicyViolation(severity := "high", tag := "exfiltration") if: (a: ToolCall); a is tool:send_email(*)
`
	f, err := Parse("p.sec", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	ctor := f.Rules[0].Ctor
	if !ctor.IsCall || ctor.Name != "PolicyViolation" {
		t.Fatalf("unexpected ctor: %+v", ctor)
	}
	if len(ctor.Keyword) != 2 {
		t.Fatalf("got %d keyword args, want 2", len(ctor.Keyword))
	}
	sev, ok := ctor.Keyword["severity"].(*StringLit)
	if !ok || sev.Value != "high" {
		t.Fatalf("severity = %+v", ctor.Keyword["severity"])
	}
}

func TestParseMembershipBindingAndBoolOps(t *testing.T) {
	src := `raise "x" if: (o: ToolOutput) in outputs; not o.content == null and true
`
	f, err := Parse("p.sec", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	mb, ok := f.Rules[0].Body[0].(*MembershipBinding)
	if !ok {
		t.Fatalf("atom 0 = %T, want *MembershipBinding", f.Rules[0].Body[0])
	}
	if mb.Name != "o" || mb.Type != "ToolOutput" {
		t.Fatalf("unexpected membership binding: %+v", mb)
	}
	if id, ok := mb.Expr.(*Ident); !ok || id.Name != "outputs" {
		t.Fatalf("membership expr = %+v", mb.Expr)
	}

	b, ok := f.Rules[0].Body[1].(*BoolAtom)
	if !ok {
		t.Fatalf("atom 1 = %T, want *BoolAtom", f.Rules[0].Body[1])
	}
	and, ok := b.Expr.(*BinaryExpr)
	if !ok || and.Op != OpAnd {
		t.Fatalf("expr = %+v, want top-level 'and'", b.Expr)
	}
	if _, ok := and.Left.(*NotExpr); !ok {
		t.Fatalf("and.Left = %T, want *NotExpr", and.Left)
	}
}

func TestParseRejectsUnterminatedRule(t *testing.T) {
	_, err := Parse("p.sec", `raise "x" if:`)
	if err == nil {
		t.Fatal("expected an error for an empty rule body")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("got %T, want *ParseError", err)
	}
}

func TestParseListPatternAndNestedObject(t *testing.T) {
	src := `raise "x" if: (a: ToolCall); a is tool:batch({items: [1, 2, *], meta: {tag: <EMAIL_ADDRESS>}})
`
	f, err := Parse("p.sec", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	pa := f.Rules[0].Body[1].(*PatternAssertion)
	obj := pa.Pattern.(*PatObject)
	list, ok := obj.Fields["items"].(*PatList)
	if !ok || len(list.Elems) != 3 {
		t.Fatalf("items pattern = %+v", obj.Fields["items"])
	}
	if _, ok := list.Elems[2].(*PatWildcard); !ok {
		t.Fatalf("items[2] = %T, want *PatWildcard", list.Elems[2])
	}
	meta, ok := obj.Fields["meta"].(*PatObject)
	if !ok {
		t.Fatalf("meta = %T, want *PatObject", obj.Fields["meta"])
	}
	tag, ok := meta.Fields["tag"].(*PatTag)
	if !ok || tag.Tag != "EMAIL_ADDRESS" {
		t.Fatalf("meta.tag = %+v", meta.Fields["tag"])
	}
}
