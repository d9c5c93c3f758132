package eval

import (
	"fmt"
	"strconv"

	"traceguard/pkg/lang"
	"traceguard/pkg/trace"
)

// evalOutcome is the result of evaluating one expression node: its value,
// the Range it was read from (for localization, when the node is a leaf
// path rooted at a bound event), whether a detector it depended on was
// unavailable (§4.7: the atom becomes "unknown", not a hard failure), and
// any warnings raised along the way (e.g. DetectorUnavailable).
type evalOutcome struct {
	Value    trace.Value
	Range    trace.Range
	HasRange bool
	Unknown  bool
	Warnings []trace.Warning
}

func litOutcome(v trace.Value) evalOutcome { return evalOutcome{Value: v} }

// evalExpr evaluates e against env, tracking a localization Range when e
// is an identifier/attribute/index chain rooted at a bound variable.
func evalExpr(e lang.Expr, en *env) (evalOutcome, error) {
	switch x := e.(type) {
	case *lang.StringLit:
		return litOutcome(trace.String(x.Value)), nil
	case *lang.NumberLit:
		return litOutcome(trace.Number(x.Value)), nil
	case *lang.BoolLit:
		return litOutcome(trace.Bool(x.Value)), nil
	case *lang.NullLit:
		return litOutcome(trace.Null), nil
	case *lang.RegexLit:
		return litOutcome(trace.String(x.Pattern)), nil
	case *lang.TagLit:
		return litOutcome(trace.String(x.Tag)), nil

	case *lang.Ident:
		if ev, ok := en.bindings[x.Name]; ok {
			return evalOutcome{Value: eventToValue(ev), Range: trace.NewRange(ev.EventID(), ""), HasRange: true}, nil
		}
		if x.Name == "params" {
			return litOutcome(trace.Map(en.params)), nil
		}
		return evalOutcome{}, fmt.Errorf("unbound variable %q at %s", x.Name, x.Span)

	case *lang.AttrExpr:
		recv, err := evalExpr(x.Recv, en)
		if err != nil {
			return evalOutcome{}, err
		}
		src := recv.Value
		if _, isStr := src.AsString(); isStr {
			if parsed, ok := src.AsParsed(); ok {
				src = parsed
			}
		}
		val, present := src.Get(x.Attr)
		if !present {
			val = trace.Null
		}
		out := evalOutcome{Value: val, Unknown: recv.Unknown, Warnings: recv.Warnings}
		if recv.HasRange {
			out.Range = trace.NewRange(recv.Range.ObjectID, trace.JoinPath(recv.Range.JSONPath, x.Attr))
			out.HasRange = true
		}
		return out, nil

	case *lang.IndexExpr:
		recv, err := evalExpr(x.Recv, en)
		if err != nil {
			return evalOutcome{}, err
		}
		idx, err := evalExpr(x.Index, en)
		if err != nil {
			return evalOutcome{}, err
		}
		var val trace.Value
		var seg string
		if s, ok := idx.Value.AsString(); ok {
			src := recv.Value
			if _, isStr := src.AsString(); isStr {
				if parsed, ok := src.AsParsed(); ok {
					src = parsed
				}
			}
			v, present := src.Get(s)
			if present {
				val = v
			} else {
				val = trace.Null
			}
			seg = s
		} else if n, ok := idx.Value.AsNumber(); ok {
			v, present := recv.Value.Index(int(n))
			if present {
				val = v
			} else {
				val = trace.Null
			}
			seg = strconv.Itoa(int(n))
		} else {
			return evalOutcome{}, fmt.Errorf("invalid index expression at %s", x.Span)
		}
		out := evalOutcome{Value: val, Unknown: recv.Unknown, Warnings: recv.Warnings}
		if recv.HasRange {
			out.Range = trace.NewRange(recv.Range.ObjectID, trace.JoinPath(recv.Range.JSONPath, seg))
			out.HasRange = true
		}
		return out, nil

	case *lang.NotExpr:
		inner, err := evalExpr(x.Operand, en)
		if err != nil {
			return evalOutcome{}, err
		}
		out := inner
		out.Value = trace.Bool(!asBool(inner.Value))
		return out, nil

	case *lang.BinaryExpr:
		return evalBinary(x, en)

	case *lang.CallExpr:
		return evalCall(x, en)
	}
	return evalOutcome{}, fmt.Errorf("unsupported expression node %T", e)
}

func asBool(v trace.Value) bool {
	b, _ := v.AsBool()
	return b
}

func evalBinary(x *lang.BinaryExpr, en *env) (evalOutcome, error) {
	switch x.Op {
	case lang.OpAnd:
		left, err := evalExpr(x.Left, en)
		if err != nil {
			return evalOutcome{}, err
		}
		if !asBool(left.Value) {
			left.Value = trace.Bool(false)
			return left, nil
		}
		right, err := evalExpr(x.Right, en)
		if err != nil {
			return evalOutcome{}, err
		}
		return merge(left, right, trace.Bool(asBool(left.Value) && asBool(right.Value))), nil
	case lang.OpOr:
		left, err := evalExpr(x.Left, en)
		if err != nil {
			return evalOutcome{}, err
		}
		if asBool(left.Value) {
			left.Value = trace.Bool(true)
			return left, nil
		}
		right, err := evalExpr(x.Right, en)
		if err != nil {
			return evalOutcome{}, err
		}
		return merge(left, right, trace.Bool(asBool(right.Value))), nil
	}

	left, err := evalExpr(x.Left, en)
	if err != nil {
		return evalOutcome{}, err
	}
	right, err := evalExpr(x.Right, en)
	if err != nil {
		return evalOutcome{}, err
	}
	var result trace.Value
	switch x.Op {
	case lang.OpEq:
		result = trace.Bool(left.Value.Equal(right.Value))
	case lang.OpNe:
		result = trace.Bool(!left.Value.Equal(right.Value))
	case lang.OpLt, lang.OpLe, lang.OpGt, lang.OpGe:
		cmp, ok := compareValues(left.Value, right.Value)
		if !ok {
			return evalOutcome{}, fmt.Errorf("cannot order-compare values at %s", x.Span)
		}
		switch x.Op {
		case lang.OpLt:
			result = trace.Bool(cmp < 0)
		case lang.OpLe:
			result = trace.Bool(cmp <= 0)
		case lang.OpGt:
			result = trace.Bool(cmp > 0)
		case lang.OpGe:
			result = trace.Bool(cmp >= 0)
		}
	case lang.OpIn:
		result = trace.Bool(valueIn(left.Value, right.Value))
	default:
		return evalOutcome{}, fmt.Errorf("unsupported operator at %s", x.Span)
	}
	return merge(left, right, result), nil
}

func merge(left, right evalOutcome, result trace.Value) evalOutcome {
	out := evalOutcome{Value: result, Unknown: left.Unknown || right.Unknown}
	out.Warnings = append(append([]trace.Warning{}, left.Warnings...), right.Warnings...)
	if left.HasRange {
		out.Range, out.HasRange = left.Range, true
	} else if right.HasRange {
		out.Range, out.HasRange = right.Range, true
	}
	return out
}

func compareValues(a, b trace.Value) (int, bool) {
	if an, ok := a.AsNumber(); ok {
		if bn, ok2 := b.AsNumber(); ok2 {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	if as, ok := a.AsString(); ok {
		if bs, ok2 := b.AsString(); ok2 {
			switch {
			case as < bs:
				return -1, true
			case as > bs:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return 0, false
}

func valueIn(needle, haystack trace.Value) bool {
	if lst, ok := haystack.AsList(); ok {
		for _, v := range lst {
			if needle.Equal(v) {
				return true
			}
		}
		return false
	}
	if m, ok := haystack.AsMap(); ok {
		if s, ok2 := needle.AsString(); ok2 {
			_, present := m[s]
			return present
		}
	}
	return false
}

// evalCall dispatches a CallExpr to either a user-defined predicate
// (substituting its bound-event arguments into a child scope) or a
// detector invocation (spec §4.7).
func evalCall(x *lang.CallExpr, en *env) (evalOutcome, error) {
	if pred, ok := en.predicates[x.Callee]; ok {
		child := en
		for i, param := range pred.Def.Params {
			if i >= len(x.Positional) {
				break
			}
			id, ok := x.Positional[i].(*lang.Ident)
			if !ok {
				return evalOutcome{}, fmt.Errorf("predicate %q argument %d must be a variable reference", x.Callee, i)
			}
			ev, ok := en.bindings[id.Name]
			if !ok {
				return evalOutcome{}, fmt.Errorf("unbound variable %q passed to predicate %q", id.Name, x.Callee)
			}
			child = child.with(param.Name, ev)
		}
		return evalExpr(pred.Def.Body, child)
	}

	// Detector invocation: first positional argument is the subject value.
	if len(x.Positional) == 0 {
		return evalOutcome{}, fmt.Errorf("detector call %q requires an argument", x.Callee)
	}
	subject, err := evalExpr(x.Positional[0], en)
	if err != nil {
		return evalOutcome{}, err
	}
	str, ok := subject.Value.AsString()
	if !ok {
		if parsed, ok2 := subject.Value.AsParsed(); ok2 {
			str = parsed.String()
		} else {
			str = subject.Value.String()
		}
	}

	kwargs := map[string]float64{}
	for k, ke := range x.Keyword {
		kv, err := evalExpr(ke, en)
		if err != nil {
			return evalOutcome{}, err
		}
		if n, ok := kv.Value.AsNumber(); ok {
			kwargs[k] = n
		}
	}

	res, err := en.detectors.Call(en.ctx, x.Callee, str, kwargs)
	if err != nil {
		return evalOutcome{}, err
	}
	out := evalOutcome{Value: trace.Bool(res.Value)}
	if subject.HasRange {
		out.Range, out.HasRange = subject.Range, true
	}
	if res.Unavailable {
		out.Unknown = true
		out.Warnings = append(out.Warnings, trace.Warning{
			Kind:    "DetectorUnavailable",
			Message: fmt.Sprintf("detector %q is unavailable", x.Callee),
		})
	}
	return out, nil
}
