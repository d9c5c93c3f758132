// Package match implements the semantic pattern matcher: evaluating the
// `is tool:name({...})` pattern grammar against a ToolCall's arguments
// (spec §4.3). A successful match also yields the set of Ranges that
// pinpoint which fields satisfied the pattern, for error localization.
package match

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"traceguard/pkg/detect"
	"traceguard/pkg/lang"
	"traceguard/pkg/trace"
)

// Result is the outcome of matching a Pattern against a Value.
type Result struct {
	Matched bool
	Ranges  []trace.Range
	// Unknown is true when a classifier-tag pattern could not be evaluated
	// because its detector refused or was unavailable (§4.7). A binding
	// touching an Unknown result must be skipped, not treated as a match
	// failure.
	Unknown  bool
	Warnings []trace.Warning
}

func fail() Result { return Result{} }

func ok(ranges ...trace.Range) Result {
	return Result{Matched: true, Ranges: ranges}
}

// MatchToolCall evaluates `call is tool[:name](pattern)`. Ranges are rooted
// at the call's function.arguments, for localization.
func MatchToolCall(ctx context.Context, call *trace.ToolCall, name string, hasName bool, pattern lang.Pattern, reg *detect.Registry) (Result, error) {
	if hasName && call.Function.Name != name {
		return fail(), nil
	}
	argsValue := trace.Map(call.Function.Arguments)
	base := trace.NewRange(call.ID, "function.arguments")
	return matchValue(ctx, argsValue, pattern, base, reg)
}

func matchValue(ctx context.Context, v trace.Value, p lang.Pattern, base trace.Range, reg *detect.Registry) (Result, error) {
	switch pat := p.(type) {
	case *lang.PatWildcard:
		return ok(base), nil

	case *lang.PatLiteral:
		lit, err := literalValue(pat.Value)
		if err != nil {
			return fail(), err
		}
		if v.Equal(lit) {
			return ok(base), nil
		}
		return fail(), nil

	case *lang.PatRegex:
		s, ok2 := v.AsString()
		if !ok2 {
			return fail(), nil
		}
		re, err := regexp.Compile(`^(?:` + pat.Pattern + `)$`)
		if err != nil {
			return fail(), fmt.Errorf("compiling regex pattern %q: %w", pat.Pattern, err)
		}
		if !re.MatchString(s) {
			return fail(), nil
		}
		return ok(base.WithSpan(0, len([]rune(s)))), nil

	case *lang.PatTag:
		s, ok2 := v.AsString()
		if !ok2 {
			return fail(), nil
		}
		res, err := reg.ClassifyTag(ctx, pat.Tag, s)
		if err != nil {
			return fail(), err
		}
		if res.Unavailable {
			return Result{Unknown: true, Warnings: []trace.Warning{{
				Kind:    "DetectorUnavailable",
				Message: fmt.Sprintf("detector for tag %s is unavailable", pat.Tag),
				Range:   &base,
			}}}, nil
		}
		if !res.Matched {
			return fail(), nil
		}
		r := base
		if res.HasSpan {
			// Detector offsets are byte offsets; Range spans count characters.
			r = base.WithSpan(utf8.RuneCountInString(s[:res.Start]), utf8.RuneCountInString(s[:res.End]))
		}
		return Result{Matched: true, Ranges: []trace.Range{r}}, nil

	case *lang.PatObject:
		m, ok2 := v.AsMap()
		if !ok2 {
			if parsed, ok3 := v.AsParsed(); ok3 {
				if m2, ok4 := parsed.AsMap(); ok4 {
					m = m2
					ok2 = true
				}
			}
		}
		if !ok2 {
			return fail(), nil
		}
		var ranges []trace.Range
		for _, key := range pat.FieldOrd {
			sub := pat.Fields[key]
			fv, present := m[key]
			subBase := trace.NewRange(base.ObjectID, trace.JoinPath(base.JSONPath, key))
			if !present {
				if _, isWildcard := sub.(*lang.PatWildcard); isWildcard {
					continue
				}
				return fail(), nil
			}
			r, err := matchValue(ctx, fv, sub, subBase, reg)
			if err != nil {
				return fail(), err
			}
			if r.Unknown {
				return r, nil
			}
			if !r.Matched {
				return fail(), nil
			}
			ranges = append(ranges, r.Ranges...)
		}
		ranges = append(ranges, base)
		return Result{Matched: true, Ranges: ranges}, nil

	case *lang.PatList:
		lst, ok2 := v.AsList()
		if !ok2 {
			return fail(), nil
		}
		if len(lst) < len(pat.Elems) {
			return fail(), nil
		}
		var ranges []trace.Range
		for i, sub := range pat.Elems {
			subBase := trace.NewRange(base.ObjectID, trace.JoinPath(base.JSONPath, fmt.Sprintf("%d", i)))
			r, err := matchValue(ctx, lst[i], sub, subBase, reg)
			if err != nil {
				return fail(), err
			}
			if r.Unknown {
				return r, nil
			}
			if !r.Matched {
				return fail(), nil
			}
			ranges = append(ranges, r.Ranges...)
		}
		ranges = append(ranges, base)
		return Result{Matched: true, Ranges: ranges}, nil
	}
	return fail(), fmt.Errorf("unsupported pattern node %T", p)
}

func literalValue(e lang.Expr) (trace.Value, error) {
	switch lit := e.(type) {
	case *lang.StringLit:
		return trace.String(lit.Value), nil
	case *lang.NumberLit:
		return trace.Number(lit.Value), nil
	case *lang.BoolLit:
		return trace.Bool(lit.Value), nil
	case *lang.NullLit:
		return trace.Null, nil
	default:
		return trace.Null, fmt.Errorf("unsupported literal pattern %T", e)
	}
}
