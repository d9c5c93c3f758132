package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"traceguard/pkg/eval"
	"traceguard/pkg/trace"
)

// canonicalViolation is the subset of a Violation's identity that must stay
// stable across incremental Check calls: which rule fired, over which bound
// events, with which error fields. Ranges are excluded deliberately — two
// occurrences of the same rule over the same bindings always touch the same
// ranges, so including them would be redundant, and Range carries character
// spans that can shift under detector re-runs without changing meaning.
type canonicalViolation struct {
	RuleIndex int               `json:"rule_index"`
	Kind      string             `json:"kind"`
	Message   string             `json:"message"`
	Bindings  []bindingPair      `json:"bindings"`
	Fields    []fieldPair        `json:"fields"`
}

type bindingPair struct {
	Name string  `json:"name"`
	ID   trace.ID `json:"id"`
}

type fieldPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// fingerprint computes a stable identity hash for a Violation, following
// the teacher's canonical-JSON-then-sha256 idiom for tamper-evident event
// hashing (internal/audit/hash.go's ComputeEventHash): marshal a
// deterministic, field-sorted projection, then hex-encode its sha256 sum.
// Two Check calls that observe the same rule firing over the same event
// bindings produce the same fingerprint regardless of how much unrelated
// trace prefix surrounds them (spec §8 invariant 3, monitor equivalence).
func fingerprint(v eval.Violation) (string, error) {
	cv := canonicalViolation{
		RuleIndex: v.RuleIndex,
		Kind:      v.Kind,
		Message:   v.Message,
	}
	for name, id := range v.Bindings {
		cv.Bindings = append(cv.Bindings, bindingPair{Name: name, ID: id})
	}
	sort.Slice(cv.Bindings, func(i, j int) bool { return cv.Bindings[i].Name < cv.Bindings[j].Name })

	for name, val := range v.Fields {
		cv.Fields = append(cv.Fields, fieldPair{Name: name, Value: val.String()})
	}
	sort.Slice(cv.Fields, func(i, j int) bool { return cv.Fields[i].Name < cv.Fields[j].Name })

	data, err := json.Marshal(cv)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
