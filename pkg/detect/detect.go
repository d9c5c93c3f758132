// Package detect implements the pluggable content-detector interface used
// from rule bodies (spec §4.7): PII, secrets, unsafe code, moderation, and
// prompt-injection classifiers. Every detector may refuse to run — a
// missing API key, a closed LOCAL_POLICY gate, or a timeout all produce an
// Unavailable result rather than an error, so the evaluator can treat the
// atom as unknown (§7 DetectorUnavailable) instead of failing the rule.
package detect

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Result is what a tag classifier (`<EMAIL_ADDRESS>`, `<MODERATED>`, …)
// reports about one string value.
type Result struct {
	Matched     bool
	HasSpan     bool
	Start, End  int
	Unavailable bool
}

// CallResult is what a predicate-style detector call
// (`prompt_injection(value, threshold := 0.7)`) reports.
type CallResult struct {
	Value       bool
	Unavailable bool
}

// Options configures a Registry. An empty Options produces a Registry with
// only the regex-based detectors (pii, secrets, code) available; the
// LLM-backed ones (moderation, prompt_injection) report Unavailable.
type Options struct {
	AnthropicAPIKey string
	Model           string // default: claude-3-5-haiku-20241022
	LocalPolicy     bool   // mirrors the LOCAL_POLICY=1 env var (spec §6)
	Timeout         time.Duration
}

// Registry resolves detector names to implementations and is the explicit
// context the evaluator threads through rule evaluation (§9: "global
// detector registry -> explicit context"); there is no process-wide
// mutable registry.
type Registry struct {
	client      *anthropic.Client
	model       string
	localPolicy bool
	timeout     time.Duration
}

const defaultModel = "claude-3-5-haiku-20241022"
const defaultTimeout = 10 * time.Second

// NewRegistry builds a Registry. When opts.AnthropicAPIKey is empty, or
// opts.LocalPolicy is set, the moderation/prompt_injection detectors are
// disabled (report Unavailable) rather than attempting outbound calls —
// mirroring the teacher's internal/model.NewAnthropicModel client
// construction, repurposed here for classification instead of generation.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		model:       opts.Model,
		localPolicy: opts.LocalPolicy,
		timeout:     opts.Timeout,
	}
	if r.model == "" {
		r.model = defaultModel
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if opts.AnthropicAPIKey != "" && !opts.LocalPolicy {
		client := anthropic.NewClient(option.WithAPIKey(opts.AnthropicAPIKey))
		r.client = &client
	}
	return r
}

// withDeadline derives a context bounded by the registry's per-call
// timeout (§5 "Timeouts": a detector that exceeds its deadline is treated
// as unknown, same as a refusing detector).
func (r *Registry) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// ClassifyTag evaluates a classifier-tag pattern (<EMAIL_ADDRESS>, <PERSON>,
// <LOCATION>, <PHONE_NUMBER>, <MODERATED>) against one string.
func (r *Registry) ClassifyTag(ctx context.Context, tag string, s string) (Result, error) {
	switch tag {
	case "EMAIL_ADDRESS", "PHONE_NUMBER", "LOCATION", "PERSON":
		return classifyPII(tag, s), nil
	case "MODERATED":
		return r.classifyModeration(ctx, s)
	default:
		return Result{Unavailable: true}, nil
	}
}

// Call evaluates a detector invoked as a boolean predicate from a rule
// body, e.g. `prompt_injection(out.content, threshold := 0.7)`.
func (r *Registry) Call(ctx context.Context, name string, s string, kwargs map[string]float64) (CallResult, error) {
	switch name {
	case "contains_pii", "pii":
		return CallResult{Value: detectAnyPII(s)}, nil
	case "contains_secrets", "secrets":
		return CallResult{Value: detectSecrets(s) != nil}, nil
	case "unsafe_code", "code":
		return CallResult{Value: looksLikeUnsafeCode(s)}, nil
	case "moderation", "moderated":
		res, err := r.classifyModeration(ctx, s)
		return CallResult{Value: res.Matched, Unavailable: res.Unavailable}, err
	case "prompt_injection":
		threshold := 0.5
		if t, ok := kwargs["threshold"]; ok {
			threshold = t
		}
		return r.classifyPromptInjection(ctx, s, threshold)
	default:
		return CallResult{Unavailable: true}, nil
	}
}
