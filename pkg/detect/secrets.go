package detect

import "regexp"

// secrets.go supplements spec.md §1's passing mention of "secret regexes",
// which the distillation otherwise left unimplemented (SPEC_FULL.md §4.7).

// secretPattern pairs a finding kind with the regex that detects it.
type secretPattern struct {
	kind string
	re   *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"aws_access_key_id", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"aws_secret_access_key", regexp.MustCompile(`(?i)aws_secret_access_key["']?\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}`)},
	{"github_token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`)},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{20,}`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`)},
}

// detectSecrets returns the kinds of secrets found in s, or nil if none.
func detectSecrets(s string) []string {
	var kinds []string
	for _, p := range secretPatterns {
		if p.re.MatchString(s) {
			kinds = append(kinds, p.kind)
		}
	}
	return kinds
}
