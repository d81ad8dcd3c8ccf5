package capshell

import "strings"

// Classification is a segment- or command-level safety verdict.
type Classification string

const (
	ClassSafe    Classification = "safe"
	ClassAsk     Classification = "ask"
	ClassUnknown Classification = "unknown"
	ClassDenied  Classification = "denied"
)

// Policy is the configuration a shell capability classifies commands
// against: an allowlist of safe command prefixes, an allowlist of
// ask-first command prefixes, and a set of denied token-subsequence
// patterns.
type Policy struct {
	SafeCommands    [][]string
	AskCommands     [][]string
	DeniedPatterns  [][]string
}

// matchesPatternToken reports whether a single command token matches a
// single pattern token, honoring the spec's two special pattern forms:
// tokens ending in "=" match as a prefix (env-var assignment patterns like
// "LD_PRELOAD="), and tokens beginning with "/" match as a prefix (path
// patterns like "/etc/").
func matchesPatternToken(pattern, token string) bool {
	if strings.HasSuffix(pattern, "=") || strings.HasPrefix(pattern, "/") {
		return strings.HasPrefix(token, pattern)
	}
	return pattern == token
}

// containsSubsequence reports whether pattern appears as a contiguous run
// within tokens, matching each pattern token via matchesPatternToken.
func containsSubsequence(tokens, pattern []string) bool {
	if len(pattern) == 0 || len(pattern) > len(tokens) {
		return false
	}
	for start := 0; start+len(pattern) <= len(tokens); start++ {
		match := true
		for j, p := range pattern {
			if !matchesPatternToken(p, tokens[start+j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func matchesPrefix(segment []string, candidate []string) bool {
	if len(candidate) == 0 || len(candidate) > len(segment) {
		return false
	}
	for i, c := range candidate {
		if segment[i] != c {
			return false
		}
	}
	return true
}

func classifySegment(segment []string, policy Policy) Classification {
	if hasExpansionOrRedirect(segment) {
		return ClassAsk
	}
	for _, safe := range policy.SafeCommands {
		if matchesPrefix(segment, safe) {
			return ClassSafe
		}
	}
	for _, ask := range policy.AskCommands {
		if matchesPrefix(segment, ask) {
			return ClassAsk
		}
	}
	return ClassUnknown
}

// Classify runs the full spec.md §4.2.2 classification algorithm on a raw
// command string and returns the overall decision level name
// ("denied" | "user-approved" | "auto") plus an explanatory reason.
func Classify(cmd string, policy Policy) (level string, reason string) {
	tokens := Tokenize(cmd)
	segments := Segments(tokens)

	for _, seg := range segments {
		if len(seg) == 0 {
			return "denied", "empty command"
		}
	}
	if len(segments) == 0 || (len(segments) == 1 && len(segments[0]) == 0) {
		return "denied", "empty command"
	}

	for _, pattern := range policy.DeniedPatterns {
		if containsSubsequence(tokens, pattern) {
			return "denied", "matched a denied pattern: " + strings.Join(pattern, " ")
		}
	}

	compound := len(segments) > 1
	anyAskOrUnknown := compound
	var classes []Classification
	for _, seg := range segments {
		c := classifySegment(seg, policy)
		classes = append(classes, c)
		if c == ClassAsk || c == ClassUnknown {
			anyAskOrUnknown = true
		}
	}

	if anyAskOrUnknown {
		reason := "requires approval"
		if compound {
			reason = "compound command requires approval"
		}
		return "user-approved", reason
	}
	return "auto", ""
}
