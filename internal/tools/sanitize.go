package tools

import "strings"

// shellMetacharacters are the characters spec.md §4.4 requires every
// subprocess-spawning built-in tool to reject before spawning, as a coarse
// input-sanitation layer beneath the capability-mask gate (not a sandbox).
// The raw "shell" tool is the one exception (see shellExecute).
const shellMetacharacters = "'`$|;&\n\r\x00"

// rejectShellMetacharacters returns an error message and true if s
// contains any disallowed shell metacharacter.
func rejectShellMetacharacters(s string) (string, bool) {
	if i := strings.IndexAny(s, shellMetacharacters); i >= 0 {
		return "argument contains disallowed shell metacharacter", true
	}
	return "", false
}

// mathExprAllowed reports whether s consists only of characters the
// calculator tool's expression validator permits: digits, operators,
// parens, whitespace, letters, underscore (spec.md §4.4).
func mathExprAllowed(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == '_':
		case r == '+' || r == '-' || r == '*' || r == '/' || r == '%' || r == '^':
		case r == '(' || r == ')':
		case r == '.':
		case r == ' ' || r == '\t':
		default:
			return false
		}
	}
	return true
}
