// Package grammar holds the static GBNF grammars that constrain the model
// to emit a single well-formed JSON object of one of a handful of shapes.
// The grammar text is baked into the binary as Go constants: it never
// depends on runtime configuration (spec.md §9, "grammar text as static
// data").
package grammar

import "strings"

// jsonCore is the shared nested-value grammar (object/array/string/number)
// every root production below embeds. It is standard JSON except that
// whitespace is permitted liberally between tokens, matching typical model
// output formatting.
const jsonCore = `
ws ::= [ \t\n\r]*
value ::= object | array | string | number | ("true" | "false" | "null")
object ::= "{" ws (member (ws "," ws member)*)? ws "}"
member ::= string ws ":" ws value
array ::= "[" ws (value (ws "," ws value)*)? ws "]"
string ::= "\"" char* "\""
char ::= [^"\\] | "\\" (["\\/bfnrt] | "u" hex hex hex hex)
hex ::= [0-9a-fA-F]
number ::= "-"? int frac? exp?
int ::= "0" | [1-9] [0-9]*
frac ::= "." [0-9]+
exp ::= ("e" | "E") ("+" | "-")? [0-9]+
`

// OneShot constrains generation to exactly one of:
//   - a tool call:     {"thought": "...", "action": "...", "args": {...}}
//   - a final answer:  {"thought": "...", "answer": "..."}
const OneShot = `root ::= ws (tool-call | final-answer) ws
tool-call ::= "{" ws "\"thought\"" ws ":" ws string ws "," ws "\"action\"" ws ":" ws action ws "," ws "\"args\"" ws ":" ws object ws "}"
final-answer ::= "{" ws "\"thought\"" ws ":" ws string ws "," ws "\"answer\"" ws ":" ws string ws "}"
action ::= string
` + jsonCore

// Interactive extends OneShot with a third root alternative — a direct
// conversational reply requiring no tool:  {"reply": "..."}
const Interactive = `root ::= ws (tool-call | final-answer | reply) ws
tool-call ::= "{" ws "\"thought\"" ws ":" ws string ws "," ws "\"action\"" ws ":" ws action ws "," ws "\"args\"" ws ":" ws object ws "}"
final-answer ::= "{" ws "\"thought\"" ws ":" ws string ws "," ws "\"answer\"" ws ":" ws string ws "}"
reply ::= "{" ws "\"reply\"" ws ":" ws string ws "}"
action ::= string
` + jsonCore

// actionFallback is the default action production every base grammar
// declares; WithToolNames overrides it so tool-call's "action" field
// resolves to tool-name instead of the generic string rule.
const actionFallback = "action ::= string"

// WithToolNames splices a `tool-name ::= "\"X\"" | "\"Y\"" | …` production
// (as produced by tools.Registry.GrammarNames) into base and redirects the
// tool-call production's "action" field to it, so the grammar actually
// constrains "action" to a registered tool name instead of an arbitrary
// string. Returns base unchanged if names is empty.
func WithToolNames(base, names string) string {
	if strings.TrimSpace(names) == "" {
		return base
	}
	base = strings.Replace(base, actionFallback, "action ::= tool-name", 1)
	return base + "\n" + names + "\n"
}
