// Package chattemplate implements the minimal, well-defined template
// grammar spec §4.G/§9 mandates in place of full Jinja2 execution:
// {{ expr }}, {% if %}/{% elif %}/{% else %}/{% endif %},
// {% for x in seq %}/{% endfor %}, dotted/index property access, slicing
// seq[a:b], == comparison, and string/integer literals. Anything outside
// this grammar is a parse error raised at template registration time, never
// at render time.
package chattemplate

import (
	"fmt"
	"strings"
)

type tokKind int

const (
	tokText tokKind = iota
	tokExprOpen
	tokTagOpen
	tokEOF
)

// token is either a raw text run, or the (already trimmed) contents of a
// {{ }} / {% %} block — the lexer does not parse expressions, it only
// splits text from delimited blocks.
type token struct {
	kind tokKind
	body string // raw text for tokText; trimmed inner content for the others
}

// lex splits src into a token stream of text runs and {{ }}/{% %} blocks.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		exprAt := strings.Index(src[i:], "{{")
		tagAt := strings.Index(src[i:], "{%")

		if exprAt < 0 && tagAt < 0 {
			toks = append(toks, token{kind: tokText, body: src[i:]})
			break
		}

		next := exprAt
		kind := tokExprOpen
		closeDelim := "}}"
		if tagAt >= 0 && (exprAt < 0 || tagAt < exprAt) {
			next = tagAt
			kind = tokTagOpen
			closeDelim = "%}"
		}

		if next > 0 {
			toks = append(toks, token{kind: tokText, body: src[i : i+next]})
		}

		openLen := 2
		start := i + next + openLen
		end := strings.Index(src[start:], closeDelim)
		if end < 0 {
			return nil, fmt.Errorf("chattemplate: unterminated %q block", strings.TrimSuffix(closeDelim, "}"))
		}
		body := strings.TrimSpace(src[start : start+end])
		toks = append(toks, token{kind: kind, body: body})

		i = start + end + len(closeDelim)
	}
	return toks, nil
}
