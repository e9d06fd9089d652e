package transport

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

var mqlEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// EscapeMQL escapes s for use inside a double-quoted console argument:
// every backslash is doubled and every double quote is preceded by a
// backslash.
func EscapeMQL(s string) string {
	return mqlEscaper.Replace(s)
}

// secretKeywords are the console keywords whose following word is a secret.
var secretKeywords = map[string]bool{
	"pass":     true,
	"password": true,
}

const redacted = `"***"`

// RedactLine masks the word following a "pass" keyword in a console command
// line. The line is parsed with a POSIX shell grammar, which matches the
// console's quoting closely enough to locate the words; lines that do not
// parse are masked from the keyword to the next semicolon.
func RedactLine(line string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	prog, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return fallbackRedact(line)
	}

	type span struct{ start, end int }
	var spans []span
	syntax.Walk(prog, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok {
			return true
		}
		for i := 0; i+1 < len(call.Args); i++ {
			if secretKeywords[strings.ToLower(call.Args[i].Lit())] {
				w := call.Args[i+1]
				spans = append(spans, span{int(w.Pos().Offset()), int(w.End().Offset())})
				i++
			}
		}
		return true
	})
	if len(spans) == 0 {
		return line
	}

	var b strings.Builder
	last := 0
	for _, s := range spans {
		if s.start < last || s.end > len(line) {
			return fallbackRedact(line)
		}
		b.WriteString(line[last:s.start])
		b.WriteString(redacted)
		last = s.end
	}
	b.WriteString(line[last:])
	return b.String()
}

func fallbackRedact(line string) string {
	lower := strings.ToLower(line)
	idx := strings.Index(lower, " pass ")
	if idx < 0 {
		return line
	}
	start := idx + len(" pass ")
	end := strings.IndexByte(line[start:], ';')
	if end < 0 {
		return line[:start] + redacted
	}
	return line[:start] + redacted + line[start+end:]
}
