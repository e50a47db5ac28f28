package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// newReqID tags one command or button press in the logs.
func newReqID() string {
	return uuid.NewString()[:8]
}

// closingQuote maps each opening quote to the rune that ends it. Phone
// keyboards send typographic quotes.
var closingQuote = map[rune]rune{'"': '"', '\'': '\'', '“': '”', '‘': '’'}

// splitArgs breaks command text into words. A quoted run is one word and a
// backslash escapes the next rune.
//
//	!tracker apply “Jane Street”
func splitArgs(s string) []string {
	var (
		out     []string
		word    strings.Builder
		inWord  bool
		escaped bool
		closing rune
	)
	for _, r := range s {
		switch {
		case escaped:
			word.WriteRune(r)
			inWord, escaped = true, false
		case r == '\\':
			escaped = true
		case closing != 0:
			if r == closing {
				closing = 0
				continue
			}
			word.WriteRune(r)
		case unicode.IsSpace(r):
			if inWord {
				out = append(out, word.String())
				word.Reset()
				inWord = false
			}
		default:
			if c, ok := closingQuote[r]; ok {
				closing, inWord = c, true
				continue
			}
			word.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		out = append(out, word.String())
	}
	return out
}

// splitFlags separates --name=value, --name value and bare --name switches
// from positional words. Single-dash words such as "-1" stay positional.
func splitFlags(args []string) (pos []string, flags map[string]string, switches map[string]bool) {
	flags, switches = map[string]string{}, map[string]bool{}
	for i := 0; i < len(args); i++ {
		name, ok := strings.CutPrefix(args[i], "--")
		if !ok || name == "" {
			pos = append(pos, args[i])
			continue
		}
		if k, v, ok := strings.Cut(name, "="); ok {
			flags[k] = v
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			flags[name] = args[i+1]
			i++
			continue
		}
		switches[name] = true
	}
	return pos, flags, switches
}
