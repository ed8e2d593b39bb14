// Package textnorm folds Russian free text into a canonical form for
// pattern matching and provides the transliteration and similarity helpers
// used for hotel-name lookup.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Russian)

// Fold returns NFC-normalized, lower-cased text with ё folded to е.
func Fold(s string) string {
	s = norm.NFC.String(s)
	s = lower.String(s)
	return strings.ReplaceAll(s, "ё", "е")
}

var cyrToLat = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d",
	'е': "e", 'ё': "e", 'ж': "zh", 'з': "z", 'и': "i",
	'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n",
	'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t",
	'у': "u", 'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch",
	'ш': "sh", 'щ': "sch", 'ъ': "", 'ы': "y", 'ь': "",
	'э': "e", 'ю': "yu", 'я': "ya",
}

// Transliterate maps Cyrillic to Latin. alt selects the ph/kh variants
// ("Парадайз" → "paradays" vs "pharadays"-style spellings in catalogs).
func Transliterate(s string, alt bool) string {
	var b strings.Builder
	for _, r := range lower.String(s) {
		if alt {
			switch r {
			case 'ф':
				b.WriteString("ph")
				continue
			case 'х':
				b.WriteString("kh")
				continue
			}
		}
		if lat, ok := cyrToLat[r]; ok {
			b.WriteString(lat)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HasCyrillic reports whether s contains any Cyrillic letter.
func HasCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}

// Ratio is a normalized similarity in [0,1]: 1 - edit distance / longer length.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// StripPunct replaces punctuation with spaces and collapses whitespace.
func StripPunct(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

const (
	wordClass = `\p{L}\p{N}_`
	boundary  = `(?:^|$|[^` + wordClass + `])`
)

// Unicode rewrites the ASCII-only \b and \w of a pattern into Unicode-aware
// equivalents so Cyrillic words match. The emulated \b consumes the
// neighbouring character, which is fine for presence tests but not for
// extracting exact spans at a boundary.
func Unicode(pattern string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			next := pattern[i+1]
			i++
			switch {
			case next == 'w' && inClass:
				b.WriteString(wordClass)
			case next == 'w':
				b.WriteString("[" + wordClass + "]")
			case next == 'b' && !inClass:
				b.WriteString(boundary)
			default:
				b.WriteByte('\\')
				b.WriteByte(next)
			}
			continue
		}
		switch c {
		case '[':
			inClass = true
		case ']':
			inClass = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// MustCompile compiles a Unicode-rewritten pattern.
func MustCompile(pattern string) *regexp.Regexp {
	return regexp.MustCompile(Unicode(pattern))
}

// MustCompileAll compiles a pattern family.
func MustCompileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = MustCompile(p)
	}
	return out
}

// MatchAny reports whether any pattern matches s.
func MatchAny(rxs []*regexp.Regexp, s string) bool {
	for _, rx := range rxs {
		if rx.MatchString(s) {
			return true
		}
	}
	return false
}
