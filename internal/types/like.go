package types

import "unicode/utf8"

// NoEscape disables escaping in Like.
const NoEscape rune = -1

// Like matches s against a SQL LIKE pattern where '%' matches any run of
// characters and '_' matches exactly one. A character preceded by escape is
// matched literally.
func Like(s, pattern string, escape rune) bool {
	// Iterative matcher with a single backtrack point for the last '%'.
	var (
		si, pi         int
		starPi, starSi = -1, -1
	)
	for si < len(s) {
		if pi < len(pattern) {
			pr, pw := utf8.DecodeRuneInString(pattern[pi:])
			switch {
			case pr == escape && escape != NoEscape && pi+pw < len(pattern):
				lr, lw := utf8.DecodeRuneInString(pattern[pi+pw:])
				sr, sw := utf8.DecodeRuneInString(s[si:])
				if lr == sr {
					si += sw
					pi += pw + lw
					continue
				}
			case pr == '%':
				starPi, starSi = pi+pw, si
				pi += pw
				continue
			case pr == '_':
				_, sw := utf8.DecodeRuneInString(s[si:])
				si += sw
				pi += pw
				continue
			default:
				sr, sw := utf8.DecodeRuneInString(s[si:])
				if pr == sr {
					si += sw
					pi += pw
					continue
				}
			}
		}
		if starPi < 0 {
			return false
		}
		_, sw := utf8.DecodeRuneInString(s[starSi:])
		starSi += sw
		si = starSi
		pi = starPi
	}
	for pi < len(pattern) {
		pr, pw := utf8.DecodeRuneInString(pattern[pi:])
		if pr != '%' {
			return false
		}
		pi += pw
	}
	return true
}

// LikePrefix returns the literal prefix of a LIKE pattern, up to the first
// unescaped wildcard.
func LikePrefix(pattern string, escape rune) string {
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); {
		r, w := utf8.DecodeRuneInString(pattern[i:])
		switch {
		case r == escape && escape != NoEscape && i+w < len(pattern):
			lr, lw := utf8.DecodeRuneInString(pattern[i+w:])
			out = utf8.AppendRune(out, lr)
			i += w + lw
			continue
		case r == '%' || r == '_':
			return string(out)
		}
		out = utf8.AppendRune(out, r)
		i += w
	}
	return string(out)
}
