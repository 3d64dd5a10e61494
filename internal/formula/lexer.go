package formula

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokComma
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokNumber:
		return "number"
	case tokIdent:
		return "identifier"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	default:
		return "unknown"
	}
}

type token struct {
	kind tokenKind
	text string
	num  decimal.Decimal
	pos  int
}

// tokenize splits the source into tokens. Any character outside the grammar
// is rejected here so nothing unexpected ever reaches the parser.
func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '+':
			tokens = append(tokens, token{kind: tokPlus, text: "+", pos: i})
			i++
		case c == '-':
			tokens = append(tokens, token{kind: tokMinus, text: "-", pos: i})
			i++
		case c == '*':
			tokens = append(tokens, token{kind: tokStar, text: "*", pos: i})
			i++
		case c == '/':
			tokens = append(tokens, token{kind: tokSlash, text: "/", pos: i})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case isDigit(c) || c == '.':
			start := i
			seenDot := false
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				if src[i] == '.' {
					if seenDot {
						return nil, fmt.Errorf("%w: malformed number at %d", ErrSyntax, start)
					}
					seenDot = true
				}
				i++
			}
			text := src[start:i]
			num, err := decimal.NewFromString(text)
			if err != nil {
				return nil, fmt.Errorf("%w: malformed number %q at %d", ErrSyntax, text, start)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: num, pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && (isIdentPart(src[i]) || src[i] == '.') {
				i++
			}
			text := src[start:i]
			if strings.HasSuffix(text, ".") || strings.Contains(text, "..") {
				return nil, fmt.Errorf("%w: malformed identifier %q at %d", ErrSyntax, text, start)
			}
			tokens = append(tokens, token{kind: tokIdent, text: text, pos: start})
		default:
			r := rune(c)
			if c >= 0x80 {
				r = []rune(src[i:])[0]
			}
			if unicode.IsPrint(r) {
				return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, r, i)
			}
			return nil, fmt.Errorf("%w: unexpected byte 0x%02x at %d", ErrSyntax, c, i)
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
