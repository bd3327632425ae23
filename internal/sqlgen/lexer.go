package sqlgen

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokWord   tokenKind = iota // keyword or bare identifier
	tokQuoted                  // "ident" or `ident`
	tokString                  // 'literal'
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string // for tokWord the upper-cased text, for tokQuoted the unquoted name
	raw  string
}

func (t token) is(word string) bool { return t.kind == tokWord && t.text == word }

func (t token) punct(p string) bool { return t.kind == tokPunct && t.text == p }

// tokenize splits a statement into tokens, dropping whitespace and comments.
// Unterminated strings, identifiers or comments are errors, as is any syntax
// that SQLite and Postgres would split into different tokens: nested block
// comments, dollar quoting, positional parameters and backslash-escaped
// E'...' strings.
func tokenize(sql string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++

		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 1
			}

		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated comment")
			}
			if strings.Contains(sql[i+2:i+2+end], "/*") {
				return nil, fmt.Errorf("nested comments are not allowed")
			}
			i += end + 4

		case c == '\'':
			j, err := scanQuoted(sql, i, '\'')
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: sql[i:j], raw: sql[i:j]})
			i = j

		case c == '"' || c == '`':
			j, err := scanQuoted(sql, i, c)
			if err != nil {
				return nil, err
			}
			name := strings.ReplaceAll(sql[i+1:j-1], string([]byte{c, c}), string(c))
			toks = append(toks, token{kind: tokQuoted, text: name, raw: sql[i:j]})
			i = j

		case c == '$':
			return nil, fmt.Errorf("dollar quoting and parameters are not allowed")

		case isIdentStart(c):
			j := i + 1
			for j < len(sql) && isIdentPart(sql[j]) {
				j++
			}
			if j-i == 1 && (c == 'E' || c == 'e') && j < len(sql) && sql[j] == '\'' {
				return nil, fmt.Errorf("escape string literals are not allowed")
			}
			toks = append(toks, token{kind: tokWord, text: strings.ToUpper(sql[i:j]), raw: sql[i:j]})
			i = j

		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(sql) && sql[j] != '$' && (isIdentPart(sql[j]) || sql[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: sql[i:j], raw: sql[i:j]})
			i = j

		default:
			toks = append(toks, token{kind: tokPunct, text: string(c), raw: string(c)})
			i++
		}
	}
	return toks, nil
}

// scanQuoted returns the index just past the closing quote. A doubled quote
// is an escaped quote.
func scanQuoted(s string, start int, q byte) (int, error) {
	for j := start + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j + 1, nil
	}
	if q == '\'' {
		return 0, fmt.Errorf("unterminated string literal")
	}
	return 0, fmt.Errorf("unterminated quoted identifier")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$'
}
