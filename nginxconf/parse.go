package nginxconf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokSemicolon
	tokOpen
	tokClose
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	line int
}

type lexer struct {
	r    *bufio.Reader
	line int
}

func (l *lexer) next() (token, error) {
	for {
		ch, _, err := l.r.ReadRune()
		if err == io.EOF {
			return token{kind: tokEOF, line: l.line}, nil
		}
		if err != nil {
			return token{}, err
		}

		switch {
		case ch == '\n':
			l.line++
		case ch == ' ' || ch == '\t' || ch == '\r':
		case ch == '#':
			if _, err := l.r.ReadString('\n'); err != nil && err != io.EOF {
				return token{}, err
			}
			l.line++
		case ch == ';':
			return token{kind: tokSemicolon, text: ";", line: l.line}, nil
		case ch == '{':
			return token{kind: tokOpen, text: "{", line: l.line}, nil
		case ch == '}':
			return token{kind: tokClose, text: "}", line: l.line}, nil
		case ch == '"' || ch == '\'':
			return l.quoted(ch)
		default:
			l.r.UnreadRune()
			return l.word()
		}
	}
}

func (l *lexer) quoted(quote rune) (token, error) {
	start := l.line
	var b strings.Builder
	b.WriteRune(quote)
	for {
		ch, _, err := l.r.ReadRune()
		if err == io.EOF {
			return token{}, fmt.Errorf("line %d: unterminated quoted string", start)
		}
		if err != nil {
			return token{}, err
		}
		b.WriteRune(ch)
		switch ch {
		case '\\':
			esc, _, err := l.r.ReadRune()
			if err != nil {
				return token{}, fmt.Errorf("line %d: unterminated quoted string", start)
			}
			b.WriteRune(esc)
		case '\n':
			l.line++
		case quote:
			return token{kind: tokWord, text: b.String(), line: start}, nil
		}
	}
}

func (l *lexer) word() (token, error) {
	var b strings.Builder
	for {
		ch, _, err := l.r.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return token{}, err
		}
		if strings.ContainsRune(" \t\r\n;{}", ch) {
			l.r.UnreadRune()
			break
		}
		// Variables like ${name} keep their braces.
		if ch == '$' {
			if next, _, err := l.r.ReadRune(); err == nil {
				if next == '{' {
					b.WriteString("${")
					rest, err := l.r.ReadString('}')
					if err != nil {
						return token{}, fmt.Errorf("line %d: unterminated variable", l.line)
					}
					b.WriteString(rest)
					continue
				}
				l.r.UnreadRune()
			}
		}
		b.WriteRune(ch)
	}
	return token{kind: tokWord, text: b.String(), line: l.line}, nil
}

// Parse reads a configuration document.
func Parse(r io.Reader) (*Block, error) {
	l := &lexer{r: bufio.NewReader(r), line: 1}
	b, err := parseBlock(l, false)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return b, nil
}

// ParseFile reads a configuration file.
func ParseFile(path string) (*Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

func parseBlock(l *lexer, nested bool) (*Block, error) {
	b := &Block{}
	var words []string
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}

		switch tok.kind {
		case tokWord:
			words = append(words, tok.text)
		case tokSemicolon:
			if len(words) == 0 {
				return nil, fmt.Errorf("line %d: unexpected \";\"", tok.line)
			}
			b.Directives = append(b.Directives, NewDirective(words[0], words[1:]...))
			words = nil
		case tokOpen:
			if len(words) == 0 {
				return nil, fmt.Errorf("line %d: block without a name", tok.line)
			}
			child, err := parseBlock(l, true)
			if err != nil {
				return nil, err
			}
			b.Directives = append(b.Directives, &Directive{Name: words[0], Args: words[1:], Block: child})
			words = nil
		case tokClose:
			if !nested {
				return nil, fmt.Errorf("line %d: unexpected \"}\"", tok.line)
			}
			if len(words) > 0 {
				return nil, fmt.Errorf("line %d: directive %q is not terminated", tok.line, words[0])
			}
			return b, nil
		case tokEOF:
			if nested {
				return nil, fmt.Errorf("line %d: unexpected end of file, expecting \"}\"", tok.line)
			}
			if len(words) > 0 {
				return nil, fmt.Errorf("line %d: directive %q is not terminated", tok.line, words[0])
			}
			return b, nil
		}
	}
}
