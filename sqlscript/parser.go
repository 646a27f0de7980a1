package sqlscript

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
)

type Statement struct {
	SQL string
	// Line is where the statement starts in the script, counting from 1.
	Line                    int
	CanExecuteInTransaction bool
}

type Parser interface {
	Parse(r io.Reader) ([]Statement, error)
}

// Options describe the lexical conventions of one SQL dialect.
type Options struct {
	// IdentifierQuotes lists characters that open and close quoted identifiers.
	IdentifierQuotes string
	HashComments     bool
	DollarQuotes     bool
	BackslashEscapes bool
	// NonTransactional matches statements (comments stripped, upper-cased)
	// that cannot run inside a transaction.
	NonTransactional []*regexp.Regexp
}

func New(opts Options) Parser {
	return &parser{opts: opts}
}

// ---

type parser struct {
	opts Options
}

type lexState uint8

const (
	normal lexState = iota
	singleQuoted
	identifierQuoted
	lineComment
	blockComment
	dollarQuoted
)

type scanner struct {
	opts  Options
	input []rune
	pos   int
	line  int

	state      lexState
	quote      rune
	depth      int
	dollarTag  string
	raw        strings.Builder
	code       strings.Builder
	hasCode    bool
	startLine  int
	words      []string
	word       strings.Builder
	blockDepth int

	statements []Statement
}

func (p *parser) Parse(r io.Reader) ([]Statement, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	s := &scanner{opts: p.opts, input: []rune(string(content)), line: 1}
	if err := s.run(); err != nil {
		return nil, err
	}

	return s.statements, nil
}

func (s *scanner) run() error { //nolint:cyclop
	for s.pos < len(s.input) {
		c := s.input[s.pos]

		switch s.state {
		case normal:
			s.scanNormal(c)
		case singleQuoted:
			s.emit(c, true)
			switch {
			case c == '\\' && s.opts.BackslashEscapes && s.pos+1 < len(s.input):
				s.pos++
				s.emit(s.input[s.pos], true)
				if s.input[s.pos] == '\n' {
					s.line++
				}
			case c == '\'' && s.peek(1) == '\'':
				s.pos++
				s.emit('\'', true)
			case c == '\'':
				s.state = normal
			}
		case identifierQuoted:
			s.emit(c, true)
			if c == s.quote {
				s.state = normal
			}
		case lineComment:
			s.emit(c, false)
			if c == '\n' {
				s.state = normal
			}
		case blockComment:
			s.emit(c, false)
			switch {
			case c == '/' && s.peek(1) == '*':
				s.pos++
				s.emit('*', false)
				s.depth++
			case c == '*' && s.peek(1) == '/':
				s.pos++
				s.emit('/', false)
				s.depth--
				if s.depth == 0 {
					s.state = normal
				}
			}
		case dollarQuoted:
			if c == '$' && s.hasPrefix(s.dollarTag) {
				for _, r := range s.dollarTag {
					s.emit(r, true)
				}
				s.pos += len([]rune(s.dollarTag)) - 1
				s.state = normal
			} else {
				s.emit(c, true)
			}
		}

		if c == '\n' {
			s.line++
		}
		s.pos++
	}

	switch s.state {
	case singleQuoted, identifierQuoted, dollarQuoted:
		return fmt.Errorf("unterminated quoted text in statement starting at line %d", s.startLine)
	case blockComment:
		return fmt.Errorf("unterminated block comment in statement starting at line %d", s.startLine)
	}

	s.flush()

	return nil
}

func (s *scanner) scanNormal(c rune) {
	if isWordChar(c) {
		s.word.WriteRune(c)
		s.emit(c, true)
		return
	}

	s.endWord()

	switch {
	case c == ';' && s.blockDepth == 0:
		s.flush()
	case c == '\'':
		s.state = singleQuoted
		s.emit(c, true)
	case strings.ContainsRune(s.opts.IdentifierQuotes, c):
		s.state, s.quote = identifierQuoted, c
		s.emit(c, true)
	case c == '-' && s.peek(1) == '-', c == '#' && s.opts.HashComments:
		s.state = lineComment
		s.emit(c, false)
	case c == '/' && s.peek(1) == '*':
		s.state, s.depth = blockComment, 1
		s.emit(c, false)
		s.pos++
		s.emit('*', false)
	case c == '$' && s.opts.DollarQuotes && (s.pos == 0 || !isWordChar(s.input[s.pos-1])):
		if tag, ok := s.dollarTagAt(); ok {
			s.state, s.dollarTag = dollarQuoted, tag
			for _, r := range tag {
				s.emit(r, true)
			}
			s.pos += len([]rune(tag)) - 1
			return
		}
		s.emit(c, true)
	default:
		s.emit(c, true)
	}
}

// emit appends to the statement text; code is false for comments.
func (s *scanner) emit(c rune, code bool) {
	if s.raw.Len() == 0 && unicode.IsSpace(c) {
		return
	}

	s.raw.WriteRune(c)

	if !code {
		if c == '\n' {
			s.code.WriteRune(' ')
		}
		return
	}

	if !s.hasCode && !unicode.IsSpace(c) {
		s.hasCode = true
		s.startLine = s.line
	}

	s.code.WriteRune(c)
}

// endWord tracks BEGIN ... END blocks of trigger bodies, whose inner
// semicolons do not end the statement.
func (s *scanner) endWord() {
	if s.word.Len() == 0 {
		return
	}

	w := strings.ToUpper(s.word.String())
	s.word.Reset()
	s.words = append(s.words, w)

	if !s.isTrigger() {
		return
	}

	switch w {
	case "BEGIN", "CASE":
		s.blockDepth++
	case "END":
		if s.blockDepth > 0 {
			s.blockDepth--
		}
	}
}

func (s *scanner) isTrigger() bool {
	limit := len(s.words)
	if limit > 5 {
		limit = 5
	}

	if limit == 0 || s.words[0] != "CREATE" {
		return false
	}

	for _, w := range s.words[1:limit] {
		if w == "TRIGGER" {
			return true
		}
	}

	return false
}

func (s *scanner) flush() {
	s.endWord()

	code := strings.TrimSpace(s.code.String())
	raw := strings.TrimSpace(s.raw.String())

	if code != "" {
		s.statements = append(s.statements, Statement{
			SQL:                     raw,
			Line:                    s.startLine,
			CanExecuteInTransaction: s.transactional(code),
		})
	}

	s.raw.Reset()
	s.code.Reset()
	s.hasCode = false
	s.words = s.words[:0]
	s.blockDepth = 0
}

func (s *scanner) transactional(code string) bool {
	normalized := strings.ToUpper(strings.Join(strings.Fields(code), " "))

	for _, re := range s.opts.NonTransactional {
		if re.MatchString(normalized) {
			return false
		}
	}

	return true
}

func isWordChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

func (s *scanner) peek(offset int) rune {
	if s.pos+offset < len(s.input) {
		return s.input[s.pos+offset]
	}

	return 0
}

func (s *scanner) hasPrefix(prefix string) bool {
	return strings.HasPrefix(string(s.input[s.pos:]), prefix)
}

// dollarTagAt reads a $tag$ or $$ opener at the current position.
func (s *scanner) dollarTagAt() (string, bool) {
	for i := s.pos + 1; i < len(s.input); i++ {
		c := s.input[i]
		if c == '$' {
			return string(s.input[s.pos : i+1]), true
		}

		if !(unicode.IsLetter(c) || c == '_' || (unicode.IsDigit(c) && i > s.pos+1)) {
			return "", false
		}
	}

	return "", false
}
