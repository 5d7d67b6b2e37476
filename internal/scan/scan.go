// Package scan finds import specifiers and export names in JavaScript source.
//
// The scanner is a single forward pass over bytes. It understands comments,
// string, template and regular expression literals well enough not to report
// imports that appear inside them; it does not build a syntax tree.
package scan

import (
	"sort"
)

// Kind classifies how a module refers to a dependency.
type Kind uint8

const (
	// Static is an `import ... from` / `export ... from` / bare `import "x"`.
	Static Kind = iota
	// Require is a CommonJS `require("x")` call.
	Require
	// Dynamic is an `import("x")` expression; its target starts an async chunk.
	Dynamic
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case Static:
		return "static"
	case Require:
		return "require"
	case Dynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// Import is one dependency reference in source order.
type Import struct {
	Specifier string
	Kind      Kind
	// Start and End delimit the keyword (`import` / `require`) in the scanned code.
	Start int
	End   int
}

// Result holds everything Scan found.
type Result struct {
	Imports []Import
	Exports []string // sorted, unique
}

// Specifiers returns the distinct specifiers in first-occurrence order.
func (r Result) Specifiers() []string {
	seen := make(map[string]struct{}, len(r.Imports))
	out := make([]string, 0, len(r.Imports))
	for _, imp := range r.Imports {
		if _, ok := seen[imp.Specifier]; ok {
			continue
		}
		seen[imp.Specifier] = struct{}{}
		out = append(out, imp.Specifier)
	}
	return out
}

// Scan scans code for imports and exports.
func Scan(code []byte) Result {
	s := &scanner{src: code, exports: make(map[string]struct{})}
	s.run()
	exports := make([]string, 0, len(s.exports))
	for name := range s.exports {
		exports = append(exports, name)
	}
	sort.Strings(exports)
	return Result{Imports: s.imports, Exports: exports}
}

type scanner struct {
	src     []byte
	pos     int
	imports []Import
	exports map[string]struct{}
	// last significant byte, used to tell a regexp literal from a division
	last byte
}

func (s *scanner) run() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '/' && s.peek(1) == '/':
			s.skipLineComment()
		case c == '/' && s.peek(1) == '*':
			s.skipBlockComment()
		case c == '/' && regexAllowed(s.last):
			s.skipRegexp()
			s.last = '/'
		case c == '"' || c == '\'':
			s.readString()
			s.last = c
		case c == '`':
			s.skipTemplate()
			s.last = c
		case isIdentStart(c):
			start := s.pos
			word := s.readIdent()
			if s.last != '.' {
				s.keyword(word, start)
			}
			s.last = 'a'
		case isSpace(c):
			s.pos++
		default:
			s.last = c
			s.pos++
		}
	}
}

func (s *scanner) keyword(word string, start int) {
	switch word {
	case "import":
		s.scanImport(start)
	case "export":
		s.scanExport()
	case "require":
		s.scanRequire(start)
	case "exports":
		s.scanExportsAssign()
	case "module":
		save := s.pos
		s.skipTrivia()
		if s.peek(0) == '.' {
			s.pos++
			s.skipTrivia()
			if s.readIdent() == "exports" {
				s.skipTrivia()
				if s.peek(0) == '=' && s.peek(1) != '=' {
					s.exports["default"] = struct{}{}
					return
				}
				s.scanExportsAssign()
				return
			}
		}
		s.pos = save
	}
}

func (s *scanner) scanImport(start int) {
	s.skipTrivia()
	switch c := s.peek(0); {
	case c == '(':
		s.pos++
		s.skipTrivia()
		if spec, ok := s.literalArg(); ok {
			s.imports = append(s.imports, Import{Specifier: spec, Kind: Dynamic, Start: start, End: start + len("import")})
		}
	case c == '"' || c == '\'':
		spec := s.readString()
		s.imports = append(s.imports, Import{Specifier: spec, Kind: Static, Start: start, End: start + len("import")})
	case c == '.':
		// import.meta
	default:
		if spec, ok := s.clauseFrom(nil); ok {
			s.imports = append(s.imports, Import{Specifier: spec, Kind: Static, Start: start, End: start + len("import")})
		}
	}
}

func (s *scanner) scanExport() {
	start := s.pos
	s.skipTrivia()
	c := s.peek(0)
	switch {
	case c == '{' || c == '*':
		names := make([]string, 0, 4)
		spec, ok := s.clauseFrom(&names)
		for _, n := range names {
			s.exports[n] = struct{}{}
		}
		if ok {
			s.imports = append(s.imports, Import{Specifier: spec, Kind: Static, Start: start - len("export"), End: start})
		}
	case isIdentStart(c):
		word := s.readIdent()
		switch word {
		case "default":
			s.exports["default"] = struct{}{}
		case "const", "let", "var", "class":
			s.skipTrivia()
			if name := s.readIdent(); name != "" {
				s.exports[name] = struct{}{}
			}
		case "async":
			s.skipTrivia()
			if s.readIdent() != "function" {
				return
			}
			fallthrough
		case "function":
			s.skipTrivia()
			if s.peek(0) == '*' {
				s.pos++
				s.skipTrivia()
			}
			if name := s.readIdent(); name != "" {
				s.exports[name] = struct{}{}
			}
		}
	}
}

// clauseFrom walks an import/export clause up to its `from "x"` part.
// When names is non-nil the exported names of an export clause are collected.
func (s *scanner) clauseFrom(names *[]string) (string, bool) {
	prev := ""
	braces := 0
	closed := false
	var pending string
	flush := func() {
		if names != nil && pending != "" {
			*names = append(*names, pending)
		}
		pending = ""
	}
	for s.pos < len(s.src) {
		s.skipTrivia()
		c := s.peek(0)
		switch {
		case c == '"' || c == '\'':
			spec := s.readString()
			flush()
			return spec, prev == "from"
		case isIdentStart(c):
			start := s.pos
			word := s.readIdent()
			if closed && word != "from" {
				// `export { a }` has ended; the word belongs to the next statement
				s.pos = start
				return "", false
			}
			if names != nil {
				switch {
				case prev == "as":
					pending = word
				case word != "as" && word != "from" && braces > 0:
					pending = word
				}
			}
			prev = word
		case c == '{':
			braces++
			s.pos++
		case c == '}' || c == ',':
			flush()
			if c == '}' {
				braces--
				closed = braces == 0
			}
			s.pos++
		case c == '*':
			prev = "*"
			s.pos++
		default:
			return "", false
		}
	}
	return "", false
}

func (s *scanner) scanRequire(start int) {
	s.skipTrivia()
	if s.peek(0) != '(' {
		return
	}
	s.pos++
	s.skipTrivia()
	if spec, ok := s.literalArg(); ok {
		s.imports = append(s.imports, Import{Specifier: spec, Kind: Require, Start: start, End: start + len("require")})
	}
}

// scanExportsAssign records `exports.name =`.
func (s *scanner) scanExportsAssign() {
	s.skipTrivia()
	if s.peek(0) != '.' {
		return
	}
	s.pos++
	s.skipTrivia()
	name := s.readIdent()
	s.skipTrivia()
	if name != "" && s.peek(0) == '=' && s.peek(1) != '=' {
		s.exports[name] = struct{}{}
	}
}

// literalArg reads a string literal argument followed by ')'.
func (s *scanner) literalArg() (string, bool) {
	c := s.peek(0)
	var spec string
	switch c {
	case '"', '\'':
		spec = s.readString()
	case '`':
		start := s.pos + 1
		s.skipTemplate()
		body := string(s.src[start : s.pos-1])
		for i := 0; i < len(body); i++ {
			if body[i] == '$' && i+1 < len(body) && body[i+1] == '{' {
				return "", false
			}
		}
		spec = body
	default:
		return "", false
	}
	s.skipTrivia()
	if s.peek(0) != ')' {
		return "", false
	}
	return spec, true
}

func (s *scanner) peek(off int) byte {
	if s.pos+off < len(s.src) {
		return s.src[s.pos+off]
	}
	return 0
}

func (s *scanner) skipTrivia() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case isSpace(c):
			s.pos++
		case c == '/' && s.peek(1) == '/':
			s.skipLineComment()
		case c == '/' && s.peek(1) == '*':
			s.skipBlockComment()
		default:
			return
		}
	}
}

func (s *scanner) skipLineComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
}

func (s *scanner) skipBlockComment() {
	s.pos += 2
	for s.pos < len(s.src) {
		if s.src[s.pos] == '*' && s.peek(1) == '/' {
			s.pos += 2
			return
		}
		s.pos++
	}
}

// readString consumes a quoted literal and returns its unescaped-enough body.
func (s *scanner) readString() string {
	quote := s.src[s.pos]
	s.pos++
	buf := make([]byte, 0, 32)
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch c {
		case '\\':
			if s.pos+1 < len(s.src) {
				buf = append(buf, s.src[s.pos+1])
			}
			s.pos += 2
			continue
		case quote:
			s.pos++
			return string(buf)
		case '\n':
			// unterminated literal
			return string(buf)
		}
		buf = append(buf, c)
		s.pos++
	}
	return string(buf)
}

func (s *scanner) skipTemplate() {
	s.pos++
	depth := 0
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\\':
			s.pos += 2
			continue
		case c == '`' && depth == 0:
			s.pos++
			return
		case c == '$' && s.peek(1) == '{':
			depth++
			s.pos += 2
			continue
		case c == '}' && depth > 0:
			depth--
		}
		s.pos++
	}
}

func (s *scanner) skipRegexp() {
	s.pos++
	inClass := false
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\\':
			s.pos += 2
			continue
		case c == '\n':
			return
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			s.pos++
			for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
				s.pos++
			}
			return
		}
		s.pos++
	}
}

func (s *scanner) readIdent() string {
	start := s.pos
	if s.pos >= len(s.src) || !isIdentStart(s.src[s.pos]) {
		return ""
	}
	for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
		s.pos++
	}
	return string(s.src[start:s.pos])
}

// regexAllowed reports whether '/' after last starts a regexp literal.
func regexAllowed(last byte) bool {
	switch last {
	case 0, '(', ',', '=', ':', '[', '!', '&', '|', '?', '{', '}', ';', '+', '-', '*', '%', '<', '>', '~', '^':
		return true
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
