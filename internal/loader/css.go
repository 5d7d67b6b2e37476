package loader

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// stylesheet is a parsed CSS file: @import targets and the remaining text,
// split around url() references so they can become require() calls.
type stylesheet struct {
	imports []string
	parts   []cssPart
}

type cssPart struct {
	text string
	url  string // module specifier; text is empty when set
}

type cssStage struct{}

func (cssStage) Name() string { return "css" }

func (cssStage) Transform(_ context.Context, src *Source) error {
	if src.Lang != LangCSS {
		return errors.New("input is not a stylesheet")
	}
	src.sheet = parseStylesheet(string(src.Code))
	src.Code = []byte(src.sheet.module(src.inject))
	src.Lang = LangJS
	return nil
}

// styleStage makes the stylesheet module inject itself into the document.
// It works before or after the css stage.
type styleStage struct{}

func (styleStage) Name() string { return "style" }

func (styleStage) Transform(_ context.Context, src *Source) error {
	switch {
	case src.Lang == LangCSS:
		src.inject = true
	case src.sheet != nil:
		src.inject = true
		src.Code = []byte(src.sheet.module(true))
	default:
		return errors.New("style needs css input")
	}
	return nil
}

func (s *stylesheet) module(inject bool) string {
	var b strings.Builder
	b.WriteString("var css = ")
	if len(s.parts) == 0 {
		b.WriteString(`""`)
	}
	for i, p := range s.parts {
		if i > 0 {
			b.WriteString(" + ")
		}
		if p.url != "" {
			b.WriteString("require(")
			b.WriteString(jsQuote(p.url))
			b.WriteString(")")
			continue
		}
		b.WriteString(jsQuote(p.text))
	}
	b.WriteString(";\n")
	if inject {
		for _, imp := range s.imports {
			b.WriteString("require(" + jsQuote(imp) + ");\n")
		}
		b.WriteString("if (typeof document !== \"undefined\") {\n")
		b.WriteString("  var style = document.createElement(\"style\");\n")
		b.WriteString("  style.textContent = css;\n")
		b.WriteString("  document.head.appendChild(style);\n")
		b.WriteString("}\n")
		b.WriteString("module.exports = css;\n")
		return b.String()
	}
	if len(s.imports) == 0 {
		b.WriteString("module.exports = css;\n")
		return b.String()
	}
	b.WriteString("module.exports = [")
	for _, imp := range s.imports {
		b.WriteString("require(" + jsQuote(imp) + "), ")
	}
	b.WriteString("css].join(\"\\n\");\n")
	return b.String()
}

func parseStylesheet(text string) *stylesheet {
	s := &stylesheet{}
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			s.parts = append(s.parts, cssPart{text: cur.String()})
			cur.Reset()
		}
	}
	for i := 0; i < len(text); {
		switch {
		case strings.HasPrefix(text[i:], "/*"):
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				i = len(text)
				continue
			}
			i += end + 4
		case text[i] == '"' || text[i] == '\'':
			j := cssStringEnd(text, i)
			cur.WriteString(text[i:j])
			i = j
		case strings.HasPrefix(text[i:], "@import"):
			end := strings.IndexByte(text[i:], ';')
			if end < 0 {
				end = len(text) - i - 1
			}
			stmt := text[i : i+end+1]
			target := cssImportTarget(stmt[len("@import"):])
			if spec, ok := cssSpecifier(target); ok {
				s.imports = append(s.imports, spec)
			} else {
				cur.WriteString(stmt)
			}
			i += end + 1
		case hasPrefixFold(text[i:], "url("):
			end := strings.IndexByte(text[i:], ')')
			if end < 0 {
				cur.WriteString(text[i:])
				i = len(text)
				continue
			}
			target := unquoteCSS(strings.TrimSpace(text[i+4 : i+end]))
			if spec, ok := cssSpecifier(target); ok {
				cur.WriteString("url(")
				flush()
				s.parts = append(s.parts, cssPart{url: spec})
				cur.WriteString(")")
			} else {
				cur.WriteString(text[i : i+end+1])
			}
			i += end + 1
		default:
			cur.WriteByte(text[i])
			i++
		}
	}
	flush()
	return s
}

func cssStringEnd(text string, i int) int {
	quote := text[i]
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case quote, '\n':
			return j + 1
		}
	}
	return len(text)
}

// cssImportTarget extracts the location of an @import rule body.
func cssImportTarget(body string) string {
	body = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), ";"))
	if hasPrefixFold(body, "url(") {
		if end := strings.IndexByte(body, ')'); end > 0 {
			return unquoteCSS(strings.TrimSpace(body[4:end]))
		}
		return ""
	}
	if body != "" && (body[0] == '"' || body[0] == '\'') {
		end := cssStringEnd(body, 0)
		return unquoteCSS(body[:end])
	}
	return ""
}

func unquoteCSS(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// cssSpecifier maps a CSS location to a module specifier. Remote, data,
// root-absolute and fragment locations stay in the stylesheet as written.
func cssSpecifier(loc string) (string, bool) {
	switch {
	case loc == "":
		return "", false
	case strings.HasPrefix(loc, "data:"), strings.HasPrefix(loc, "#"), strings.HasPrefix(loc, "/"):
		return "", false
	case strings.Contains(loc, "://"):
		return "", false
	case strings.HasPrefix(loc, "~"):
		return loc[1:], true
	case strings.HasPrefix(loc, "./"), strings.HasPrefix(loc, "../"):
		return loc, true
	default:
		return "./" + loc, true
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func jsQuote(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(data)
}
