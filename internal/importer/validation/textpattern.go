package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// CompileTextPattern turns a text pattern such as
//
//	"ID-" + ORG_UNIT_CODE(...) + "-" + CURRENT_DATE(yyyy) + SEQUENTIAL(####)
//
// into an anchored regular expression matching every value the pattern can
// generate.
func CompileTextPattern(pattern string) (*regexp.Regexp, error) {
	segments, err := splitSegments(pattern)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteByte('^')
	for _, seg := range segments {
		expr, err := segmentExpr(seg)
		if err != nil {
			return nil, err
		}
		b.WriteString(expr)
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// splitSegments splits on '+' outside of quotes and parentheses.
func splitSegments(pattern string) ([]string, error) {
	var (
		segments []string
		cur      strings.Builder
		inQuote  bool
		depth    int
	)
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch {
		case ch == '\\' && inQuote && i+1 < len(pattern):
			cur.WriteByte(ch)
			i++
			cur.WriteByte(pattern[i])
			continue
		case ch == '"':
			inQuote = !inQuote
		case ch == '(' && !inQuote:
			depth++
		case ch == ')' && !inQuote:
			depth--
		case ch == '+' && !inQuote && depth == 0:
			segments = append(segments, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(ch)
	}
	if inQuote || depth != 0 {
		return nil, fmt.Errorf("unbalanced text pattern %q", pattern)
	}
	segments = append(segments, strings.TrimSpace(cur.String()))
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("empty segment in text pattern %q", pattern)
		}
	}
	return segments, nil
}

func segmentExpr(seg string) (string, error) {
	if strings.HasPrefix(seg, `"`) && strings.HasSuffix(seg, `"`) && len(seg) >= 2 {
		lit := strings.ReplaceAll(seg[1:len(seg)-1], `\"`, `"`)
		return regexp.QuoteMeta(lit), nil
	}
	open := strings.IndexByte(seg, '(')
	if open < 0 || !strings.HasSuffix(seg, ")") {
		return "", fmt.Errorf("invalid text pattern segment %q", seg)
	}
	fn, arg := seg[:open], seg[open+1:len(seg)-1]

	switch fn {
	case "SEQUENTIAL":
		if arg == "" || strings.Trim(arg, "#") != "" {
			return "", fmt.Errorf("SEQUENTIAL takes a # mask, got %q", arg)
		}
		return fmt.Sprintf(`\d{%d}`, len(arg)), nil
	case "RANDOM":
		var b strings.Builder
		for _, r := range arg {
			switch r {
			case '#':
				b.WriteString(`\d`)
			case 'X':
				b.WriteString(`[A-Z]`)
			case 'x':
				b.WriteString(`[a-z]`)
			case '*':
				b.WriteString(`[a-zA-Z0-9]`)
			default:
				return "", fmt.Errorf("RANDOM mask has invalid character %q", r)
			}
		}
		if b.Len() == 0 {
			return "", fmt.Errorf("RANDOM takes a mask")
		}
		return b.String(), nil
	case "ORG_UNIT_CODE":
		if arg == "" {
			return `.+`, nil
		}
		return fmt.Sprintf(`.{%d}`, len(strings.Trim(arg, "^$"))), nil
	case "CURRENT_DATE":
		var b strings.Builder
		for _, r := range arg {
			if strings.ContainsRune("yMdHms", r) {
				b.WriteString(`\d`)
			} else {
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("unknown text pattern function %q", fn)
}
