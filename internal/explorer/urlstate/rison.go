package urlstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidRison is returned when a state bucket is not valid rison.
var ErrInvalidRison = errors.New("invalid rison")

const (
	notIDChar  = " '!:(),*@$"
	notIDStart = "-0123456789"
)

// Encode returns the rison representation of v.
// v is first converted through its JSON encoding, so struct tags and custom marshalers apply.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("could not convert value to JSON: %v", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", fmt.Errorf("could not convert value to JSON: %v", err)
	}

	var sb strings.Builder
	encode(&sb, generic)
	return sb.String(), nil
}

func encode(sb *strings.Builder, v any) {
	switch v := v.(type) {
	case nil:
		sb.WriteString("!n")
	case bool:
		if v {
			sb.WriteString("!t")
		} else {
			sb.WriteString("!f")
		}
	case float64:
		sb.WriteString(formatNumber(v))
	case string:
		encodeString(sb, v)
	case []any:
		sb.WriteString("!(")
		for i, e := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			encode(sb, e)
		}
		sb.WriteByte(')')
	case map[string]any:
		sb.WriteByte('(')
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodeString(sb, k)
			sb.WriteByte(':')
			encode(sb, v[k])
		}
		sb.WriteByte(')')
	}
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	return strings.Replace(s, "e+", "e", 1)
}

func encodeString(sb *strings.Builder, s string) {
	if isID(s) {
		sb.WriteString(s)
		return
	}
	sb.WriteByte('\'')
	for _, r := range s {
		if r == '\'' || r == '!' {
			sb.WriteByte('!')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('\'')
}

// isID reports whether s can be written without quotes.
func isID(s string) bool {
	if s == "" || strings.ContainsRune(notIDStart, rune(s[0])) {
		return false
	}
	return !strings.ContainsAny(s, notIDChar)
}

// Decode parses a rison string into the same generic values as encoding/json would produce:
// map[string]any, []any, string, float64, bool and nil.
func Decode(s string) (any, error) {
	p := &parser{s: s}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.s) {
		return nil, p.errorf("unexpected trailing characters")
	}
	return v, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrInvalidRison, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.s) {
		return 0, false
	}
	return p.s[p.pos], true
}

func (p *parser) value() (any, error) {
	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of input")
	}

	switch {
	case c == '(':
		return p.object()
	case c == '!':
		return p.bang()
	case c == '\'':
		return p.quoted()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	}
	id := p.id()
	if id == "" {
		return nil, p.errorf("unexpected character %q", c)
	}
	return id, nil
}

func (p *parser) object() (map[string]any, error) {
	p.pos++ // (
	obj := make(map[string]any)
	if c, ok := p.peek(); ok && c == ')' {
		p.pos++
		return obj, nil
	}

	for {
		var key string
		if c, ok := p.peek(); ok && c == '\'' {
			k, err := p.quoted()
			if err != nil {
				return nil, err
			}
			key = k
		} else {
			key = p.id()
			if key == "" {
				return nil, p.errorf("expected an object key")
			}
		}

		if c, ok := p.peek(); !ok || c != ':' {
			return nil, p.errorf("expected ':' after key %q", key)
		}
		p.pos++

		v, err := p.value()
		if err != nil {
			return nil, err
		}
		obj[key] = v

		c, ok := p.peek()
		switch {
		case !ok:
			return nil, p.errorf("unterminated object")
		case c == ',':
			p.pos++
		case c == ')':
			p.pos++
			return obj, nil
		default:
			return nil, p.errorf("unexpected character %q in object", c)
		}
	}
}

func (p *parser) bang() (any, error) {
	p.pos++ // !
	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of input after '!'")
	}
	p.pos++

	switch c {
	case 't':
		return true, nil
	case 'f':
		return false, nil
	case 'n':
		return nil, nil
	case '(':
		return p.array()
	}
	p.pos--
	return nil, p.errorf("unknown literal !%c", c)
}

func (p *parser) array() ([]any, error) {
	arr := []any{}
	if c, ok := p.peek(); ok && c == ')' {
		p.pos++
		return arr, nil
	}

	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)

		c, ok := p.peek()
		switch {
		case !ok:
			return nil, p.errorf("unterminated array")
		case c == ',':
			p.pos++
		case c == ')':
			p.pos++
			return arr, nil
		default:
			return nil, p.errorf("unexpected character %q in array", c)
		}
	}
}

func (p *parser) quoted() (string, error) {
	p.pos++ // '
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch c {
		case '\'':
			p.pos++
			return sb.String(), nil
		case '!':
			if p.pos+1 >= len(p.s) {
				return "", p.errorf("unterminated escape")
			}
			next := p.s[p.pos+1]
			if next != '!' && next != '\'' {
				return "", p.errorf("invalid escape !%c", next)
			}
			sb.WriteByte(next)
			p.pos += 2
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated string")
}

func (p *parser) number() (float64, error) {
	start := p.pos
	for p.pos < len(p.s) && strings.IndexByte("-0123456789.eE+", p.s[p.pos]) >= 0 {
		p.pos++
	}
	text := p.s[start:p.pos]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		p.pos = start
		return 0, p.errorf("invalid number %q", text)
	}
	return f, nil
}

func (p *parser) id() string {
	start := p.pos
	for p.pos < len(p.s) && !strings.ContainsRune(notIDChar, rune(p.s[p.pos])) {
		p.pos++
	}
	return p.s[start:p.pos]
}
