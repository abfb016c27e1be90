package record

import (
	"strings"
	"unicode/utf8"

	"github.com/gookit/color"
	"github.com/tidwall/gjson"
)

const (
	// ListSeparator joins the elements of array fields. It is independent of the row separator.
	ListSeparator = ";"

	// DefaultSeparator is the row separator used when the caller doesn't pick one.
	DefaultSeparator = "\t"

	placeholder = '?'
)

// DefaultFields is the column set used by the stream and parse commands.
var DefaultFields = []string{"ip_str", "port", "hostnames", "data"}

// FieldColors maps field names to the color used when rows are colorized. Fields not listed are
// rendered white.
var FieldColors = map[string]color.Color{
	"ip":        color.FgGreen,
	"ip_str":    color.FgGreen,
	"port":      color.FgYellow,
	"data":      color.FgWhite,
	"hostnames": color.FgMagenta,
	"org":       color.FgCyan,
	"vulns":     color.FgRed,
}

// ColorFor returns the color for the named field.
func ColorFor(field string) color.Color {
	if c, ok := FieldColors[field]; ok {
		return c
	}
	return color.FgWhite
}

// Format renders rec as one delimited row. Every slot, the last one included, is followed by sep,
// so the number of separators always equals len(fields). The row never contains a literal newline,
// carriage return or tab coming from the data. No trailing newline is added.
func Format(rec Record, fields []string, sep string, colorize bool) string {
	var b strings.Builder

	for _, field := range fields {
		if val := Value(rec, field); val != "" {
			if colorize {
				val = ColorFor(field).Render(val)
			}
			b.WriteString(val)
		}
		b.WriteString(sep)
	}

	return b.String()
}

// Value renders a single field the way Format does, without color. Falsy values (missing, null,
// false, zero, empty string/array/object) render as "".
func Value(rec Record, field string) string {
	v := rec.Get(field)
	if isFalsy(v) {
		return ""
	}

	switch {
	case v.Type == gjson.Number:
		// the literal as delivered: locale independent and keeps ints looking like ints
		return v.Raw
	case v.Type == gjson.True:
		return "true"
	case v.IsArray():
		items := v.Array()
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if item.IsObject() || item.IsArray() {
				parts = append(parts, Escape(compact(item.Raw)))
				continue
			}
			parts = append(parts, Escape(item.String()))
		}
		return strings.Join(parts, ListSeparator)
	case v.IsObject():
		return Escape(compact(v.Raw))
	default:
		return Escape(v.String())
	}
}

// Escape makes s safe for a single-line row: non-ASCII characters (and invalid UTF-8 bytes) become
// '?', and newline, carriage return and tab become their two-character escapes.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size

		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r >= utf8.RuneSelf:
			b.WriteByte(placeholder)
		default:
			b.WriteByte(byte(r))
		}
	}

	return b.String()
}

func isFalsy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return true
	case gjson.Number:
		return v.Float() == 0
	case gjson.String:
		return v.Str == ""
	case gjson.JSON:
		if v.IsArray() {
			return len(v.Array()) == 0
		}
		return !hasKeys(v)
	}
	return false
}

func hasKeys(v gjson.Result) bool {
	if !v.IsObject() {
		return false
	}
	found := false
	v.ForEach(func(_, _ gjson.Result) bool {
		found = true
		return false
	})
	return found
}

func compact(raw string) string {
	return gjson.Get(raw, "@ugly").Raw
}
