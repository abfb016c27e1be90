package record

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Record is a single banner as delivered by the remote service. It is an untyped JSON object and
// nothing about its shape is validated beyond it being an object.
type Record struct {
	raw []byte
	res gjson.Result
}

// Parse wraps raw JSON bytes in a Record. The input is copied.
func Parse(data []byte) (Record, error) {
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return Record{}, fmt.Errorf("invalid record json: %.40q", data)
	}

	raw := make([]byte, len(data))
	copy(raw, data)

	res := gjson.ParseBytes(raw)
	if !res.IsObject() {
		return Record{}, fmt.Errorf("record is not a json object: %.40q", data)
	}

	return Record{raw: raw, res: res}, nil
}

// FromResult builds a Record from an already parsed gjson object (e.g. one entry of a search
// response's "matches" array).
func FromResult(res gjson.Result) (Record, error) {
	return Parse([]byte(res.Raw))
}

// FromValue marshals v (normally a map[string]any) into a Record.
func FromValue(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}
	return Parse(data)
}

// MustParse is Parse for literals in tests and examples.
func MustParse(s string) Record {
	r, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return r
}

// Get looks up a field. Dotted paths (location.country_name) reach into nested objects.
func (r Record) Get(field string) gjson.Result {
	if len(r.raw) == 0 {
		return gjson.Result{}
	}
	return r.res.Get(field)
}

// Bytes returns the compact JSON encoding of the record, without a trailing newline.
func (r Record) Bytes() []byte { return r.raw }

// IsZero reports whether the record was never populated.
func (r Record) IsZero() bool { return len(r.raw) == 0 }

// IP returns the address of the host the banner belongs to, preferring ip_str over ipv6.
func (r Record) IP() string {
	for _, f := range []string{"ip_str", "ipv6"} {
		if v := r.Get(f); v.Exists() && v.String() != "" {
			return v.String()
		}
	}

	// some feeds only carry the numeric form
	if v := r.Get("ip"); v.Exists() {
		if v.Type == gjson.Number {
			n := uint32(v.Uint())
			return fmt.Sprintf("%d.%d.%d.%d", n>>24, n>>16&0xff, n>>8&0xff, n&0xff)
		}
		return v.String()
	}

	return ""
}

// Port returns the banner's port or 0.
func (r Record) Port() int { return int(r.Get("port").Int()) }

// Hostnames returns the hostnames array as strings.
func (r Record) Hostnames() []string {
	var out []string
	for _, h := range r.Get("hostnames").Array() {
		if h.String() != "" {
			out = append(out, h.String())
		}
	}
	return out
}

// MarshalJSON lets records be embedded in other JSON documents as-is.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.raw) == 0 {
		return []byte("null"), nil
	}
	return r.raw, nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = Record{}
		return nil
	}

	rec, err := Parse(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}
