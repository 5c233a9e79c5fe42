package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/keksclan/goMobileConnect/internal/mcerr"
)

// Document is a decoded JSON object. Numbers are kept as json.Number so
// millisecond timestamps survive decoding without loss.
type Document map[string]any

// ParseDocument decodes data as a JSON object.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", mcerr.ErrInvalidResponse, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: not a JSON object", mcerr.ErrInvalidResponse)
	}
	return doc, nil
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	out, err := ParseDocument(data)
	if err != nil {
		return nil
	}
	return out
}

// Object returns the nested object at path, or nil.
func (d Document) Object(path ...string) Document {
	cur := d
	for _, p := range path {
		next, ok := asObject(cur[p])
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Array returns the array at path, or nil.
func (d Document) Array(path ...string) []any {
	if len(path) == 0 {
		return nil
	}
	parent := d.Object(path[:len(path)-1]...)
	arr, _ := parent[path[len(path)-1]].([]any)
	return arr
}

// String returns the string at path, or "".
func (d Document) String(path ...string) string {
	if len(path) == 0 {
		return ""
	}
	parent := d.Object(path[:len(path)-1]...)
	s, _ := parent[path[len(path)-1]].(string)
	return s
}

// Int64 returns the integer at path. String-encoded integers are accepted.
func (d Document) Int64(path ...string) (int64, bool) {
	if len(path) == 0 {
		return 0, false
	}
	parent := d.Object(path[:len(path)-1]...)
	switch v := parent[path[len(path)-1]].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func asObject(v any) (Document, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]any:
		return Document(m), true
	default:
		return nil, false
	}
}

// link is a {rel, href} pair as used in discovery payloads.
type link struct {
	Rel  string
	Href string
}

func links(arr []any) []link {
	out := make([]link, 0, len(arr))
	for _, item := range arr {
		obj, ok := asObject(item)
		if !ok {
			continue
		}
		rel, _ := obj["rel"].(string)
		href, _ := obj["href"].(string)
		if rel != "" {
			out = append(out, link{Rel: rel, Href: href})
		}
	}
	return out
}
