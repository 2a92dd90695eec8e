package intercom

import (
	"bytes"
	"encoding/json"
	"strings"
)

// pageRef is the continuation reference found at pages.next. The platform is not
// consistent about its shape: it may be absent, an absolute URL, a root-relative path,
// or an object whose url field holds either of those.
type pageRef struct {
	raw string
}

func (p *pageRef) UnmarshalJSON(b []byte) error {
	p.raw = ""
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		return json.Unmarshal(b, &p.raw)
	case '{':
		var obj struct {
			URL json.RawMessage `json:"url"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		var s string
		if len(obj.URL) > 0 && json.Unmarshal(obj.URL, &s) == nil {
			p.raw = s
		}
	}
	// numbers, bools, arrays: no usable cursor
	return nil
}

// resolve returns the absolute URL of the next page, or "" at end of stream.
func (p pageRef) resolve(baseURL string) string {
	s := strings.TrimSpace(p.raw)
	switch {
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return s
	case strings.HasPrefix(s, "/"):
		return strings.TrimRight(baseURL, "/") + s
	default:
		return ""
	}
}
