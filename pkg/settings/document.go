package settings

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"ardupilot-manager/pkg/model"
)

const endpointsKey = "endpoints"

// Document is the persisted manager configuration. Only "endpoints" is typed;
// every other key keeps its original value bytes and position so a
// load/modify/save cycle leaves unrelated settings untouched.
type Document struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewDocument returns the default document written on first boot.
func NewDocument() *Document {
	return &Document{
		keys:   []string{endpointsKey},
		values: map[string]json.RawMessage{endpointsKey: json.RawMessage("[]")},
	}
}

// ParseDocument decodes a JSON object. Comments and trailing commas are accepted.
func ParseDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("parse settings: document must be a JSON object")
	}
	d := &Document{values: make(map[string]json.RawMessage)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("parse settings: unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse settings key %q: %w", key, err)
		}
		if _, seen := d.values[key]; !seen {
			d.keys = append(d.keys, key)
		}
		d.values[key] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return d, nil
}

// Bytes renders the document, one top-level key per line, values verbatim.
func (d *Document) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString("{")
	for i, key := range d.keys {
		if i > 0 {
			b.WriteString(",")
		}
		name, _ := json.Marshal(key)
		b.WriteString("\n  ")
		b.Write(name)
		b.WriteString(": ")
		b.Write(d.values[key])
	}
	if len(d.keys) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.Bytes()
}

// Keys lists top-level keys in document order.
func (d *Document) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Raw returns the stored bytes for key.
func (d *Document) Raw(key string) (json.RawMessage, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Set replaces (or appends) a top-level key.
func (d *Document) Set(key string, value any) error {
	raw, err := json.MarshalIndent(value, "  ", "  ")
	if err != nil {
		return fmt.Errorf("encode settings key %q: %w", key, err)
	}
	d.setRaw(key, raw)
	return nil
}

func (d *Document) setRaw(key string, raw json.RawMessage) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = raw
}

// Endpoints decodes the endpoint records. A missing or null key yields none.
func (d *Document) Endpoints() ([]model.Endpoint, error) {
	raw, ok := d.values[endpointsKey]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var out []model.Endpoint
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode endpoints: %w", err)
	}
	return out, nil
}

// SetEndpoints stores the set in a stable order.
func (d *Document) SetEndpoints(endpoints model.EndpointSet) error {
	return d.Set(endpointsKey, endpoints.Sorted())
}

// Clone copies the document; raw values are shared because they are never
// modified in place.
func (d *Document) Clone() *Document {
	out := &Document{
		keys:   append([]string(nil), d.keys...),
		values: make(map[string]json.RawMessage, len(d.values)),
	}
	for k, v := range d.values {
		out.values[k] = v
	}
	return out
}
