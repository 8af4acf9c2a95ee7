// File: api/header.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Header is an ordered, case-insensitive multimap of HTTP fields.

package api

import "strings"

// HeaderField is one name/value pair as it appeared on the wire.
type HeaderField struct {
	Name  string
	Value string
}

// Header keeps fields in insertion order. Lookups ignore name case.
// The zero value is ready to use.
type Header struct {
	fields []HeaderField
}

// NewHeader builds a Header from alternating name/value pairs.
func NewHeader(kv ...string) Header {
	var h Header
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

// Add appends a value, keeping earlier values with the same name.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
}

// Set replaces all values of name with a single value.
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	for i := len(out); i < len(h.fields); i++ {
		h.fields[i] = HeaderField{}
	}
	h.fields = out
}

// Get returns the first value of name, or "".
func (h Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Has reports whether at least one field named name exists.
func (h Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Values returns every value of name in arrival order.
func (h Header) Values(name string) []string {
	var vs []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			vs = append(vs, f.Value)
		}
	}
	return vs
}

// HasToken reports whether any comma separated element of name equals token.
func (h Header) HasToken(name, token string) bool {
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			continue
		}
		for _, p := range strings.Split(f.Value, ",") {
			if strings.EqualFold(strings.TrimSpace(p), token) {
				return true
			}
		}
	}
	return false
}

// Fields returns the fields in insertion order. The slice must not be modified.
func (h Header) Fields() []HeaderField { return h.fields }

// Len returns the number of fields.
func (h Header) Len() int { return len(h.fields) }

// Clone returns a deep copy.
func (h Header) Clone() Header {
	if h.fields == nil {
		return Header{}
	}
	out := make([]HeaderField, len(h.fields))
	copy(out, h.fields)
	return Header{fields: out}
}
