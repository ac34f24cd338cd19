package sip

import (
	"strings"

	"github.com/sipstack/transact/sip/header"
)

// Header is satisfied by every parsed header value type. Re-exported here
// so callers of the sip package never need to import sip/header directly
// just to type-assert a header value.
type Header = header.Header

// GenericHeader is the fallback for header names this codec doesn't parse.
type GenericHeader = header.GenericHeader

// Headers is the ordered, duplicate-permitting multimap of a Message's
// header section (SPEC_FULL §3). Header name keys are stored lowercased;
// insertion order within and across names is preserved so re-serialization
// matches the order headers first appeared in.
type Headers struct {
	byName map[string][]Header
	order  []string // lowercased names, in first-appearance order
}

// NewHeaders returns an empty Headers collection.
func NewHeaders() Headers {
	return Headers{byName: make(map[string][]Header)}
}

// Append adds h to the end of its name's list, tracking a new order entry
// if this is the first header with that name.
func (h *Headers) Append(hdr Header) {
	if h.byName == nil {
		h.byName = make(map[string][]Header)
	}
	key := strings.ToLower(hdr.Name())
	if _, ok := h.byName[key]; !ok {
		h.order = append(h.order, key)
	}
	h.byName[key] = append(h.byName[key], hdr)
}

// Prepend adds h as the first header under its name and, if this is a new
// name, moves it to the front of the overall order.
func (h *Headers) Prepend(hdr Header) {
	if h.byName == nil {
		h.byName = make(map[string][]Header)
	}
	key := strings.ToLower(hdr.Name())
	existing, had := h.byName[key]
	h.byName[key] = append([]Header{hdr}, existing...)
	if !had {
		h.order = append([]string{key}, h.order...)
	}
}

// Get returns all headers registered under name (case/short-form
// insensitive), in insertion order.
func (h Headers) Get(name string) []Header {
	if h.byName == nil {
		return nil
	}
	key := strings.ToLower(header.Canonicalize(name))
	return h.byName[key]
}

// First returns the first header under name, if any.
func (h Headers) First(name string) (Header, bool) {
	hdrs := h.Get(name)
	if len(hdrs) == 0 {
		return nil, false
	}
	return hdrs[0], true
}

// Remove deletes every header registered under name.
func (h *Headers) Remove(name string) {
	if h.byName == nil {
		return
	}
	key := strings.ToLower(header.Canonicalize(name))
	if _, ok := h.byName[key]; !ok {
		return
	}
	delete(h.byName, key)
	for i, n := range h.order {
		if n == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// All iterates every header in the collection in wire order.
func (h Headers) All() []Header {
	out := make([]Header, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.byName[name]...)
	}
	return out
}

// Clone deep-copies the collection.
func (h Headers) Clone() Headers {
	clone := NewHeaders()
	for _, hdr := range h.All() {
		clone.Append(hdr.Clone())
	}
	return clone
}
