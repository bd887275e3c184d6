package model

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// CodeDelimiter joins ticket codes when a set is stored in a single text
// column. Ticket codes never contain it; ValidateCode enforces that.
const CodeDelimiter = ";"

// ValidateCode rejects codes that are empty, contain the delimiter or
// contain whitespace.
func ValidateCode(code string) error {
	if code == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCode)
	}
	if strings.Contains(code, CodeDelimiter) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidCode, code, CodeDelimiter)
	}
	if strings.IndexFunc(code, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidCode, code)
	}
	return nil
}

// CodeSet is an unordered set of ticket codes. The zero value is an empty,
// usable set for reads; use NewCodeSet before adding.
type CodeSet map[string]struct{}

// NewCodeSet builds a set from codes, dropping duplicates.
func NewCodeSet(codes ...string) CodeSet {
	s := make(CodeSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// DecodeCodeSet parses the stored form. An empty string yields an empty set
// and empty segments left by stray delimiters are ignored.
func DecodeCodeSet(raw string) CodeSet {
	parts := lo.Filter(strings.Split(raw, CodeDelimiter), func(p string, _ int) bool {
		return strings.TrimSpace(p) != ""
	})
	return NewCodeSet(lo.Map(parts, func(p string, _ int) string { return strings.TrimSpace(p) })...)
}

// Encode returns the stored form with codes in ascending order so equal sets
// always encode identically.
func (s CodeSet) Encode() string {
	return strings.Join(s.Sorted(), CodeDelimiter)
}

// Sorted returns the codes in ascending order. Tickets are locked in this
// order.
func (s CodeSet) Sorted() []string {
	out := lo.Keys(s)
	sort.Strings(out)
	return out
}

func (s CodeSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

func (s CodeSet) Len() int { return len(s) }

func (s CodeSet) Empty() bool { return len(s) == 0 }

// Add inserts code. Adding a present code is a no-op.
func (s CodeSet) Add(code string) { s[code] = struct{}{} }

// Remove deletes code. Removing an absent code is a no-op.
func (s CodeSet) Remove(code string) { delete(s, code) }

// Clone returns an independent copy.
func (s CodeSet) Clone() CodeSet {
	out := make(CodeSet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same codes.
func (s CodeSet) Equal(o CodeSet) bool {
	if len(s) != len(o) {
		return false
	}
	for c := range s {
		if !o.Has(c) {
			return false
		}
	}
	return true
}
