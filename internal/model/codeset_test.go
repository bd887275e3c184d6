package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeSetEncode(t *testing.T) {
	assert.Equal(t, "", NewCodeSet().Encode())
	assert.Equal(t, "A1", NewCodeSet("A1").Encode())
	assert.Equal(t, "A1;B2;C3", NewCodeSet("C3", "A1", "B2", "A1").Encode())
}

func TestDecodeCodeSet(t *testing.T) {
	assert.True(t, DecodeCodeSet("").Empty())
	assert.True(t, DecodeCodeSet(";;").Empty())

	s := DecodeCodeSet("B2;A1;;C3;")
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Has("A1"))
	assert.True(t, s.Has("C3"))
	assert.False(t, s.Has(""))
	assert.Equal(t, []string{"A1", "B2", "C3"}, s.Sorted())
}

func TestCodeSetRoundTrip(t *testing.T) {
	for _, s := range []CodeSet{NewCodeSet(), NewCodeSet("X"), NewCodeSet("Z9", "a1", "M-5")} {
		assert.True(t, s.Equal(DecodeCodeSet(s.Encode())), s.Encode())
	}
}

func TestCodeSetMutations(t *testing.T) {
	s := NewCodeSet("A1")
	s.Add("A1")
	assert.Equal(t, 1, s.Len())
	s.Remove("missing")
	assert.Equal(t, 1, s.Len())

	c := s.Clone()
	c.Add("B2")
	assert.False(t, s.Has("B2"))
	assert.False(t, s.Equal(c))

	s.Remove("A1")
	assert.True(t, s.Empty())
}

func TestZeroCodeSetReads(t *testing.T) {
	var s CodeSet
	assert.True(t, s.Empty())
	assert.False(t, s.Has("A1"))
	assert.Equal(t, "", s.Encode())
	assert.True(t, s.Equal(NewCodeSet()))
}
