package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := sample{Name: "proxy", Count: 3}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshalNilTarget(t *testing.T) {
	err := Unmarshal([]byte(`{}`), nil)
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestUnmarshalTooLarge(t *testing.T) {
	big := make([]byte, MaxJSONSize+1)
	var out sample
	err := Unmarshal(big, &out)
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestUnmarshalInvalidJSON(t *testing.T) {
	var out sample
	assert.Error(t, Unmarshal([]byte(`{broken`), &out))
}

func TestMarshalIndent(t *testing.T) {
	data, err := MarshalIndent(sample{Name: "x"}, "", "  ")
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n")
}
