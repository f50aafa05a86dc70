package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "name":  {"type": "string"},
    "count": {"type": "integer", "minimum": 0}
  },
  "required": ["name"]
}`

func TestValidateAccepts(t *testing.T) {
	result, err := Validate([]byte(testSchema), []byte(`{"name": "a", "count": 2}`))
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateRejects(t *testing.T) {
	result, err := Validate([]byte(testSchema), []byte(`{"count": -1}`))
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestValidateRejectsUnknownField(t *testing.T) {
	err := MustValidate([]byte(testSchema), []byte(`{"name": "a", "extra": true}`))
	assert.Error(t, err)
}

func TestMustValidateOK(t *testing.T) {
	assert.NoError(t, MustValidate([]byte(testSchema), []byte(`{"name": "a"}`)))
}
