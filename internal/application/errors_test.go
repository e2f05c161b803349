package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	assert.Equal(t, "", err.Error())

	empty := &ValidationError{}
	assert.Equal(t, "validation failed", empty.Error())
	assert.False(t, empty.HasErrors())

	populated := &ValidationError{}
	populated.add("to", "must not be before from")
	populated.add("from", "is required")
	assert.True(t, populated.HasErrors())
	assert.Equal(t, "validation failed: from, to", populated.Error())
}

func TestMissingCompletionEvidenceError_Error(t *testing.T) {
	t.Parallel()

	err := &MissingCompletionEvidenceError{Status: "COMPLETED", Missing: []string{"photo", "comment"}}
	assert.Equal(t, "application: COMPLETED requires photo and comment", err.Error())
}
