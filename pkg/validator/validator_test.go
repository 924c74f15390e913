package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type submission struct {
	Content string `json:"content" validate:"notblank,max=20"`
	Email   string `json:"email" validate:"omitempty,email"`
	Role    string `json:"role" validate:"omitempty,role"`
	GroupSz int    `json:"min_group_size" validate:"omitempty,gte=1"`
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(submission{Content: "   ", Email: "nope"})

	var failures ValidationErrors
	require.ErrorAs(t, err, &failures)
	require.Len(t, failures, 2)
	require.Equal(t, "content", failures[0].Field)
	require.Equal(t, "notblank", failures[0].Tag)
	require.Equal(t, "content must not be blank", failures[0].Message)
	require.Equal(t, "email", failures[1].Field)

	fields := failures.Fields()
	require.Equal(t, "email must be a valid email address", fields["email"])
	require.Equal(t, "content must not be blank; email must be a valid email address", err.Error())
}

func TestValidateStructAcceptsValidPayload(t *testing.T) {
	require.NoError(t, ValidateStruct(submission{Content: "ok", Email: "a@example.com", Role: "LEADERSHIP"}))
}

func TestRuleMessages(t *testing.T) {
	err := ValidateStruct(submission{Content: "ok", Role: "superuser"})
	require.EqualError(t, err, "role must be one of Staff, Leadership or Admin")

	err = ValidateStruct(submission{Content: "this is far too long for the rule"})
	require.EqualError(t, err, "content must be at most 20 characters")

	err = ValidateStruct(submission{Content: "ok", GroupSz: -1})
	require.EqualError(t, err, "min group size must be at least 1")
}

func TestValidateVar(t *testing.T) {
	require.NoError(t, ValidateVar("user@example.com", "required,email"))
	require.Error(t, ValidateVar("", "notblank"))
}
