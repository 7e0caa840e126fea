package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

type sample struct {
	Name string `json:"name" validate:"required"`
	Days int    `json:"days" validate:"min=1,max=15"`
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=a b"`
}

func TestStruct_OK(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Struct(sample{Name: "x", Days: 3}))
	assert.NoError(t, Struct(&sample{Name: "x", Days: 15, Kind: "b"}))
}

func TestStruct_CollectsFields(t *testing.T) {
	t.Parallel()
	err := Struct(sample{Days: 20, Kind: "z"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	var ae *errors.AppError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Detail, "name is required")
	assert.Contains(t, ae.Detail, "days must be at most 15")
	assert.Contains(t, ae.Detail, "kind must be one of [a b]")
}

func TestStruct_NonStruct(t *testing.T) {
	t.Parallel()
	err := Struct(42)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}
