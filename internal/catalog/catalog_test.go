package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	require.NoError(t, Validate(Default))

	sel := Selected(Default)
	require.Len(t, sel, 1)
	assert.Equal(t, "gpt-3.5-turbo", sel[0].ID)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(nil))
	assert.Error(t, Validate([]Model{{ID: ""}}))
	assert.Error(t, Validate([]Model{{ID: "a"}, {ID: "b"}, {ID: "a"}}))
	assert.NoError(t, Validate([]Model{{ID: "a"}, {ID: "b"}}))
}

func TestToggleDoesNotMutateInput(t *testing.T) {
	models := []Model{{ID: "a", Selected: true}, {ID: "b"}}

	out, ok := Toggle(models, "b")
	require.True(t, ok)
	assert.True(t, out[1].Selected)
	assert.False(t, models[1].Selected, "input slice must be untouched")

	_, ok = Toggle(models, "missing")
	assert.False(t, ok)
}

func TestSelectionsRoundTrip(t *testing.T) {
	models := []Model{{ID: "a", Selected: true}, {ID: "b"}, {ID: "c"}}

	raw, err := SelectionsOf(models).Encode()
	require.NoError(t, err)

	s, err := DecodeSelections(raw)
	require.NoError(t, err)
	assert.Equal(t, Selections{"a": true, "b": false, "c": false}, s)
}

func TestSelectionsApply(t *testing.T) {
	models := []Model{{ID: "a", Selected: true}, {ID: "b"}, {ID: "c", Selected: true}}
	saved := Selections{"a": false, "b": true, "gone": true}

	out := saved.Apply(models)
	assert.Equal(t, []Model{{ID: "a"}, {ID: "b", Selected: true}, {ID: "c", Selected: true}}, out)
	assert.True(t, models[0].Selected, "input slice must be untouched")
}

func TestDecodeSelections_Corrupt(t *testing.T) {
	_, err := DecodeSelections("{not json")
	assert.Error(t, err)

	s, err := DecodeSelections("null")
	require.NoError(t, err)
	assert.Empty(t, s)
}
