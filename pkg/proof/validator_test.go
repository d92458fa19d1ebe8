// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package proof

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/payattn/broker/pkg/log"
)

// mapVerifier reports validity by circuit name and can inject errors.
type mapVerifier struct {
	valid  map[string]bool
	errFor map[string]error
	calls  int
}

func (m *mapVerifier) Verify(ctx context.Context, circuitName string, proof json.RawMessage, publicSignals []string) (bool, string, error) {
	m.calls++
	if err := m.errFor[circuitName]; err != nil {
		return false, "", err
	}
	return m.valid[circuitName], "", nil
}

func TestNormalizeArray(t *testing.T) {
	require := require.New(t)

	bundle := json.RawMessage(`[
		{"circuitName": "age_range_v1", "proof": {"a": 1}, "publicSignals": ["18", "35"], "attributeLabel": "age"},
		{"circuitName": "geo_v2", "proof": {"b": 2}, "publicSignals": ["US"]}
	]`)

	proofs, err := Normalize(bundle)
	require.NoError(err)
	require.Len(proofs, 2)
	require.Equal("age", proofs[0].Label)
	// Without an explicit label the circuit name stands in.
	require.Equal("geo_v2", proofs[1].Label)
	require.Equal([]string{"US"}, proofs[1].PublicSignals)
}

func TestNormalizeKeyedObject(t *testing.T) {
	require := require.New(t)

	bundle := json.RawMessage(`{
		"income": {"circuitName": "income_v1", "proof": {}, "publicSignals": []},
		"age":    {"circuitName": "age_range_v1", "proof": {}, "publicSignals": []}
	}`)

	proofs, err := Normalize(bundle)
	require.NoError(err)
	require.Len(proofs, 2)
	// Keyed objects are ordered by label for stable output.
	require.Equal("age", proofs[0].Label)
	require.Equal("income", proofs[1].Label)
}

func TestNormalizeNestedProofsField(t *testing.T) {
	require := require.New(t)

	bundle := json.RawMessage(`{"proofs": [{"circuitName": "age_range_v1", "proof": {}, "publicSignals": []}]}`)

	proofs, err := Normalize(bundle)
	require.NoError(err)
	require.Len(proofs, 1)
	require.Equal("age_range_v1", proofs[0].CircuitName)
}

func TestNormalizeEmpty(t *testing.T) {
	require := require.New(t)

	for _, bundle := range []json.RawMessage{nil, json.RawMessage(""), json.RawMessage("null")} {
		proofs, err := Normalize(bundle)
		require.NoError(err)
		require.Empty(proofs)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	require := require.New(t)

	_, err := Normalize(json.RawMessage(`"just a string"`))
	require.ErrorIs(err, ErrMalformedBundle)

	_, err = Normalize(json.RawMessage(`[{]`))
	require.ErrorIs(err, ErrMalformedBundle)
}

func TestValidateEmptyBundleIsValid(t *testing.T) {
	require := require.New(t)

	verifier := &mapVerifier{}
	v := NewValidator(verifier, 0, log.NoOp())

	res, err := v.Validate(context.Background(), nil)
	require.NoError(err)
	require.True(res.IsValid)
	require.Empty(res.ValidLabels)
	require.Empty(res.InvalidLabels)
	require.Zero(verifier.calls)
}

func TestValidatePartialValidity(t *testing.T) {
	require := require.New(t)

	verifier := &mapVerifier{valid: map[string]bool{
		"age_range_v1": true,
		"income_v1":    true,
		"geo_v2":       false,
	}}
	v := NewValidator(verifier, 0, log.NoOp())

	bundle := json.RawMessage(`[
		{"circuitName": "age_range_v1", "proof": {}, "publicSignals": [], "attributeLabel": "age"},
		{"circuitName": "income_v1", "proof": {}, "publicSignals": [], "attributeLabel": "income"},
		{"circuitName": "geo_v2", "proof": {}, "publicSignals": [], "attributeLabel": "location"}
	]`)

	res, err := v.Validate(context.Background(), bundle)
	require.NoError(err)
	require.False(res.IsValid)
	require.Len(res.ValidLabels, 2)
	require.Len(res.InvalidLabels, 1)
	require.Equal([]string{"location"}, res.InvalidLabels)
	require.Len(res.Details, 3)
}

func TestValidateAllValid(t *testing.T) {
	require := require.New(t)

	verifier := &mapVerifier{valid: map[string]bool{"age_range_v1": true}}
	v := NewValidator(verifier, 0, log.NoOp())

	res, err := v.Validate(context.Background(), json.RawMessage(`[{"circuitName": "age_range_v1", "proof": {}, "publicSignals": [], "attributeLabel": "age"}]`))
	require.NoError(err)
	require.True(res.IsValid)
	require.Equal([]string{"age"}, res.ValidLabels)
}

func TestValidateVerifierErrorIsIsolated(t *testing.T) {
	require := require.New(t)

	verifier := &mapVerifier{
		valid:  map[string]bool{"income_v1": true},
		errFor: map[string]error{"age_range_v1": errors.New("verifier crashed")},
	}
	v := NewValidator(verifier, 0, log.NoOp())

	bundle := json.RawMessage(`[
		{"circuitName": "age_range_v1", "proof": {}, "publicSignals": [], "attributeLabel": "age"},
		{"circuitName": "income_v1", "proof": {}, "publicSignals": [], "attributeLabel": "income"}
	]`)

	// One proof's tooling failure must not abort validation of the rest.
	res, err := v.Validate(context.Background(), bundle)
	require.NoError(err)
	require.False(res.IsValid)
	require.Equal([]string{"income"}, res.ValidLabels)
	require.Equal([]string{"age"}, res.InvalidLabels)
	require.Contains(res.Details[0].Message, "verifier error")
	require.Equal(2, verifier.calls)
}
