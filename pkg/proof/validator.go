// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/payattn/broker/pkg/log"
)

var ErrMalformedBundle = errors.New("malformed proof bundle")

// Verifier is the opaque proof verification service. The validator does not
// know or care how verification is implemented.
type Verifier interface {
	Verify(ctx context.Context, circuitName string, proof json.RawMessage, publicSignals []string) (bool, string, error)
}

// AttributeProof is the canonical form every bundle shape normalizes to.
type AttributeProof struct {
	Label         string          `json:"label"`
	CircuitName   string          `json:"circuit_name"`
	Proof         json.RawMessage `json:"proof"`
	PublicSignals []string        `json:"public_signals"`
}

// ProofCheck records the outcome of verifying one proof.
type ProofCheck struct {
	Label       string `json:"label"`
	CircuitName string `json:"circuit_name"`
	Valid       bool   `json:"valid"`
	Message     string `json:"message,omitempty"`
}

// Result aggregates per-offer proof validity.
type Result struct {
	IsValid       bool         `json:"is_valid"`
	ValidLabels   []string     `json:"valid_labels"`
	InvalidLabels []string     `json:"invalid_labels"`
	Details       []ProofCheck `json:"details"`
}

// Validator normalizes heterogeneous proof payloads and verifies each proof
// through the opaque verifier.
type Validator struct {
	verifier Verifier
	timeout  time.Duration
	log      log.Logger
}

// NewValidator creates a proof validator. A zero timeout disables the
// per-proof deadline.
func NewValidator(verifier Verifier, timeout time.Duration, logger log.Logger) *Validator {
	return &Validator{
		verifier: verifier,
		timeout:  timeout,
		log:      logger,
	}
}

// rawProof matches the wire fields a single proof may carry.
type rawProof struct {
	AttributeLabel string          `json:"attributeLabel"`
	CircuitName    string          `json:"circuitName"`
	Proof          json.RawMessage `json:"proof"`
	PublicSignals  []string        `json:"publicSignals"`
}

func (r rawProof) canonical(fallbackLabel string) AttributeProof {
	// Display naming: the label says what is being proven, the circuit
	// says how. Two circuits may prove the same attribute.
	label := r.AttributeLabel
	if label == "" {
		label = fallbackLabel
	}
	if label == "" {
		label = r.CircuitName
	}
	return AttributeProof{
		Label:         label,
		CircuitName:   r.CircuitName,
		Proof:         r.Proof,
		PublicSignals: r.PublicSignals,
	}
}

// Normalize accepts an array of proofs, an object keyed by attribute label,
// or {"proofs": [...]}, and produces the canonical list. An empty, null, or
// missing bundle normalizes to an empty list.
func Normalize(bundle json.RawMessage) ([]AttributeProof, error) {
	trimmed := bytes.TrimSpace(bundle)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var raws []rawProof
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
		}
		out := make([]AttributeProof, 0, len(raws))
		for _, r := range raws {
			out = append(out, r.canonical(""))
		}
		return out, nil

	case '{':
		// A nested "proofs" field wins over keyed-object interpretation.
		var nested struct {
			Proofs json.RawMessage `json:"proofs"`
		}
		if err := json.Unmarshal(trimmed, &nested); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
		}
		if len(bytes.TrimSpace(nested.Proofs)) > 0 && !bytes.Equal(bytes.TrimSpace(nested.Proofs), []byte("null")) {
			return Normalize(nested.Proofs)
		}

		var keyed map[string]rawProof
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
		}
		// Deterministic order for stable results.
		labels := make([]string, 0, len(keyed))
		for label := range keyed {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		out := make([]AttributeProof, 0, len(keyed))
		for _, label := range labels {
			out = append(out, keyed[label].canonical(label))
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: unsupported bundle shape", ErrMalformedBundle)
}

// Validate verifies every proof in the bundle. A missing or empty bundle is
// not an error: it reports valid with empty lists, and the caller decides
// separately whether this campaign required proofs at all. One proof's
// verifier failure never aborts validation of the others.
func (v *Validator) Validate(ctx context.Context, bundle json.RawMessage) (*Result, error) {
	proofs, err := Normalize(bundle)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ValidLabels:   []string{},
		InvalidLabels: []string{},
		Details:       make([]ProofCheck, 0, len(proofs)),
	}

	if len(proofs) == 0 {
		res.IsValid = true
		return res, nil
	}

	for _, p := range proofs {
		valid, msg := v.verifyOne(ctx, p)
		res.Details = append(res.Details, ProofCheck{
			Label:       p.Label,
			CircuitName: p.CircuitName,
			Valid:       valid,
			Message:     msg,
		})
		if valid {
			res.ValidLabels = append(res.ValidLabels, p.Label)
		} else {
			res.InvalidLabels = append(res.InvalidLabels, p.Label)
		}
	}

	// A mix of valid and invalid proofs is partial validation: still
	// invalid overall, with the failing attributes visible.
	res.IsValid = len(res.InvalidLabels) == 0 && len(res.ValidLabels) > 0

	v.log.Debug("proof bundle validated",
		log.Int("valid", len(res.ValidLabels)),
		log.Int("invalid", len(res.InvalidLabels)),
		log.Bool("is_valid", res.IsValid))

	return res, nil
}

func (v *Validator) verifyOne(ctx context.Context, p AttributeProof) (valid bool, msg string) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	valid, msg, err := v.verifier.Verify(ctx, p.CircuitName, p.Proof, p.PublicSignals)
	if err != nil {
		// Tooling failure on one proof is recorded, never propagated.
		v.log.Warn("proof verification errored",
			log.String("label", p.Label),
			log.String("circuit", p.CircuitName),
			log.Error(err))
		return false, fmt.Sprintf("verifier error: %v", err)
	}
	return valid, msg
}
