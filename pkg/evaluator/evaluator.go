// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payattn/broker/pkg/core"
	"github.com/payattn/broker/pkg/log"
	"github.com/payattn/broker/pkg/proof"
)

var (
	ErrNoCompletionClient = errors.New("no completion client configured")
	ErrUnparsableResponse = errors.New("unparsable evaluator response")
	ErrMissingFields      = errors.New("evaluator response missing required fields")
)

// CompletionClient is the opaque text-completion service.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Decision is the evaluator's verdict on one offer.
type Decision struct {
	Accept     bool    `json:"accept"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`

	// Fallback marks decisions produced by the deterministic rules
	// instead of the reasoning service.
	Fallback bool `json:"fallback"`
}

// Evaluator decides accept/reject for an offer. It prefers the external
// reasoning service and falls back to deterministic threshold rules on any
// failure; the fallback never errors.
type Evaluator struct {
	client  CompletionClient
	timeout time.Duration
	log     log.Logger
}

// New creates an evaluator. A nil client forces every decision through the
// fallback path.
func New(client CompletionClient, timeout time.Duration, logger log.Logger) *Evaluator {
	return &Evaluator{
		client:  client,
		timeout: timeout,
		log:     logger,
	}
}

// Evaluate decides accept/reject for the offer against the campaign.
func (e *Evaluator) Evaluate(ctx context.Context, offer *core.Offer, creative *core.AdCreative, proofSummary *proof.Result) Decision {
	d, err := e.evaluateLLM(ctx, offer, creative, proofSummary)
	if err != nil {
		e.log.Debug("reasoning service unavailable, using fallback",
			log.String("offer", offer.OfferID),
			log.Error(err))
		return Fallback(offer.AmountMinorUnits, creative.MaxPricePerImpression)
	}
	return d
}

func (e *Evaluator) evaluateLLM(ctx context.Context, offer *core.Offer, creative *core.AdCreative, proofSummary *proof.Result) (Decision, error) {
	if e.client == nil {
		return Decision{}, ErrNoCompletionClient
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	prompt := BuildPrompt(offer, creative, proofSummary)
	raw, err := e.client.Complete(ctx, prompt)
	if err != nil {
		return Decision{}, err
	}

	return ParseDecision(raw)
}

// BuildPrompt embeds campaign targeting criteria, the offer price, and the
// proof-validation summary into a structured prompt.
func BuildPrompt(offer *core.Offer, creative *core.AdCreative, proofSummary *proof.Result) string {
	var b strings.Builder

	b.WriteString("You are an advertiser-side agent deciding whether to buy one ad impression.\n\n")
	fmt.Fprintf(&b, "Campaign: %s\n", creative.CampaignName)
	if creative.CampaignGoal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", creative.CampaignGoal)
	}
	fmt.Fprintf(&b, "Maximum price per impression: %d minor units\n", creative.MaxPricePerImpression)
	if len(creative.TargetAttributes) > 0 {
		b.WriteString("Targeting criteria:\n")
		for attr, want := range creative.TargetAttributes {
			fmt.Fprintf(&b, "  - %s: %s\n", attr, want)
		}
	}

	fmt.Fprintf(&b, "\nOffer price: %d minor units\n", offer.AmountMinorUnits)

	if proofSummary != nil {
		fmt.Fprintf(&b, "Attribute proofs valid overall: %t\n", proofSummary.IsValid)
		if len(proofSummary.ValidLabels) > 0 {
			fmt.Fprintf(&b, "Proven attributes: %s\n", strings.Join(proofSummary.ValidLabels, ", "))
		}
		if len(proofSummary.InvalidLabels) > 0 {
			fmt.Fprintf(&b, "Failed attributes: %s\n", strings.Join(proofSummary.InvalidLabels, ", "))
		}
	} else {
		b.WriteString("No attribute proofs were provided.\n")
	}

	b.WriteString("\nRespond with a JSON object with exactly these fields:\n")
	b.WriteString(`{"accept": true|false, "reasoning": "...", "confidence": 0.0-1.0}` + "\n")

	return b.String()
}

// ParseDecision extracts the first balanced JSON object from a free-form
// response, tolerating leading and trailing prose.
func ParseDecision(raw string) (Decision, error) {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return Decision{}, ErrUnparsableResponse
	}

	// Pointer fields distinguish absent from zero-valued.
	var parsed struct {
		Accept     *bool    `json:"accept"`
		Reasoning  *string  `json:"reasoning"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnparsableResponse, err)
	}
	if parsed.Accept == nil || parsed.Reasoning == nil || parsed.Confidence == nil {
		return Decision{}, ErrMissingFields
	}

	return Decision{
		Accept:     *parsed.Accept,
		Reasoning:  *parsed.Reasoning,
		Confidence: *parsed.Confidence,
	}, nil
}

// firstJSONObject scans for the first balanced {...} span, skipping braces
// inside string literals.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var fallbackThreshold = decimal.NewFromFloat(0.8)

// Fallback is the deterministic last-line-of-defense decision. It is a pure
// function of (price, maxPrice) and never fails.
func Fallback(price, maxPrice uint64) Decision {
	p := decimal.NewFromUint64(price)
	max := decimal.NewFromUint64(maxPrice)

	switch {
	case p.GreaterThan(max):
		return Decision{
			Accept:     false,
			Reasoning:  fmt.Sprintf("price %d exceeds campaign maximum %d", price, maxPrice),
			Confidence: 0.95,
			Fallback:   true,
		}
	case p.LessThanOrEqual(max.Mul(fallbackThreshold)):
		return Decision{
			Accept:     true,
			Reasoning:  fmt.Sprintf("price %d is comfortably under campaign maximum %d", price, maxPrice),
			Confidence: 0.85,
			Fallback:   true,
		}
	default:
		return Decision{
			Accept:     true,
			Reasoning:  fmt.Sprintf("price %d is near campaign maximum %d", price, maxPrice),
			Confidence: 0.70,
			Fallback:   true,
		}
	}
}
