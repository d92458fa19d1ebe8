// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOfferTransitions(t *testing.T) {
	require := require.New(t)

	offer := &Offer{OfferID: "offer-1", Status: StatusPending}

	require.NoError(offer.Transition(StatusAccepted))
	require.NoError(offer.Transition(StatusFunded))
	require.NoError(offer.Transition(StatusSettling))
	require.NoError(offer.Transition(StatusSettled))

	// Terminal: nothing leaves settled.
	require.ErrorIs(offer.Transition(StatusFunded), ErrIllegalTransition)
}

func TestIllegalTransitions(t *testing.T) {
	require := require.New(t)

	// Funding an unevaluated offer is illegal.
	offer := &Offer{Status: StatusPending}
	require.ErrorIs(offer.Transition(StatusFunded), ErrIllegalTransition)

	// A rejected offer goes nowhere.
	offer = &Offer{Status: StatusRejected}
	require.ErrorIs(offer.Transition(StatusAccepted), ErrIllegalTransition)

	// Settling can only resolve to settled or back to funded.
	require.False(CanTransition(StatusSettling, StatusRejected))
	require.True(CanTransition(StatusSettling, StatusFunded))
	require.True(CanTransition(StatusSettling, StatusSettled))
}

func TestRetryCompletionPath(t *testing.T) {
	require := require.New(t)

	// A funded offer whose last queued share clears outside a settling
	// batch moves straight to settled.
	require.True(CanTransition(StatusFunded, StatusSettled))
}
