// Package medbridge coordinates medical-record operations across independent
// blockchain networks. The coordination layer is made of a validator-attested
// message relay (package bridge), an atomic two-phase cross-chain transaction
// manager (package atomic), cross-chain identity linkage by multi-validator
// attestation (package identity) and scoped, conditional access grants for
// records referenced from other chains (package access).
//
// No single network, validator or administrator can unilaterally forge,
// replay or partially apply a cross-chain action: messages are replay-checked
// against a durable nonce ledger, side effects are gated behind a validator
// quorum, and multi-chain operations only report success after every
// participant prepared.
package medbridge

import (
	"go.dedis.ch/kyber/v3/suites"
)

// Suite is the cryptographic suite used by all medbridge services. Validator
// and admin keys are points on this suite and attestations are schnorr
// signatures over it.
var Suite = suites.MustFind("Ed25519")
