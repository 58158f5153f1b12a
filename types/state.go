package types

import "github.com/pkg/errors"

// DocumentState is a node of the fixed document state machine.
type DocumentState string

// Document states. Transitions are monotonic: UPLOADED ->
// PARTIALLY_SIGNED -> SIGNED -> VERIFIED, with REVOKED reachable from
// any non-terminal state and EXPIRED once the expiry passes.
// REGISTRATION_PENDING precedes UPLOADED when the ledger register is
// still outbox-queued, and QUARANTINED holds documents whose stored
// bytes no longer match their digest.
const (
	StateRegistrationPending DocumentState = "REGISTRATION_PENDING"
	StateUploaded            DocumentState = "UPLOADED"
	StateQuarantined         DocumentState = "QUARANTINED"
	StatePartiallySigned     DocumentState = "PARTIALLY_SIGNED"
	StateSigned              DocumentState = "SIGNED"
	StateVerified            DocumentState = "VERIFIED"
	StateRevoked             DocumentState = "REVOKED"
	StateExpired             DocumentState = "EXPIRED"
)

// ErrInvalidTransition is returned for a transition the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid document state transition")

// Terminal reports whether no further transitions may leave the state.
func (s DocumentState) Terminal() bool {
	return s == StateRevoked || s == StateExpired
}

// AcceptsSignatures reports whether a document in this state may take
// on new signatures. Documents whose ledger registration is still
// pending must not be signed.
func (s DocumentState) AcceptsSignatures() bool {
	return s == StateUploaded || s == StatePartiallySigned
}

var transitions = map[DocumentState][]DocumentState{
	StateRegistrationPending: {StateUploaded, StateRevoked, StateExpired},
	StateUploaded:            {StatePartiallySigned, StateSigned, StateQuarantined, StateRevoked, StateExpired},
	StateQuarantined:         {StateRevoked, StateExpired},
	StatePartiallySigned:     {StateSigned, StateQuarantined, StateRevoked, StateExpired},
	StateSigned:              {StateVerified, StateQuarantined, StateRevoked, StateExpired},
	StateVerified:            {StateQuarantined, StateRevoked, StateExpired},
}

// CanTransition reports whether the state machine permits moving from
// one state to another.
func CanTransition(from, to DocumentState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStateOnSignature computes the state a document assumes after a
// valid signature lands, given the resulting count of valid signatures
// and the configured requirement.
func NextStateOnSignature(current DocumentState, validSignatures, required int) (DocumentState, error) {
	if !current.AcceptsSignatures() {
		return current, errors.Wrapf(ErrInvalidTransition, "state %s does not accept signatures", current)
	}
	if validSignatures >= required {
		return StateSigned, nil
	}
	if validSignatures > 0 {
		return StatePartiallySigned, nil
	}
	return current, nil
}
