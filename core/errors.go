package core

import "errors"

// Error kinds surfaced to the caller of a core operation.
// Propagation policy: transport/decode errors are handled locally (logged
// and the connection/datagram dropped); ledger and join-protocol errors
// are returned to the lifecycle caller.
var (
	ErrInvalidKey  = errors.New("invalid key")
	ErrKeyMismatch = errors.New("key mismatch")

	ErrInvalidFrame = errors.New("invalid frame")
	ErrDecodeError  = errors.New("decode error")

	ErrUnknownPredecessor = errors.New("unknown predecessor")
	ErrUnknownSignatory   = errors.New("unknown signatory")
	ErrRevokedSignatory   = errors.New("revoked signatory")
	ErrBadSignature       = errors.New("bad signature")
	ErrHashMismatch       = errors.New("hash mismatch")
	ErrUnknownCursor      = errors.New("unknown cursor")

	ErrJoinRefused      = errors.New("join refused")
	ErrIdentityMismatch = errors.New("identity mismatch")
	ErrLedgerInvalid    = errors.New("ledger invalid")

	ErrAlreadyMember = errors.New("already member")
	ErrNotMember     = errors.New("not member")

	ErrBindFailure  = errors.New("bind failure")
	ErrTimeout      = errors.New("timeout")
	ErrNetworkError = errors.New("network error")
)
