package hivegate

import "errors"

// Reason codes carried on the wire by the validate endpoint. Callers use
// these to distinguish "needs re-login" from transport problems.
const (
	ReasonSignature = "signature"
	ReasonExpired   = "expired"
	ReasonRevoked   = "revoked"
	ReasonNotFound  = "not_found"
)

var (
	// ErrUpstreamAuth covers both an unreachable identity provider and an
	// exchange the provider rejected. Never retried within the same request.
	ErrUpstreamAuth = errors.New("identity provider rejected the exchange or is unreachable")

	ErrInvalidSignature  = errors.New("invalid credential signature")
	ErrExpiredCredential = errors.New("credential expired")
	ErrRevokedSession    = errors.New("session revoked")
	ErrUnknownSession    = errors.New("session not found")

	// ErrKeyNotFound signals a key-rotation mismatch. Reported to callers as
	// a signature failure but logged under its own name for operability.
	ErrKeyNotFound = errors.New("no published key matches the credential key id")
)

// Terminal reports whether a validation error is a definitive verdict on the
// credential, as opposed to an infrastructure failure (unreachable registry,
// timeout) that says nothing about it. Only terminal errors map onto a wire
// reason code; everything else must surface as a transport-level error so
// callers do not treat an outage as "needs re-login".
func Terminal(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpiredCredential) ||
		errors.Is(err, ErrRevokedSession) ||
		errors.Is(err, ErrUnknownSession) ||
		errors.Is(err, ErrKeyNotFound)
}

// Reason maps a terminal validation error onto its wire reason code.
// Signature failures and ErrKeyNotFound both report "signature". Callers
// check Terminal first; Reason on a non-terminal error is meaningless.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrExpiredCredential):
		return ReasonExpired
	case errors.Is(err, ErrRevokedSession):
		return ReasonRevoked
	case errors.Is(err, ErrUnknownSession):
		return ReasonNotFound
	default:
		return ReasonSignature
	}
}
