package hivegate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonCodes(t *testing.T) {
	assert.Equal(t, ReasonExpired, Reason(ErrExpiredCredential))
	assert.Equal(t, ReasonRevoked, Reason(ErrRevokedSession))
	assert.Equal(t, ReasonNotFound, Reason(ErrUnknownSession))
	assert.Equal(t, ReasonSignature, Reason(ErrInvalidSignature))
	assert.Equal(t, ReasonSignature, Reason(ErrKeyNotFound))

	// Wrapping keeps the classification.
	assert.Equal(t, ReasonRevoked, Reason(fmt.Errorf("checking session: %w", ErrRevokedSession)))
}

func TestTerminalSeparatesVerdictsFromOutages(t *testing.T) {
	for _, err := range []error{
		ErrInvalidSignature,
		ErrExpiredCredential,
		ErrRevokedSession,
		ErrUnknownSession,
		ErrKeyNotFound,
		fmt.Errorf("parsing credential: %w", ErrInvalidSignature),
	} {
		assert.True(t, Terminal(err), "%v", err)
	}

	for _, err := range []error{
		errors.New("redis: connection refused"),
		fmt.Errorf("failed to look up session: %w", errors.New("server selection timeout")),
		ErrUpstreamAuth,
	} {
		assert.False(t, Terminal(err), "%v", err)
	}
}
