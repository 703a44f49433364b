package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationSignatureRoundTrip(t *testing.T) {
	signer := NewNotificationSigner("gateway-key")
	orderID := uuid.NewString()

	sig, err := signer.Sign(orderID, "settlement")
	require.NoError(t, err)
	assert.NoError(t, signer.Verify(orderID, "settlement", sig))
}

func TestNotificationSignatureBindsEveryField(t *testing.T) {
	signer := NewNotificationSigner("gateway-key")
	orderID := uuid.NewString()

	sig, err := signer.Sign(orderID, "expire")
	require.NoError(t, err)

	assert.ErrorIs(t, signer.Verify(orderID, "settlement", sig), ErrInvalidSignature)
	assert.ErrorIs(t, signer.Verify(uuid.NewString(), "expire", sig), ErrInvalidSignature)
	assert.ErrorIs(t, NewNotificationSigner("other-key").Verify(orderID, "expire", sig), ErrInvalidSignature)
	assert.ErrorIs(t, signer.Verify(orderID, "expire", ""), ErrInvalidSignature)
	assert.ErrorIs(t, signer.Verify(orderID, "expire", "%%%"), ErrInvalidSignature)
}

func TestNotificationSignerWithoutKeyRejects(t *testing.T) {
	signer := NewNotificationSigner("")
	assert.ErrorIs(t, signer.Verify(uuid.NewString(), "settlement", "c2ln"), ErrInvalidSignature)
}
