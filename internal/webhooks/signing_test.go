package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	secret := "test_secret_12345"
	payload := []byte("hello world")

	sig := Sign(secret, payload)
	assert.True(t, VerifySignature(secret, payload, sig))
	assert.False(t, VerifySignature("wrong_secret", payload, sig))
	assert.False(t, VerifySignature(secret, []byte("wrong payload"), sig))
}

func TestGenerateSigningSecretLength(t *testing.T) {
	secret, err := GenerateSigningSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 64) // 32 bytes hex-encoded
}

func TestIntentPermitsEvent(t *testing.T) {
	assert.True(t, IntentPermitsEvent([]string{"messages"}, EventMessageCreated))
	assert.False(t, IntentPermitsEvent([]string{"members"}, EventMessageCreated))
	assert.True(t, IntentPermitsEvent([]string{"members"}, EventMemberJoined))
	assert.True(t, IntentPermitsEvent([]string{"members"}, EventMemberLeft))
	assert.True(t, IntentPermitsEvent(nil, EventCommandInvoked), "commands are always permitted")
}
