package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T, opts ...LocalIssuerOption) *LocalIssuer {
	t.Helper()
	privB64, pubB64, err := GenerateEd25519Keypair()
	require.NoError(t, err)

	issuer, err := NewLocalIssuer(privB64, pubB64, "canis", "canis-clients", opts...)
	require.NoError(t, err)
	return issuer
}

func TestLocalIssuer_IssueAndValidate(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.Issue("user-1", "Ada", "ada@example.com", "guild-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "Ada", claims.Name)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "guild-1", claims.GuildID)
	assert.Equal(t, "canis", claims.Issuer)
}

func TestLocalIssuer_RejectsExpiredToken(t *testing.T) {
	issuer := newTestIssuer(t, WithTTL(-time.Minute))

	token, err := issuer.Issue("user-1", "Ada", "ada@example.com", "")
	require.NoError(t, err)

	_, err = issuer.ValidateToken(token)
	assert.Error(t, err)
}

func TestLocalIssuer_RejectsTokenSignedByOtherKey(t *testing.T) {
	issuerA := newTestIssuer(t)
	issuerB := newTestIssuer(t)

	token, err := issuerA.Issue("user-1", "Ada", "ada@example.com", "")
	require.NoError(t, err)

	_, err = issuerB.ValidateToken(token)
	assert.Error(t, err)
}

func TestLocalIssuer_RejectsWrongAudience(t *testing.T) {
	privB64, pubB64, err := GenerateEd25519Keypair()
	require.NoError(t, err)

	issuer, err := NewLocalIssuer(privB64, pubB64, "canis", "aud-a")
	require.NoError(t, err)
	token, err := issuer.Issue("user-1", "Ada", "ada@example.com", "")
	require.NoError(t, err)

	otherAudienceIssuer, err := NewLocalIssuer(privB64, pubB64, "canis", "aud-b")
	require.NoError(t, err)
	_, err = otherAudienceIssuer.ValidateToken(token)
	assert.Error(t, err)
}

func TestGenerateEd25519Keypair_ProducesDecodableKeys(t *testing.T) {
	privB64, pubB64, err := GenerateEd25519Keypair()
	require.NoError(t, err)

	_, err = decodeEd25519Private(privB64)
	require.NoError(t, err)
	_, err = decodeEd25519Public(pubB64)
	require.NoError(t, err)
}
