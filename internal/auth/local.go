package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// LocalIssuer mints and validates first-party session tokens signed with an
// Ed25519 keypair rather than a shared-secret HMAC scheme, so verification
// doesn't require holding signing authority.
type LocalIssuer struct {
	private  ed25519.PrivateKey
	public   ed25519.PublicKey
	issuer   string
	audience string
	ttl      time.Duration
}

// LocalIssuerOption configures a LocalIssuer.
type LocalIssuerOption func(*LocalIssuer)

// WithTTL overrides the default session token lifetime (1 hour).
func WithTTL(ttl time.Duration) LocalIssuerOption {
	return func(l *LocalIssuer) { l.ttl = ttl }
}

// NewLocalIssuer builds a LocalIssuer from base64-encoded PEM blocks, the
// format the JWT_PRIVATE_KEY / JWT_PUBLIC_KEY env vars carry.
func NewLocalIssuer(privateKeyB64, publicKeyB64, issuer, audience string, opts ...LocalIssuerOption) (*LocalIssuer, error) {
	priv, err := decodeEd25519Private(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	pub, err := decodeEd25519Public(publicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}

	l := &LocalIssuer{
		private:  priv,
		public:   pub,
		issuer:   issuer,
		audience: audience,
		ttl:      time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func decodeEd25519Private(b64 string) (ed25519.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(der)
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("key is not Ed25519")
	}
	return priv, nil
}

func decodeEd25519Public(b64 string) (ed25519.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(der)
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("key is not Ed25519")
	}
	return pub, nil
}

// GenerateEd25519Keypair creates a fresh keypair PEM-encoded and
// base64-wrapped in the same format ValidateEnv expects, for bootstrapping
// local development or key rotation tooling.
func GenerateEd25519Keypair() (privateB64, publicB64 string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", err
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return base64.StdEncoding.EncodeToString(privPEM), base64.StdEncoding.EncodeToString(pubPEM), nil
}

// Issue mints a signed session token for the given subject.
func (l *LocalIssuer) Issue(userID, name, email, guildID string) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		Name:    name,
		Email:   email,
		GuildID: guildID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    l.issuer,
			Audience:  jwt.ClaimStrings{l.audience},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(l.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(l.private)
}

// ValidateToken parses and verifies a token issued by this issuer.
func (l *LocalIssuer) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return l.public, nil
	}, jwt.WithIssuer(l.issuer), jwt.WithAudience(l.audience))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("failed to cast claims")
	}
	return claims, nil
}
