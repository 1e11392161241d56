// Package auth validates the bearer credential a connection presents at
// handshake time. The identity provider is a black box from the core's
// perspective: this package only turns a token into (userID, username)
// or a typed failure.
package auth

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Identity is the minimal identity envelope attached to a connection.
// It is immutable for the connection's lifetime.
type Identity struct {
	UserID   string
	Username string
}

// Authenticator verifies connection credentials.
//
// Authenticate is called once per new connection, before any handler attaches.
type Authenticator interface {
	Authenticate(token string, now time.Time) (Identity, error)
}

type PasetoV4Authenticator struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4Authenticator builds an Authenticator based on PASETO v4.public.
//
// It uses an Ed25519 asymmetric keypair and enforces issuer and expiration
// rules. Expiry is checked separately from signature verification so callers
// can distinguish ErrExpiredToken from ErrInvalidToken.
func NewPasetoV4Authenticator(cfg Config) (*PasetoV4Authenticator, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &PasetoV4Authenticator{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exports the verification key for out-of-process token issuers.
func (a *PasetoV4Authenticator) PublicKeyHex() string {
	return a.public.ExportHex()
}

// Issue mints an access token for userID/username. Used by dev tooling and
// tests; production tokens come from the identity provider signed with the
// same key.
func (a *PasetoV4Authenticator) Issue(userID, username string, now time.Time) (string, time.Time, error) {
	exp := now.Add(a.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(a.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("uid", userID)
	_ = tok.Set("uname", username)

	return tok.V4Sign(a.secret, nil), exp, nil
}

// Authenticate verifies a token and extracts the connection identity.
func (a *PasetoV4Authenticator) Authenticate(token string, now time.Time) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	// Signature + issuer first; time-window rules run below so an expired
	// token is reported as expired rather than generically invalid.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(a.issuer))

	parsed, err := p.ParseV4Public(a.public, token, nil)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	if !exp.After(now.Add(-a.clockSkew)) {
		return Identity{}, ErrExpiredToken
	}

	if nbf, err := parsed.GetNotBefore(); err == nil {
		if nbf.After(now.Add(a.clockSkew)) {
			return Identity{}, ErrInvalidToken
		}
	}

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return Identity{}, ErrInvalidToken
	}
	uname, err := parsed.GetString("uname")
	if err != nil || uname == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: uid, Username: uname}, nil
}
