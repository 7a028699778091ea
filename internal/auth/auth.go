// Package auth guards the admin HTTP surface. Two credentials are accepted:
// a JWT validated against a JWKS endpoint, or the static operator token from
// config. Successful verifications are cached briefly.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/campusrooms/roomsched/internal/cache"
	"github.com/campusrooms/roomsched/internal/config"
)

type Principal struct {
	Subject string
	Admin   bool
}

type ctxKey int

const principalKey ctxKey = 1

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

var ErrUnauthorized = errors.New("unauthorized")

type Verifier struct {
	cfg    config.AuthConfig
	logger zerolog.Logger

	ksMu   sync.Mutex
	keyset jwk.Set
	ksAt   time.Time
	ksTTL  time.Duration

	verCache *cache.Cache[string, *Principal]
}

func NewVerifier(cfg config.AuthConfig, logger zerolog.Logger) *Verifier {
	return &Verifier{
		cfg:      cfg,
		logger:   logger.With().Str("component", "auth").Logger(),
		ksTTL:    10 * time.Minute,
		verCache: cache.New[string, *Principal](2 * time.Minute),
	}
}

// Enabled reports whether any credential is configured at all. With nothing
// configured the admin surface rejects everything.
func (v *Verifier) Enabled() bool {
	return v.cfg.AdminToken != "" || v.cfg.JWKSURL != ""
}

func (v *Verifier) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	if p, ok := v.verCache.Get(token); ok && p != nil {
		return p, nil
	}

	if v.cfg.AdminToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(v.cfg.AdminToken)) == 1 {
		p := &Principal{Subject: "admin-token", Admin: true}
		v.verCache.Set(token, p)
		return p, nil
	}

	if v.cfg.JWKSURL != "" {
		p, err := v.verifyJWT(ctx, token)
		if err != nil {
			v.logger.Debug().Err(err).Msg("jwt rejected")
			return nil, ErrUnauthorized
		}
		v.verCache.Set(token, p)
		return p, nil
	}

	return nil, ErrUnauthorized
}

func (v *Verifier) verifyJWT(ctx context.Context, token string) (*Principal, error) {
	set, err := v.keys(ctx)
	if err != nil {
		return nil, err
	}

	tok, err := jwt.Parse([]byte(token), jwt.WithKeySet(set), jwt.WithValidate(true))
	if err != nil {
		return nil, err
	}
	if iss := tok.Issuer(); v.cfg.Issuer != "" && iss != v.cfg.Issuer {
		return nil, errors.New("issuer mismatch")
	}
	if v.cfg.Audience != "" {
		found := false
		for _, a := range tok.Audience() {
			if a == v.cfg.Audience {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New("audience mismatch")
		}
	}
	sub := tok.Subject()
	if sub == "" {
		return nil, errors.New("no sub")
	}
	return &Principal{Subject: sub, Admin: true}, nil
}

func (v *Verifier) keys(ctx context.Context) (jwk.Set, error) {
	v.ksMu.Lock()
	defer v.ksMu.Unlock()
	if v.keyset != nil && time.Since(v.ksAt) <= v.ksTTL {
		return v.keyset, nil
	}
	set, err := jwk.Fetch(ctx, v.cfg.JWKSURL)
	if err != nil {
		return nil, err
	}
	v.keyset = set
	v.ksAt = time.Now()
	return set, nil
}
