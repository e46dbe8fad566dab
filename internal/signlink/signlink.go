// Package signlink issues and verifies tamper-evident, time-bounded signing links.
package signlink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/leaseflow/internal/errs"
)

const issuer = "leaseflow"

// Claims binds a link to one lease and its tenant.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid"`
}

// Link is an issued signing URL.
type Link struct {
	URL       string
	Token     string
	ExpiresAt time.Time
}

// Signer issues HS256-signed links.
type Signer struct {
	key     []byte
	baseURL string
}

// New constructs a Signer; baseURL is the public portal origin.
func New(key []byte, baseURL string) *Signer {
	return &Signer{key: key, baseURL: strings.TrimRight(baseURL, "/")}
}

// Issue returns a link for lease valid until now+ttl.
func (s *Signer) Issue(leaseID, tenantID uuid.UUID, ttl time.Duration, now time.Time) (Link, error) {
	if ttl <= 0 {
		return Link{}, fmt.Errorf("signlink: ttl must be positive: %w", errs.ErrInvalidArgument)
	}
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   leaseID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		TenantID: tenantID.String(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return Link{}, err
	}
	u := s.baseURL + "/sign/" + leaseID.String() + "?token=" + url.QueryEscape(tok)
	return Link{URL: u, Token: tok, ExpiresAt: exp}, nil
}

// Verify checks signature, expiry at now and the lease binding; it returns the bound tenant.
func (s *Signer) Verify(token string, leaseID uuid.UUID, now time.Time) (uuid.UUID, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithSubject(leaseID.String()),
	)
	if err != nil {
		return uuid.Nil, errors.Join(errs.ErrLinkInvalid, err)
	}
	tenantID, err := uuid.FromString(claims.TenantID)
	if err != nil {
		return uuid.Nil, errs.ErrLinkInvalid
	}
	return tenantID, nil
}
