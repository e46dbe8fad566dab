package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"github.com/and161185/leaseflow/internal/model"
)

type ctxKey string

const actorKey ctxKey = "lf.actor"

// WithActor stores the authenticated actor in context.
func WithActor(ctx context.Context, a model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromCtx fetches the actor from context.
func ActorFromCtx(ctx context.Context) (model.Actor, bool) {
	a, ok := ctx.Value(actorKey).(model.Actor)
	return a, ok
}

// StaffClaims are the claims of a staff or landlord access token.
type StaffClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IssueToken signs an HS256 access token for a staff or landlord user.
func IssueToken(key []byte, userID uuid.UUID, role string, ttl time.Duration, now time.Time) (string, error) {
	claims := StaffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// Authenticator turns bearer tokens into actors.
type Authenticator struct {
	key []byte
	now func() time.Time
}

// NewAuthenticator constructs an Authenticator; now may be nil.
func NewAuthenticator(key []byte, now func() time.Time) *Authenticator {
	if now == nil {
		now = time.Now
	}
	return &Authenticator{key: key, now: now}
}

// Actor extracts "authorization: Bearer <JWT>", verifies HS256 and builds the actor.
func (a *Authenticator) Actor(ctx context.Context) (model.Actor, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return model.Actor{}, err
	}

	var claims StaffClaims
	_, err = jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return model.Actor{}, errors.New("invalid token")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return model.Actor{}, errors.New("bad subject")
	}
	switch claims.Role {
	case model.RoleStaff, model.RoleLandlord:
	default:
		return model.Actor{}, errors.New("bad role")
	}
	return model.UserActor(id, claims.Role, remoteIP(ctx), userAgent(ctx)), nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func userAgent(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("user-agent"); len(v) > 0 {
		return v[0]
	}
	return ""
}
