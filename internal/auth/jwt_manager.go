// Package auth issues and validates the bearer tokens presented by
// gateway clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("jwt-manager")

// Issuer is stamped on generated tokens.
const Issuer = "eventbus"

// ErrMissingSecret is returned when no signing key is configured.
var ErrMissingSecret = errors.New("auth: jwt secret is required")

// ErrTokenExpired marks an otherwise valid token past its exp claim.
var ErrTokenExpired = errors.New("auth: token expired")

// Claims identify a gateway client.
type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated principal attached to a connection.
type Identity struct {
	ID        string
	Email     string
	Role      string
	ExpiresAt time.Time // zero when the token has no exp
}

// Label is the role when set, else the id.
func (i Identity) Label() string {
	if i.Role != "" {
		return i.Role
	}
	return i.ID
}

// JWTManager manages HS256 token creation and validation.
type JWTManager struct {
	signingKey []byte
	algorithm  string
	keyID      string
	tracer     trace.Tracer
	now        func() time.Time
}

// NewJWTManager creates a manager for secret.
func NewJWTManager(secret string) (*JWTManager, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &JWTManager{
		signingKey: []byte(secret),
		algorithm:  jwt.SigningMethodHS256.Alg(),
		keyID:      "default",
		tracer:     tracer,
		now:        time.Now,
	}, nil
}

// GenerateToken issues a token valid for duration (no exp when <= 0).
func (jm *JWTManager) GenerateToken(ctx context.Context, id, email, role string, duration time.Duration) (string, error) {
	_, span := jm.tracer.Start(ctx, "jwt.generate_token")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", id), attribute.String("user.role", role))

	if id == "" {
		return "", errors.New("auth: subject id is required")
	}
	now := jm.now()
	claims := &Claims{
		ID:    id,
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   id,
			ID:        fmt.Sprintf("jwt-%d", now.UnixNano()),
		},
	}
	if duration > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(duration))
	}

	token := jwt.NewWithClaims(jwt.GetSigningMethod(jm.algorithm), claims)
	token.Header["kid"] = jm.keyID

	signed, err := token.SignedString(jm.signingKey)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies tokenString.
func (jm *JWTManager) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	_, span := jm.tracer.Start(ctx, "jwt.validate_token")
	defer span.End()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jm.algorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if kid, ok := token.Header["kid"].(string); ok && kid != jm.keyID {
			span.SetAttributes(attribute.String("jwt.kid_mismatch", kid))
		}
		return jm.signingKey, nil
	}, jwt.WithTimeFunc(jm.now), jwt.WithValidMethods([]string{jm.algorithm}))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ID == "" {
		claims.ID = claims.Subject
	}
	if claims.ID == "" {
		return nil, errors.New("token has no subject")
	}
	span.SetAttributes(attribute.String("user.id", claims.ID))
	return claims, nil
}

// Authenticate validates tokenString and returns the identity it carries.
func (jm *JWTManager) Authenticate(ctx context.Context, tokenString string) (Identity, error) {
	claims, err := jm.ValidateToken(ctx, tokenString)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{ID: claims.ID, Email: claims.Email, Role: claims.Role}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
