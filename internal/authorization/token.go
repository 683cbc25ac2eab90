package authorization

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrWrongIssuer  = errors.New("token issuer is not Google")
)

// Identity is the verified caller.
type Identity struct {
	Email         string
	Subject       string
	Name          string
	EmailVerified bool
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// GoogleVerifier checks Google-signed ID tokens for one OAuth client id.
type GoogleVerifier struct {
	audience string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

func NewGoogleVerifier(audience string) *GoogleVerifier {
	return &GoogleVerifier{audience: audience, validate: idtoken.Validate}
}

func (v *GoogleVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, ErrMissingToken
	}
	payload, err := v.validate(ctx, token, v.audience)
	if err != nil {
		return Identity{}, fmt.Errorf("verify id token: %w", err)
	}
	switch payload.Issuer {
	case "accounts.google.com", "https://accounts.google.com":
	default:
		return Identity{}, ErrWrongIssuer
	}

	id := Identity{Subject: payload.Subject}
	id.Email, _ = payload.Claims["email"].(string)
	id.Name, _ = payload.Claims["name"].(string)
	id.EmailVerified, _ = payload.Claims["email_verified"].(bool)
	return id, nil
}

// BearerToken extracts the token of an `Authorization: Bearer` header.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
