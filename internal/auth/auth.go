// Package auth verifies and mints Google-signed ID tokens for the calls
// between the server and the worker.
package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Identity struct {
	Email   string
	Subject string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// GoogleVerifier accepts ID tokens issued by Google for audience whose
// e-mail claim is verified.
type GoogleVerifier struct {
	audience string
}

func NewGoogleVerifier(audience string) *GoogleVerifier {
	return &GoogleVerifier{audience: audience}
}

func (v *GoogleVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	payload, err := idtoken.Validate(ctx, token, v.audience)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	if email == "" || !verified {
		return Identity{}, fmt.Errorf("%w: email claim missing or unverified", ErrInvalidToken)
	}
	return Identity{Email: email, Subject: payload.Subject}, nil
}

type ctxKey struct{}

// FromContext returns the identity stored by NewContext.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}
