package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

// IDTokenProvider mints ID tokens from the ambient Google credentials. One
// cached token source is kept per audience.
type IDTokenProvider struct {
	mu        sync.Mutex
	sources   map[string]oauth2.TokenSource
	newSource func(ctx context.Context, audience string) (oauth2.TokenSource, error)
}

func NewIDTokenProvider() *IDTokenProvider {
	return &IDTokenProvider{
		sources: make(map[string]oauth2.TokenSource),
		newSource: func(ctx context.Context, audience string) (oauth2.TokenSource, error) {
			return idtoken.NewTokenSource(ctx, audience)
		},
	}
}

func (p *IDTokenProvider) Token(ctx context.Context, audience string) (string, error) {
	src, err := p.source(ctx, audience)
	if err != nil {
		return "", err
	}
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("id token for %s: %w", audience, err)
	}
	return tok.AccessToken, nil
}

func (p *IDTokenProvider) source(ctx context.Context, audience string) (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if src, ok := p.sources[audience]; ok {
		return src, nil
	}
	// The source outlives the request that created it.
	src, err := p.newSource(context.WithoutCancel(ctx), audience)
	if err != nil {
		return nil, fmt.Errorf("token source for %s: %w", audience, err)
	}
	src = oauth2.ReuseTokenSource(nil, src)
	p.sources[audience] = src
	return src, nil
}
