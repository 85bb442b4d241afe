package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/whaleray/control-plane/internal/database"
)

// OAuthStateTTL bounds the lifetime of a login CSRF nonce.
const OAuthStateTTL = 10 * time.Minute

// OAuthStateRepository stores short-lived OAuth CSRF states.
type OAuthStateRepository interface {
	Put(ctx context.Context, state, redirectURI string) error
	// Consume retrieves and deletes a state in one step. A missing or
	// expired state returns ok=false.
	Consume(ctx context.Context, state string) (redirectURI string, ok bool, err error)
}

type oauthStateRepo struct {
	redis *database.Redis
}

// NewOAuthStateRepository creates a Redis-backed OAuth state repository.
func NewOAuthStateRepository(redis *database.Redis) OAuthStateRepository {
	return &oauthStateRepo{redis: redis}
}

func stateKey(state string) string {
	return fmt.Sprintf("oauthstate:%s", state)
}

// Put stores a state nonce with the login's redirect URI.
func (r *oauthStateRepo) Put(ctx context.Context, state, redirectURI string) error {
	return r.redis.Set(ctx, stateKey(state), redirectURI, OAuthStateTTL)
}

// Consume removes the state so it can be used exactly once.
func (r *oauthStateRepo) Consume(ctx context.Context, state string) (string, bool, error) {
	val, err := r.redis.GetDel(ctx, stateKey(state))
	if database.IsNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Compile-time check to ensure oauthStateRepo implements OAuthStateRepository.
var _ OAuthStateRepository = (*oauthStateRepo)(nil)
