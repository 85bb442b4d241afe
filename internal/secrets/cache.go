// Package secrets provides a process-lifetime cache over Secrets Manager.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// secretsAPI is the subset of the Secrets Manager client the cache uses.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Cache fetches secret strings once and keeps them for the life of the
// process. Cache lifecycle equals process lifetime; there is no
// cross-process coordination. A failed fetch is not cached, so the next
// call refreshes.
type Cache struct {
	client secretsAPI

	mu     sync.RWMutex
	values map[string]string
}

// NewCache creates a secret cache over the given client.
func NewCache(client secretsAPI) *Cache {
	return &Cache{
		client: client,
		values: make(map[string]string),
	}
}

// Get returns the secret string for the ARN, fetching it on first use.
func (c *Cache) Get(ctx context.Context, arn string) (string, error) {
	c.mu.RLock()
	if v, ok := c.values[arn]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	out, err := c.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("fetch secret %s: %w", arn, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", arn)
	}

	c.mu.Lock()
	c.values[arn] = *out.SecretString
	c.mu.Unlock()

	return *out.SecretString, nil
}
