// Package auth resolves SDK API keys to the app_id they authenticate as.
// Key issuance and rotation are external to this service; the resolver only
// trusts the mapping it was constructed with.
package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrInvalidKey is returned for unknown or empty API keys.
var ErrInvalidKey = errors.New("invalid app key")

// Resolver maps SDK API keys to app ids.
type Resolver struct {
	keys map[string]string
}

// NewResolver builds a resolver from an api-key → app_id mapping.
func NewResolver(keys map[string]string) *Resolver {
	owned := make(map[string]string, len(keys))
	for k, v := range keys {
		owned[k] = v
	}
	return &Resolver{keys: owned}
}

// ResolveAppID returns the app_id the given key authenticates as. Comparison
// is constant-time per candidate key.
func (r *Resolver) ResolveAppID(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrInvalidKey
	}
	for k, appID := range r.keys {
		if len(k) == len(apiKey) && subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return appID, nil
		}
	}
	return "", ErrInvalidKey
}
