package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/storynest/vignette/internal/vignette"
)

// Verifier decides whether a bearer token belongs to an authenticated caller.
type Verifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// StaticToken accepts exactly one shared secret.
type StaticToken string

func (s StaticToken) Verify(_ context.Context, token string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s)) == 1, nil
}

// RemoteVerifier asks an external endpoint whether a token is valid by
// forwarding it as a bearer token. Accepted tokens are cached for ttl.
type RemoteVerifier struct {
	url    string
	client *http.Client
	cache  *cache.Cache
}

// NewRemoteVerifier creates a RemoteVerifier. A nil client uses a 5s timeout.
func NewRemoteVerifier(url string, ttl time.Duration, client *http.Client) *RemoteVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RemoteVerifier{
		url:    url,
		client: client,
		cache:  cache.New(ttl, 2*ttl),
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (bool, error) {
	key := tokenKey(token)
	if _, ok := v.cache.Get(key); ok {
		return true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return false, fmt.Errorf("creating verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("calling verify endpoint: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		v.cache.SetDefault(key, true)
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("verify endpoint returned status %d", resp.StatusCode)
	}
}

// tokenKey keeps raw tokens out of the cache.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// AnyOf accepts a token if any of its verifiers does.
type AnyOf []Verifier

func (a AnyOf) Verify(ctx context.Context, token string) (bool, error) {
	var firstErr error
	for _, v := range a {
		ok, err := v.Verify(ctx, token)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}

// NewVerifier builds the verifier for a static token and/or a remote
// verification URL. Either may be empty.
func NewVerifier(token, verifyURL string, ttl time.Duration, client *http.Client) Verifier {
	var vs AnyOf
	if token != "" {
		vs = append(vs, StaticToken(token))
	}
	if verifyURL != "" {
		vs = append(vs, NewRemoteVerifier(verifyURL, ttl, client))
	}
	return vs
}

// BearerAuth rejects requests whose bearer token the verifier does not accept.
func BearerAuth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || auth[len(prefix):] == "" || v == nil {
				httpError(w, http.StatusUnauthorized, "%s: invalid or missing bearer token", vignette.KindUnauthorized)
				return
			}

			ok, err := v.Verify(r.Context(), auth[len(prefix):])
			if err != nil {
				slog.Warn("token verification failed", "error", err)
				httpError(w, http.StatusUnauthorized, "%s: token verification failed", vignette.KindUnauthorized)
				return
			}
			if !ok {
				httpError(w, http.StatusUnauthorized, "%s: invalid or missing bearer token", vignette.KindUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
