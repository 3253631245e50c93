// Package runenv models the execution environment a workflow run provides to
// the cache tool: event metadata, repository identity, refs, credentials and
// the key/value state shared between the restore and save phases.
package runenv

import (
	"context"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/cachew-ci/cachew/pkg/common"
)

// Environment is a snapshot of the runner contract, taken once per
// invocation.
type Environment struct {
	EventName    string
	EventPath    string
	Ref          string
	Owner        string
	Repo         string
	APIURL       string
	CacheURL     string
	Token        string
	RuntimeToken string
	Workdir      string
}

// Discover reads the runner contract from the process environment. When
// GITHUB_REF is unset the ref falls back to the checked out repository's
// HEAD, so runs outside a hosted runner still get a scoped eviction ref.
func Discover(ctx context.Context) *Environment {
	e := &Environment{
		EventName:    os.Getenv("GITHUB_EVENT_NAME"),
		EventPath:    os.Getenv("GITHUB_EVENT_PATH"),
		Ref:          os.Getenv("GITHUB_REF"),
		APIURL:       os.Getenv("GITHUB_API_URL"),
		CacheURL:     os.Getenv("ACTIONS_CACHE_URL"),
		Token:        os.Getenv("GITHUB_TOKEN"),
		RuntimeToken: os.Getenv("ACTIONS_RUNTIME_TOKEN"),
		Workdir:      os.Getenv("GITHUB_WORKSPACE"),
	}
	if e.Workdir == "" {
		e.Workdir, _ = os.Getwd()
	}
	if owner, repo, ok := strings.Cut(os.Getenv("GITHUB_REPOSITORY"), "/"); ok {
		e.Owner, e.Repo = owner, repo
	}
	if e.APIURL == "" {
		e.APIURL = "https://api.github.com"
	}
	if e.Ref == "" {
		if ref, err := FindGitRef(ctx, e.Workdir); err == nil {
			e.Ref = ref
		} else {
			common.Logger(ctx).Debugf("unable to determine git ref: %v", err)
		}
	}
	return e
}

// CacheAvailable reports whether the cache service can be used from this
// environment. Hosted runners issue a runtime token whose cache scopes live
// in the "ac" claim; act style local servers issue no token at all.
func (e *Environment) CacheAvailable(ctx context.Context) bool {
	if e.CacheURL == "" {
		return false
	}
	if e.RuntimeToken == "" {
		return true
	}
	if _, err := cacheScopes(e.RuntimeToken); err != nil {
		common.Logger(ctx).Debugf("runtime token: %v", err)
		return false
	}
	return true
}

// cacheScopes extracts the cache scopes claim from a runtime token. The token
// is not verified here; the service is the one that checks the signature.
func cacheScopes(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", errors.Wrap(err, "parse runtime token")
	}
	ac, _ := claims["ac"].(string)
	if ac == "" {
		return "", errors.New("runtime token carries no cache scopes")
	}
	return ac, nil
}
