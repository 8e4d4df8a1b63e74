// auth.go provides the pluggable peer-identity callback §4.8 requires:
// "the connection is rejected unless the peer is the submitter or an
// administrator for admin-only verbs." The in-pack implementation verifies
// a JWT bearer credential with okta-jwt-verifier-golang, the same library
// and verification shape the teacher's rest_api package uses for its own
// HTTP middleware (rest_api/rest_main.go's verify function) — adapted here
// to a bearer string taken off a COMMAND frame instead of an HTTP header.
package transport

import (
	"context"
	"fmt"
	"os"
	"strings"

	jwtverifier "github.com/okta/okta-jwt-verifier-golang"
)

// Authenticator resolves a bearer credential presented on a connection to
// a peer identity string, the value the control thread uses for lock
// ownership and admin-policy evaluation (package control's PolicyInput).
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (peerIdentity string, err error)
}

// OktaAuthenticator verifies an Okta-issued access token and returns its
// subject claim as the peer identity. Claims required for validation
// mirror the teacher's toValidate map (audience + client ID), read from
// the same environment variables so existing Okta tenants need no new
// configuration surface.
type OktaAuthenticator struct {
	Issuer           string
	ClaimsToValidate map[string]string
}

// NewOktaAuthenticatorFromEnv builds an OktaAuthenticator from
// OKTA_DOMAIN/OKTA_CLIENT_ID, matching the teacher's convention of reading
// Okta configuration straight from the process environment rather than a
// bespoke config struct.
func NewOktaAuthenticatorFromEnv() *OktaAuthenticator {
	return &OktaAuthenticator{
		Issuer: "https://" + os.Getenv("OKTA_DOMAIN") + "/oauth2/default",
		ClaimsToValidate: map[string]string{
			"aud": "api://default",
			"cid": os.Getenv("OKTA_CLIENT_ID"),
		},
	}
}

// Authenticate verifies bearer as an Okta access token and returns the
// token's "sub" claim as the peer identity.
func (a *OktaAuthenticator) Authenticate(_ context.Context, bearer string) (string, error) {
	bearer = strings.TrimPrefix(bearer, "Bearer ")
	if bearer == "" {
		return "", fmt.Errorf("transport: empty bearer credential")
	}

	verifierSetup := jwtverifier.JwtVerifier{
		Issuer:           a.Issuer,
		ClaimsToValidate: a.ClaimsToValidate,
	}
	verifier := verifierSetup.New()
	token, err := verifier.VerifyAccessToken(bearer)
	if err != nil {
		return "", fmt.Errorf("transport: verifying access token: %w", err)
	}
	sub, _ := token.Claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("transport: token has no sub claim")
	}
	return sub, nil
}

// StaticAuthenticator trusts the bearer string itself as the peer
// identity. Used for local/standalone mode and tests where standing up an
// Okta tenant is not the point.
type StaticAuthenticator struct{}

func (StaticAuthenticator) Authenticate(_ context.Context, bearer string) (string, error) {
	if bearer == "" {
		return "", fmt.Errorf("transport: empty bearer credential")
	}
	return bearer, nil
}
