package auth

import (
	"context"
	"go-wiki-collab/internal/config"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Authenticator bundles the OIDC provider, OAuth2 config, and ID token
// verifier. The verified token's subject becomes the actor id that owns
// locks, drafts, and presence rows, so identity must come from the
// provider and never from client input.
type Authenticator struct {
	*oidc.Provider
	*oauth2.Config
	*oidc.IDTokenVerifier
}

// NewAuthenticator creates a new Authenticator by setting up the OIDC provider
// and OAuth2 configuration based on the application's config.
func NewAuthenticator(cfg *config.OIDCConfig) (*Authenticator, error) {
	// Use the OIDC discovery endpoint to get the provider configuration.
	provider, err := oidc.NewProvider(context.Background(), cfg.IssuerURL)
	if err != nil {
		return nil, err
	}

	// Create an OIDC ID token verifier.
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	// The profile scope supplies the display name shown to other editors
	// in presence lists and lock-denial messages.
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	return &Authenticator{
		Provider:        provider,
		Config:          oauth2Config,
		IDTokenVerifier: verifier,
	}, nil
}
