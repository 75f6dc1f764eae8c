package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bilalbayram/adplan/internal/config"
)

// Credentials unlock one advertising account. They are held in memory only.
type Credentials struct {
	APIToken          string
	AppSecret         string
	ExternalAccountID string
	GraphVersion      string
}

// CredentialProvider resolves the credentials for a named profile.
type CredentialProvider interface {
	Credentials(ctx context.Context, profile string) (Credentials, error)
}

// KeychainCredentialProvider resolves profiles from config and reads their
// secrets through a SecretStore.
type KeychainCredentialProvider struct {
	Config  *config.Config
	Secrets SecretStore
}

func NewKeychainCredentialProvider(cfg *config.Config, secrets SecretStore) *KeychainCredentialProvider {
	if secrets == nil {
		secrets = NewKeychainStore()
	}
	return &KeychainCredentialProvider{Config: cfg, Secrets: secrets}
}

func (p *KeychainCredentialProvider) Credentials(ctx context.Context, name string) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}
	if p.Secrets == nil {
		return Credentials{}, errors.New("secret store is required")
	}
	resolved, profile, err := p.Config.ResolveProfile(name)
	if err != nil {
		return Credentials{}, err
	}
	token, err := p.Secrets.Get(profile.TokenRef)
	if err != nil {
		return Credentials{}, fmt.Errorf("load token for profile %q: %w", resolved, err)
	}
	creds := Credentials{
		APIToken:          token,
		ExternalAccountID: profile.AccountID,
		GraphVersion:      profile.GraphVersion,
	}
	if strings.TrimSpace(profile.AppSecretRef) != "" {
		secret, err := p.Secrets.Get(profile.AppSecretRef)
		if err != nil {
			return Credentials{}, fmt.Errorf("load app secret for profile %q: %w", resolved, err)
		}
		creds.AppSecret = secret
	}
	return creds, nil
}

// StaticCredentialProvider serves fixed credentials by profile name.
type StaticCredentialProvider map[string]Credentials

func (p StaticCredentialProvider) Credentials(_ context.Context, profile string) (Credentials, error) {
	creds, ok := p[profile]
	if !ok {
		return Credentials{}, fmt.Errorf("no credentials for profile %q", profile)
	}
	if strings.TrimSpace(creds.APIToken) == "" {
		return Credentials{}, fmt.Errorf("credentials for profile %q have no token", profile)
	}
	return creds, nil
}
