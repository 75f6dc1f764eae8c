package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	KeychainService = "adplan"
	SecretToken     = "token"
	SecretAppSecret = "app_secret"

	keychainScheme = "keychain://"
	envScheme      = "env://"
)

// SecretStore reads and writes secrets by ref. Refs are either
// keychain://adplan/<profile>/<kind> or env://<VARIABLE>.
type SecretStore interface {
	Set(ref string, value string) error
	Get(ref string) (string, error)
	Delete(ref string) error
}

type KeychainStore struct {
	service string
	backend keyringBackend
	lookup  func(string) (string, bool)
}

type keyringBackend interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

type defaultKeyringBackend struct{}

func (defaultKeyringBackend) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}

func (defaultKeyringBackend) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}

func (defaultKeyringBackend) Delete(service, user string) error {
	return keyring.Delete(service, user)
}

func NewKeychainStore() *KeychainStore {
	return &KeychainStore{
		service: KeychainService,
		backend: defaultKeyringBackend{},
		lookup:  os.LookupEnv,
	}
}

func SecretRef(profile string, kind string) (string, error) {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return "", errors.New("profile is required for secret ref")
	}
	if !validKind(kind) {
		return "", fmt.Errorf("unsupported secret kind %q", kind)
	}
	return fmt.Sprintf("%s%s/%s/%s", keychainScheme, KeychainService, profile, kind), nil
}

func ParseSecretRef(ref string) (string, string, error) {
	if !strings.HasPrefix(ref, keychainScheme) {
		return "", "", fmt.Errorf("invalid secret ref %q: expected keychain:// prefix", ref)
	}
	parts := strings.Split(strings.TrimPrefix(ref, keychainScheme), "/")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("invalid secret ref %q: expected keychain://<service>/<profile>/<kind>", ref)
	}
	if parts[0] != KeychainService {
		return "", "", fmt.Errorf("invalid secret ref %q: unsupported service %q", ref, parts[0])
	}
	profile := strings.TrimSpace(parts[1])
	kind := strings.TrimSpace(parts[2])
	if profile == "" || kind == "" {
		return "", "", fmt.Errorf("invalid secret ref %q: empty profile or kind", ref)
	}
	if !validKind(kind) {
		return "", "", fmt.Errorf("invalid secret ref %q: unknown kind %q", ref, kind)
	}
	return profile, kind, nil
}

// IsEnvRef reports whether ref names an environment variable instead of a
// keychain entry. Env refs are read-only.
func IsEnvRef(ref string) bool {
	return strings.HasPrefix(ref, envScheme)
}

func (s *KeychainStore) Set(ref string, value string) error {
	if IsEnvRef(ref) {
		return fmt.Errorf("secret ref %q is read-only", ref)
	}
	profile, kind, err := ParseSecretRef(ref)
	if err != nil {
		return err
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("secret value cannot be empty")
	}
	if err := s.backend.Set(s.service, accountName(profile, kind), value); err != nil {
		return fmt.Errorf("keychain set %q: %w", ref, err)
	}
	return nil
}

func (s *KeychainStore) Get(ref string) (string, error) {
	if IsEnvRef(ref) {
		return s.getEnv(ref)
	}
	profile, kind, err := ParseSecretRef(ref)
	if err != nil {
		return "", err
	}
	value, err := s.backend.Get(s.service, accountName(profile, kind))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("keychain secret not found for %q: %w", ref, err)
		}
		return "", fmt.Errorf("keychain get %q: %w", ref, err)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("keychain secret value is empty for %q", ref)
	}
	return value, nil
}

func (s *KeychainStore) Delete(ref string) error {
	if IsEnvRef(ref) {
		return fmt.Errorf("secret ref %q is read-only", ref)
	}
	profile, kind, err := ParseSecretRef(ref)
	if err != nil {
		return err
	}
	if err := s.backend.Delete(s.service, accountName(profile, kind)); err != nil {
		return fmt.Errorf("keychain delete %q: %w", ref, err)
	}
	return nil
}

func (s *KeychainStore) getEnv(ref string) (string, error) {
	name := strings.TrimSpace(strings.TrimPrefix(ref, envScheme))
	if name == "" {
		return "", fmt.Errorf("invalid secret ref %q: empty variable name", ref)
	}
	lookup := s.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("environment variable %s is not set for %q", name, ref)
	}
	return value, nil
}

func validKind(kind string) bool {
	return kind == SecretToken || kind == SecretAppSecret
}

func accountName(profile string, kind string) string {
	return fmt.Sprintf("%s:%s", profile, kind)
}
