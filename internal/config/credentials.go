package config

import (
	"fmt"
	"os"
	"strings"
)

// CredentialResolver resolves credential references from the environment.
// A reference is either a variable name or "env:NAME".
type CredentialResolver struct {
	lookup func(string) (string, bool)
}

// NewCredentialResolver resolves through os.LookupEnv.
func NewCredentialResolver() *CredentialResolver {
	return &CredentialResolver{lookup: os.LookupEnv}
}

// Resolve returns the secret behind ref.
func (r *CredentialResolver) Resolve(ref string) (string, error) {
	name := strings.TrimPrefix(ref, "env:")
	if name == "" {
		return "", fmt.Errorf("empty credential reference")
	}
	value, ok := r.lookup(name)
	if !ok {
		return "", fmt.Errorf("credential %s is not set", name)
	}
	return value, nil
}
