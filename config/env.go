package config

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvVarProvider retrieves configuration values from environment variables.
// With a prefix, the key "exec_cxt.periodic.rate" is looked up as
// "<PREFIX>_EXEC_CXT_PERIODIC_RATE"; without one the key is used verbatim.
type EnvVarProvider struct {
	prefix string
}

// NewEnvVarProvider creates a provider reading keys verbatim.
func NewEnvVarProvider() EnvVarProvider {
	return EnvVarProvider{}
}

// NewPrefixedEnvVarProvider creates a provider mapping dotted keys to prefixed upper-case names.
func NewPrefixedEnvVarProvider(prefix string) EnvVarProvider {
	return EnvVarProvider{prefix: strings.ToUpper(strings.Trim(prefix, "_"))}
}

// EnvName returns the variable name consulted for key.
func (p EnvVarProvider) EnvName(key string) string {
	if p.prefix == "" {
		return key
	}
	r := strings.NewReplacer(".", "_", "-", "_")
	return p.prefix + "_" + strings.ToUpper(r.Replace(key))
}

// Get retrieves the environment variable value for the given name.
func (p EnvVarProvider) Get(_ context.Context, name string) (string, error) {
	envName := p.EnvName(name)
	value, exists := os.LookupEnv(envName)
	if !exists {
		return "", fmt.Errorf("environment variable '%s' is not set: %w", envName, ErrKeyNotFound)
	}
	return value, nil
}
