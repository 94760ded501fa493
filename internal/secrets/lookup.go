package secrets

import (
	"errors"
	"os"
	"strings"
)

// Well-known secret keys.
const (
	KeyOpenAI       = "openai"
	KeyTelegram     = "telegram"
	KeySourceToken  = "source_token"
	KeyGatewayToken = "gateway_token"
)

// envNames maps each key to the environment variable that overrides it.
var envNames = map[string]string{
	KeyOpenAI:       "OPENAI_API_KEY",
	KeyTelegram:     "TELEGRAM_BOT_TOKEN",
	KeySourceToken:  "PROMOAGENT_SOURCE_TOKEN",
	KeyGatewayToken: "PROMOAGENT_GATEWAY_TOKEN",
}

// lookupEnv is used by Lookup; tests may replace it.
var lookupEnv = os.LookupEnv

// EnvName returns the environment variable consulted for key.
func EnvName(key string) string {
	if name, ok := envNames[key]; ok {
		return name
	}
	return "PROMOAGENT_" + strings.ToUpper(key)
}

// Lookup returns the secret for key. The environment wins over the manager so
// deployments can inject secrets without a secrets file. A nil manager only
// consults the environment. Missing secrets yield ErrNotFound.
func Lookup(m SecretsManager, key string) (string, error) {
	if v, ok := lookupEnv(EnvName(key)); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	if m == nil {
		return "", ErrNotFound
	}
	v, err := m.Get(key)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Optional is Lookup with ErrNotFound mapped to "".
func Optional(m SecretsManager, key string) (string, error) {
	v, err := Lookup(m, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
