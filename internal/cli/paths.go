package cli

import (
	"os"

	"promoagent/internal/config"
)

// ConfigEnv names the environment variable holding the config path.
const ConfigEnv = "PROMOAGENT_CONFIG"

// lookupEnv is used by ResolveConfigPath; tests may replace it.
var lookupEnv = os.LookupEnv

// ResolveConfigPath picks the config file: the flag, then PROMOAGENT_CONFIG,
// then promoagent.yaml in the working directory when it exists. An empty
// result means built-in defaults.
func ResolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if p, ok := lookupEnv(ConfigEnv); ok && p != "" {
		return p
	}
	if _, err := osStat(config.DefaultPath); err == nil {
		return config.DefaultPath
	}
	return ""
}
