package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"promoagent/internal/config"
	"promoagent/internal/domain"
	"promoagent/internal/secrets"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	ConfigPath string // empty checks the built-in defaults
	Fix        bool   // write a default config when the file is missing
}

// checkCountry is the country listed when checking that the source answers.
const checkCountry = "CL"

// RunCheck checks the config, the promotion source, the model provider and
// the channels, printing one note per finding. Returns the exit code.
func RunCheck(ctx context.Context, opts CheckOptions, stdout, stderr io.Writer) int {
	note := func(section, message string) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, message)
	}
	code := 0

	// 1. Config
	cfg := config.Defaults()
	if opts.ConfigPath == "" {
		note("Config", "No config file; using defaults.")
	} else if loaded, err := configLoad(opts.ConfigPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			note("Config", err.Error())
			return 1
		}
		note("Config", fmt.Sprintf("No config at %s.", opts.ConfigPath))
		if !opts.Fix {
			note("Config", "Run with --fix to create a default "+config.DefaultPath+".")
		} else {
			if err := configWriteDefault(opts.ConfigPath); err != nil {
				fmt.Fprintf(stderr, "  failed to write default config: %v\n", err)
				return 1
			}
			note("Config", fmt.Sprintf("Wrote default config to %s.", opts.ConfigPath))
		}
	} else {
		cfg = loaded
		note("Config", fmt.Sprintf("Loaded %s.", opts.ConfigPath))
	}

	sm, err := secretsManager()
	if err != nil {
		note("Secrets", fmt.Sprintf("Secrets file unavailable (%v); only environment variables are read.", err))
		sm = nil
	}

	// 2. Source
	if !checkSource(ctx, cfg.Source, sm, note) {
		code = 1
	}

	// 3. Agent
	note("Agent", fmt.Sprintf("provider=%s model=%s draft=%t", cfg.Agent.Provider, cfg.Agent.Model, cfg.Agent.Draft))
	if cfg.Agent.Provider == "openai" {
		if _, err := secrets.Lookup(sm, secrets.KeyOpenAI); err != nil {
			note("Agent", fmt.Sprintf("OpenAI key missing: set %s or run 'promoagent secrets set %s <key>'.",
				secrets.EnvName(secrets.KeyOpenAI), secrets.KeyOpenAI))
			code = 1
		} else {
			note("Agent", "OpenAI key found.")
		}
	}

	// 4. Gateway
	auth := cfg.Gateway.AuthToken != ""
	if tok, _ := secrets.Optional(sm, secrets.KeyGatewayToken); tok != "" {
		auth = true
	}
	note("Gateway", fmt.Sprintf("port=%d auth=%t", cfg.Gateway.Port, auth))
	if !auth {
		note("Gateway", fmt.Sprintf("Auth is disabled. Consider setting %s for production.",
			secrets.EnvName(secrets.KeyGatewayToken)))
	}

	// 5. Telegram
	if cfg.Telegram.Enabled {
		if _, err := secrets.Lookup(sm, secrets.KeyTelegram); err != nil {
			note("Telegram", fmt.Sprintf("Enabled but no bot token: set %s.", secrets.EnvName(secrets.KeyTelegram)))
			code = 1
		} else {
			note("Telegram", "Bot token found.")
		}
	}

	fmt.Fprintln(stdout, "  Check complete.")
	return code
}

// checkSource opens the source and lists one page to prove it answers.
func checkSource(ctx context.Context, src domain.SourceConfig, sm secrets.SecretsManager, note func(string, string)) bool {
	token, err := secrets.Optional(sm, secrets.KeySourceToken)
	if err != nil {
		note("Source", err.Error())
		return false
	}
	source, closeFn, err := catalogOpen(ctx, src, token, nil)
	if err != nil {
		note("Source", secrets.Redact(err.Error(), token))
		return false
	}
	defer closeFn()

	resp, err := source.ListByCountry(ctx, domain.ListQuery{Country: checkCountry, Page: 1, Limit: 1})
	if err != nil {
		note("Source", fmt.Sprintf("kind=%s unreachable: %s", kindName(src.Kind), secrets.Redact(err.Error(), token)))
		return false
	}
	if resp.Kind() != "" {
		note("Source", fmt.Sprintf("kind=%s answered %s.", kindName(src.Kind), resp.Kind()))
		return false
	}
	total := 0
	if resp.Meta != nil {
		total = resp.Meta.Total
	}
	note("Source", fmt.Sprintf("kind=%s ok (%d promotions for %s).", kindName(src.Kind), total, checkCountry))
	return true
}

func kindName(kind string) string {
	if kind == "" {
		return "memory"
	}
	return kind
}
