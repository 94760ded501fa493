package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"promoagent/internal/gateway"
	"promoagent/internal/secrets"
	"promoagent/internal/security"
	"promoagent/internal/telegram"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	AllowRoot bool // skip the non-root check (containers)
}

// serveBindWaitIterations is the max loop count waiting for the gateway to
// bind. Tests may set it to 0.
var serveBindWaitIterations = 50

// Serve runs the gateway, and the Telegram channel when enabled, until ctx is
// done. A gateway that cannot bind ends Serve with its error.
func Serve(ctx context.Context, app *App, opts ServeOptions, stdout io.Writer) error {
	if !opts.AllowRoot {
		if err := security.RequireNonRoot(euidGetter); err != nil {
			return err
		}
	}

	gw := app.Config.Gateway
	token, err := secrets.Optional(app.Secrets, secrets.KeyGatewayToken)
	if err != nil {
		return fmt.Errorf("serve: gateway token: %w", err)
	}
	if token != "" {
		gw.AuthToken = token
	}
	srv, err := gateway.NewServer(&gw, app.Registry, app.Brain,
		gateway.WithLogger(app.Logger),
		gateway.WithLanes(app.Lanes),
	)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	var adapter *telegram.Adapter
	if app.Config.Telegram.Enabled {
		adapter, err = newTelegramAdapter(app)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	var wg sync.WaitGroup
	if adapter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adapter.Start(ctx)
		}()
	}

	if addr := waitForBind(srv); addr != "" {
		fmt.Fprintf(stdout, "  listen %s\n", addr)
		if adapter != nil {
			fmt.Fprintln(stdout, "  telegram polling")
		}
		fmt.Fprintln(stdout, "  ready.")
	}

	select {
	case <-ctx.Done():
		err = <-errCh
	case err = <-errCh:
	}
	cancel()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("serve: gateway: %w", err)
	}
	return nil
}

// waitForBind polls until the gateway has an address or failed to listen.
func waitForBind(srv *gateway.Server) string {
	for i := 0; i < serveBindWaitIterations; i++ {
		if a := srv.Addr(); a != "" {
			return a
		}
		if srv.ListenErr() != nil {
			return ""
		}
		time.Sleep(20 * time.Millisecond)
	}
	return srv.Addr()
}

func newTelegramAdapter(app *App) (*telegram.Adapter, error) {
	token, err := secrets.Lookup(app.Secrets, secrets.KeyTelegram)
	if err != nil {
		return nil, fmt.Errorf("telegram token: %w (set %s or run: promoagent secrets set %s <token>)",
			err, secrets.EnvName(secrets.KeyTelegram), secrets.KeyTelegram)
	}
	bot, err := newBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %s", secrets.Redact(err.Error(), token))
	}
	return telegram.NewAdapter(bot, app.Brain,
		telegram.WithLogger(app.Logger),
		telegram.WithLanes(app.Lanes),
	), nil
}
