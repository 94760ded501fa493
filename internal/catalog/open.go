package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"promoagent/internal/db"
	"promoagent/internal/domain"
)

// dbConnect is used by Open; tests may replace it.
var dbConnect = db.Connect

// Open builds the configured source. The returned close function releases
// database handles and is never nil. token authenticates remote calls.
func Open(ctx context.Context, cfg domain.SourceConfig, token string, logger *slog.Logger) (domain.PromotionSource, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Kind {
	case "", "memory":
		if cfg.Watch && cfg.Path != "" {
			w, err := NewWatched(cfg.Path, logger)
			if err != nil {
				return nil, noop, err
			}
			return w, w.Close, nil
		}
		m, err := NewMemoryFromFile(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil
	case "sqlite":
		conn, err := dbConnect(cfg.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("catalog: %w", err)
		}
		if err := db.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, noop, fmt.Errorf("catalog: %w", err)
		}
		return NewSQLStore(conn), conn.Close, nil
	case "remote":
		r, err := NewRemote(cfg.URL, WithToken(token), WithRemoteLogger(logger))
		if err != nil {
			return nil, noop, err
		}
		return r, noop, nil
	default:
		return nil, noop, fmt.Errorf("catalog: unknown source kind %q (use: memory, sqlite, remote)", cfg.Kind)
	}
}
