package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"promoagent/internal/catalog"
	"promoagent/internal/db"
	"promoagent/internal/domain"
	"promoagent/internal/secrets"
)

// ImportOptions holds options for the catalog import command.
type ImportOptions struct {
	File     string // YAML catalog; empty imports the built-in seed
	Database string // file path or libSQL URL
}

// RunCatalogImport loads promotions from a YAML file and writes them into a
// SQLite or libSQL database, creating the schema when missing. Existing rows
// with the same id are replaced.
func RunCatalogImport(ctx context.Context, opts ImportOptions, out io.Writer) error {
	if opts.Database == "" {
		return fmt.Errorf("catalog import: database is required")
	}
	var records []domain.Promotion
	if opts.File == "" {
		records = catalog.Seed()
	} else {
		var err error
		if records, err = catalogLoadFile(opts.File); err != nil {
			return fmt.Errorf("catalog import: %w", err)
		}
	}

	url := DatabaseURL(opts.Database)
	conn, err := dbConnect(url)
	if err != nil {
		return fmt.Errorf("catalog import: %s", secrets.Redact(err.Error()))
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("catalog import: %w", err)
	}
	if err := catalog.NewSQLStore(conn).Import(ctx, records); err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d promotions into %s\n", len(records), secrets.RedactURL(url))
	return nil
}

// DatabaseURL turns a plain file path into a "file:" URL and leaves URLs as
// they are.
func DatabaseURL(s string) string {
	if strings.Contains(s, "://") || strings.HasPrefix(s, "file:") {
		return s
	}
	return "file:" + s
}
