package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"promoagent/internal/domain"
)

//go:embed seed.yaml
var seedYAML []byte

// seedFile is the on-disk catalog layout.
type seedFile struct {
	Promotions []domain.Promotion `yaml:"promotions"`
}

// readFile is used by LoadFile; tests may replace it to force read errors.
var readFile = os.ReadFile

// Memory is a read-only in-memory catalog. It is loaded once and never
// mutated, so concurrent reads need no locking.
type Memory struct {
	records []domain.Promotion
	byID    map[int]int
}

// NewMemory validates records and builds the id index. Ids must be unique
// and slugs unique within a country.
func NewMemory(records []domain.Promotion) (*Memory, error) {
	if err := CheckRecords(records); err != nil {
		return nil, err
	}
	m := &Memory{
		records: make([]domain.Promotion, len(records)),
		byID:    make(map[int]int, len(records)),
	}
	for i, r := range records {
		m.records[i] = r.Clone()
		m.byID[r.ID] = i
	}
	return m, nil
}

// CheckRecords runs Promotion.Validate on each record and checks the catalog
// uniqueness rules.
func CheckRecords(records []domain.Promotion) error {
	ids := make(map[int]bool, len(records))
	slugs := make(map[string]bool, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		if ids[r.ID] {
			return fmt.Errorf("catalog: duplicate promotion id %d", r.ID)
		}
		ids[r.ID] = true
		key := r.Country + "/" + r.Slug
		if slugs[key] {
			return fmt.Errorf("catalog: duplicate slug %q in country %s", r.Slug, r.Country)
		}
		slugs[key] = true
	}
	return nil
}

// ParseYAML decodes a catalog document ("promotions: [...]").
func ParseYAML(data []byte) ([]domain.Promotion, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}
	return f.Promotions, nil
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) ([]domain.Promotion, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog load: %w", err)
	}
	return ParseYAML(data)
}

// Seed returns the built-in demo catalog.
func Seed() []domain.Promotion {
	records, err := ParseYAML(seedYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded seed is invalid: %v", err))
	}
	return records
}

// NewMemoryFromFile loads path, or the built-in seed when path is empty.
func NewMemoryFromFile(path string) (*Memory, error) {
	if path == "" {
		return NewMemory(Seed())
	}
	records, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewMemory(records)
}

// Len returns the number of records.
func (m *Memory) Len() int { return len(m.records) }

// ListByCountry implements domain.PromotionSource.
func (m *Memory) ListByCountry(ctx context.Context, q domain.ListQuery) (*domain.ToolResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrToolUnavailable, err)
	}
	page, meta := Query(m.records, q)
	return domain.ListResponse(page, meta)
}

// GetByID implements domain.PromotionSource.
func (m *Memory) GetByID(ctx context.Context, id int, include []string) (*domain.ToolResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrToolUnavailable, err)
	}
	i, ok := m.byID[id]
	if !ok {
		return domain.ErrorResponse(domain.KindNotFound, ""), nil
	}
	return domain.ItemResponse(m.records[i].Clone().Project(include))
}

var _ domain.PromotionSource = (*Memory)(nil)
