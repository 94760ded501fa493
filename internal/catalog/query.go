package catalog

import (
	"sort"
	"strings"

	"promoagent/internal/domain"
)

// openEnded stands in for an empty endDate when sorting so open-ended
// promotions order after every dated one.
const openEnded = "9999-12-31"

// TotalPages returns ceil(total/limit), or 0 when limit is not positive.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Query filters records by country, sorts them and slices out one page.
// Without a sort key records are ordered by id. Ties are always broken by id
// ascending so pages are stable across calls. A page past the end yields an
// empty slice with accurate meta. Include keys are projected onto each record;
// unknown keys are ignored. The input slice is not modified.
func Query(records []domain.Promotion, q domain.ListQuery) ([]domain.Promotion, domain.Meta) {
	filtered := make([]domain.Promotion, 0, len(records))
	for _, r := range records {
		if r.Country == q.Country {
			filtered = append(filtered, r)
		}
	}

	field, desc := ParseSort(q.Sort)
	sort.SliceStable(filtered, func(i, j int) bool {
		return less(filtered[i], filtered[j], field, desc)
	})

	meta := domain.Meta{
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      len(filtered),
		TotalPages: TotalPages(len(filtered), q.Limit),
	}

	start := (q.Page - 1) * q.Limit
	if q.Page < 1 || q.Limit < 1 || start >= len(filtered) {
		return []domain.Promotion{}, meta
	}
	end := start + q.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	page := make([]domain.Promotion, 0, end-start)
	for _, r := range filtered[start:end] {
		page = append(page, r.Clone().Project(q.Include))
	}
	return page, meta
}

// ParseSort splits "-startDate" into ("startDate", true). Empty means id.
func ParseSort(key string) (field string, desc bool) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "-") {
		desc = true
		key = key[1:]
	}
	if key == "" {
		key = "id"
	}
	return key, desc
}

func less(a, b domain.Promotion, field string, desc bool) bool {
	c := compareField(a, b, field)
	if c == 0 {
		return a.ID < b.ID
	}
	if desc {
		return c > 0
	}
	return c < 0
}

func compareField(a, b domain.Promotion, field string) int {
	switch field {
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "startDate":
		return strings.Compare(a.StartDate, b.StartDate)
	case "endDate":
		return strings.Compare(endKey(a), endKey(b))
	case "country":
		return strings.Compare(a.Country, b.Country)
	case "slug":
		return strings.Compare(a.Slug, b.Slug)
	default:
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}
}

func endKey(p domain.Promotion) string {
	if p.EndDate == "" {
		return openEnded
	}
	return p.EndDate
}
