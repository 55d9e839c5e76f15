package policy

import (
	"fmt"
	"strings"

	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/castmedia/castmedia_server/internal/storage"
)

const megabyte = 1 << 20

type Limit struct {
	MaxCount int   `mapstructure:"max_count"`
	MaxMB    int64 `mapstructure:"max_mb"`
}

type QuotaConfig struct {
	Images                 Limit            `mapstructure:"images"`
	Media                  Limit            `mapstructure:"media"`
	Documents              Limit            `mapstructure:"documents"`
	Fallback               Limit            `mapstructure:"fallback"`
	Categories             map[string]Limit `mapstructure:"categories"`
	DisableImageCountCheck bool             `mapstructure:"disable_image_count_check"`
}

var defaultLimits = map[Class]Limit{
	ClassImage:    {MaxCount: 20, MaxMB: 25},
	ClassMedia:    {MaxCount: 20, MaxMB: 500},
	ClassDocument: {MaxCount: 20, MaxMB: 20},
	ClassOther:    {MaxCount: 20, MaxMB: 50},
}

// Usage is the quota state of one owner and category.
type Usage struct {
	Category     Category `json:"category"`
	CurrentCount int      `json:"currentCount"`
	MaxCount     int      `json:"maxCount"`
	MaxBytes     int64    `json:"maxBytes"`
	Remaining    int      `json:"remaining"`
}

type Quotas struct {
	config QuotaConfig
}

func NewQuotas(config QuotaConfig) *Quotas {
	return &Quotas{config: config}
}

func (q *Quotas) MaxCount(category Category) int {
	return q.limit(category).MaxCount
}

func (q *Quotas) MaxBytes(category Category) int64 {
	return q.limit(category).MaxMB * megabyte
}

// limit resolves category override, then class override, then the
// compiled-in default, field by field.
func (q *Quotas) limit(category Category) Limit {
	limit := defaultLimits[category.Class()]
	var classLimit Limit
	switch category.Class() {
	case ClassImage:
		classLimit = q.config.Images
	case ClassMedia:
		classLimit = q.config.Media
	case ClassDocument:
		classLimit = q.config.Documents
	default:
		classLimit = q.config.Fallback
	}
	limit = overlay(limit, classLimit)
	if override, ok := q.config.Categories[string(category)]; ok {
		limit = overlay(limit, override)
	}
	return limit
}

func overlay(base, override Limit) Limit {
	if override.MaxCount > 0 {
		base.MaxCount = override.MaxCount
	}
	if override.MaxMB > 0 {
		base.MaxMB = override.MaxMB
	}
	return base
}

// Count returns how many of existing count against the category quota.
// Image categories only count public files, so private staging copies of a
// headshot do not use up public gallery slots.
func (q *Quotas) Count(category Category, existing []storage.FileRecord) int {
	count := 0
	for _, f := range existing {
		if category.IsImage() && !f.IsPublic {
			continue
		}
		count++
	}
	return count
}

func (q *Quotas) Usage(category Category, existing []storage.FileRecord) Usage {
	current := q.Count(category, existing)
	maxCount := q.MaxCount(category)
	remaining := maxCount - current
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		Category:     category,
		CurrentCount: current,
		MaxCount:     maxCount,
		MaxBytes:     q.MaxBytes(category),
		Remaining:    remaining,
	}
}

// CheckSize rejects a file larger than the category allows.
func (q *Quotas) CheckSize(category Category, size int64) error {
	maxBytes := q.MaxBytes(category)
	if size > maxBytes {
		return apperr.New(apperr.KindFileTooLarge, fmt.Sprintf(
			"file is %.1f MB, the limit for %s uploads is %d MB",
			float64(size)/megabyte, category, maxBytes/megabyte))
	}
	return nil
}

// Check runs the size and count rules against an already filtered listing.
func (q *Quotas) Check(category Category, size int64, existing []storage.FileRecord) error {
	if err := q.CheckSize(category, size); err != nil {
		return err
	}
	if category.IsImage() && q.config.DisableImageCountCheck {
		return nil
	}
	usage := q.Usage(category, existing)
	if usage.CurrentCount >= usage.MaxCount {
		return apperr.New(apperr.KindQuotaExceeded, fmt.Sprintf(
			"%s limit reached: %d of %d files used, %d remaining. Delete a file before uploading another",
			category, usage.CurrentCount, usage.MaxCount, usage.Remaining))
	}
	return nil
}

// MatchesCategory reports whether a listed file belongs to category. Stored
// metadata wins; the folder name is only consulted when metadata is missing.
func MatchesCategory(f storage.FileRecord, category Category) bool {
	if f.Category != "" {
		return ParseCategory(f.Category) == category
	}
	return pathMatchesCategory(f.Path, category)
}

// pathMatchesCategory covers files uploaded before category metadata was
// written. Remove once every object carries a category.
func pathMatchesCategory(filePath string, category Category) bool {
	for _, segment := range strings.Split(strings.ToLower(filePath), "/") {
		if segment == category.Folder() {
			return true
		}
	}
	return false
}

func FilterCategory(files []storage.FileRecord, category Category) []storage.FileRecord {
	var out []storage.FileRecord
	for _, f := range files {
		if MatchesCategory(f, category) {
			out = append(out, f)
		}
	}
	return out
}
