package checklist

import (
	"strings"
	"time"

	"coachcall-server/pkg/errors"
)

// Category classifies a checklist item by the part of the sale it covers
type Category string

const (
	CategoryRequirements   Category = "requirements"
	CategorySiteConditions Category = "site_conditions"
	CategoryTimeline       Category = "timeline"
	CategoryBudget         Category = "budget"
	CategoryOther          Category = "other"
)

// ValidCategories lists all accepted categories
var ValidCategories = []Category{
	CategoryRequirements,
	CategorySiteConditions,
	CategoryTimeline,
	CategoryBudget,
	CategoryOther,
}

// IsValid reports whether the category is one of the known values
func (c Category) IsValid() bool {
	for _, valid := range ValidCategories {
		if c == valid {
			return true
		}
	}
	return false
}

// Item represents a coachable conversation topic staff should cover during a
// sales call. Keywords are stored lowercased and are matched against
// transcript text by the coverage matcher.
type Item struct {
	ID                string    `json:"id" db:"id"`
	Question          string    `json:"question" db:"question"`
	Description       string    `json:"description,omitempty" db:"description"`
	Category          Category  `json:"category" db:"category"`
	Keywords          []string  `json:"keywords" db:"keywords"`
	SuggestedResponse string    `json:"suggested_response,omitempty" db:"suggested_response"`
	IsRequired        bool      `json:"is_required" db:"is_required"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	DisplayOrder      int       `json:"display_order" db:"display_order"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the item
func (i *Item) Clone() *Item {
	clone := *i
	clone.Keywords = make([]string, len(i.Keywords))
	copy(clone.Keywords, i.Keywords)
	return &clone
}

// Validate checks the item for configuration errors. Keywords are normalized
// in place (trimmed and lowercased); duplicates and empty questions are
// rejected here so they never reach call time.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.Question) == "" {
		return errors.NewInvalidChecklist("question must not be empty")
	}

	if i.Category == "" {
		i.Category = CategoryOther
	}
	if !i.Category.IsValid() {
		return errors.NewInvalidChecklist("unknown category",
			map[string]interface{}{"category": string(i.Category)})
	}

	normalized := make([]string, 0, len(i.Keywords))
	seen := make(map[string]bool, len(i.Keywords))
	for _, keyword := range i.Keywords {
		kw := strings.ToLower(strings.TrimSpace(keyword))
		if kw == "" {
			return errors.NewInvalidChecklist("keyword must not be empty")
		}
		if seen[kw] {
			return errors.NewInvalidChecklist("duplicate keyword",
				map[string]interface{}{"keyword": kw})
		}
		seen[kw] = true
		normalized = append(normalized, kw)
	}
	i.Keywords = normalized

	return nil
}
