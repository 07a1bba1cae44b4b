package domain

import "time"

// RawRecord is one untrusted record as produced by a listing source.
type RawRecord map[string]any

type Listing struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Price             int64      `json:"price"`
	OriginalPrice     int64      `json:"original_price"`
	DiscountPercent   int        `json:"discount_percent"`
	Rating            float64    `json:"rating"`
	ReviewCount       int        `json:"review_count"`
	Store             string     `json:"store"`
	Category          string     `json:"category"`
	URL               string     `json:"url"`
	ImageURL          string     `json:"image_url,omitempty"`
	Emoji             string     `json:"emoji,omitempty"`
	ValueScore        int        `json:"value_score"`
	ValueReasons      []string   `json:"value_reasons"`
	LastDistributedAt *time.Time `json:"last_distributed_at,omitempty"`
}

// Savings returns the absolute discount in currency units.
func (l *Listing) Savings() int64 {
	if l.OriginalPrice <= l.Price {
		return 0
	}
	return l.OriginalPrice - l.Price
}

func (l *Listing) HasImage() bool {
	return l.ImageURL != ""
}
