package service

import (
	"fmt"

	"github.com/set-night/dealhunter/internal/domain"
)

const (
	MaxValueScore = 100
	MaxReasons    = 3
)

const (
	ReasonMegaDiscount  = "mega-discount"
	ReasonHugeDiscount  = "huge discount 50%+"
	ReasonGoodDiscount  = "good discount 30%+"
	ReasonDiscount      = "discount 20%+"
	ReasonTopRating     = "top rating 4.8+"
	ReasonHighRating    = "high rating 4.5+"
	ReasonGoodRating    = "good rating 4.0+"
	ReasonReviews1000   = "1000+ reviews"
	ReasonReviews500    = "500+ reviews"
	ReasonReviews100    = "100+ reviews"
	savingsReasonFormat = "saves %s"
)

type tierStep struct {
	min    float64
	points int
	reason string
}

// Tiers are evaluated top-down; the first step whose threshold is reached wins.
var (
	discountTier = []tierStep{
		{70, 40, ReasonMegaDiscount},
		{50, 30, ReasonHugeDiscount},
		{30, 20, ReasonGoodDiscount},
		{20, 10, ReasonDiscount},
	}
	ratingTier = []tierStep{
		{4.8, 20, ReasonTopRating},
		{4.5, 15, ReasonHighRating},
		{4.0, 10, ReasonGoodRating},
	}
	reviewTier = []tierStep{
		{1000, 20, ReasonReviews1000},
		{500, 15, ReasonReviews500},
		{100, 10, ReasonReviews100},
	}
	savingsTier = []tierStep{
		{10000, 20, ""},
		{5000, 15, ""},
		{1000, 10, ""},
	}
)

func applyTier(tier []tierStep, value float64) (int, string) {
	for _, step := range tier {
		if value >= step.min {
			return step.points, step.reason
		}
	}
	return 0, ""
}

// Evaluate computes the value score and the ordered reasons without touching
// the listing.
func Evaluate(l domain.Listing) (int, []string) {
	score := 0
	reasons := make([]string, 0, 4)

	add := func(points int, reason string) {
		if points == 0 {
			return
		}
		score += points
		if reason != "" {
			reasons = append(reasons, reason)
		}
	}

	add(applyTier(discountTier, float64(l.DiscountPercent)))
	add(applyTier(ratingTier, l.Rating))
	add(applyTier(reviewTier, float64(l.ReviewCount)))

	savings := l.Savings()
	if points, _ := applyTier(savingsTier, float64(savings)); points > 0 {
		add(points, fmt.Sprintf(savingsReasonFormat, FormatPrice(savings)))
	}

	if score > MaxValueScore {
		score = MaxValueScore
	}
	if len(reasons) > MaxReasons {
		reasons = reasons[:MaxReasons]
	}
	return score, reasons
}

// Score writes the value score and reasons onto the listing.
func Score(l *domain.Listing) {
	l.ValueScore, l.ValueReasons = Evaluate(*l)
}

// ScoreAll scores listings in place.
func ScoreAll(listings []domain.Listing) {
	for i := range listings {
		Score(&listings[i])
	}
}

// FormatPrice groups thousands with spaces: 12000 -> "12 000".
func FormatPrice(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	digits := fmt.Sprintf("%d", v)
	out := make([]byte, 0, len(digits)+len(digits)/3)
	for i := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ' ')
		}
		out = append(out, digits[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
