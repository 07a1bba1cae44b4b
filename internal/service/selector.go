package service

import (
	"sort"
	"time"

	"github.com/set-night/dealhunter/internal/domain"
)

const DefaultCooldown = 24 * time.Hour

// Selector orders scored listings and picks a bounded top-N, skipping
// listings still inside their cool-down window.
type Selector struct {
	Cooldown time.Duration
	// Boost is an optional additive priority modifier applied on top of the
	// value score for ordering only. Nil means rank by value score alone.
	Boost func(domain.Listing) int
}

func NewSelector(cooldown time.Duration) *Selector {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Selector{Cooldown: cooldown}
}

// Select returns at most n listings. distributed maps listing ids to their
// last distribution time.
func (s *Selector) Select(listings []domain.Listing, n int, distributed map[string]time.Time, now time.Time) []domain.Listing {
	if n <= 0 || len(listings) == 0 {
		return []domain.Listing{}
	}

	eligible := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if s.coolingDown(l.ID, distributed, now) {
			continue
		}
		eligible = append(eligible, l)
	}

	s.Sort(eligible)

	out := make([]domain.Listing, 0, min(n, len(eligible)))
	seen := make(map[string]struct{}, len(eligible))
	for _, l := range eligible {
		if len(out) == n {
			break
		}
		// the same id can arrive twice from overlapping snapshots; keep the best-ranked copy
		if _, dup := seen[l.ID]; dup {
			continue
		}
		seen[l.ID] = struct{}{}
		out = append(out, l)
	}
	return out
}

// Sort orders listings in place: priority desc, discount desc, reviews desc, id asc.
func (s *Selector) Sort(listings []domain.Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		return s.less(listings[i], listings[j])
	})
}

func (s *Selector) less(a, b domain.Listing) bool {
	if pa, pb := s.priority(a), s.priority(b); pa != pb {
		return pa > pb
	}
	if a.DiscountPercent != b.DiscountPercent {
		return a.DiscountPercent > b.DiscountPercent
	}
	if a.ReviewCount != b.ReviewCount {
		return a.ReviewCount > b.ReviewCount
	}
	return a.ID < b.ID
}

func (s *Selector) priority(l domain.Listing) int {
	if s.Boost == nil {
		return l.ValueScore
	}
	return l.ValueScore + s.Boost(l)
}

func (s *Selector) coolingDown(id string, distributed map[string]time.Time, now time.Time) bool {
	at, ok := distributed[id]
	if !ok {
		return false
	}
	return now.Sub(at) < s.Cooldown
}

// DiscountBoost is the channel-posting bonus: +20 above 50%, +10 above 40%,
// +5 above 30%. It double-counts the discount tier, so it stays opt-in.
func DiscountBoost(l domain.Listing) int {
	switch d := l.DiscountPercent; {
	case d > 50:
		return 20
	case d > 40:
		return 10
	case d > 30:
		return 5
	default:
		return 0
	}
}
