package domain

import "time"

type DistributionRecord struct {
	ListingID     string    `json:"listing_id"`
	DistributedAt time.Time `json:"distributed_at"`
}

// DeliveryStatus is the per-listing state inside one distribution batch.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySending   DeliveryStatus = "sending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

type DeliveryItem struct {
	ListingID   string
	Name        string
	Status      DeliveryStatus
	Error       string
	DeliveredAt time.Time
}

type DistributionReport struct {
	BatchID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Items      []DeliveryItem
	// Stopped is set when the batch was cancelled before every item was attempted.
	Stopped bool
}

func (r *DistributionReport) count(status DeliveryStatus) int {
	n := 0
	for _, it := range r.Items {
		if it.Status == status {
			n++
		}
	}
	return n
}

func (r *DistributionReport) Delivered() int { return r.count(DeliveryDelivered) }
func (r *DistributionReport) Failed() int    { return r.count(DeliveryFailed) }
func (r *DistributionReport) Pending() int   { return r.count(DeliveryPending) }

// Failures lists failed items with their error text.
func (r *DistributionReport) Failures() []DeliveryItem {
	var out []DeliveryItem
	for _, it := range r.Items {
		if it.Status == DeliveryFailed {
			out = append(out, it)
		}
	}
	return out
}

// ItemFailure attributes an ingestion failure to a source record.
type ItemFailure struct {
	Source string
	Ref    string
	Error  string
}

type SourceResult struct {
	Source  string
	Fetched int
	Saved   int
	Dropped int
	Error   string
}

type IngestReport struct {
	BatchID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceResult
	Failures   []ItemFailure
}

func (r *IngestReport) Saved() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Saved
	}
	return n
}
