package history

import "time"

// Endpoints recorded in the delivery log.
const (
	EndpointWebhook     = "webhook"
	EndpointMarketplace = "marketplace"
)

// DeliveryRecord is the outcome of one webhook delivery. Payloads are never stored.
type DeliveryRecord struct {
	ID              int64     `json:"id"`
	Endpoint        string    `json:"endpoint"`
	DeliveryID      *string   `json:"delivery_id,omitempty"` // X-GitHub-Delivery, nullable
	Event           *string   `json:"event,omitempty"`       // X-GitHub-Event, nullable
	Status          int       `json:"status"`
	Outcome         string    `json:"outcome"` // verification outcome or "processed"
	Message         string    `json:"message"`
	ReceivedAt      time.Time `json:"received_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// StatusCount is the number of deliveries per endpoint and HTTP status.
type StatusCount struct {
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
	Count    int64  `json:"count"`
}
