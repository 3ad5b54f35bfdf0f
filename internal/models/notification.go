package models

import "time"

type NotificationCategory string

const (
	CategoryEmergencyAlert NotificationCategory = "EMERGENCY_ALERT"
	CategoryStatusUpdate   NotificationCategory = "STATUS_UPDATE"
)

type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "PENDING"
	NotificationDelivered  NotificationStatus = "DELIVERED"
	NotificationPartial    NotificationStatus = "PARTIAL"
	NotificationFailed     NotificationStatus = "FAILED"
	NotificationNoChannels NotificationStatus = "NO_CHANNELS"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	// DeliverySending marks a delivery claimed by a dispatcher that is
	// pushing it right now.
	DeliverySending   DeliveryStatus = "SENDING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// Delivery is the outcome of one notification on one channel.
type Delivery struct {
	ID             string         `json:"id"`
	NotificationID string         `json:"notification_id"`
	ChannelID      string         `json:"channel_id"`
	Token          string         `json:"-"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	Permanent      bool           `json:"permanent"`
	LastError      string         `json:"last_error,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Retryable reports whether another send attempt may succeed.
func (d Delivery) Retryable(maxAttempts int) bool {
	if d.Status == DeliveryDelivered || d.Permanent {
		return false
	}
	return maxAttempts <= 0 || d.Attempts < maxAttempts
}

type Notification struct {
	ID          string               `json:"id"`
	RecipientID string               `json:"recipient_id"`
	ReportID    string               `json:"report_id,omitempty"`
	EventKey    string               `json:"event_key"`
	Category    NotificationCategory `json:"category"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	PushBody    string               `json:"-"`
	Data        map[string]string    `json:"data,omitempty"`
	Status      NotificationStatus   `json:"status"`
	Deliveries  []Delivery           `json:"deliveries"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// AggregateStatus derives the notification status from its deliveries.
// One successful channel is enough to keep it from being FAILED.
func AggregateStatus(deliveries []Delivery) NotificationStatus {
	if len(deliveries) == 0 {
		return NotificationNoChannels
	}
	var delivered, failed int
	for _, d := range deliveries {
		switch d.Status {
		case DeliveryDelivered:
			delivered++
		case DeliveryFailed:
			failed++
		}
	}
	switch {
	case delivered == len(deliveries):
		return NotificationDelivered
	case delivered > 0:
		return NotificationPartial
	case failed == len(deliveries):
		return NotificationFailed
	default:
		return NotificationPending
	}
}
