package notification

import (
	"time"
)

// NotificationStatus represents notification delivery status
type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)

// Notification is one email to one recipient.
type Notification struct {
	ID       string             `json:"id"`
	Template TemplateName       `json:"template"`
	Status   NotificationStatus `json:"status"`

	RecipientID   string `json:"recipient_id,omitempty"`
	RecipientName string `json:"recipient_name,omitempty"`
	Email         string `json:"email"`

	Subject string `json:"subject"`
	Body    string `json:"body"`

	SentAt       *time.Time `json:"sent_at,omitempty"`
	RetryCount   int        `json:"retry_count"`
	LastRetryAt  *time.Time `json:"last_retry_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recipient identifies who receives a notification.
type Recipient struct {
	ID    string
	Name  string
	Email string
}

// NotificationStats counts delivery outcomes since start.
type NotificationStats struct {
	TotalSent      int64                  `json:"total_sent"`
	TotalDelivered int64                  `json:"total_delivered"`
	TotalFailed    int64                  `json:"total_failed"`
	ByTemplate     map[TemplateName]int64 `json:"by_template"`
	DeliveryRate   float64                `json:"delivery_rate"`
}
