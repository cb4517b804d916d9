package domain

import "context"

// Notification is a composed summary ready for delivery.
type Notification struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Items   int    `json:"items"`
}

// Destination addresses a notification. Sinks read the field they understand;
// the Kapso sink replies into ConversationID, chat sinks use their configured channel.
type Destination struct {
	ConversationID string
	UserRef        string
}

// Notifier delivers a notification to one external channel.
type Notifier interface {
	Notify(ctx context.Context, to Destination, n Notification) error
	Name() string
}
