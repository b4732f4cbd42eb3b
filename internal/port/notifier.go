package port

import "context"

// Notifier delivers customer/staff notifications outside any transaction.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Notification struct {
	Kind      string            `json:"kind"`
	Recipient string            `json:"recipient,omitempty"`
	Subject   string            `json:"subject"`
	EntityID  string            `json:"entityId"`
	Data      map[string]string `json:"data,omitempty"`
}
