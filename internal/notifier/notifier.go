package notifier

import (
	"context"
	"fmt"
)

// Message is one push to one device token.
type Message struct {
	SubjectID string
	Token     string
	Title     string
	Body      string
	Data      map[string]string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryError is a failed send. Permanent failures (unregistered or
// malformed tokens) are never retried.
type DeliveryError struct {
	Reason    string
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DeliveryError) Unwrap() error { return e.Err }

const (
	BackendLog = "log"
	BackendFCM = "fcm"
)
