package notifier

import (
	"context"
	"encoding/base64"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"
)

type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier sends through Firebase Cloud Messaging.
type FCMNotifier struct {
	client messenger
}

// NewFCMNotifier builds a messaging client from a service account file, or
// from base64-encoded service account JSON when no file is given.
func NewFCMNotifier(ctx context.Context, credentialsFile, credentialsB64 string) (*FCMNotifier, error) {
	var opt option.ClientOption
	switch {
	case credentialsFile != "":
		opt = option.WithCredentialsFile(credentialsFile)
	case credentialsB64 != "":
		creds, err := base64.StdEncoding.DecodeString(credentialsB64)
		if err != nil {
			return nil, fmt.Errorf("decoding fcm credentials: %w", err)
		}
		opt = option.WithCredentialsJSON(creds)
	default:
		return nil, fmt.Errorf("fcm credentials are not configured")
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting messaging client: %w", err)
	}
	return &FCMNotifier{client: client}, nil
}

func (n *FCMNotifier) Send(ctx context.Context, msg Message) error {
	_, err := n.client.Send(ctx, &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) *DeliveryError {
	switch {
	case messaging.IsRegistrationTokenNotRegistered(err):
		return &DeliveryError{Reason: "token not registered", Permanent: true, Err: err}
	case messaging.IsInvalidArgument(err):
		return &DeliveryError{Reason: "invalid message", Permanent: true, Err: err}
	default:
		return &DeliveryError{Reason: "send failed", Err: err}
	}
}
