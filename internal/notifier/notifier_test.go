package notifier

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	sent []*messaging.Message
	err  error
}

func (f *fakeMessenger) Send(ctx context.Context, m *messaging.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, m)
	return "projects/test/messages/1", nil
}

func TestFCMNotifier_BuildsMessage(t *testing.T) {
	fake := &fakeMessenger{}
	n := &FCMNotifier{client: fake}

	err := n.Send(context.Background(), Message{
		SubjectID: "u1",
		Token:     "tok",
		Title:     "Emergency Nearby!",
		Body:      "Emergency reported 1.2km from your location",
		Data:      map[string]string{"emergency_id": "r1"},
	})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)

	m := fake.sent[0]
	assert.Equal(t, "tok", m.Token)
	assert.Equal(t, "Emergency Nearby!", m.Notification.Title)
	assert.Equal(t, "Emergency reported 1.2km from your location", m.Notification.Body)
	assert.Equal(t, "r1", m.Data["emergency_id"])
}

func TestFCMNotifier_TransientFailure(t *testing.T) {
	n := &FCMNotifier{client: &fakeMessenger{err: errors.New("connection reset")}}

	err := n.Send(context.Background(), Message{Token: "tok"})

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.False(t, de.Permanent)
	assert.Contains(t, de.Error(), "connection reset")
}

func TestNewFCMNotifier_RequiresCredentials(t *testing.T) {
	_, err := NewFCMNotifier(context.Background(), "", "")
	assert.Error(t, err)

	_, err = NewFCMNotifier(context.Background(), "", "%%%not-base64")
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(nil)
	assert.NoError(t, n.Send(context.Background(), Message{SubjectID: "u1", Title: "t"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, n.Send(ctx, Message{}))
}
