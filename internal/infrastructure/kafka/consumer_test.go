package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository/memory"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []models.Notification
	err  error
}

func (s *recordingSender) Send(_ context.Context, n models.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func message(t *testing.T, n models.Notification) kafka.Message {
	t.Helper()
	value, err := json.Marshal(n)
	require.NoError(t, err)
	return kafka.Message{Topic: "notifications", Value: value}
}

func TestConsumer_Handle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	stored := &models.Notification{UserID: 7, Subject: "Outbid", Message: "You were outbid"}
	require.NoError(t, store.Notifications().Create(ctx, stored))

	t.Run("DispatchesAndMarks", func(t *testing.T) {
		sender := &recordingSender{}
		c := &Consumer{sender: sender, notifications: store.Notifications()}

		require.NoError(t, c.handle(ctx, message(t, *stored)))
		require.Len(t, sender.sent, 1)
		assert.Equal(t, "Outbid", sender.sent[0].Subject)

		recorded := store.RecordedNotifications()
		require.Len(t, recorded, 1)
		assert.True(t, recorded[0].Dispatched)
	})

	t.Run("SkipsAlreadyDispatched", func(t *testing.T) {
		sender := &recordingSender{}
		c := &Consumer{sender: sender, notifications: store.Notifications()}

		n := *stored
		n.Dispatched = true
		require.NoError(t, c.handle(ctx, message(t, n)))
		assert.Empty(t, sender.sent)
	})

	t.Run("Malformed", func(t *testing.T) {
		c := &Consumer{sender: &recordingSender{}, notifications: store.Notifications()}

		err := c.handle(ctx, kafka.Message{Value: []byte("{not json")})
		assert.ErrorIs(t, err, errMalformedNotification)

		err = c.handle(ctx, message(t, models.Notification{Subject: "no ids"}))
		assert.ErrorIs(t, err, errMalformedNotification)
	})

	t.Run("SenderFailureKeepsPending", func(t *testing.T) {
		other := &models.Notification{UserID: 8, Subject: "Won", Message: "You won"}
		require.NoError(t, store.Notifications().Create(ctx, other))

		boom := errors.New("smtp down")
		c := &Consumer{sender: &recordingSender{err: boom}, notifications: store.Notifications()}

		assert.ErrorIs(t, c.handle(ctx, message(t, *other)), boom)
		for _, n := range store.RecordedNotifications() {
			if n.ID == other.ID {
				assert.False(t, n.Dispatched)
			}
		}
	})
}
