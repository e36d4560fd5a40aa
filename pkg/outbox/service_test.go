package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/db/dbtest"
	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
)

func TestEmitStoresEnvelopeInsideTransaction(t *testing.T) {
	client := dbtest.Client(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	orderID := uuid.New()
	userID := uuid.New()

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{UserID: userID, Role: string(enums.UserRoleCustomer)},
			Data:          map[string]any{"order_id": orderID.String()},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, client.DB().Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventOrderCreated, rows[0].EventType)
	assert.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, userID, envelope.Actor.UserID)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	client := dbtest.Client(t)
	svc := NewService(NewRepository(client.DB()), nil)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPaymentCompleted,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   uuid.New(),
			Data:          map[string]string{"status": "completed"},
		}); err != nil {
			return err
		}
		return errors.New("order update failed")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRequiresTransactionAndKnownType(t *testing.T) {
	client := dbtest.Client(t)
	svc := NewService(NewRepository(client.DB()), nil)

	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderCreated}))
	require.Error(t, svc.Emit(context.Background(), client.DB(), DomainEvent{EventType: "bogus"}))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client := dbtest.Client(t)
	repo := NewRepository(client.DB())
	dlq := NewDLQRepository(client.DB())

	first := models.OutboxEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
	}
	second := first
	second.AggregateID = uuid.New()
	require.NoError(t, repo.Insert(client.DB(), first))
	require.NoError(t, repo.Insert(client.DB(), second))

	var fetched []models.OutboxEvent
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		fetched, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, fetched, 2)

	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, fetched[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, fetched[1].ID, errors.New("pubsub unavailable")); err != nil {
			return err
		}
		return nil
	}))

	var failed models.OutboxEvent
	require.NoError(t, client.DB().First(&failed, "id = ?", fetched[1].ID).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "pubsub unavailable", *failed.LastError)

	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		msg := "max publish attempts reached"
		if err := dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       failed.ID,
			EventType:     failed.EventType,
			AggregateType: failed.AggregateType,
			AggregateID:   failed.AggregateID,
			Payload:       failed.Payload,
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage:  &msg,
			AttemptCount:  failed.AttemptCount,
			FailedAt:      time.Now().UTC(),
		}); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, failed.ID, errors.New(msg), 3)
	}))

	var remaining []models.OutboxEvent
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		remaining, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	assert.Empty(t, remaining)

	entries, err := dlq.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, failed.ID, entries[0].EventID)
}
