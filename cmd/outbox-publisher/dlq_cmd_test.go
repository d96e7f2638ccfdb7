package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	"github.com/angelmondragon/mala-backend/pkg/logger"
)

type fakeDLQAdmin struct {
	rows      []models.OutboxDLQ
	gotReason enums.OutboxDLQErrorReason
	gotLimit  int
	requeued  []uuid.UUID
}

func (f *fakeDLQAdmin) List(_ context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error) {
	f.gotReason, f.gotLimit = reason, limit
	return f.rows, nil
}

func (f *fakeDLQAdmin) Requeue(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	f.requeued = append(f.requeued, id)
	return uuid.New(), nil
}

func dlqTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard})
}

func TestRunDLQCommandListsAsJSONLines(t *testing.T) {
	msg := "kafka: leader not available"
	row := models.OutboxDLQ{
		ID:           uuid.New(),
		EventID:      uuid.New(),
		EventType:    enums.EventOrderPaid,
		AggregateID:  uuid.New(),
		ErrorReason:  enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage: &msg,
		AttemptCount: 10,
		FailedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	repo := &fakeDLQAdmin{rows: []models.OutboxDLQ{row}}
	var out bytes.Buffer

	err := runDLQCommand(context.Background(), dlqTestLogger(), repo, &out, []string{"dlq", "-reason", "max_attempts", "-limit", "5"})
	require.NoError(t, err)
	require.Equal(t, enums.OutboxDLQReasonMaxAttempts, repo.gotReason)
	require.Equal(t, 5, repo.gotLimit)

	var line dlqLine
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	require.Equal(t, row.EventID, line.EventID)
	require.Equal(t, row.AggregateID, line.OrderID)
	require.Equal(t, msg, line.Error)
	require.Equal(t, "2026-03-01T12:00:00Z", line.FailedAt)
}

func TestRunDLQCommandRejectsUnknownReason(t *testing.T) {
	err := runDLQCommand(context.Background(), dlqTestLogger(), &fakeDLQAdmin{}, io.Discard, []string{"dlq", "-reason", "gremlins"})
	require.Error(t, err)
}

func TestRunDLQCommandRequeuesEachID(t *testing.T) {
	repo := &fakeDLQAdmin{}
	first, second := uuid.New(), uuid.New()

	err := runDLQCommand(context.Background(), dlqTestLogger(), repo, io.Discard, []string{"requeue", first.String(), second.String()})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{first, second}, repo.requeued)

	require.Error(t, runDLQCommand(context.Background(), dlqTestLogger(), repo, io.Discard, []string{"requeue", "not-a-uuid"}))
	require.Error(t, runDLQCommand(context.Background(), dlqTestLogger(), repo, io.Discard, []string{"requeue"}))
	require.Error(t, runDLQCommand(context.Background(), dlqTestLogger(), repo, io.Discard, []string{"replay"}))
}
