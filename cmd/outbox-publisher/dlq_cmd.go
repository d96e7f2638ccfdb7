package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	"github.com/angelmondragon/mala-backend/pkg/logger"
)

type dlqAdmin interface {
	List(ctx context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
}

type dlqLine struct {
	ID           uuid.UUID                  `json:"id"`
	EventID      uuid.UUID                  `json:"event_id"`
	EventType    enums.OutboxEventType      `json:"event_type"`
	OrderID      uuid.UUID                  `json:"order_id"`
	Reason       enums.OutboxDLQErrorReason `json:"reason"`
	Error        string                     `json:"error,omitempty"`
	AttemptCount int                        `json:"attempt_count"`
	FailedAt     string                     `json:"failed_at"`
}

// runDLQCommand handles the operator subcommands:
//
//	outbox-publisher dlq [-reason max_attempts] [-limit 50]
//	outbox-publisher requeue <dlq-id>...
func runDLQCommand(ctx context.Context, logg *logger.Logger, repo dlqAdmin, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("missing subcommand")
	}
	switch args[0] {
	case "dlq":
		fs := flag.NewFlagSet("dlq", flag.ContinueOnError)
		reason := fs.String("reason", "", "only entries with this error reason")
		limit := fs.Int("limit", 50, "maximum entries to print")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		var filter enums.OutboxDLQErrorReason
		if *reason != "" {
			parsed, err := enums.ParseOutboxDLQErrorReason(*reason)
			if err != nil {
				return err
			}
			filter = parsed
		}
		rows, err := repo.List(ctx, filter, *limit)
		if err != nil {
			return fmt.Errorf("list dlq: %w", err)
		}
		enc := json.NewEncoder(out)
		for _, row := range rows {
			line := dlqLine{
				ID:           row.ID,
				EventID:      row.EventID,
				EventType:    row.EventType,
				OrderID:      row.AggregateID,
				Reason:       row.ErrorReason,
				AttemptCount: row.AttemptCount,
				FailedAt:     row.FailedAt.UTC().Format("2006-01-02T15:04:05Z"),
			}
			if row.ErrorMessage != nil {
				line.Error = *row.ErrorMessage
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
		return nil
	case "requeue":
		if len(args) < 2 {
			return errors.New("requeue needs at least one dlq id")
		}
		for _, raw := range args[1:] {
			id, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("dlq id %q: %w", raw, err)
			}
			eventID, err := repo.Requeue(ctx, id)
			if err != nil {
				return fmt.Errorf("requeue %s: %w", id, err)
			}
			logg.Info(logg.WithFields(ctx, map[string]any{"dlq_id": id.String(), "event_id": eventID.String()}), "dead letter requeued")
		}
		return nil
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}
