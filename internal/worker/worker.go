package worker

import (
	"context"
	"log"

	"entitlement-service/internal/broker"
	"entitlement-service/internal/models"
	"entitlement-service/internal/service"
	"entitlement-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Stream is the transaction event source. Committing a message is the
// acknowledgment; a handler error leaves it uncommitted for redelivery.
type Stream interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// EventLedger deduplicates redelivered events and records observed
// transactions.
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	RecordTransaction(ctx context.Context, tx *models.Transaction) error
}

// TransactionWorker is the long-lived listener on the platform's
// transaction lifecycle stream: the only path by which entitlements
// change without a direct user action. Started once at subsystem init,
// cancelled exactly once at teardown, and tolerant of indefinite idle.
type TransactionWorker struct {
	stream       Stream
	verifier     service.Verifier
	entitlements *service.EntitlementStore
	client       service.StoreClient
	ledger       EventLedger
	logger       *zap.Logger
}

// NewTransactionWorker creates a new transaction worker
func NewTransactionWorker(
	stream Stream,
	verifier service.Verifier,
	entitlements *service.EntitlementStore,
	client service.StoreClient,
	ledger EventLedger,
) *TransactionWorker {
	return &TransactionWorker{
		stream:       stream,
		verifier:     verifier,
		entitlements: entitlements,
		client:       client,
		ledger:       ledger,
		logger:       util.GetLogger(),
	}
}

// Start consumes the stream until the context is cancelled. A handling
// error leaves the message uncommitted. Kafka only redelivers it until
// the next successful commit on the partition advances past it, so the
// real safety net is the processed-events ledger plus the fact that
// grants only ever come from a full ledger replay.
func (w *TransactionWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting transaction worker")
	return w.stream.StartConsuming(ctx, w.handle)
}

// Stop closes the underlying stream
func (w *TransactionWorker) Stop() error {
	log.Println("Stopping transaction worker...")
	return w.stream.Close()
}

// handle processes one stream message. Returning nil acknowledges it.
func (w *TransactionWorker) handle(ctx context.Context, msg kafka.Message) error {
	event, err := broker.DecodeTransactionEvent(msg)
	if err != nil {
		// Malformed payloads are acknowledged: redelivery cannot fix them.
		w.logger.Error("Dropping malformed transaction event", zap.Error(err))
		return nil
	}
	if event == nil {
		return nil
	}

	util.TransactionEventsTotal.WithLabelValues(event.EventType).Inc()

	processed, err := w.ledger.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Debug("Transaction event already processed",
			zap.String("event_id", event.EventID))
		return nil
	}

	tx, err := w.verifier.Verify(ctx, event.Entry.Signed)
	if err != nil {
		// Not committed; the broker may still redeliver it, though a
		// later commit on the partition ends that. Grants come only from
		// ledger replays, so a lost redelivery never corrupts state.
		util.VerificationFailuresTotal.Inc()
		w.logger.Warn("Transaction event failed verification, not committing",
			zap.String("event_id", event.EventID),
			zap.String("transaction_id", event.Entry.Signed.TransactionID),
			zap.Error(err))
		return err
	}

	if err := w.ledger.RecordTransaction(ctx, tx); err != nil {
		w.logger.Error("Failed to record observed transaction",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}

	if err := w.entitlements.Refresh(ctx); err != nil {
		// Without a committed replay the event is not acknowledged; a
		// redelivery or any later replay reconciles it.
		return err
	}

	if err := w.client.FinishTransaction(ctx, tx.ID); err != nil {
		w.logger.Error("Failed to finalize transaction with platform",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}

	if err := w.ledger.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}

	w.logger.Info("Transaction event reconciled",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("transaction_id", tx.ID))
	return nil
}
