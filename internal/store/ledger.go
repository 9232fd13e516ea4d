package store

import (
	"context"
	"database/sql"
	"fmt"

	"entitlement-service/internal/models"
)

// RecordTransaction appends a verified transaction to the audit ledger.
// Transactions are facts: re-observing one is a no-op, and a later
// observation carrying a revocation timestamp fills it in without touching
// the original purchase fields.
func (s *Store) RecordTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (transaction_id, original_transaction_id, product_id, purchased_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (transaction_id)
		DO UPDATE SET revoked_at = EXCLUDED.revoked_at
		WHERE transactions.revoked_at IS NULL`

	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.OriginalID, tx.ProductID, tx.PurchaseDate, tx.RevocationDate)
	if err != nil {
		return fmt.Errorf("failed to record transaction %s: %w", tx.ID, err)
	}
	return nil
}

// GetTransactionByID retrieves one observed transaction
func (s *Store) GetTransactionByID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.GetContext(ctx, &tx,
		"SELECT transaction_id, original_transaction_id, product_id, purchased_at, revoked_at FROM transactions WHERE transaction_id = $1",
		transactionID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction not found: %s", transactionID)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListTransactionsByProduct retrieves observed transactions for a product,
// most recent first
func (s *Store) ListTransactionsByProduct(ctx context.Context, productID string) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.SelectContext(ctx, &txs,
		"SELECT transaction_id, original_transaction_id, product_id, purchased_at, revoked_at FROM transactions WHERE product_id = $1 ORDER BY purchased_at DESC",
		productID)
	return txs, err
}

// IsEventProcessed checks if a stream event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks a stream event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
