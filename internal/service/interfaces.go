package service

import (
	"context"

	"entitlement-service/internal/models"
)

// StoreClient is the platform store API boundary: product lookup,
// purchase submission, ledger queries and transaction finalization.
// Implemented by appstore.Client in production and by fakes under test.
type StoreClient interface {
	FetchProducts(ctx context.Context, ids []string) ([]models.Product, error)
	SubmitPurchase(ctx context.Context, productID string) (*models.PurchaseOutcome, error)
	CurrentEntitlements(ctx context.Context) ([]models.LedgerEntry, error)
	TransactionHistory(ctx context.Context) ([]models.LedgerEntry, error)
	FinishTransaction(ctx context.Context, transactionID string) error
}

// Verifier is the authenticity gate for transaction envelopes. A non-nil
// error means the envelope is untrusted and must never grant an
// entitlement.
type Verifier interface {
	Verify(ctx context.Context, signed models.SignedTransaction) (*models.Transaction, error)
}

// CatalogCache holds the last successful catalog snapshot. Best-effort:
// cache failures never fail a catalog load.
type CatalogCache interface {
	PutCatalog(ctx context.Context, products []models.Product) error
	Catalog(ctx context.Context) ([]models.Product, error)
}

// TransactionRecorder appends verified transactions to the local audit
// ledger. Audit failures never block a purchase or restore flow.
type TransactionRecorder interface {
	RecordTransaction(ctx context.Context, tx *models.Transaction) error
}

// TelemetrySink receives one event per catalog/purchase/restore attempt
// and result. Emission is fire-and-forget.
type TelemetrySink interface {
	Emit(ctx context.Context, name string, params map[string]string)
}
