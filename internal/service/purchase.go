package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"entitlement-service/internal/models"
	"entitlement-service/internal/util"

	"go.uber.org/zap"
)

// PurchaseService executes foreground purchase flows. Each attempt runs
// idle -> awaiting platform response -> exactly one terminal outcome, and
// at most one attempt may be in flight per product identifier.
type PurchaseService struct {
	catalog      *CatalogService
	client       StoreClient
	verifier     Verifier
	entitlements *EntitlementStore
	recorder     TransactionRecorder
	logger       *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(
	catalog *CatalogService,
	client StoreClient,
	verifier Verifier,
	entitlements *EntitlementStore,
	recorder TransactionRecorder,
) *PurchaseService {
	return &PurchaseService{
		catalog:      catalog,
		client:       client,
		verifier:     verifier,
		entitlements: entitlements,
		recorder:     recorder,
		logger:       util.GetLogger(),
		inflight:     make(map[string]struct{}),
	}
}

// Purchase submits a purchase for one catalog item and reports the
// terminal outcome. The trust boundary is the verifier: a platform
// success whose transaction does not verify surfaces as a purchase
// failure, never as a grant. On success the transaction is finalized and
// the entitlement store refreshed before the result is returned, so
// ownership queries already reflect it.
func (ps *PurchaseService) Purchase(ctx context.Context, productID string) (*models.PurchaseAttempt, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.Purchase")
	defer span.End()

	if _, ok := ps.catalog.Product(productID); !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}

	if !ps.acquire(productID) {
		return nil, fmt.Errorf("%w: %s", models.ErrPurchaseInProgress, productID)
	}
	defer ps.release(productID)

	util.PurchaseAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PurchaseLatency.Observe(time.Since(start).Seconds())
	}()

	ps.logger.Info("Submitting purchase", zap.String("product_id", productID))

	outcome, err := ps.client.SubmitPurchase(ctx, productID)
	if err != nil {
		util.PurchaseOutcomesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrPurchaseFailed, err)
	}

	switch outcome.State {
	case models.PurchaseOutcomeSuccess:
		return ps.completeSuccess(ctx, productID, outcome.Signed)

	case models.PurchaseOutcomeCancelled:
		util.PurchaseOutcomesTotal.WithLabelValues("cancelled").Inc()
		ps.logger.Info("Purchase cancelled by user", zap.String("product_id", productID))
		return &models.PurchaseAttempt{
			ProductID: productID,
			State:     models.PurchaseStateCancelled,
		}, nil

	case models.PurchaseOutcomePending:
		util.PurchaseOutcomesTotal.WithLabelValues("pending").Inc()
		ps.logger.Info("Purchase pending approval", zap.String("product_id", productID))
		return &models.PurchaseAttempt{
			ProductID: productID,
			State:     models.PurchaseStatePending,
		}, nil
	}

	util.PurchaseOutcomesTotal.WithLabelValues("unknown").Inc()
	return nil, fmt.Errorf("%w: platform reported %q for %s",
		models.ErrUnknownPurchaseOutcome, outcome.State, productID)
}

// completeSuccess verifies, records, finalizes and reconciles a
// platform-reported success.
func (ps *PurchaseService) completeSuccess(ctx context.Context, productID string, signed *models.SignedTransaction) (*models.PurchaseAttempt, error) {
	if signed == nil {
		util.PurchaseOutcomesTotal.WithLabelValues("unknown").Inc()
		return nil, fmt.Errorf("%w: success without transaction for %s",
			models.ErrUnknownPurchaseOutcome, productID)
	}

	tx, err := ps.verifier.Verify(ctx, *signed)
	if err != nil {
		util.PurchaseOutcomesTotal.WithLabelValues("failed").Inc()
		util.VerificationFailuresTotal.Inc()
		ps.logger.Warn("Platform reported success but verification failed",
			zap.String("product_id", productID),
			zap.String("transaction_id", signed.TransactionID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrPurchaseFailed, err)
	}

	if ps.recorder != nil {
		if err := ps.recorder.RecordTransaction(ctx, tx); err != nil {
			ps.logger.Error("Failed to record purchase in audit ledger",
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
		}
	}

	if err := ps.client.FinishTransaction(ctx, tx.ID); err != nil {
		// The listener picks up the redelivery; the grant itself stands.
		ps.logger.Error("Failed to finalize transaction",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}

	if err := ps.entitlements.Refresh(ctx); err != nil {
		ps.logger.Error("Entitlement refresh after purchase failed",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}

	util.PurchaseOutcomesTotal.WithLabelValues("succeeded").Inc()
	ps.logger.Info("Purchase succeeded",
		zap.String("product_id", productID),
		zap.String("transaction_id", tx.ID))

	return &models.PurchaseAttempt{
		ProductID: productID,
		State:     models.PurchaseStateSucceeded,
		Result: &models.PurchaseResult{
			ProductID:     tx.ProductID,
			TransactionID: tx.ID,
			PurchaseDate:  tx.PurchaseDate,
			Success:       true,
		},
	}, nil
}

func (ps *PurchaseService) acquire(productID string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, busy := ps.inflight[productID]; busy {
		return false
	}
	ps.inflight[productID] = struct{}{}
	return true
}

func (ps *PurchaseService) release(productID string) {
	ps.mu.Lock()
	delete(ps.inflight, productID)
	ps.mu.Unlock()
}
