package service

import (
	"context"
	"errors"
	"fmt"

	"entitlement-service/internal/models"
	"entitlement-service/internal/util"

	"go.uber.org/zap"
)

// RestoreService forces a full re-derivation of the entitlement store
// from the platform's historical transaction ledger. Used when local
// state is believed stale (reinstall, new device).
type RestoreService struct {
	client       StoreClient
	verifier     Verifier
	entitlements *EntitlementStore
	recorder     TransactionRecorder
	logger       *zap.Logger
}

// NewRestoreService creates a new restore service
func NewRestoreService(
	client StoreClient,
	verifier Verifier,
	entitlements *EntitlementStore,
	recorder TransactionRecorder,
) *RestoreService {
	return &RestoreService{
		client:       client,
		verifier:     verifier,
		entitlements: entitlements,
		recorder:     recorder,
		logger:       util.GetLogger(),
	}
}

// Restore replays the full historical ledger, verifies each transaction,
// performs a full entitlement refresh and returns the identifiers now
// considered owned. An empty result is success, not an error.
func (rs *RestoreService) Restore(ctx context.Context) ([]string, error) {
	ctx, span := util.StartSpan(ctx, "RestoreService.Restore")
	defer span.End()

	util.RestoreAttemptsTotal.Inc()

	history, err := rs.client.TransactionHistory(ctx)
	if err != nil {
		util.RestoreFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrRestoreFailed, err)
	}

	// Replay history into the audit ledger. Unverifiable entries are
	// dropped here exactly as during a refresh; they never block the
	// entries that do verify.
	for _, entry := range history {
		tx, err := rs.verifier.Verify(ctx, entry.Signed)
		if err != nil {
			if !errors.Is(err, models.ErrVerificationFailed) {
				err = fmt.Errorf("%w: %v", models.ErrVerificationFailed, err)
			}
			util.VerificationFailuresTotal.Inc()
			rs.logger.Warn("Dropping unverifiable historical transaction",
				zap.String("transaction_id", entry.Signed.TransactionID),
				zap.Error(err))
			continue
		}

		if rs.recorder != nil {
			if err := rs.recorder.RecordTransaction(ctx, tx); err != nil {
				rs.logger.Error("Failed to record historical transaction",
					zap.String("transaction_id", tx.ID),
					zap.Error(err))
			}
		}
	}

	if err := rs.entitlements.Refresh(ctx); err != nil {
		util.RestoreFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrRestoreFailed, err)
	}

	owned := rs.entitlements.OwnedIDs()
	rs.logger.Info("Restore completed", zap.Int("owned", len(owned)))
	return owned, nil
}
