package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"entitlement-service/config"
	"entitlement-service/internal/models"
	"entitlement-service/internal/util"

	"go.uber.org/zap"
)

// EntitlementStore is the single source of truth for what the user
// currently owns. The committed set is always a pure function of the most
// recently replayed platform ledger; it is never patched independently.
// All writers (listener, purchase initiator, restoration flow) go through
// Refresh.
type EntitlementStore struct {
	client   StoreClient
	verifier Verifier
	iap      config.IAPConfig
	logger   *zap.Logger

	// refreshMu serializes ledger replays; overlapping Refresh calls
	// collapse into sequential replays with last-writer-wins ordering.
	refreshMu sync.Mutex

	// mu guards the committed state. Readers never observe a
	// partially-applied replay.
	mu         sync.RWMutex
	owned      models.EntitlementSet
	subs       map[string]models.ActiveSubscription
	generation uint64

	onChange func(models.EntitlementSet)
}

// NewEntitlementStore creates a new entitlement store
func NewEntitlementStore(client StoreClient, verifier Verifier, iap config.IAPConfig) *EntitlementStore {
	return &EntitlementStore{
		client:   client,
		verifier: verifier,
		iap:      iap,
		logger:   util.GetLogger(),
		owned:    models.NewEntitlementSet(),
		subs:     make(map[string]models.ActiveSubscription),
	}
}

// OnChange registers a callback invoked after each committed replay with
// the new entitlement set. Must be called before the listener starts.
func (es *EntitlementStore) OnChange(fn func(models.EntitlementSet)) {
	es.mu.Lock()
	es.onChange = fn
	es.mu.Unlock()
}

// Refresh replays the platform's current-entitlements ledger and
// atomically swaps the committed set. A verification failure on one entry
// excludes only that entry; it never aborts the replay. Safe to call
// concurrently with itself.
func (es *EntitlementStore) Refresh(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "EntitlementStore.Refresh")
	defer span.End()

	es.refreshMu.Lock()
	defer es.refreshMu.Unlock()

	start := time.Now()
	defer func() {
		util.EntitlementRefreshLatency.Observe(time.Since(start).Seconds())
	}()

	entries, err := es.client.CurrentEntitlements(ctx)
	if err != nil {
		return fmt.Errorf("failed to query current entitlements: %w", err)
	}

	owned, subs := es.derive(ctx, entries)

	es.mu.Lock()
	es.owned = owned
	es.subs = subs
	es.generation++
	cb := es.onChange
	es.mu.Unlock()

	util.EntitlementRefreshesTotal.Inc()
	util.EntitlementsOwned.Set(float64(len(owned)))
	es.logger.Debug("Entitlement set committed", zap.Int("owned", len(owned)))

	if cb != nil {
		cb(owned)
	}
	return nil
}

// derive verifies each ledger entry and accumulates the surviving product
// identifiers. Revoked or unverifiable transactions are dropped.
func (es *EntitlementStore) derive(ctx context.Context, entries []models.LedgerEntry) (models.EntitlementSet, map[string]models.ActiveSubscription) {
	owned := models.NewEntitlementSet()
	subs := make(map[string]models.ActiveSubscription)

	for _, entry := range entries {
		tx, err := es.verifier.Verify(ctx, entry.Signed)
		if err != nil {
			if !errors.Is(err, models.ErrVerificationFailed) {
				err = fmt.Errorf("%w: %v", models.ErrVerificationFailed, err)
			}
			util.VerificationFailuresTotal.Inc()
			es.logger.Warn("Dropping unverifiable ledger entry",
				zap.String("transaction_id", entry.Signed.TransactionID),
				zap.Error(err))
			continue
		}

		if tx.Revoked() {
			continue
		}

		owned[tx.ProductID] = struct{}{}

		if entry.RenewalState != "" {
			subs[tx.ProductID] = models.ActiveSubscription{
				ProductID: tx.ProductID,
				State:     models.SubscriptionStateFromRenewal(entry.RenewalState),
				ExpiresAt: entry.ExpiresAt,
			}
		}
	}

	return owned, subs
}

// IsOwned reports ownership against the latest committed set
func (es *EntitlementStore) IsOwned(productID string) bool {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.owned.Contains(productID)
}

// OwnedIDs returns the latest committed set, sorted for stable output
func (es *EntitlementStore) OwnedIDs() []string {
	es.mu.RLock()
	ids := es.owned.IDs()
	es.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// CurrentSubscriptions returns the active subscriptions from the latest
// committed replay, sorted by product identifier
func (es *EntitlementStore) CurrentSubscriptions() []models.ActiveSubscription {
	es.mu.RLock()
	subs := make([]models.ActiveSubscription, 0, len(es.subs))
	for _, sub := range es.subs {
		subs = append(subs, sub)
	}
	es.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ProductID < subs[j].ProductID })
	return subs
}

// Generation returns the number of committed replays
func (es *EntitlementStore) Generation() uint64 {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.generation
}

// HasPremium is a policy predicate over the configured premium product
// identifiers. Recomputed on every call, never cached.
func (es *EntitlementStore) HasPremium() bool {
	return es.ownsAny(es.iap.PremiumProductIDs)
}

// HasRemovedAds is a policy predicate over the configured remove-ads
// product identifiers. Recomputed on every call, never cached.
func (es *EntitlementStore) HasRemovedAds() bool {
	if es.HasPremium() {
		return true
	}
	return es.ownsAny(es.iap.RemoveAdsProductIDs)
}

func (es *EntitlementStore) ownsAny(ids []string) bool {
	for _, id := range ids {
		if es.IsOwned(id) {
			return true
		}
	}
	return false
}
