package service

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"entitlement-service/internal/models"
	"entitlement-service/internal/util"

	"go.uber.org/zap"
)

// LoadState is the catalog load lifecycle visible to the UI.
type LoadState string

const (
	LoadStateIdle    LoadState = "IDLE"
	LoadStateLoading LoadState = "LOADING"
	LoadStateLoaded  LoadState = "LOADED"
	LoadStateFailed  LoadState = "FAILED"
)

// PurchaseFlowState is the purchase lifecycle visible to the UI.
type PurchaseFlowState string

const (
	PurchaseFlowIdle       PurchaseFlowState = "IDLE"
	PurchaseFlowPurchasing PurchaseFlowState = "PURCHASING"
	PurchaseFlowSucceeded  PurchaseFlowState = "SUCCEEDED"
	PurchaseFlowCancelled  PurchaseFlowState = "CANCELLED"
	PurchaseFlowPending    PurchaseFlowState = "PENDING"
	PurchaseFlowFailed     PurchaseFlowState = "FAILED"
)

// State is the orchestrator's UI-observable snapshot.
type State struct {
	Products            []models.Product            `json:"products"`
	OwnedProductIDs     []string                    `json:"owned_product_ids"`
	ActiveSubscriptions []models.ActiveSubscription `json:"active_subscriptions"`
	LoadState           LoadState                   `json:"load_state"`
	PurchaseState       PurchaseFlowState           `json:"purchase_state"`
	LastError           string                      `json:"last_error,omitempty"`
	LastMessage         string                      `json:"last_message,omitempty"`
	HasPremium          bool                        `json:"has_premium"`
	HasRemovedAds       bool                        `json:"has_removed_ads"`
}

// Orchestrator is the single external-facing coordinator: it sequences
// catalog loading, purchase, restore and status queries, owns the
// UI-observable state, and forwards outcomes to telemetry. It never
// decides purchase authenticity itself.
type Orchestrator struct {
	catalog      *CatalogService
	purchases    *PurchaseService
	restorer     *RestoreService
	entitlements *EntitlementStore
	telemetry    TelemetrySink
	logger       *zap.Logger

	mu    sync.RWMutex
	state State
}

// NewOrchestrator creates the orchestrator and subscribes it to pushed
// entitlement updates, so out-of-band grants (renewals, revocations seen
// by the listener) reach the UI state without a user action.
func NewOrchestrator(
	catalog *CatalogService,
	purchases *PurchaseService,
	restorer *RestoreService,
	entitlements *EntitlementStore,
	telemetry TelemetrySink,
) *Orchestrator {
	o := &Orchestrator{
		catalog:      catalog,
		purchases:    purchases,
		restorer:     restorer,
		entitlements: entitlements,
		telemetry:    telemetry,
		logger:       util.GetLogger(),
		state: State{
			LoadState:     LoadStateIdle,
			PurchaseState: PurchaseFlowIdle,
		},
	}

	entitlements.OnChange(func(models.EntitlementSet) {
		o.syncEntitlementState()
	})

	return o
}

// State returns a copy of the current UI-observable state
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LoadCatalog loads the catalog and updates the observable state
func (o *Orchestrator) LoadCatalog(ctx context.Context) error {
	o.setLoadState(LoadStateLoading)
	o.emit(ctx, "catalog_load_attempted", nil)

	products, err := o.catalog.Load(ctx)
	if err != nil {
		o.mu.Lock()
		o.state.LoadState = LoadStateFailed
		o.state.LastError = err.Error()
		o.mu.Unlock()

		o.emit(ctx, "catalog_load_failed", map[string]string{"reason": err.Error()})
		return err
	}

	o.mu.Lock()
	o.state.Products = products
	o.state.LoadState = LoadStateLoaded
	o.state.LastError = ""
	o.mu.Unlock()
	o.syncEntitlementState()

	o.emit(ctx, "catalog_load_succeeded", map[string]string{
		"products": strconv.Itoa(len(products)),
	})
	return nil
}

// HydrateCatalog falls back to the cached catalog snapshot after a
// failed startup load. On success the products become visible in the
// observable state; the load error stays recorded, since no live load
// has succeeded yet.
func (o *Orchestrator) HydrateCatalog(ctx context.Context) bool {
	ok, err := o.catalog.HydrateFromCache(ctx)
	if err != nil {
		o.logger.Warn("Catalog snapshot hydrate failed", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	o.mu.Lock()
	o.state.Products = o.catalog.Products()
	o.state.LoadState = LoadStateLoaded
	o.mu.Unlock()

	o.emit(ctx, "catalog_hydrated", map[string]string{
		"products": strconv.Itoa(len(o.catalog.Products())),
	})
	return true
}

// Purchase runs one purchase flow and maps its terminal outcome into the
// observable state. Cancellation records no error; pending records an
// informational message.
func (o *Orchestrator) Purchase(ctx context.Context, productID string) error {
	o.mu.Lock()
	o.state.PurchaseState = PurchaseFlowPurchasing
	o.mu.Unlock()
	o.emit(ctx, "purchase_attempted", map[string]string{"product_id": productID})

	attempt, err := o.purchases.Purchase(ctx, productID)
	if err != nil {
		o.mu.Lock()
		o.state.PurchaseState = PurchaseFlowFailed
		o.state.LastError = err.Error()
		o.mu.Unlock()
		o.refreshAfterTerminal(ctx)

		o.emit(ctx, "purchase_failed", map[string]string{
			"product_id": productID,
			"reason":     err.Error(),
		})
		return err
	}

	switch attempt.State {
	case models.PurchaseStateSucceeded:
		o.mu.Lock()
		o.state.PurchaseState = PurchaseFlowSucceeded
		o.state.LastError = ""
		o.state.LastMessage = ""
		o.mu.Unlock()
		o.syncEntitlementState()

		o.emit(ctx, "purchase_succeeded", map[string]string{
			"product_id":     productID,
			"transaction_id": attempt.Result.TransactionID,
		})

	case models.PurchaseStateCancelled:
		// Benign terminal: no error banner.
		o.mu.Lock()
		o.state.PurchaseState = PurchaseFlowCancelled
		o.state.LastError = ""
		o.state.LastMessage = ""
		o.mu.Unlock()
		o.refreshAfterTerminal(ctx)

		o.emit(ctx, "purchase_cancelled", map[string]string{"product_id": productID})

	case models.PurchaseStatePending:
		o.mu.Lock()
		o.state.PurchaseState = PurchaseFlowPending
		o.state.LastError = ""
		o.state.LastMessage = "Purchase is awaiting approval; no entitlement exists yet."
		o.mu.Unlock()
		o.refreshAfterTerminal(ctx)

		o.emit(ctx, "purchase_pending", map[string]string{"product_id": productID})
	}

	return nil
}

// Restore runs the restoration flow and updates the observable state
func (o *Orchestrator) Restore(ctx context.Context) ([]string, error) {
	o.emit(ctx, "restore_attempted", nil)

	owned, err := o.restorer.Restore(ctx)
	if err != nil {
		o.mu.Lock()
		o.state.LastError = err.Error()
		o.mu.Unlock()

		o.emit(ctx, "restore_failed", map[string]string{"reason": err.Error()})
		return nil, err
	}

	o.mu.Lock()
	o.state.LastError = ""
	o.mu.Unlock()
	o.syncEntitlementState()

	o.emit(ctx, "restore_succeeded", map[string]string{
		"owned": strconv.Itoa(len(owned)),
	})
	return owned, nil
}

// ClearError clears the recorded error and returns the purchase flow to
// idle if it ended in failure
func (o *Orchestrator) ClearError() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.state.LastError = ""
	if o.state.PurchaseState == PurchaseFlowFailed {
		o.state.PurchaseState = PurchaseFlowIdle
	}
}

// ClearSuccess clears the success/pending/cancelled terminal state and
// informational message
func (o *Orchestrator) ClearSuccess() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.state.LastMessage = ""
	switch o.state.PurchaseState {
	case PurchaseFlowSucceeded, PurchaseFlowCancelled, PurchaseFlowPending:
		o.state.PurchaseState = PurchaseFlowIdle
	}
}

// refreshAfterTerminal re-syncs entitlements after a non-success terminal
// branch so the UI state stays current even when nothing was granted.
func (o *Orchestrator) refreshAfterTerminal(ctx context.Context) {
	if err := o.entitlements.Refresh(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			o.logger.Warn("Entitlement refresh after purchase outcome failed", zap.Error(err))
		}
		return
	}
	o.syncEntitlementState()
}

func (o *Orchestrator) syncEntitlementState() {
	owned := o.entitlements.OwnedIDs()
	subs := o.entitlements.CurrentSubscriptions()
	premium := o.entitlements.HasPremium()
	removedAds := o.entitlements.HasRemovedAds()

	o.mu.Lock()
	o.state.OwnedProductIDs = owned
	o.state.ActiveSubscriptions = subs
	o.state.HasPremium = premium
	o.state.HasRemovedAds = removedAds
	o.mu.Unlock()
}

func (o *Orchestrator) setLoadState(ls LoadState) {
	o.mu.Lock()
	o.state.LoadState = ls
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ctx context.Context, name string, params map[string]string) {
	if o.telemetry != nil {
		o.telemetry.Emit(ctx, name, params)
	}
}
