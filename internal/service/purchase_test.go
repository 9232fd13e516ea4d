package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"entitlement-service/config"
	"entitlement-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type purchaseHarness struct {
	client       *fakeStoreClient
	verifier     *fakeVerifier
	entitlements *EntitlementStore
	recorder     *fakeRecorder
	purchases    *PurchaseService
}

func newPurchaseHarness(t *testing.T, products ...models.Product) *purchaseHarness {
	t.Helper()

	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	iap := config.IAPConfig{ProductIDs: ids}

	client := &fakeStoreClient{products: products}
	verifier := &fakeVerifier{}
	es := NewEntitlementStore(client, verifier, iap)
	catalog := NewCatalogService(iap, client, nil, es)
	recorder := &fakeRecorder{}

	_, err := catalog.Load(context.Background())
	require.NoError(t, err)

	return &purchaseHarness{
		client:       client,
		verifier:     verifier,
		entitlements: es,
		recorder:     recorder,
		purchases:    NewPurchaseService(catalog, client, verifier, es, recorder),
	}
}

func successOutcome(h *purchaseHarness, txID string) func(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
	return func(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
		signed := models.SignedTransaction{
			TransactionID: txID,
			ProductID:     productID,
			Payload:       "signed-" + txID,
		}
		// The platform ledger now carries the new transaction, so the
		// post-purchase replay picks it up.
		h.client.addEntitlement(models.LedgerEntry{Signed: signed})
		return &models.PurchaseOutcome{
			State:  models.PurchaseOutcomeSuccess,
			Signed: &signed,
		}, nil
	}
}

func TestPurchaseSuccessGrantsEntitlement(t *testing.T) {
	h := newPurchaseHarness(t, testProduct("premium.monthly", "4.99", models.ProductKindAutoRenewable))
	h.client.purchaseFn = successOutcome(h, "tx-100")

	attempt, err := h.purchases.Purchase(context.Background(), "premium.monthly")
	require.NoError(t, err)

	assert.Equal(t, models.PurchaseStateSucceeded, attempt.State)
	require.NotNil(t, attempt.Result)
	assert.True(t, attempt.Result.Success)
	assert.Equal(t, "tx-100", attempt.Result.TransactionID)

	// Entitlements are already reconciled when the result comes back.
	assert.True(t, h.entitlements.IsOwned("premium.monthly"))
	assert.Equal(t, []string{"tx-100"}, h.client.finishedIDs())

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	require.Len(t, h.recorder.recorded, 1)
	assert.Equal(t, "tx-100", h.recorder.recorded[0].ID)
}

func TestPurchaseUnknownProduct(t *testing.T) {
	h := newPurchaseHarness(t, testProduct("a", "0.99", models.ProductKindConsumable))

	_, err := h.purchases.Purchase(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestPurchaseCancelledIsNotAnError(t *testing.T) {
	h := newPurchaseHarness(t, testProduct("a", "0.99", models.ProductKindConsumable))
	h.client.purchaseFn = func(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
		return &models.PurchaseOutcome{State: models.PurchaseOutcomeCancelled}, nil
	}

	attempt, err := h.purchases.Purchase(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStateCancelled, attempt.State)
	assert.Nil(t, attempt.Result)
	assert.False(t, h.entitlements.IsOwned("a"))
}

func TestPurchasePendingGrantsNothing(t *testing.T) {
	h := newPurchaseHarness(t, testProduct("a", "0.99", models.ProductKindConsumable))
	h.client.purchaseFn = func(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
		return &models.PurchaseOutcome{State: models.PurchaseOutcomePending}, nil
	}

	attempt, err := h.purchases.Purchase(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatePending, attempt.State)
	assert.False(t, h.entitlements.IsOwned("a"))
	assert.Empty(t, h.client.finishedIDs())
}

func TestPurchasePlatformErrorSurfacesAsFailure(t *testing.T) {
	h := newPurchaseHarness(t, testProduct("a", "0.99", models.ProductKindConsumable))
	h.client.purchaseFn = func(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
		return nil, assert.AnError
	}

	_, err := h.purchases.Purchase(context.Background(), "a")
	assert.ErrorIs(t, err, models.ErrPurchaseFailed)
}

func TestPurchaseUnknownOutcome(t *testing.T) {
	h := newPurchaseHarness(t, testProduct("a", "0.99", models.ProductKindConsumable))
	h.client.purchaseFn = func(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
		return &models.PurchaseOutcome{State: models.PurchaseOutcomeState("EXPLODED")}, nil
	}

	_, err := h.purchases.Purchase(context.Background(), "a")
	assert.ErrorIs(t, err, models.ErrUnknownPurchaseOutcome)
}

func TestPurchaseSuccessWithoutTransaction(t *testing.T) {
	h := newPurchaseHarness(t, testProduct("a", "0.99", models.ProductKindConsumable))
	h.client.purchaseFn = func(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
		return &models.PurchaseOutcome{State: models.PurchaseOutcomeSuccess}, nil
	}

	_, err := h.purchases.Purchase(context.Background(), "a")
	assert.ErrorIs(t, err, models.ErrUnknownPurchaseOutcome)
}

func TestPurchaseVerificationFailureNeverGrants(t *testing.T) {
	h := newPurchaseHarness(t, testProduct("a", "0.99", models.ProductKindConsumable))
	h.verifier.markBad("tx-forged")
	h.client.purchaseFn = func(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
		return &models.PurchaseOutcome{
			State: models.PurchaseOutcomeSuccess,
			Signed: &models.SignedTransaction{
				TransactionID: "tx-forged",
				ProductID:     productID,
				Payload:       "signed-tx-forged",
			},
		}, nil
	}

	_, err := h.purchases.Purchase(context.Background(), "a")
	assert.ErrorIs(t, err, models.ErrPurchaseFailed)
	assert.False(t, h.entitlements.IsOwned("a"))
	assert.Empty(t, h.client.finishedIDs(), "an unverified transaction must not be finalized")
}

func TestPurchaseInFlightGuard(t *testing.T) {
	h := newPurchaseHarness(t, testProduct("a", "0.99", models.ProductKindConsumable))

	started := make(chan struct{})
	release := make(chan struct{})
	h.client.purchaseFn = func(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
		close(started)
		<-release
		return &models.PurchaseOutcome{State: models.PurchaseOutcomeCancelled}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.purchases.Purchase(context.Background(), "a")
		assert.NoError(t, err)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first purchase never reached the platform")
	}

	_, err := h.purchases.Purchase(context.Background(), "a")
	assert.ErrorIs(t, err, models.ErrPurchaseInProgress)

	close(release)
	wg.Wait()

	// Once the first attempt terminates, the product is purchasable again.
	h.client.purchaseFn = func(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
		return &models.PurchaseOutcome{State: models.PurchaseOutcomeCancelled}, nil
	}
	_, err = h.purchases.Purchase(context.Background(), "a")
	assert.NoError(t, err)
}
