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

func newTestEntitlements(client *fakeStoreClient, verifier *fakeVerifier, iap config.IAPConfig) *EntitlementStore {
	return NewEntitlementStore(client, verifier, iap)
}

func TestRefreshIdempotent(t *testing.T) {
	client := &fakeStoreClient{}
	client.setEntitlements(entryFor("tx-1", "premium.monthly"), entryFor("tx-2", "remove.ads"))
	es := newTestEntitlements(client, &fakeVerifier{}, config.IAPConfig{})

	ctx := context.Background()
	require.NoError(t, es.Refresh(ctx))
	first := es.OwnedIDs()

	require.NoError(t, es.Refresh(ctx))
	second := es.OwnedIDs()

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"premium.monthly", "remove.ads"}, second)
	assert.Equal(t, uint64(2), es.Generation())
}

func TestVerificationGateExcludesBadEnvelopes(t *testing.T) {
	client := &fakeStoreClient{}
	client.setEntitlements(entryFor("tx-good", "premium.monthly"), entryFor("tx-forged", "premium.yearly"))

	verifier := &fakeVerifier{}
	verifier.markBad("tx-forged")

	es := newTestEntitlements(client, verifier, config.IAPConfig{})
	ctx := context.Background()

	// However many times the replay is retried, a forged envelope never
	// grants its product.
	for i := 0; i < 5; i++ {
		require.NoError(t, es.Refresh(ctx))
		assert.True(t, es.IsOwned("premium.monthly"))
		assert.False(t, es.IsOwned("premium.yearly"))
	}
}

func TestOneBadRecordDoesNotAbortRefresh(t *testing.T) {
	client := &fakeStoreClient{}
	client.setEntitlements(
		entryFor("tx-forged", "a"),
		entryFor("tx-1", "b"),
		entryFor("tx-2", "c"),
	)

	verifier := &fakeVerifier{}
	verifier.markBad("tx-forged")

	es := newTestEntitlements(client, verifier, config.IAPConfig{})
	require.NoError(t, es.Refresh(context.Background()))

	assert.Equal(t, []string{"b", "c"}, es.OwnedIDs())
}

func TestRevocationRemovesEntitlement(t *testing.T) {
	client := &fakeStoreClient{}
	client.setEntitlements(entryFor("tx-1", "premium.monthly"))

	verifier := &fakeVerifier{}
	es := newTestEntitlements(client, verifier, config.IAPConfig{})
	ctx := context.Background()

	require.NoError(t, es.Refresh(ctx))
	require.True(t, es.IsOwned("premium.monthly"))

	// The same transaction is later reported with a revocation timestamp.
	verifier.markRevoked("tx-1", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))

	require.NoError(t, es.Refresh(ctx))
	assert.False(t, es.IsOwned("premium.monthly"))
}

func TestRefreshFailureKeepsCommittedSet(t *testing.T) {
	client := &fakeStoreClient{}
	client.setEntitlements(entryFor("tx-1", "premium.monthly"))
	es := newTestEntitlements(client, &fakeVerifier{}, config.IAPConfig{})
	ctx := context.Background()

	require.NoError(t, es.Refresh(ctx))
	require.True(t, es.IsOwned("premium.monthly"))

	client.mu.Lock()
	client.entitlementsErr = assert.AnError
	client.mu.Unlock()

	err := es.Refresh(ctx)
	assert.Error(t, err)

	// A failed replay never tears down the last committed set.
	assert.True(t, es.IsOwned("premium.monthly"))
	assert.Equal(t, uint64(1), es.Generation())
}

func TestConcurrentRefreshesConverge(t *testing.T) {
	client := &fakeStoreClient{}
	client.setEntitlements(entryFor("tx-1", "premium.monthly"), entryFor("tx-2", "remove.ads"))
	es := newTestEntitlements(client, &fakeVerifier{}, config.IAPConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = es.Refresh(context.Background())
			_ = es.IsOwned("premium.monthly")
			_ = es.CurrentSubscriptions()
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"premium.monthly", "remove.ads"}, es.OwnedIDs())
	assert.Equal(t, uint64(16), es.Generation())
}

func TestCurrentSubscriptionsStates(t *testing.T) {
	client := &fakeStoreClient{}
	client.setEntitlements(
		subscriptionEntry("tx-1", "premium.monthly", models.RenewalStateActive),
		subscriptionEntry("tx-2", "premium.yearly", models.RenewalStateGracePeriod),
		entryFor("tx-3", "remove.ads"), // one-time product, no renewal info
	)

	es := newTestEntitlements(client, &fakeVerifier{}, config.IAPConfig{})
	require.NoError(t, es.Refresh(context.Background()))

	subs := es.CurrentSubscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, "premium.monthly", subs[0].ProductID)
	assert.Equal(t, models.SubscriptionStateSubscribed, subs[0].State)
	assert.Equal(t, "premium.yearly", subs[1].ProductID)
	assert.Equal(t, models.SubscriptionStateGracePeriod, subs[1].State)
}

func TestPolicyPredicatesRecomputed(t *testing.T) {
	iap := config.IAPConfig{
		ProductIDs:          []string{"premium.monthly", "remove.ads"},
		PremiumProductIDs:   []string{"premium.monthly"},
		RemoveAdsProductIDs: []string{"remove.ads"},
	}

	client := &fakeStoreClient{}
	verifier := &fakeVerifier{}
	es := newTestEntitlements(client, verifier, iap)
	ctx := context.Background()

	require.NoError(t, es.Refresh(ctx))
	assert.False(t, es.HasPremium())
	assert.False(t, es.HasRemovedAds())

	client.setEntitlements(entryFor("tx-1", "remove.ads"))
	require.NoError(t, es.Refresh(ctx))
	assert.False(t, es.HasPremium())
	assert.True(t, es.HasRemovedAds())

	// Premium implies removed ads.
	client.setEntitlements(subscriptionEntry("tx-2", "premium.monthly", models.RenewalStateActive))
	require.NoError(t, es.Refresh(ctx))
	assert.True(t, es.HasPremium())
	assert.True(t, es.HasRemovedAds())

	// The predicate follows the committed set, never a stale cache.
	verifier.markRevoked("tx-2", time.Now().UTC())
	require.NoError(t, es.Refresh(ctx))
	assert.False(t, es.HasPremium())
	assert.False(t, es.HasRemovedAds())
}

func TestOnChangeNotifiedAfterCommit(t *testing.T) {
	client := &fakeStoreClient{}
	client.setEntitlements(entryFor("tx-1", "premium.monthly"))
	es := newTestEntitlements(client, &fakeVerifier{}, config.IAPConfig{})

	var mu sync.Mutex
	var seen []models.EntitlementSet
	es.OnChange(func(set models.EntitlementSet) {
		mu.Lock()
		seen = append(seen, set)
		mu.Unlock()
	})

	require.NoError(t, es.Refresh(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Contains("premium.monthly"))
}
