package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProductKindClassification(t *testing.T) {
	assert.True(t, ProductKindAutoRenewable.IsSubscription())
	assert.True(t, ProductKindNonRenewing.IsSubscription())
	assert.False(t, ProductKindConsumable.IsSubscription())
	assert.False(t, ProductKindNonConsumable.IsSubscription())
	assert.False(t, ProductKind("MYSTERY").IsSubscription())

	assert.True(t, ProductKindConsumable.Valid())
	assert.False(t, ProductKind("MYSTERY").Valid())
	assert.False(t, ProductKind("").Valid())
}

func TestTransactionRevoked(t *testing.T) {
	tx := Transaction{ID: "tx-1", ProductID: "a"}
	assert.False(t, tx.Revoked())

	at := time.Now()
	tx.RevocationDate = &at
	assert.True(t, tx.Revoked())
}

func TestSubscriptionStateFromRenewal(t *testing.T) {
	assert.Equal(t, SubscriptionStateSubscribed, SubscriptionStateFromRenewal(RenewalStateActive))
	assert.Equal(t, SubscriptionStateGracePeriod, SubscriptionStateFromRenewal(RenewalStateGracePeriod))
	assert.Equal(t, SubscriptionStateExpired, SubscriptionStateFromRenewal(RenewalStateExpired))
	assert.Equal(t, SubscriptionStateNotSubscribed, SubscriptionStateFromRenewal(RenewalState("")))
}

func TestEntitlementSet(t *testing.T) {
	set := NewEntitlementSet("a", "b")

	assert.True(t, set.Contains("a"))
	assert.True(t, set.Contains("b"))
	assert.False(t, set.Contains("c"))
	assert.Len(t, set.IDs(), 2)

	empty := NewEntitlementSet()
	assert.False(t, empty.Contains("a"))
	assert.Empty(t, empty.IDs())
}
