package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductKind classifies a purchasable product. The set is closed; code
// switching on it must enumerate every kind.
type ProductKind string

const (
	ProductKindConsumable    ProductKind = "CONSUMABLE"
	ProductKindNonConsumable ProductKind = "NON_CONSUMABLE"
	ProductKindAutoRenewable ProductKind = "AUTO_RENEWABLE_SUBSCRIPTION"
	ProductKindNonRenewing   ProductKind = "NON_RENEWING_SUBSCRIPTION"
)

// IsSubscription reports whether the kind grants time-limited access.
func (k ProductKind) IsSubscription() bool {
	switch k {
	case ProductKindAutoRenewable, ProductKindNonRenewing:
		return true
	case ProductKindConsumable, ProductKindNonConsumable:
		return false
	}
	return false
}

// Valid reports whether the kind is one of the known values.
func (k ProductKind) Valid() bool {
	switch k {
	case ProductKindConsumable, ProductKindNonConsumable,
		ProductKindAutoRenewable, ProductKindNonRenewing:
		return true
	}
	return false
}

// SubscriptionPeriod describes the billing cycle of a subscription product.
type SubscriptionPeriod struct {
	Unit  string `json:"unit"` // day, week, month, year
	Value int    `json:"value"`
}

// Product is one purchasable item as reported by the platform store.
// Immutable once fetched; the catalog is replaced wholesale on reload.
type Product struct {
	ID                 string              `json:"id"`
	DisplayName        string              `json:"display_name"`
	Description        string              `json:"description"`
	DisplayPrice       string              `json:"display_price"`
	Price              decimal.Decimal     `json:"price"`
	Currency           string              `json:"currency"`
	Kind               ProductKind         `json:"kind"`
	SubscriptionPeriod *SubscriptionPeriod `json:"subscription_period,omitempty"`
}

// SignedTransaction is the platform-supplied transaction envelope. It is
// untrusted until it passes the verifier.
type SignedTransaction struct {
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	Payload       string `json:"payload"` // signed receipt data
}

// Transaction is a verified purchase fact. Once verified it is never
// mutated, only superseded or revoked by later platform events.
type Transaction struct {
	ID             string     `db:"transaction_id" json:"transaction_id"`
	OriginalID     string     `db:"original_transaction_id" json:"original_transaction_id"`
	ProductID      string     `db:"product_id" json:"product_id"`
	PurchaseDate   time.Time  `db:"purchased_at" json:"purchased_at"`
	RevocationDate *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// Revoked reports whether the platform has invalidated this transaction
// (refund, chargeback, family-sharing removal).
func (t *Transaction) Revoked() bool {
	return t.RevocationDate != nil
}

// RenewalState is the platform-reported renewal status carried on
// subscription ledger entries.
type RenewalState string

const (
	RenewalStateActive      RenewalState = "ACTIVE"
	RenewalStateGracePeriod RenewalState = "GRACE_PERIOD"
	RenewalStateExpired     RenewalState = "EXPIRED"
)

// LedgerEntry is one row of the platform's transaction ledger: the signed
// envelope plus renewal info when the product is a subscription.
type LedgerEntry struct {
	Signed       SignedTransaction `json:"signed"`
	RenewalState RenewalState      `json:"renewal_state,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
}

// SubscriptionState tags an active subscription for the UI layer.
type SubscriptionState string

const (
	SubscriptionStateSubscribed    SubscriptionState = "SUBSCRIBED"
	SubscriptionStateGracePeriod   SubscriptionState = "GRACE_PERIOD"
	SubscriptionStateExpired       SubscriptionState = "EXPIRED"
	SubscriptionStateNotSubscribed SubscriptionState = "NOT_SUBSCRIBED"
)

// SubscriptionStateFromRenewal maps a ledger renewal status onto the
// UI-facing subscription state.
func SubscriptionStateFromRenewal(rs RenewalState) SubscriptionState {
	switch rs {
	case RenewalStateActive:
		return SubscriptionStateSubscribed
	case RenewalStateGracePeriod:
		return SubscriptionStateGracePeriod
	case RenewalStateExpired:
		return SubscriptionStateExpired
	}
	return SubscriptionStateNotSubscribed
}

// ActiveSubscription is a subscription product currently in the
// entitlement set, tagged with its renewal-derived state.
type ActiveSubscription struct {
	ProductID string            `json:"product_id"`
	State     SubscriptionState `json:"state"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// EntitlementSet is the set of product identifiers currently owned. It is
// always derived from a full ledger replay, never patched in place.
type EntitlementSet map[string]struct{}

// NewEntitlementSet builds a set from product identifiers.
func NewEntitlementSet(ids ...string) EntitlementSet {
	set := make(EntitlementSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Contains reports whether the product identifier is owned.
func (s EntitlementSet) Contains(productID string) bool {
	_, ok := s[productID]
	return ok
}

// IDs returns the owned identifiers in unspecified order.
func (s EntitlementSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// PurchaseOutcomeState is the terminal state the platform reports for a
// submitted purchase.
type PurchaseOutcomeState string

const (
	PurchaseOutcomeSuccess   PurchaseOutcomeState = "SUCCESS"
	PurchaseOutcomeCancelled PurchaseOutcomeState = "USER_CANCELLED"
	PurchaseOutcomePending   PurchaseOutcomeState = "PENDING"
)

// PurchaseOutcome is the platform's response to a purchase submission.
// Signed is set only on success.
type PurchaseOutcome struct {
	State  PurchaseOutcomeState `json:"state"`
	Signed *SignedTransaction   `json:"signed,omitempty"`
}

// PurchaseState is the terminal state of one local purchase attempt.
type PurchaseState string

const (
	PurchaseStateSucceeded PurchaseState = "SUCCEEDED"
	PurchaseStateCancelled PurchaseState = "CANCELLED"
	PurchaseStatePending   PurchaseState = "PENDING"
)

// PurchaseResult is produced once per completed purchase flow and handed
// to the orchestrator; it is never persisted.
type PurchaseResult struct {
	ProductID     string    `json:"product_id"`
	TransactionID string    `json:"transaction_id"`
	PurchaseDate  time.Time `json:"purchased_at"`
	Success       bool      `json:"success"`
}

// PurchaseAttempt is the outcome of one call to the purchase initiator.
// Result is non-nil only when State is SUCCEEDED.
type PurchaseAttempt struct {
	ProductID string          `json:"product_id"`
	State     PurchaseState   `json:"state"`
	Result    *PurchaseResult `json:"result,omitempty"`
}

// ProcessedEvent records a handled stream event for idempotency.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
