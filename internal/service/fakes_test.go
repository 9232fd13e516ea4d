package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"entitlement-service/internal/models"

	"github.com/shopspring/decimal"
)

// fakeStoreClient is an in-memory platform store. Entitlement and history
// ledgers are plain slices the test mutates between calls.
type fakeStoreClient struct {
	mu sync.Mutex

	products     []models.Product
	entitlements []models.LedgerEntry
	history      []models.LedgerEntry

	fetchErr        error
	entitlementsErr error
	historyErr      error

	// purchaseFn, when set, decides the outcome of SubmitPurchase.
	purchaseFn func(ctx context.Context, productID string) (*models.PurchaseOutcome, error)

	fetchCalls        int
	entitlementCalls  int
	historyCalls      int
	finished          []string
}

func (f *fakeStoreClient) FetchProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]models.Product, len(f.products))
	copy(out, f.products)
	return out, nil
}

func (f *fakeStoreClient) SubmitPurchase(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
	f.mu.Lock()
	fn := f.purchaseFn
	f.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("no purchase outcome configured")
	}
	return fn(ctx, productID)
}

func (f *fakeStoreClient) CurrentEntitlements(ctx context.Context) ([]models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entitlementCalls++
	if f.entitlementsErr != nil {
		return nil, f.entitlementsErr
	}
	out := make([]models.LedgerEntry, len(f.entitlements))
	copy(out, f.entitlements)
	return out, nil
}

func (f *fakeStoreClient) TransactionHistory(ctx context.Context) ([]models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.historyCalls++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := make([]models.LedgerEntry, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeStoreClient) FinishTransaction(ctx context.Context, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finished = append(f.finished, transactionID)
	return nil
}

func (f *fakeStoreClient) setEntitlements(entries ...models.LedgerEntry) {
	f.mu.Lock()
	f.entitlements = entries
	f.mu.Unlock()
}

func (f *fakeStoreClient) addEntitlement(entry models.LedgerEntry) {
	f.mu.Lock()
	f.entitlements = append(f.entitlements, entry)
	f.mu.Unlock()
}

func (f *fakeStoreClient) finishedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.finished))
	copy(out, f.finished)
	return out
}

// fakeVerifier trusts every envelope except those whose transaction id is
// in bad; revoked maps transaction ids to revocation timestamps.
type fakeVerifier struct {
	mu      sync.Mutex
	bad     map[string]bool
	revoked map[string]time.Time
	calls   int
}

func (f *fakeVerifier) Verify(ctx context.Context, signed models.SignedTransaction) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.bad[signed.TransactionID] {
		return nil, fmt.Errorf("%w: %s", models.ErrVerificationFailed, signed.TransactionID)
	}

	tx := &models.Transaction{
		ID:           signed.TransactionID,
		OriginalID:   signed.TransactionID,
		ProductID:    signed.ProductID,
		PurchaseDate: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if at, ok := f.revoked[signed.TransactionID]; ok {
		tx.RevocationDate = &at
	}
	return tx, nil
}

func (f *fakeVerifier) markBad(txID string) {
	f.mu.Lock()
	if f.bad == nil {
		f.bad = make(map[string]bool)
	}
	f.bad[txID] = true
	f.mu.Unlock()
}

func (f *fakeVerifier) markRevoked(txID string, at time.Time) {
	f.mu.Lock()
	if f.revoked == nil {
		f.revoked = make(map[string]time.Time)
	}
	f.revoked[txID] = at
	f.mu.Unlock()
}

type fakeCache struct {
	mu     sync.Mutex
	stored []models.Product
	puts   int
	err    error
	getErr error
}

func (f *fakeCache) PutCatalog(ctx context.Context, products []models.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.puts++
	if f.err != nil {
		return f.err
	}
	f.stored = products
	return nil
}

func (f *fakeCache) Catalog(ctx context.Context) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.stored, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	recorded []*models.Transaction
}

func (f *fakeRecorder) RecordTransaction(ctx context.Context, tx *models.Transaction) error {
	f.mu.Lock()
	f.recorded = append(f.recorded, tx)
	f.mu.Unlock()
	return nil
}

type emittedEvent struct {
	name   string
	params map[string]string
}

type fakeSink struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (f *fakeSink) Emit(ctx context.Context, name string, params map[string]string) {
	f.mu.Lock()
	f.events = append(f.events, emittedEvent{name: name, params: params})
	f.mu.Unlock()
}

func (f *fakeSink) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.name)
	}
	return out
}

func testProduct(id, price string, kind models.ProductKind) models.Product {
	return models.Product{
		ID:           id,
		DisplayName:  id,
		DisplayPrice: "$" + price,
		Price:        decimal.RequireFromString(price),
		Currency:     "USD",
		Kind:         kind,
	}
}

func entryFor(txID, productID string) models.LedgerEntry {
	return models.LedgerEntry{
		Signed: models.SignedTransaction{
			TransactionID: txID,
			ProductID:     productID,
			Payload:       "signed-" + txID,
		},
	}
}

func subscriptionEntry(txID, productID string, rs models.RenewalState) models.LedgerEntry {
	entry := entryFor(txID, productID)
	entry.RenewalState = rs
	expires := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	entry.ExpiresAt = &expires
	return entry
}
