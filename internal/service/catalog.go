package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"entitlement-service/config"
	"entitlement-service/internal/models"
	"entitlement-service/internal/util"

	"go.uber.org/zap"
)

// CatalogService loads purchasable product definitions from the platform
// store for the configured identifier list. The catalog is replaced
// wholesale on every load; repeated loads are idempotent.
type CatalogService struct {
	iap          config.IAPConfig
	client       StoreClient
	cache        CatalogCache
	entitlements *EntitlementStore
	logger       *zap.Logger

	mu       sync.RWMutex
	products []models.Product
	byID     map[string]models.Product
}

// NewCatalogService creates a new catalog service
func NewCatalogService(
	iap config.IAPConfig,
	client StoreClient,
	cache CatalogCache,
	entitlements *EntitlementStore,
) *CatalogService {
	return &CatalogService{
		iap:          iap,
		client:       client,
		cache:        cache,
		entitlements: entitlements,
		logger:       util.GetLogger(),
		byID:         make(map[string]models.Product),
	}
}

// Load fetches the catalog for the configured identifiers, sorted
// ascending by price, and triggers an entitlement refresh so price and
// ownership UI stay consistent in one pass. Fails with ErrNotConfigured
// before any network call when nothing is configured.
func (cs *CatalogService) Load(ctx context.Context) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Load")
	defer span.End()

	if !cs.iap.IsConfigured() {
		util.CatalogLoadFailuresTotal.WithLabelValues("not_configured").Inc()
		return nil, models.ErrNotConfigured
	}

	fetched, err := cs.client.FetchProducts(ctx, cs.iap.ProductIDs)
	if err != nil {
		util.CatalogLoadFailuresTotal.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrCatalogFetch, err)
	}

	// Only configured identifiers may ever be surfaced, whatever the
	// store returned.
	products := make([]models.Product, 0, len(fetched))
	for _, p := range fetched {
		if cs.iap.Allows(p.ID) {
			products = append(products, p)
		} else {
			cs.logger.Warn("Store returned unconfigured product, dropping",
				zap.String("product_id", p.ID))
		}
	}

	sort.Slice(products, func(i, j int) bool {
		if c := products[i].Price.Cmp(products[j].Price); c != 0 {
			return c < 0
		}
		return products[i].ID < products[j].ID
	})

	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	cs.mu.Lock()
	cs.products = products
	cs.byID = byID
	cs.mu.Unlock()

	util.CatalogLoadsTotal.Inc()
	cs.logger.Info("Catalog loaded", zap.Int("products", len(products)))

	if cs.cache != nil {
		if err := cs.cache.PutCatalog(ctx, products); err != nil {
			cs.logger.Warn("Failed to cache catalog snapshot", zap.Error(err))
		}
	}

	if err := cs.entitlements.Refresh(ctx); err != nil {
		cs.logger.Warn("Entitlement refresh after catalog load failed", zap.Error(err))
	}

	return products, nil
}

// HydrateFromCache seeds an empty catalog from the last cached snapshot
// so a restarting instance can serve prices before its first live load.
// A catalog that already had a live load is never overwritten; the
// snapshot is stale by definition.
func (cs *CatalogService) HydrateFromCache(ctx context.Context) (bool, error) {
	if cs.cache == nil {
		return false, nil
	}

	cached, err := cs.cache.Catalog(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read cached catalog: %w", err)
	}

	// The configured list may have changed since the snapshot was taken.
	products := make([]models.Product, 0, len(cached))
	for _, p := range cached {
		if cs.iap.Allows(p.ID) {
			products = append(products, p)
		}
	}
	if len(products) == 0 {
		return false, nil
	}

	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if len(cs.products) > 0 {
		return false, nil
	}
	cs.products = products
	cs.byID = byID

	cs.logger.Info("Catalog hydrated from snapshot cache", zap.Int("products", len(products)))
	return true, nil
}

// Products returns the currently loaded catalog
func (cs *CatalogService) Products() []models.Product {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]models.Product, len(cs.products))
	copy(out, cs.products)
	return out
}

// Product looks up one catalog item by identifier
func (cs *CatalogService) Product(productID string) (models.Product, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	p, ok := cs.byID[productID]
	return p, ok
}
