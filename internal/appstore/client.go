package appstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"entitlement-service/internal/models"
	"entitlement-service/internal/util"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client talks to the platform store API: product lookup, purchase
// submission, the current-entitlements ledger, the full transaction
// history, and transaction finalization. Every call is a network round
// trip; callers must treat each as a suspension point.
type Client struct {
	http    *resty.Client
	groupID string
	logger  *zap.Logger
}

// NewClient creates a store API client. When a subscription group is
// configured, ledger queries are scoped to it.
func NewClient(baseURL, sharedSecret, subscriptionGroupID string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json")

	if sharedSecret != "" {
		http.SetAuthToken(sharedSecret)
	}

	return &Client{
		http:    http,
		groupID: subscriptionGroupID,
		logger:  util.GetLogger(),
	}
}

type productPayload struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description"`
	DisplayPrice string `json:"display_price"`
	Price        string `json:"price"`
	Currency     string `json:"currency"`
	Kind         string `json:"kind"`
	Period       *struct {
		Unit  string `json:"unit"`
		Value int    `json:"value"`
	} `json:"subscription_period,omitempty"`
}

type productsResponse struct {
	Products []productPayload `json:"products"`
}

type ledgerResponse struct {
	Entries []models.LedgerEntry `json:"entries"`
}

// FetchProducts looks up product definitions for the given identifiers
func (c *Client) FetchProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	var out productsResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(ids, ",")).
		SetResult(&out).
		Get("/inApps/v1/products")
	if err != nil {
		return nil, fmt.Errorf("store products request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("store products request failed: %s", resp.Status())
	}

	products := make([]models.Product, 0, len(out.Products))
	for _, p := range out.Products {
		product, err := p.toModel()
		if err != nil {
			c.logger.Warn("Skipping malformed product payload",
				zap.String("product_id", p.ID),
				zap.Error(err))
			continue
		}
		products = append(products, product)
	}
	return products, nil
}

func (p productPayload) toModel() (models.Product, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return models.Product{}, fmt.Errorf("bad price %q: %w", p.Price, err)
	}

	kind := models.ProductKind(p.Kind)
	if !kind.Valid() {
		return models.Product{}, fmt.Errorf("unknown product kind %q", p.Kind)
	}

	product := models.Product{
		ID:           p.ID,
		DisplayName:  p.DisplayName,
		Description:  p.Description,
		DisplayPrice: p.DisplayPrice,
		Price:        price,
		Currency:     p.Currency,
		Kind:         kind,
	}
	if p.Period != nil {
		product.SubscriptionPeriod = &models.SubscriptionPeriod{
			Unit:  p.Period.Unit,
			Value: p.Period.Value,
		}
	}
	return product, nil
}

// SubmitPurchase submits a purchase for one product and waits for the
// platform's terminal outcome
func (c *Client) SubmitPurchase(ctx context.Context, productID string) (*models.PurchaseOutcome, error) {
	var out models.PurchaseOutcome

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"product_id": productID}).
		SetResult(&out).
		Post("/inApps/v1/purchases")
	if err != nil {
		return nil, fmt.Errorf("purchase submission failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("purchase submission failed: %s", resp.Status())
	}

	return &out, nil
}

// CurrentEntitlements queries the platform's current-entitlements ledger
func (c *Client) CurrentEntitlements(ctx context.Context) ([]models.LedgerEntry, error) {
	var out ledgerResponse

	req := c.http.R().
		SetContext(ctx).
		SetResult(&out)
	if c.groupID != "" {
		req.SetQueryParam("subscription_group", c.groupID)
	}

	resp, err := req.Get("/inApps/v1/entitlements")
	if err != nil {
		return nil, fmt.Errorf("entitlements query failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("entitlements query failed: %s", resp.Status())
	}

	return out.Entries, nil
}

// TransactionHistory queries the full historical transaction ledger
func (c *Client) TransactionHistory(ctx context.Context) ([]models.LedgerEntry, error) {
	var out ledgerResponse

	req := c.http.R().
		SetContext(ctx).
		SetResult(&out)
	if c.groupID != "" {
		req.SetQueryParam("subscription_group", c.groupID)
	}

	resp, err := req.Get("/inApps/v1/history")
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("history query failed: %s", resp.Status())
	}

	return out.Entries, nil
}

// FinishTransaction acknowledges a transaction so the platform stops
// redelivering it
func (c *Client) FinishTransaction(ctx context.Context, transactionID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/inApps/v1/transactions/%s/finish", transactionID))
	if err != nil {
		return fmt.Errorf("finish transaction %s failed: %w", transactionID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("finish transaction %s failed: %s", transactionID, resp.Status())
	}
	return nil
}
