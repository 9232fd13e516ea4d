package appstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"entitlement-service/internal/models"
	"entitlement-service/internal/util"

	"github.com/awa/go-iap/appstore"
	"go.uber.org/zap"
)

// ReceiptVerifier is the authenticity gate for transaction envelopes. It
// is stateless: each call round-trips the signed payload to Apple's
// verification endpoint and unwraps the matching transaction. No envelope
// reaches the entitlement store without passing here.
type ReceiptVerifier struct {
	client       *appstore.Client
	sharedSecret string
	logger       *zap.Logger
}

// NewReceiptVerifier creates a verifier backed by the App Store receipt
// verification endpoint. In the sandbox environment all verification
// traffic goes straight to the sandbox host instead of relying on the
// production endpoint's 21007 fallback.
func NewReceiptVerifier(sharedSecret, environment string) *ReceiptVerifier {
	client := appstore.New()
	if environment == "sandbox" {
		client.ProductionURL = appstore.SandboxURL
	}

	return &ReceiptVerifier{
		client:       client,
		sharedSecret: sharedSecret,
		logger:       util.GetLogger(),
	}
}

// Verify checks the envelope's authenticity and returns the unwrapped
// transaction, or models.ErrVerificationFailed
func (v *ReceiptVerifier) Verify(ctx context.Context, signed models.SignedTransaction) (*models.Transaction, error) {
	if signed.Payload == "" {
		return nil, fmt.Errorf("%w: empty payload for transaction %s",
			models.ErrVerificationFailed, signed.TransactionID)
	}

	req := appstore.IAPRequest{
		ReceiptData:            signed.Payload,
		Password:               v.sharedSecret,
		ExcludeOldTransactions: true,
	}

	var resp appstore.IAPResponse
	if err := v.client.Verify(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrVerificationFailed, err)
	}

	if resp.Status != 0 {
		if err := appstore.HandleError(resp.Status); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrVerificationFailed, err)
		}
		return nil, fmt.Errorf("%w: receipt status %d", models.ErrVerificationFailed, resp.Status)
	}

	inApp := findReceipt(resp, signed.TransactionID)
	if inApp == nil {
		return nil, fmt.Errorf("%w: transaction %s not present in verified receipt",
			models.ErrVerificationFailed, signed.TransactionID)
	}

	tx, err := toTransaction(*inApp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrVerificationFailed, err)
	}

	if tx.ProductID != signed.ProductID {
		v.logger.Warn("Envelope product id does not match verified receipt",
			zap.String("claimed", signed.ProductID),
			zap.String("verified", tx.ProductID))
	}

	return tx, nil
}

// findReceipt locates the envelope's transaction in the verified receipt,
// preferring the latest receipt info over the embedded receipt.
func findReceipt(resp appstore.IAPResponse, transactionID string) *appstore.InApp {
	for i := range resp.LatestReceiptInfo {
		if resp.LatestReceiptInfo[i].TransactionID == transactionID {
			return &resp.LatestReceiptInfo[i]
		}
	}
	for i := range resp.Receipt.InApp {
		if resp.Receipt.InApp[i].TransactionID == transactionID {
			return &resp.Receipt.InApp[i]
		}
	}
	return nil
}

func toTransaction(inApp appstore.InApp) (*models.Transaction, error) {
	purchasedAt, err := parseMillis(inApp.PurchaseDateMS)
	if err != nil {
		return nil, fmt.Errorf("bad purchase date %q: %v", inApp.PurchaseDateMS, err)
	}

	tx := &models.Transaction{
		ID:           inApp.TransactionID,
		OriginalID:   string(inApp.OriginalTransactionID),
		ProductID:    inApp.ProductID,
		PurchaseDate: purchasedAt,
	}

	if inApp.CancellationDateMS != "" {
		revokedAt, err := parseMillis(inApp.CancellationDateMS)
		if err != nil {
			return nil, fmt.Errorf("bad cancellation date %q: %v", inApp.CancellationDateMS, err)
		}
		tx.RevocationDate = &revokedAt
	}

	return tx, nil
}

func parseMillis(ms string) (time.Time, error) {
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(n).UTC(), nil
}
