package models

import "errors"

// Error taxonomy for the entitlement subsystem. Verification failures are
// swallowed at the point of detection during ledger replays; everything
// else propagates to the orchestrator as a typed result.
var (
	// ErrNotConfigured means no product identifiers were configured.
	// Fatal to the subsystem until configuration is fixed.
	ErrNotConfigured = errors.New("entitlements: no product identifiers configured")

	// ErrCatalogFetch is a transient store/network failure during a
	// catalog load. Retryable.
	ErrCatalogFetch = errors.New("entitlements: catalog fetch failed")

	// ErrVerificationFailed means a transaction envelope did not pass the
	// platform authenticity check. Never retried, always dropped.
	ErrVerificationFailed = errors.New("entitlements: transaction verification failed")

	// ErrProductNotFound means the caller asked to purchase an identifier
	// outside the currently loaded catalog.
	ErrProductNotFound = errors.New("entitlements: product not in catalog")

	// ErrPurchaseInProgress rejects a second concurrent purchase attempt
	// for the same product identifier.
	ErrPurchaseInProgress = errors.New("entitlements: purchase already in progress for product")

	// ErrPurchaseFailed is a terminal purchase failure, including the case
	// where the platform reported success but verification did not pass.
	ErrPurchaseFailed = errors.New("entitlements: purchase failed")

	// ErrUnknownPurchaseOutcome means the platform returned neither
	// success, cancel nor pending. Surfaced, never treated as success.
	ErrUnknownPurchaseOutcome = errors.New("entitlements: unknown purchase outcome")

	// ErrRestoreFailed is a transient platform failure during the
	// historical ledger replay. Retryable.
	ErrRestoreFailed = errors.New("entitlements: restore failed")
)
