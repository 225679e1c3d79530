package engine

import "errors"

// Settlement and lifecycle precondition failures. Every failure aborts the
// whole operation with no partial effect; there is no retry inside the core.
var (
	ErrUnauthorized              = errors.New("caller identity does not match required role")
	ErrAuthorizationPaused       = errors.New("authorization is paused")
	ErrAuthorizationExpired      = errors.New("authorization is expired")
	ErrDelegationRevoked         = errors.New("delegation is revoked")
	ErrDelegationExpired         = errors.New("delegation is expired")
	ErrPerSpendLimitExceeded     = errors.New("amount exceeds authorization per-spend limit")
	ErrDelegationLimitExceeded   = errors.New("amount exceeds delegation spending cap")
	ErrInsufficientVaultBalance  = errors.New("custody account balance cannot cover amount")
	ErrInsufficientSourceBalance = errors.New("source account balance cannot cover amount")
)
