package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"voip-billing/internal/auth"
	"voip-billing/internal/billing"
	"voip-billing/internal/calls"
	"voip-billing/internal/ledger"
	"voip-billing/internal/rates"
	"voip-billing/internal/rbac"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Billing *billing.Service
	Ledger  *ledger.Service
}

// --- Auth ---

type loginRequest struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and role required"})
		return
	}
	if req.Role == rbac.RoleCustomer && req.AccountID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id required for customer tokens"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.AccountID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Rating ---

// PredictCost quotes a hypothetical call. Read-only; nothing is charged.
func (h Handlers) PredictCost(c *gin.Context) {
	destination := c.Query("destination")
	if destination == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "destination required"})
		return
	}
	minutes, err := strconv.ParseFloat(c.DefaultQuery("minutes", "1"), 64)
	if err != nil || minutes < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "minutes must be a non-negative number"})
		return
	}

	p, err := h.Billing.PredictCost(c.Request.Context(), destination, minutes)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// --- Calls ---

// CallBillingBreakdown explains every charge posted against a call.
func (h Handlers) CallBillingBreakdown(c *gin.Context) {
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}

	bd, err := h.Billing.CallBillingBreakdown(c.Request.Context(), callID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	// Customers may only inspect their own calls.
	if aid, err := auth.AccountID(c.Request.Context()); err == nil && aid != bd.Session.AccountID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, bd)
}

// SettleCompletedCall charges a terminal call the live monitor never billed.
// RBAC: operator, finance or billing_bot.
func (h Handlers) SettleCompletedCall(c *gin.Context) {
	var rec billing.CompletedCall
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	bd, err := h.Billing.ChargeForCompletedCall(c.Request.Context(), rec)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bd)
}

// --- Accounts ---

func (h Handlers) GetAccountBalance(c *gin.Context) {
	accountID, ok := h.scopedAccountID(c)
	if !ok {
		return
	}

	acct, err := h.Ledger.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":   acct.ID,
		"balance":      acct.Balance,
		"credit_limit": acct.CreditLimit,
		"account_type": acct.Type,
		"status":       acct.Status,
	})
}

// GetAccountStatement lists the account's ledger entries, newest last.
func (h Handlers) GetAccountStatement(c *gin.Context) {
	accountID, ok := h.scopedAccountID(c)
	if !ok {
		return
	}

	entries, err := h.Ledger.Entries(c.Request.Context(), accountID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "entries": entries})
}

type adminCreditRequest struct {
	Amount         string `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AdminManualCredit posts a manual credit to an account.
// RBAC: finance or admin.
func (h Handlers) AdminManualCredit(c *gin.Context) {
	accountID := c.Param("account_id")
	if accountID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id required"})
		return
	}

	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive decimal"})
		return
	}
	if req.IdempotencyKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "idempotency_key required"})
		return
	}

	ref := ledger.Reference{Kind: ledger.RefManual, ID: req.IdempotencyKey, Qualifier: req.Reason}
	entry, err := h.Ledger.Credit(c.Request.Context(), accountID, amount, ledger.KindCredit, ref)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// scopedAccountID resolves the target account: customers are pinned to their
// token's account, staff pass it in the path.
func (h Handlers) scopedAccountID(c *gin.Context) (string, bool) {
	pathID := c.Param("account_id")
	tokenID, err := auth.AccountID(c.Request.Context())

	switch {
	case err == nil && pathID != "" && pathID != tokenID:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", false
	case err == nil:
		return tokenID, true
	case pathID != "":
		return pathID, true
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id required"})
		return "", false
	}
}

// abortWithError maps service sentinel errors onto HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rates.ErrRateNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, calls.ErrSessionNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrAccountInactive):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
