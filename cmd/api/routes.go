package main

import (
	"voip-billing/internal/auth"
	"voip-billing/internal/httpapi"
	"voip-billing/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, events httpapi.CallEvents, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Switch event bridge (public to the PBX network segment).
	// NOTE: protect with a shared secret or mTLS at the ingress in production.
	webhooks := r.Group("/webhooks/switch")
	{
		webhooks.POST("/call-started", events.CallStarted)
		webhooks.POST("/call-status", events.CallStatus)
		webhooks.POST("/call-ended", events.CallEnded)
	}

	// Token issuance.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			aid, _ := auth.AccountID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "account_id": aid, "role": role})
		})

		// RATES
		v1.GET("/rates/predict", h.PredictCost)

		// ACCOUNTS: customers are pinned to their own account by token scope.
		accounts := v1.Group("/accounts")
		accounts.Use(rbac.RequireAnyRole(rbac.RoleCustomer, rbac.RoleSupport, rbac.RoleFinance, rbac.RoleOperator))
		{
			accounts.GET("/:account_id/balance", h.GetAccountBalance)
			accounts.GET("/:account_id/entries", h.GetAccountStatement)
		}

		// CALLS
		callsGroup := v1.Group("/calls")
		{
			callsGroup.GET("/:call_id/billing",
				rbac.RequireAnyRole(rbac.RoleCustomer, rbac.RoleSupport, rbac.RoleFinance, rbac.RoleOperator),
				h.CallBillingBreakdown)

			// CDR settlement fallback for calls the live monitor never billed.
			callsGroup.POST("/settle",
				rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleFinance, rbac.RoleBillingBot),
				h.SettleCompletedCall)
		}

		// ADMIN
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleFinance))
		{
			admin.POST("/accounts/:account_id/credit", h.AdminManualCredit)
		}
	}
}
