package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleCustomer   = "customer"
	RoleSupport    = "support"
	RoleOperator   = "operator"
	RoleFinance    = "finance"
	RoleAdmin      = "admin"
	RoleBillingBot = "billing_bot" // hidden role for the CDR settlement job
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleBillingBot }
