package auth

// Scopes understood by the alert API.
const (
	ScopeAlertsRead  = "alerts:read"
	ScopeAlertsWrite = "alerts:write"
)
