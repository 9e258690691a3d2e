package auth

// Known OAuth scopes used by the progress service.
const (
	ScopeProgressWrite = "progress:write"
	ScopeProgressRead  = "progress:read"
)
