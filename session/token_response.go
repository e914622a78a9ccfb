package session

// Machine-readable reason codes carried in the body of a 401 response.
// Only ReasonTokenExpired triggers a refresh attempt; every other code is
// treated as terminal immediately.
const (
	ReasonTokenExpired = "TOKEN_EXPIRED"
	ReasonInvalidToken = "INVALID_TOKEN"
	ReasonTokenRevoked = "TOKEN_REVOKED"
)

// TokenResponse represents the response from the token refresh endpoint.
// This follows the standard OAuth2 token endpoint response format (RFC 6749).
type TokenResponse struct {
	// AccessToken is the new bearer token used to access protected resources.
	AccessToken *string `json:"access_token,omitempty"`

	// TokenType indicates how to use the access token (always "bearer").
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token. This is a
	// hint - the actual expiration is in the JWT's "exp" claim.
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is a replacement refresh token. Optional: when the server
	// omits it, the previously stored refresh token remains in use.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// Scope indicates the access token's granted permissions.
	Scope string `json:"scope,omitempty"`
}

// authFailure is the machine-readable body of a 401 response.
type authFailure struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
