package credentials

// Pair holds the bearer access token and the refresh token that can be
// exchanged for a new one once the access token expires. A Pair is always
// replaced as a whole, never field by field.
type Pair struct {
	// AccessToken is the short-lived bearer credential sent with each
	// authenticated request.
	AccessToken string `json:"access_token"`

	// RefreshToken is the longer-lived credential sent to the refresh
	// endpoint. May be empty for sessions that cannot be refreshed.
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Empty reports whether the pair carries no credentials at all.
func (p Pair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Store owns a single credential pair. After construction, only the session
// client's refresh operation calls Set; everything else is a reader.
type Store interface {
	Get() (Pair, error)
	Set(pair Pair) error
	Clear() error
}
