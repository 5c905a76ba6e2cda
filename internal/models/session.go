package models

// Session is the per-browser authentication state.
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user,omitempty"`
}

// HasAccessToken reports whether an access token is present.
func (s *Session) HasAccessToken() bool {
	return s != nil && s.AccessToken != ""
}
