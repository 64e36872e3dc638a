package oidc

// Tokens is the result of a successful grant.
type Tokens struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Principal is the authenticated caller derived from an access token.
type Principal struct {
	Subject  string
	UserType string
}

func (p *Principal) IsAdmin() bool { return p != nil && p.UserType == "admin" }
