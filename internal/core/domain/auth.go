package domain

// TokenClaims is the identity carried by a validated stream authorization
// token.
type TokenClaims struct {
	UserID   UserID
	Username string
}
