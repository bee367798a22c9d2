package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Claims is the payload carried by a credential token.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed credential tokens issued by the external
// account system. The coordinator never issues production tokens itself;
// Sign exists for tests and local tooling.
type Verifier struct {
	secret []byte
}

var _ interfaces.TokenVerifier = (*Verifier)(nil)

// NewVerifier creates a verifier for tokens signed with the shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token and returns the identity it attests.
// Any parse, signature, expiry or shape problem collapses to
// interfaces.ErrInvalidToken; callers never learn why a credential failed.
func (v *Verifier) Verify(tokenString string) (types.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, interfaces.ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return types.Identity{}, interfaces.ErrInvalidToken
	}

	if !types.IsValidUserID(claims.UserID) || !types.IsValidRole(claims.Role) {
		return types.Identity{}, interfaces.ErrInvalidToken
	}

	return types.Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// Sign creates a token attesting the given identity, valid for ttl.
func (v *Verifier) Sign(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
