package interfaces

import "rollcall/pkg/types"

// TokenVerifier is the credential-verification boundary. Credential
// issuance lives outside this system; the coordinator only needs
// "token in, (userId, role) out".
type TokenVerifier interface {
	// Verify checks a signed credential token and returns the identity
	// it attests, or ErrInvalidToken.
	Verify(token string) (types.Identity, error)
}
