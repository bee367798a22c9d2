package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

func TestVerifier_SignVerifyRoundTrip(t *testing.T) {
	verifier := NewVerifier("test-secret")

	token, err := verifier.Sign("teacher1", types.RoleTeacher, time.Hour)
	if err != nil {
		t.Fatalf("Sign should succeed: %v", err)
	}

	identity, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify should succeed: %v", err)
	}
	if identity.UserID != "teacher1" || identity.Role != types.RoleTeacher {
		t.Errorf("Unexpected identity: %+v", identity)
	}
}

func TestVerifier_RejectsGarbage(t *testing.T) {
	verifier := NewVerifier("test-secret")

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := verifier.Verify(token); !errors.Is(err, interfaces.ErrInvalidToken) {
			t.Errorf("Verify(%q) should fail with ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	issuer := NewVerifier("real-secret")
	verifier := NewVerifier("other-secret")

	token, err := issuer.Sign("student1", types.RoleStudent, time.Hour)
	if err != nil {
		t.Fatalf("Sign should succeed: %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, interfaces.ErrInvalidToken) {
		t.Errorf("Token signed with a different secret should fail, got %v", err)
	}
}

func TestVerifier_RejectsExpired(t *testing.T) {
	verifier := NewVerifier("test-secret")

	token, err := verifier.Sign("student1", types.RoleStudent, -time.Minute)
	if err != nil {
		t.Fatalf("Sign should succeed: %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, interfaces.ErrInvalidToken) {
		t.Errorf("Expired token should fail, got %v", err)
	}
}

func TestVerifier_RejectsUnsignedAlgorithm(t *testing.T) {
	verifier := NewVerifier("test-secret")

	claims := &Claims{
		UserID: "teacher1",
		Role:   types.RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Failed to build unsigned token: %v", err)
	}

	if _, err := verifier.Verify(unsigned); !errors.Is(err, interfaces.ErrInvalidToken) {
		t.Errorf("alg=none token should fail, got %v", err)
	}
}

func TestVerifier_RejectsMalformedClaims(t *testing.T) {
	verifier := NewVerifier("test-secret")

	cases := []struct {
		name   string
		userID string
		role   string
	}{
		{"empty user", "", types.RoleTeacher},
		{"bad characters", "user with spaces", types.RoleTeacher},
		{"unknown role", "teacher1", "admin"},
		{"empty role", "teacher1", ""},
	}

	for _, tc := range cases {
		token, err := verifier.Sign(tc.userID, tc.role, time.Hour)
		if err != nil {
			t.Fatalf("Sign should succeed for %s: %v", tc.name, err)
		}
		if _, err := verifier.Verify(token); !errors.Is(err, interfaces.ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", tc.name, err)
		}
	}
}
