package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crewgate/crewgate/internal/accred"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService("test-secret")

	token, err := svc.GenerateToken("u-1", "approver")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error: %v", err)
	}
	if claims.Subject != "u-1" {
		t.Errorf("Subject = %q, want u-1", claims.Subject)
	}
	if claims.Role != "approver" {
		t.Errorf("Role = %q, want approver", claims.Role)
	}
}

func TestGenerateToken_EmptySubject(t *testing.T) {
	svc := NewJWTService("test-secret")
	if _, err := svc.GenerateToken("", "editor"); !errors.Is(err, ErrEmptySubject) {
		t.Errorf("error = %v, want ErrEmptySubject", err)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	svc := NewJWTService("test-secret")
	other := NewJWTService("other-secret")

	token, err := svc.GenerateToken("u-1", "editor")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateToken_Expired(t *testing.T) {
	svc := NewJWTServiceWithRotationAndLeeway("test-secret", "", 0)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Role: "editor",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("error = %v, want ErrExpiredToken", err)
	}
}

func TestValidateToken_RejectsWrongAlgorithm(t *testing.T) {
	svc := NewJWTService("test-secret")

	// alg=none is the classic downgrade attack.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateToken_DualKeyRotation(t *testing.T) {
	old := NewJWTService("old-secret")
	token, err := old.GenerateToken("u-1", "admin")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	// During rotation, tokens signed with the previous secret still validate.
	rotated := NewJWTServiceWithRotation("new-secret", "old-secret")
	claims, err := rotated.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() during rotation: %v", err)
	}
	if claims.Subject != "u-1" {
		t.Errorf("Subject = %q", claims.Subject)
	}

	// After rotation completes, old tokens stop validating.
	done := NewJWTServiceWithRotation("new-secret", "")
	if _, err := done.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken after rotation window closes", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc := NewJWTService("test-secret")

	var gotActor accred.Actor
	handler := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			t.Error("no actor in context behind auth middleware")
		}
		gotActor = actor
		w.WriteHeader(http.StatusOK)
	}))

	// Missing token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accreditations", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	// Garbage token.
	req := httptest.NewRequest(http.MethodGet, "/accreditations", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	// Valid token resolves to an actor.
	token, err := svc.GenerateToken("scanner-3", "scanner")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/accreditations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", rec.Code)
	}
	if gotActor.ID != "scanner-3" || gotActor.Role != accred.RoleScanner {
		t.Errorf("actor = %+v", gotActor)
	}
}
