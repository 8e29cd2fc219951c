package svctoken

import (
	"strings"
	"testing"
	"time"
)

func TestMintAndVerifyRoundTrip(t *testing.T) {
	m := New([]byte("test-secret"), 5*time.Minute)
	token, err := m.Mint()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Verify(token); err != nil {
		t.Fatalf("expected valid token, got: %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := New([]byte("test-secret"), time.Second)
	base := time.Now()
	m.now = func() time.Time { return base }

	token, err := m.Mint()
	if err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return base.Add(10 * time.Second) }
	if err := m.Verify(token); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m1 := New([]byte("secret-one"), 5*time.Minute)
	m2 := New([]byte("secret-two"), 5*time.Minute)

	token, err := m1.Mint()
	if err != nil {
		t.Fatal(err)
	}
	if err := m2.Verify(token); err == nil {
		t.Fatal("expected verification to fail with mismatched secret")
	}
}

func TestAuthHeaderFormat(t *testing.T) {
	m := New([]byte("test-secret"), 5*time.Minute)
	name, value, err := m.AuthHeader()
	if err != nil {
		t.Fatal(err)
	}
	if name != "Authorization" {
		t.Errorf("expected Authorization header, got %s", name)
	}
	if !strings.HasPrefix(value, "Bearer ") {
		t.Errorf("expected Bearer prefix, got %s", value)
	}
}

func TestExtractBearer(t *testing.T) {
	token, err := ExtractBearer("Bearer abc.def.ghi")
	if err != nil {
		t.Fatal(err)
	}
	if token != "abc.def.ghi" {
		t.Errorf("expected abc.def.ghi, got %s", token)
	}
}

func TestExtractBearerRejectsMalformedHeader(t *testing.T) {
	if _, err := ExtractBearer("Basic dXNlcjpwYXNz"); err == nil {
		t.Fatal("expected error for non-bearer header")
	}
}

func TestAuthHeaderReusesCachedTokenUntilNearExpiry(t *testing.T) {
	m := New([]byte("test-secret"), time.Hour)
	base := time.Now()
	m.now = func() time.Time { return base }

	_, first, err := m.AuthHeader()
	if err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return base.Add(30 * time.Minute) }
	_, second, err := m.AuthHeader()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("expected cached token to be reused well before expiry")
	}

	m.now = func() time.Time { return base.Add(59*time.Minute + 30*time.Second) }
	_, third, err := m.AuthHeader()
	if err != nil {
		t.Fatal(err)
	}
	if third == second {
		t.Errorf("expected a fresh token once within 60s of expiry")
	}
}

func TestInvalidateForcesRemint(t *testing.T) {
	m := New([]byte("test-secret"), time.Hour)
	base := time.Now()
	m.now = func() time.Time { return base }

	_, first, err := m.AuthHeader()
	if err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return base.Add(time.Second) }
	m.Invalidate()
	_, second, err := m.AuthHeader()
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Errorf("expected Invalidate to force a new token")
	}
}
