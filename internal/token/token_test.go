package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := NewCodec([]byte("test-secret"), opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestNewCodec_RejectsEmptySecret(t *testing.T) {
	if _, err := NewCodec(nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	subjects := []string{"ana@x.com", "admin@example.org", "user+tag@sub.example.com"}
	kinds := []Kind{KindAccess, KindRefresh}
	ttls := []time.Duration{time.Minute, 15 * time.Minute, 7 * 24 * time.Hour}

	for _, s := range subjects {
		for _, k := range kinds {
			for _, ttl := range ttls {
				tok, exp, err := codec.Issue(s, k, ttl)
				if err != nil {
					t.Fatalf("Issue(%s, %s, %v): %v", s, k, ttl, err)
				}
				if time.Until(exp) <= 0 {
					t.Errorf("expected future expiry, got %v", exp)
				}

				claims, err := codec.Verify(tok, k)
				if err != nil {
					t.Fatalf("Verify: %v", err)
				}
				if claims.Subject != s || claims.Email != s {
					t.Errorf("subject mismatch: got %q/%q want %q", claims.Subject, claims.Email, s)
				}
				if claims.Kind != k {
					t.Errorf("kind mismatch: got %s want %s", claims.Kind, k)
				}
			}
		}
	}
}

func TestIssue_DistinctTokensForSameSubject(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	codec := newTestCodec(t, WithClock(clock.Now))

	a, _, err := codec.Issue("ana@x.com", KindRefresh, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := codec.Issue("ana@x.com", KindRefresh, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("tokens minted at the same instant must differ")
	}
}

func TestIssue_RejectsBadInput(t *testing.T) {
	codec := newTestCodec(t)

	if _, _, err := codec.Issue("", KindAccess, time.Minute); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, _, err := codec.Issue("ana@x.com", KindAccess, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestVerify_Expired(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	codec := newTestCodec(t, WithClock(clock.Now))

	tok, _, err := codec.Issue("ana@x.com", KindAccess, 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	clock.t = clock.t.Add(14 * time.Minute)
	if _, err := codec.Verify(tok, KindAccess); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}

	clock.t = clock.t.Add(2 * time.Minute)
	_, err = codec.Verify(tok, KindAccess)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expected expiry reason, got %v", err)
	}
}

func TestVerify_WrongKind(t *testing.T) {
	codec := newTestCodec(t)

	access, _, _ := codec.Issue("ana@x.com", KindAccess, time.Minute)
	refresh, _, _ := codec.Issue("ana@x.com", KindRefresh, time.Hour)

	if _, err := codec.Verify(access, KindRefresh); !errors.Is(err, ErrWrongKind) || !errors.Is(err, ErrInvalid) {
		t.Errorf("access token accepted as refresh: %v", err)
	}
	if _, err := codec.Verify(refresh, KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Errorf("refresh token accepted as access: %v", err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	codec := newTestCodec(t)
	other, _ := NewCodec([]byte("other-secret"))
	otherIssuer := newTestCodec(t, WithIssuer("someone-else"))

	valid, _, _ := codec.Issue("ana@x.com", KindAccess, time.Minute)
	foreign, _, _ := other.Issue("ana@x.com", KindAccess, time.Minute)
	wrongIssuer, _, _ := otherIssuer.Issue("ana@x.com", KindAccess, time.Minute)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Email: "ana@x.com",
		Kind:  KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ana@x.com",
			Issuer:    defaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Email: "ana@x.com",
		Kind:  KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "ana@x.com",
			Issuer:  defaultIssuer,
		},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", foreign},
		{"wrong issuer", wrongIssuer},
		{"tampered payload", tampered},
		{"alg none", unsigned},
		{"no expiry", noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Verify(tt.token, KindAccess); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestReason(t *testing.T) {
	codec := newTestCodec(t)
	_, err := codec.Verify("not-a-jwt", KindAccess)
	if err == nil {
		t.Fatal("expected error")
	}

	reason := Reason(err)
	if strings.HasPrefix(reason, ErrInvalid.Error()) {
		t.Errorf("reason should not repeat the generic prefix: %q", reason)
	}
	if reason == "" {
		t.Error("expected a non-empty reason")
	}
	if Reason(nil) != "" {
		t.Error("nil error has no reason")
	}
}
