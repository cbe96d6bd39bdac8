package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newHSManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Issuer:        "schoolauth",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestCreateAccessCarriesIdentity(t *testing.T) {
	m := newHSManager(t)

	token, err := m.CreateAccess("42", "alice")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID != "42" || claims.Username != "alice" {
		t.Fatalf("unexpected identity claims: %+v", claims)
	}
	if claims.IsRefreshToken {
		t.Fatal("access token must not carry refresh flag")
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
	if !claims.ExpiresAt.Time.After(claims.IssuedAt.Time) {
		t.Fatal("expiry must postdate issuance")
	}
}

func TestIssuedTimeHasMillisecondPrecision(t *testing.T) {
	m := newHSManager(t)

	before := time.Now().UnixMilli()
	token, err := m.CreateRefresh("42", "alice")
	if err != nil {
		t.Fatalf("create refresh: %v", err)
	}
	after := time.Now().UnixMilli()
	claims, err := m.ParseRefresh(token)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if claims.IssuedAtMillis < before || claims.IssuedAtMillis > after {
		t.Fatalf("iatMs %d outside [%d, %d]", claims.IssuedAtMillis, before, after)
	}
	if got := claims.IssuedTime().UnixMilli(); got != claims.IssuedAtMillis {
		t.Fatalf("IssuedTime = %d, want %d", got, claims.IssuedAtMillis)
	}
	if claims.IssuedAt.Time.Unix() != claims.IssuedAtMillis/1000 {
		t.Fatal("iat and iatMs disagree on the second")
	}

	legacy := &Claims{RegisteredClaims: gjwt.RegisteredClaims{IssuedAt: gjwt.NewNumericDate(time.Unix(100, 0))}}
	if !legacy.IssuedTime().Equal(time.Unix(100, 0)) {
		t.Fatalf("expected iat fallback, got %v", legacy.IssuedTime())
	}
	if !(&Claims{}).IssuedTime().IsZero() {
		t.Fatal("claims without iat must report the zero time")
	}
}

func TestRefreshTokenKindIsEnforced(t *testing.T) {
	m := newHSManager(t)

	access, err := m.CreateAccess("7", "bob")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	refresh, err := m.CreateRefresh("7", "bob")
	if err != nil {
		t.Fatalf("create refresh: %v", err)
	}

	if _, err := m.ParseAccess(refresh); !errors.Is(err, ErrWrongTokenKind) {
		t.Fatalf("expected refresh token rejected as access, got %v", err)
	}
	if _, err := m.ParseRefresh(access); !errors.Is(err, ErrWrongTokenKind) {
		t.Fatalf("expected access token rejected as refresh, got %v", err)
	}

	claims, err := m.ParseRefresh(refresh)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if got := claims.Remaining(time.Now()); got <= 15*time.Minute {
		t.Fatalf("refresh lifetime should exceed access lifetime, got %v", got)
	}
}

func TestTwoTokensForSameUserDiffer(t *testing.T) {
	m := newHSManager(t)
	a, _ := m.CreateAccess("1", "u")
	b, _ := m.CreateAccess("1", "u")
	if a == b {
		t.Fatal("tokens minted in the same second must differ")
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{UserID: "1", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseRejectsTamperedSignature(t *testing.T) {
	m := newHSManager(t)
	token, _ := m.CreateAccess("1", "u")

	other, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("ffffffffffffffffffffffffffffffff"), Issuer: "schoolauth"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := other.ParseAccess(token); err == nil {
		t.Fatal("expected signature from a different secret to fail")
	}
}

func TestParseRequiresExpiry(t *testing.T) {
	m := newHSManager(t)
	claims := Claims{UserID: "1", RegisteredClaims: gjwt.RegisteredClaims{Issuer: "schoolauth"}}
	token, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}

func TestParseIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "schoolauth",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, err := m.CreateAccess("u", "name")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	sign := func(c Claims) string {
		s, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		return s
	}
	base := func(iss, aud string, exp time.Duration) Claims {
		return Claims{UserID: "u", RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    iss,
			Audience:  gjwt.ClaimStrings{aud},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(exp)),
			IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}}
	}

	cases := []struct {
		name    string
		claims  Claims
		wantErr bool
	}{
		{"wrong issuer", base("other", "api", time.Minute), true},
		{"wrong audience", base("schoolauth", "other", time.Minute), true},
		{"expired within leeway", base("schoolauth", "api", -15*time.Second), false},
		{"expired beyond leeway", base("schoolauth", "api", -2*time.Minute), true},
	}
	for _, tc := range cases {
		_, err := m.ParseAccess(sign(tc.claims))
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestParseUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{UserID: "1", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	bad, _ := tok.SignedString(priv1)
	if _, err := m.ParseAccess(bad); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	good, err := m.CreateAccess("1", "u")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 secret to be rejected")
	}
	if _, err := NewManager(Config{AccessTTL: time.Hour, RefreshTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: testSecret}); err == nil {
		t.Fatal("expected refresh TTL shorter than access TTL to be rejected")
	}
}

func TestParseUnverifiedExpiry(t *testing.T) {
	m := newHSManager(t)
	token, _ := m.CreateAccess("1", "u")
	exp, ok := m.ParseUnverifiedExpiry(token)
	if !ok {
		t.Fatal("expected expiry to be extracted")
	}
	if exp.Before(time.Now()) {
		t.Fatalf("unexpected expiry %v", exp)
	}
	if _, ok := m.ParseUnverifiedExpiry("garbage"); ok {
		t.Fatal("expected garbage to yield no expiry")
	}
}
