package security

import (
	"testing"
	"time"
)

func TestPasswordRoundTrip(t *testing.T) {
	params := Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}
	hash, err := HashPasswordWithParams("correct horse", params)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := VerifyPassword("correct horse", hash)
	if err != nil || !ok {
		t.Fatalf("verify correct password = %v, %v", ok, err)
	}
	if ok, _ := VerifyPassword("wrong", hash); ok {
		t.Fatal("wrong password accepted")
	}
}

func TestAccessToken(t *testing.T) {
	token, exp, err := GenerateAccessToken("secret", "u1", "admin", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry %v already passed", exp)
	}

	claims, err := ParseAccessToken(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "u1" || claims.Role != "admin" {
		t.Fatalf("claims = %+v", claims)
	}

	if _, err := ParseAccessToken(token, "other"); err == nil {
		t.Fatal("token accepted with wrong secret")
	}

	expired, _, _ := GenerateAccessToken("secret", "u1", "user", -time.Minute)
	if _, err := ParseAccessToken(expired, "secret"); err == nil {
		t.Fatal("expired token accepted")
	}
}
