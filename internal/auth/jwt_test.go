package auth

import (
	"errors"
	"testing"
	"time"

	raskol "github.com/eugener/raskol/internal"
	"github.com/eugener/raskol/internal/config"
)

func testCodec() *Codec {
	return NewCodec(config.JWTConfig{
		Secret:   "test-secret",
		Audience: "authenticated",
		Issuer:   "raskol",
	})
}

func TestMintVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	c := testCodec()
	token, err := c.Mint("alice", time.Hour, raskol.RoleHacker)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	id, err := c.Verify(token, time.Now())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UID != "alice" {
		t.Errorf("UID = %q, want alice", id.UID)
	}
	if id.Role != raskol.RoleHacker {
		t.Errorf("Role = %q, want HACKER", id.Role)
	}
	if !id.CanProxy() {
		t.Error("HACKER must be allowed to proxy")
	}
}

func TestMint_DefaultRole(t *testing.T) {
	t.Parallel()

	c := testCodec()
	token, err := c.Mint("bob", time.Hour, "")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	id, err := c.Verify(token, time.Now())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Role != raskol.RoleUser {
		t.Errorf("Role = %q, want USER", id.Role)
	}
	if id.CanProxy() {
		t.Error("USER must not be allowed to proxy")
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	c := testCodec()
	token, err := c.Mint("alice", -time.Minute, raskol.RoleHacker)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	_, err = c.Verify(token, time.Now())
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	if !errors.Is(err, raskol.ErrUnauthorized) {
		t.Fatalf("err = %v, must wrap ErrUnauthorized", err)
	}
}

func TestVerify_ExpiryUsesSuppliedClock(t *testing.T) {
	t.Parallel()

	c := testCodec()
	token, err := c.Mint("alice", time.Minute, raskol.RoleHacker)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// Valid right now, expired two minutes from now.
	if _, err := c.Verify(token, time.Now()); err != nil {
		t.Fatalf("Verify at mint time: %v", err)
	}
	if _, err := c.Verify(token, time.Now().Add(2*time.Minute)); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	c := testCodec()
	token, err := c.Mint("alice", time.Hour, raskol.RoleHacker)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	other := NewCodec(config.JWTConfig{Secret: "different", Audience: "authenticated", Issuer: "raskol"})
	if _, err := other.Verify(token, time.Now()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerify_WrongAudience(t *testing.T) {
	t.Parallel()

	minter := NewCodec(config.JWTConfig{Secret: "test-secret", Audience: "other-app", Issuer: "raskol"})
	token, err := minter.Mint("alice", time.Hour, raskol.RoleHacker)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := testCodec().Verify(token, time.Now()); !errors.Is(err, ErrWrongAudience) {
		t.Fatalf("err = %v, want ErrWrongAudience", err)
	}
}

func TestVerify_WrongIssuer(t *testing.T) {
	t.Parallel()

	minter := NewCodec(config.JWTConfig{Secret: "test-secret", Audience: "authenticated", Issuer: "somebody-else"})
	token, err := minter.Mint("alice", time.Hour, raskol.RoleHacker)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := testCodec().Verify(token, time.Now()); !errors.Is(err, ErrWrongIssuer) {
		t.Fatalf("err = %v, want ErrWrongIssuer", err)
	}
}

func TestVerify_Garbage(t *testing.T) {
	t.Parallel()

	if _, err := testCodec().Verify("not.a.jwt", time.Now()); !errors.Is(err, ErrBadFormat) {
		t.Fatalf("err = %v, want ErrBadFormat", err)
	}
}
