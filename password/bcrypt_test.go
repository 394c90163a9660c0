package password

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHashAndVerify(t *testing.T) {
	hasher, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	hash, err := hasher.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if ok, err := hasher.Verify("correct horse", hash); err != nil || !ok {
		t.Fatalf("expected verification to succeed, ok=%v err=%v", ok, err)
	}
	if ok, err := hasher.Verify("battery staple", hash); err != nil || ok {
		t.Fatalf("expected wrong password to fail, ok=%v err=%v", ok, err)
	}
	if _, err := hasher.Verify("x", "$argon2id$v=19$m=1,t=1,p=1$a$b"); !errors.Is(err, ErrMismatchedHash) {
		t.Fatalf("expected ErrMismatchedHash, got %v", err)
	}
}

func TestNewSelectsHasher(t *testing.T) {
	h, err := New(KindBcrypt, Config{}, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("New(bcrypt) error: %v", err)
	}
	if _, ok := h.(*Bcrypt); !ok {
		t.Fatalf("expected *Bcrypt, got %T", h)
	}
	h, err = New("", fastConfig(), 0)
	if err != nil {
		t.Fatalf("New(default) error: %v", err)
	}
	if _, ok := h.(*Argon2); !ok {
		t.Fatalf("expected *Argon2, got %T", h)
	}
	if _, err := New("scrypt", Config{}, 0); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}
