package seal

import (
	"bytes"
	"errors"
	"testing"
)

func testSecret(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := New(testSecret('a'))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	plain := []byte("totp-seed-bytes-0001")

	sealed, err := s.Seal(plain, "p1")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Fatal("sealed value must not contain the plaintext")
	}
	got, err := s.Open(sealed, "p1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("expected %q, got %q", plain, got)
	}
}

func TestOpenRejectsWrongLabelKeyOrTamper(t *testing.T) {
	s, _ := New(testSecret('a'))
	other, _ := New(testSecret('b'))
	sealed, err := s.Seal([]byte("seed"), "p1")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if _, err := s.Open(sealed, "p2"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen for wrong label, got %v", err)
	}
	if _, err := other.Open(sealed, "p1"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen for wrong key, got %v", err)
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := s.Open(tampered, "p1"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen for tampered value, got %v", err)
	}
	if _, err := s.Open([]byte{1, 2}, "p1"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen for short value, got %v", err)
	}
}

func TestNewRejectsShortSecret(t *testing.T) {
	if _, err := New([]byte("short")); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}
