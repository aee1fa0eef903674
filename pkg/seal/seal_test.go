package seal

import (
	"bytes"
	"context"
	"testing"

	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/header"
	"github.com/rayozzie/pixvault/pkg/rng"
	"github.com/rayozzie/pixvault/pkg/trace"
)

func testContext() context.Context {
	return trace.WithContext(context.Background(), trace.NewTracer("TEST", trace.LogLevelVerbose))
}

var plain = bytes.Repeat([]byte("PK\x03\x04 archive bytes "), 1000)

func TestSealOpenRoundTrip(t *testing.T) {
	ctx := testContext()
	sealed, tag, err := Seal(ctx, plain, "correct horse", rng.NewTestRNG(0))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if tag != header.TagEncrypted {
		t.Errorf("Expected tag %q, got %q", header.TagEncrypted, tag)
	}
	for i := 0; i < SaltSize; i++ {
		if sealed[i] != byte(i) {
			t.Fatalf("Expected salt to come from the RNG, got %x", sealed[:SaltSize])
		}
	}
	if bytes.Contains(sealed, []byte("archive bytes")) {
		t.Errorf("Sealed payload contains plaintext")
	}

	opened, err := Open(ctx, sealed, tag, "correct horse")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Errorf("Round trip mismatch")
	}
}

func TestSealWithoutPassword(t *testing.T) {
	ctx := testContext()
	out, tag, err := Seal(ctx, plain, "", rng.NewTestRNG(0))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if tag != header.TagNone || !bytes.Equal(out, plain) {
		t.Errorf("Expected untouched payload tagged none, got tag %q", tag)
	}
	opened, err := Open(ctx, out, header.TagNone, "ignored")
	if err != nil || !bytes.Equal(opened, plain) {
		t.Errorf("Expected passthrough on open, got %v", err)
	}
	if _, err := Open(ctx, out, header.TagUnknown, ""); err != nil {
		t.Errorf("Expected unknown tag to be treated as clear, got %v", err)
	}
}

func TestSaltsDiffer(t *testing.T) {
	ctx := testContext()
	r := rng.NewDefault()
	a, _, err := Seal(ctx, plain, "pw", r)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	b, _, err := Seal(ctx, plain, "pw", r)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Equal(a[:SaltSize], b[:SaltSize]) || bytes.Equal(a, b) {
		t.Errorf("Expected distinct salts and ciphertexts")
	}
}

func TestOpenFailures(t *testing.T) {
	ctx := testContext()
	sealed, tag, err := Seal(ctx, plain, "secret", rng.NewTestRNG(9))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)/2] ^= 0x01

	badSalt := append([]byte(nil), sealed...)
	badSalt[0] ^= 0x01

	tests := []struct {
		name     string
		payload  []byte
		password string
		want     failure.Kind
	}{
		{"missing password", sealed, "", failure.PasswordRequired},
		{"wrong password", sealed, "Secret", failure.AuthenticationFailed},
		{"tampered ciphertext", tampered, "secret", failure.AuthenticationFailed},
		{"tampered salt", badSalt, "secret", failure.AuthenticationFailed},
		{"truncated", sealed[:SaltSize-1], "secret", failure.CorruptPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(ctx, tt.payload, tag, tt.password)
			if !failure.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDeriveKey(t *testing.T) {
	salt := make([]byte, SaltSize)
	a := DeriveKey("pw", salt)
	b := DeriveKey("pw", salt)
	c := DeriveKey("pw", append([]byte{1}, salt[1:]...))
	if len(a) != KeySize || !bytes.Equal(a, b) || bytes.Equal(a, c) {
		t.Errorf("Expected a deterministic %d-byte key that depends on the salt", KeySize)
	}
}
