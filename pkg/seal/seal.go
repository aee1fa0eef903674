// Package seal adds optional password protection to an archive payload.
//
// A sealed payload is a 16-byte random salt followed by a Tink streaming
// AEAD (AES-256-GCM-HKDF, 1 MiB segments) ciphertext. The key is derived
// from the password and salt with PBKDF2-HMAC-SHA256, and the salt is bound
// to the ciphertext as associated data.
package seal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/header"
	"github.com/rayozzie/pixvault/pkg/rng"
	"github.com/rayozzie/pixvault/pkg/trace"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/streamingaead"
	"github.com/tink-crypto/tink-go/v2/tink"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize   = 16
	KeySize    = 32
	Iterations = 100000

	segmentSize = 1 << 20
)

// Seal encrypts plain under password. An empty password leaves the payload
// untouched and tags it TagNone.
func Seal(ctx context.Context, plain []byte, password string, r rng.RNG) ([]byte, header.Tag, error) {
	log := trace.FromContext(ctx).WithPrefix("SEAL")

	if password == "" {
		log.Debugf("No password; payload stored in the clear")
		return plain, header.TagNone, nil
	}

	salt, err := rng.Bytes(ctx, r, SaltSize)
	if err != nil {
		err := failure.Wrap(failure.IOError, "seal", err, "failed to generate salt")
		log.Error(err)
		return nil, "", err
	}

	aead, err := newStreamingAEAD(password, salt)
	if err != nil {
		err := failure.Wrap(failure.IOError, "seal", err, "failed to create cipher")
		log.Error(err)
		return nil, "", err
	}

	var out bytes.Buffer
	out.Grow(SaltSize + len(plain) + len(plain)/segmentSize*16 + 64)
	out.Write(salt)

	w, err := aead.NewEncryptingWriter(&out, salt)
	if err != nil {
		err := failure.Wrap(failure.IOError, "seal", err, "failed to start encryption")
		log.Error(err)
		return nil, "", err
	}
	if _, err := w.Write(plain); err != nil {
		err := failure.Wrap(failure.IOError, "seal", err, "encryption failed")
		log.Error(err)
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		err := failure.Wrap(failure.IOError, "seal", err, "encryption failed")
		log.Error(err)
		return nil, "", err
	}

	log.Debugf("Sealed %d bytes into %d", len(plain), out.Len())
	return out.Bytes(), header.TagEncrypted, nil
}

// Open reverses Seal. Payloads not tagged TagEncrypted are returned as is.
func Open(ctx context.Context, payload []byte, tag header.Tag, password string) ([]byte, error) {
	log := trace.FromContext(ctx).WithPrefix("SEAL")

	if !tag.Encrypted() {
		return payload, nil
	}
	if password == "" {
		err := failure.New(failure.PasswordRequired, "open", "the raster is password protected")
		log.Error(err)
		return nil, err
	}
	if len(payload) < SaltSize {
		err := failure.New(failure.CorruptPayload, "open", "encrypted payload is shorter than its salt").
			WithDetail("len=%d", len(payload))
		log.Error(err)
		return nil, err
	}

	salt := payload[:SaltSize]
	aead, err := newStreamingAEAD(password, salt)
	if err != nil {
		err := failure.Wrap(failure.IOError, "open", err, "failed to create cipher")
		log.Error(err)
		return nil, err
	}

	r, err := aead.NewDecryptingReader(bytes.NewReader(payload[SaltSize:]), salt)
	if err != nil {
		err := failure.Wrap(failure.AuthenticationFailed, "open", err, "wrong password or damaged payload")
		log.Error(err)
		return nil, err
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		err := failure.Wrap(failure.AuthenticationFailed, "open", err, "wrong password or damaged payload")
		log.Error(err)
		return nil, err
	}

	log.Debugf("Opened %d bytes into %d", len(payload), len(plain))
	return plain, nil
}

// DeriveKey stretches password with salt.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New)
}

func newStreamingAEAD(password string, salt []byte) (tink.StreamingAEAD, error) {
	key := DeriveKey(password, salt)
	defer clear(key)

	h, err := keysetFromKey(key)
	if err != nil {
		return nil, err
	}
	return streamingaead.New(h)
}

// keysetFromKey wraps a raw key in a single-key AesGcmHkdfStreaming keyset.
func keysetFromKey(key []byte) (*keyset.Handle, error) {
	value := base64.StdEncoding.EncodeToString(streamingKeyValue(key))
	js := fmt.Sprintf(`{
		"primaryKeyId": 1,
		"key": [{
			"keyData": {
				"typeUrl": "type.googleapis.com/google.crypto.tink.AesGcmHkdfStreamingKey",
				"keyMaterialType": "SYMMETRIC",
				"value": %q
			},
			"outputPrefixType": "RAW",
			"keyId": 1,
			"status": "ENABLED"
		}]
	}`, value)
	return insecurecleartextkeyset.Read(keyset.NewJSONReader(strings.NewReader(js)))
}

// streamingKeyValue serializes an AesGcmHkdfStreamingKey message: version 0,
// params {segment size, derived key size, HKDF hash SHA256} and the key.
func streamingKeyValue(key []byte) []byte {
	const hashSHA256 = 3

	params := []byte{0x08}
	params = append(params, uvarint(segmentSize)...)
	params = append(params, 0x10)
	params = append(params, uvarint(KeySize)...)
	params = append(params, 0x18)
	params = append(params, uvarint(hashSHA256)...)

	out := []byte{0x08, 0x00}
	out = append(out, 0x12, byte(len(params)))
	out = append(out, params...)
	out = append(out, 0x1a, byte(len(key)))
	out = append(out, key...)
	return out
}

func uvarint(v uint32) []byte {
	var buf []byte
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}
