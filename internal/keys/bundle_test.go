package keys_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/calvinalkan/syncstore/internal/keys"
)

func Test_Encrypt_Decrypt_Round_Trips(t *testing.T) {
	t.Parallel()

	b, err := keys.NewRandomBundle()
	if err != nil {
		t.Fatalf("new bundle: %v", err)
	}

	plaintext := []byte(`{"name":"a"}`)

	ciphertext, iv, err := b.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := b.Decrypt(ciphertext, iv)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip = %q, want %q", got, plaintext)
	}
}

func Test_Encrypt_Uses_Fresh_IV_Per_Call(t *testing.T) {
	t.Parallel()

	b, err := keys.NewRandomBundle()
	if err != nil {
		t.Fatalf("new bundle: %v", err)
	}

	_, iv1, err := b.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	_, iv2, err := b.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if bytes.Equal(iv1, iv2) {
		t.Fatal("iv reused across encryptions")
	}
}

func Test_Encrypt_Round_Trips_Empty_Plaintext(t *testing.T) {
	t.Parallel()

	b, err := keys.NewRandomBundle()
	if err != nil {
		t.Fatalf("new bundle: %v", err)
	}

	ciphertext, iv, err := b.Encrypt(nil)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := b.Decrypt(ciphertext, iv)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	if len(got) != 0 {
		t.Fatalf("expected empty plaintext, got %q", got)
	}
}

func Test_NewBundle_Rejects_Short_Keys(t *testing.T) {
	t.Parallel()

	_, err := keys.NewBundle(make([]byte, 16), make([]byte, 32))
	if !errors.Is(err, keys.ErrCryptoFailure) {
		t.Fatalf("err = %v, want ErrCryptoFailure", err)
	}

	_, err = keys.NewBundle(make([]byte, 32), nil)
	if !errors.Is(err, keys.ErrCryptoFailure) {
		t.Fatalf("err = %v, want ErrCryptoFailure", err)
	}
}

func Test_Decrypt_Rejects_Malformed_Input(t *testing.T) {
	t.Parallel()

	b, err := keys.NewRandomBundle()
	if err != nil {
		t.Fatalf("new bundle: %v", err)
	}

	_, err = b.Decrypt([]byte("short"), make([]byte, 16))
	if !errors.Is(err, keys.ErrCryptoFailure) {
		t.Fatalf("bad ciphertext: err = %v, want ErrCryptoFailure", err)
	}

	_, err = b.Decrypt(make([]byte, 32), make([]byte, 3))
	if !errors.Is(err, keys.ErrCryptoFailure) {
		t.Fatalf("bad iv: err = %v, want ErrCryptoFailure", err)
	}
}

func Test_HmacString_Verifies_And_Detects_Tampering(t *testing.T) {
	t.Parallel()

	b, err := keys.NewRandomBundle()
	if err != nil {
		t.Fatalf("new bundle: %v", err)
	}

	data := []byte("Y2lwaGVydGV4dA==")
	tag := b.HmacString(data)

	if _, err := base64.StdEncoding.DecodeString(tag); err != nil {
		t.Fatalf("tag is not base64: %v", err)
	}

	if !b.VerifyHmacString(tag, data) {
		t.Fatal("valid tag did not verify")
	}

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 1

	if b.VerifyHmacString(tag, tampered) {
		t.Fatal("tampered data verified")
	}

	if b.VerifyHmacString("not base64 !!!", data) {
		t.Fatal("garbage tag verified")
	}
}

func Test_HmacString_Differs_Across_Keys(t *testing.T) {
	t.Parallel()

	b1, err := keys.NewRandomBundle()
	if err != nil {
		t.Fatalf("new bundle: %v", err)
	}

	b2, err := keys.NewRandomBundle()
	if err != nil {
		t.Fatalf("new bundle: %v", err)
	}

	data := []byte("payload")

	if b2.VerifyHmacString(b1.HmacString(data), data) {
		t.Fatal("tag from one bundle verified under another")
	}
}

func Test_FormatKeyID_Shape(t *testing.T) {
	t.Parallel()

	kid := keys.FormatKeyID(1510726317123, []byte{0xff, 0xee, 0xdd})

	want := "1510726317123-" + base64.RawURLEncoding.EncodeToString([]byte{0xff, 0xee, 0xdd})
	if kid != want {
		t.Fatalf("kid = %s, want %s", kid, want)
	}
}
