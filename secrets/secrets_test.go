package secrets

import (
	"bytes"
	"strings"
	"testing"

	"llmb/shared"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	plaintext := []byte(`{"cookies":[{"name":"session","value":"abc123"}]}`)

	envelope, err := Encrypt("correct horse battery staple", plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if !IsEncrypted(envelope) {
		t.Errorf("envelope missing sentinel: %s", envelope)
	}
	if strings.Contains(envelope, "abc123") {
		t.Error("plaintext leaked into envelope")
	}

	got, err := Decrypt("correct horse battery staple", envelope)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestEncrypt_FreshSaltAndNonce(t *testing.T) {
	a, err := Encrypt("passphrase", []byte("same plaintext"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt("passphrase", []byte("same plaintext"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions produced identical envelopes")
	}
}

func TestDecrypt_WrongPassphrase(t *testing.T) {
	envelope, err := Encrypt("right", []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = Decrypt("wrong", envelope)
	if err == nil {
		t.Fatal("expected error")
	}
	if shared.CodeOf(err) != shared.ErrCodeUnauthorized {
		t.Errorf("code = %s", shared.CodeOf(err))
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	envelope, err := Encrypt("passphrase", []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(envelope, ":")
	cipherChars := []byte(parts[3])
	if cipherChars[0] == 'A' {
		cipherChars[0] = 'B'
	} else {
		cipherChars[0] = 'A'
	}
	parts[3] = string(cipherChars)

	if _, err := Decrypt("passphrase", strings.Join(parts, ":")); err == nil {
		t.Error("tampered envelope accepted")
	}
}

func TestDecrypt_MalformedEnvelopes(t *testing.T) {
	cases := []string{
		"",
		"not encrypted at all",
		"LLMB_ENC_V1:only:three",
		"LLMB_ENC_V2:a:b:c",
		"LLMB_ENC_V1:!!!:!!!:!!!",
	}
	for _, envelope := range cases {
		if _, err := Decrypt("passphrase", envelope); err == nil {
			t.Errorf("accepted malformed envelope %q", envelope)
		}
	}
}

func TestEncrypt_EmptyPassphrase(t *testing.T) {
	if _, err := Encrypt("", []byte("x")); err == nil {
		t.Error("empty passphrase accepted")
	}
	if _, err := Decrypt("", "LLMB_ENC_V1:a:b:c"); err == nil {
		t.Error("empty passphrase accepted")
	}
}

func TestIsEncrypted(t *testing.T) {
	if IsEncrypted(`{"cookies":[]}`) {
		t.Error("plaintext detected as encrypted")
	}
	if !IsEncrypted("LLMB_ENC_V1:a:b:c") {
		t.Error("envelope not detected")
	}
}
