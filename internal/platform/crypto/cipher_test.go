package crypto

import (
	"encoding/json"
	"testing"
)

func TestAESCipher_RoundTrip(t *testing.T) {
	c := NewAESCipher("shared-secret")

	plaintext := []byte(`{"records":[{"type":"OPConsultation"}]}`)
	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sealed == string(plaintext) {
		t.Fatal("expected ciphertext to differ from plaintext")
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Errorf("round trip mismatch: got %q", opened)
	}
}

func TestAESCipher_NonceUnique(t *testing.T) {
	c := NewAESCipher("shared-secret")
	a, err := c.Seal([]byte("same payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := c.Seal([]byte("same payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Error("expected two seals of the same payload to differ")
	}
}

func TestAESCipher_OpenRejectsWrongKey(t *testing.T) {
	sealed, err := NewAESCipher("secret-a").Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewAESCipher("secret-b").Open(sealed); err == nil {
		t.Error("expected error opening with a different key")
	}
}

func TestAESCipher_OpenRejectsGarbage(t *testing.T) {
	c := NewAESCipher("shared-secret")
	for _, input := range []string{"", "!!!not-base64!!!", "dG9vc2hvcnQ="} {
		if _, err := c.Open(input); err == nil {
			t.Errorf("input %q: expected error", input)
		}
	}
}

func TestSealJSON(t *testing.T) {
	c := NewAESCipher("shared-secret")
	records := []map[string]string{{"id": "cc-1"}, {"id": "cc-2"}}

	sealed, err := SealJSON(c, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []map[string]string
	if err := json.Unmarshal(opened, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0]["id"] != "cc-1" {
		t.Errorf("unexpected decoded records: %v", got)
	}
}
