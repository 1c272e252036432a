package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/custodia-labs/storesync/internal/core/domain"
)

var testKey = []byte("01234567890123456789012345678901")

func TestCredentialSealer_RoundTrip(t *testing.T) {
	sealer, err := NewCredentialSealer(testKey)
	if err != nil {
		t.Fatalf("NewCredentialSealer: %v", err)
	}

	blob, err := sealer.Seal("acme", &domain.TenantCredentials{AccessToken: "shpat_abc123"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if blob[0] != blobVersion {
		t.Errorf("version byte: got %d, want %d", blob[0], blobVersion)
	}
	if strings.Contains(string(blob), "shpat_abc123") {
		t.Error("blob must not contain the plaintext token")
	}

	creds, err := sealer.Open("acme", blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if creds.AccessToken != "shpat_abc123" {
		t.Errorf("AccessToken: got %q", creds.AccessToken)
	}
}

func TestCredentialSealer_UniqueNonces(t *testing.T) {
	sealer, _ := NewCredentialSealer(testKey)
	creds := &domain.TenantCredentials{AccessToken: "same"}

	a, _ := sealer.Seal("acme", creds)
	b, _ := sealer.Seal("acme", creds)
	if string(a) == string(b) {
		t.Error("sealing twice must produce different blobs")
	}
}

func TestCredentialSealer_BoundToTenant(t *testing.T) {
	sealer, _ := NewCredentialSealer(testKey)

	blob, err := sealer.Seal("acme", &domain.TenantCredentials{AccessToken: "t"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := sealer.Open("globex", blob); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed for another tenant, got %v", err)
	}
}

func TestCredentialSealer_WrongKey(t *testing.T) {
	sealer, _ := NewCredentialSealer(testKey)
	other, _ := NewCredentialSealer([]byte("abcdefghijklmnopqrstuvwxyz012345"))

	blob, _ := sealer.Seal("acme", &domain.TenantCredentials{AccessToken: "t"})
	if _, err := other.Open("acme", blob); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestCredentialSealer_MalformedBlobs(t *testing.T) {
	sealer, _ := NewCredentialSealer(testKey)

	if _, err := sealer.Open("acme", []byte{blobVersion, 1, 2}); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("expected ErrInvalidBlob, got %v", err)
	}

	blob, _ := sealer.Seal("acme", &domain.TenantCredentials{AccessToken: "t"})
	blob[0] = 0x01
	if _, err := sealer.Open("acme", blob); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}

	blob, _ = sealer.Seal("acme", &domain.TenantCredentials{AccessToken: "t"})
	blob[len(blob)-1] ^= 0xff
	if _, err := sealer.Open("acme", blob); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed for tampered blob, got %v", err)
	}
}

func TestParseEncryptionKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", strings.Repeat("ab", 32), false},
		{"valid with whitespace", " " + strings.Repeat("0f", 32) + "\n", false},
		{"too short", strings.Repeat("ab", 16), true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseEncryptionKey(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Errorf("expected ErrInvalidKey, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(key) != 32 {
				t.Errorf("expected 32 bytes, got %d", len(key))
			}
		})
	}
}

func TestNewCredentialSealer_InvalidKey(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33} {
		if _, err := NewCredentialSealer(make([]byte, n)); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("len %d: expected ErrInvalidKey, got %v", n, err)
		}
	}
}
