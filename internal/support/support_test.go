package support

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "data.json")

	if err := WriteFileAtomic(path, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the final file, found %d entries", len(entries))
	}
}

func TestWriteFileAtomic_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	if err := WriteFileAtomic(path, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("second")); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "second" {
		t.Fatalf("expected overwrite, got %q", data)
	}
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.json")
	if err := WriteJSONAtomic(path, map[string]int{"n": 7}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	want := "{\n  \"n\": 7\n}"
	if string(data) != want {
		t.Fatalf("unexpected JSON %q", data)
	}
}

func TestStripBOM(t *testing.T) {
	withBOM := []byte{0xEF, 0xBB, 0xBF, '<', 'x', '>'}
	if got := string(StripBOM(withBOM)); got != "<x>" {
		t.Fatalf("expected BOM stripped, got %q", got)
	}
	plain := []byte("<x>")
	if got := string(StripBOM(plain)); got != "<x>" {
		t.Fatalf("plain data should pass through, got %q", got)
	}
	short := []byte{0xEF}
	if got := StripBOM(short); len(got) != 1 {
		t.Fatal("short input should pass through")
	}
}

func TestCertificate_SignVerifyRoundtrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	cert := NewCertificate("verify")
	cert.Pass = true
	cert.PassCount = 9
	if err := SignCertificate(&cert, priv); err != nil {
		t.Fatal(err)
	}
	if cert.Signature == "" || cert.SignatureMethod != "ed25519" {
		t.Fatalf("signature not populated: %+v", cert)
	}

	ok, err := VerifyCertificate(&cert, pub)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("signature should verify")
	}
}

func TestCertificate_TamperDetected(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	cert := NewCertificate("verify")
	cert.Pass = false
	cert.ErrorCount = 3
	if err := SignCertificate(&cert, priv); err != nil {
		t.Fatal(err)
	}

	// Flip the verdict after signing
	cert.Pass = true
	ok, err := VerifyCertificate(&cert, pub)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("tampered certificate should not verify")
	}
}

func TestVerifyCertificate_MissingSignature(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	cert := NewCertificate("verify")
	if _, err := VerifyCertificate(&cert, pub); err == nil {
		t.Fatal("expected error for unsigned certificate")
	}
}

func TestLoadSigningKey_EnvSeed(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	t.Setenv("SFCHECK_SIGNING_PRIVATE_KEY", base64.StdEncoding.EncodeToString(seed))

	priv, err := LoadSigningKey(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	want := ed25519.NewKeyFromSeed(seed)
	if !priv.Equal(want) {
		t.Fatal("expected key derived from seed")
	}
}

func TestLoadSigningKey_HexFullKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	t.Setenv("SFCHECK_SIGNING_PRIVATE_KEY", hex.EncodeToString(priv))

	loaded, err := LoadSigningKey(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Equal(priv) {
		t.Fatal("expected identical key")
	}
}

func TestLoadSigningKey_FromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SFCHECK_SIGNING_PRIVATE_KEY", "")

	seed := make([]byte, ed25519.SeedSize)
	keyDir := filepath.Join(dir, ".sfcheck", "keys")
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		t.Fatal(err)
	}
	encoded := base64.StdEncoding.EncodeToString(seed) + "\n"
	if err := os.WriteFile(filepath.Join(keyDir, "signing_ed25519"), []byte(encoded), 0o600); err != nil {
		t.Fatal(err)
	}

	priv, err := LoadSigningKey(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !priv.Equal(ed25519.NewKeyFromSeed(seed)) {
		t.Fatal("expected key from workspace file")
	}
}

func TestHashBytes_Stable(t *testing.T) {
	a := HashBytes([]byte("payload"))
	b := HashBytes([]byte("payload"))
	if a != b {
		t.Fatal("hash should be deterministic")
	}
	if a == HashBytes([]byte("other")) {
		t.Fatal("different payloads should hash differently")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got length %d", len(a))
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != HashBytes([]byte("payload")) {
		t.Fatal("file hash should match byte hash")
	}
	if _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
