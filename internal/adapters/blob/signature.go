package blob

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// VerifySignature checks the record's detached Ed25519 signature over the
// cached blob against every trusted key. Any matching key accepts.
func (s *Store) VerifySignature(rec domain.PackageRecord) error {
	if rec.Signature == "" {
		return zerr.With(domain.ErrSignatureMissing, "package", rec.ID())
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rec.Signature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return zerr.With(zerr.With(domain.ErrSignatureInvalid, "package", rec.ID()), "reason", "malformed signature")
	}

	keys, err := s.trustedKeys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return zerr.With(domain.ErrNoTrustedKeys, "dir", s.Layout.TrustDir())
	}

	path, present := s.Path(rec.BlobSHA256)
	if !present {
		return zerr.With(zerr.With(domain.ErrSignatureInvalid, "package", rec.ID()), "reason", "blob not cached")
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return zerr.Wrap(err, domain.ErrSignatureInvalid.Error())
	}

	for _, key := range keys {
		if ed25519.Verify(key, payload, sig) {
			return nil
		}
	}
	return zerr.With(domain.ErrSignatureInvalid, "package", rec.ID())
}

// trustedKeys loads every hex-encoded Ed25519 public key from the trust
// directory. Files that do not decode to a key are skipped with a warning.
func (s *Store) trustedKeys() ([]ed25519.PublicKey, error) {
	entries, err := os.ReadDir(s.Layout.TrustDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, zerr.Wrap(err, domain.ErrNoTrustedKeys.Error())
	}

	var keys []ed25519.PublicKey
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pub") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.Layout.TrustDir(), entry.Name()))
		if err != nil {
			s.Logger.Warn("unreadable trust key", "file", entry.Name())
			continue
		}
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(key) != ed25519.PublicKeySize {
			s.Logger.Warn("malformed trust key", "file", entry.Name())
			continue
		}
		keys = append(keys, ed25519.PublicKey(key))
	}
	return keys, nil
}
