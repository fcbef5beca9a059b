// Package sign verifies a payload's detached metadata signature
// (spec.md sec.4.2) against a bundled set of certificates, the way
// lib/x509util loads and parses certificate PEM bundles elsewhere in the
// teacher's codebase.
package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// CertificateBundle is a set of trusted public keys used to verify
// detached signatures. Exactly one match is required.
type CertificateBundle struct {
	certs []*x509.Certificate
}

// LoadCertificateBundle parses all PEM-encoded certificates in data,
// mirroring lib/x509util.LoadCertificatePEMs's "parse every PEM block"
// contract.
func LoadCertificateBundle(data []byte) (*CertificateBundle, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("sign: parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("sign: no certificates found in bundle")
	}
	return &CertificateBundle{certs: certs}, nil
}

// Verify checks that signature is a valid PKCS#1v1.5 RSA signature of
// sha256(data) under any certificate in the bundle. It returns nil on the
// first match and an aggregate error if none match.
func (b *CertificateBundle) Verify(data, signature []byte) error {
	digest := sha256.Sum256(data)
	var lastErr error
	for _, cert := range b.certs {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			lastErr = errors.New("sign: unsupported public key type")
			continue
		}
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("sign: no certificates to verify against")
	}
	return fmt.Errorf("sign: signature does not verify against any bundled certificate: %w", lastErr)
}

// Sign produces a detached PKCS#1v1.5 signature, for use by tests that
// construct fixture payloads.
func Sign(priv *rsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
}
