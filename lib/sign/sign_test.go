package sign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func makeCertPEM(t *testing.T, priv *rsa.PrivateKey) []byte {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestVerify(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	bundle, err := LoadCertificateBundle(makeCertPEM(t, priv))
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("manifest bytes")
	sig, err := Sign(priv, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := bundle.Verify(data, sig); err != nil {
		t.Errorf("expected signature to verify: %v", err)
	}
	if err := bundle.Verify([]byte("tampered"), sig); err == nil {
		t.Error("expected signature verification to fail for tampered data")
	}
}

func TestVerifyNoMatchingCert(t *testing.T) {
	signer, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	bundle, err := LoadCertificateBundle(makeCertPEM(t, other))
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("manifest bytes")
	sig, err := Sign(signer, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := bundle.Verify(data, sig); err == nil {
		t.Error("expected verification to fail against unrelated certificate")
	}
}
