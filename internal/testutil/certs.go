// Package testutil genera material criptográfico efímero para pruebas.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Certificate certificado autofirmado con su llave.
type Certificate struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate
}

// TLS devuelve el par como tls.Certificate.
func (c Certificate) TLS() tls.Certificate {
	return tls.Certificate{Certificate: [][]byte{c.Cert.Raw}, PrivateKey: c.Key, Leaf: c.Cert}
}

// P12 empaqueta el par en PKCS#12 con la contraseña dada.
func (c Certificate) P12(t testing.TB, password string) []byte {
	t.Helper()
	der, err := pkcs12.LegacyDES.Encode(c.Key, c.Cert, nil, password)
	if err != nil {
		t.Fatalf("codificar p12: %v", err)
	}
	return der
}

// NewCertificate genera un certificado RSA autofirmado vigente hasta notAfter.
func NewCertificate(t testing.TB, commonName string, notAfter time.Time) Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generar llave: %v", err)
	}
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName, SerialNumber: "76086428-5"},
		NotBefore:    notAfter.AddDate(-2, 0, 0),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("crear certificado: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsear certificado: %v", err)
	}
	return Certificate{Key: key, Cert: cert}
}
