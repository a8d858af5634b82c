package sii_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/emisor-dte/internal/application/signing"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/memory"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/xmldsig"
	"github.com/jhoicas/emisor-dte/internal/testutil"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

const tenantRUT = "76086428-5"

// cafXML genera un CAF en ISO-8859-1 con la misma estructura que entrega el SII.
func cafXML(t *testing.T, docType int, from, to int64, authorized time.Time) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	sk := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pk := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})
	doc := fmt.Sprintf(`<?xml version="1.0" encoding="ISO-8859-1"?>
<AUTORIZACION>
<CAF version="1.0">
<DA>
<RE>%s</RE>
<RS>COMERCIAL ÑUÑOA SPA</RS>
<TD>%d</TD>
<RNG><D>%d</D><H>%d</H></RNG>
<FA>%s</FA>
<RSAPK><M>%s</M><E>Aw==</E></RSAPK>
<IDK>100</IDK>
</DA>
<FRMA algoritmo="SHA1withRSA">c2lnbmF0dXJh</FRMA>
</CAF>
<RSASK>%s</RSASK>
<RSAPUBK>%s</RSAPUBK>
</AUTORIZACION>`, tenantRUT, docType, from, to, authorized.Format(time.DateOnly),
		base64.StdEncoding.EncodeToString(key.PublicKey.N.Bytes()), sk, pk)
	latin1, err := charmap.ISO8859_1.NewEncoder().String(doc)
	require.NoError(t, err)
	return []byte(latin1)
}

// newSigner servicio de firma con un certificado vigente cargado para el tenant T.
func newSigner(t *testing.T, s *memory.Store) *signing.Service {
	t.Helper()
	notAfter := time.Now().AddDate(1, 0, 0)
	c := testutil.NewCertificate(t, "Firmante T", notAfter)
	require.NoError(t, s.Credentials.Rotate(context.Background(), &entity.SigningCredential{
		TenantID: "T", CredentialBytes: c.P12(t, "clave"), CredentialPassword: "clave", ExpiryDate: notAfter,
	}))
	return signing.NewService(signing.NewCache(s.Credentials, logger.Nop()), xmldsig.NewSHA1Signer(), logger.Nop())
}
