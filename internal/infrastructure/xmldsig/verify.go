package xmldsig

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Verify comprueba digest y firma de un documento firmado con Sign.
// Devuelve el certificado incluido en KeyInfo.
func Verify(signed []byte) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signed); err != nil {
		return nil, fmt.Errorf("xmldsig: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("xmldsig: documento sin raíz")
	}
	sig := root.SelectElement("Signature")
	if sig == nil {
		return nil, fmt.Errorf("xmldsig: documento sin Signature")
	}
	signedInfo := sig.SelectElement("SignedInfo")
	ref := sig.FindElement("SignedInfo/Reference")
	if signedInfo == nil || ref == nil {
		return nil, fmt.Errorf("xmldsig: SignedInfo incompleto")
	}

	hash := crypto.SHA256
	if m := sig.FindElement("SignedInfo/SignatureMethod"); m != nil && m.SelectAttrValue("Algorithm", "") == AlgRSASHA1 {
		hash = crypto.SHA1
	}
	s := &EnvelopedSigner{hash: hash}

	uri := ref.SelectAttrValue("URI", "")
	target := root
	if uri != "" {
		target = nil
		for _, child := range root.ChildElements() {
			if "#"+child.SelectAttrValue("ID", "") == uri {
				target = child
				break
			}
		}
		if target == nil {
			return nil, fmt.Errorf("xmldsig: referencia %s no encontrada", uri)
		}
	}
	canonical, err := canonicalElement(target)
	if err != nil {
		return nil, err
	}
	digest := strings.TrimSpace(ref.SelectElement("DigestValue").Text())
	if digest != base64.StdEncoding.EncodeToString(s.sum(canonical)) {
		return nil, fmt.Errorf("xmldsig: digest no coincide")
	}

	canonicalSignedInfo, err := canonicalElement(signedInfo)
	if err != nil {
		return nil, err
	}
	certEl := sig.FindElement("KeyInfo/X509Data/X509Certificate")
	if certEl == nil {
		return nil, fmt.Errorf("xmldsig: KeyInfo sin certificado")
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certEl.Text()))
	if err != nil {
		return nil, fmt.Errorf("xmldsig: certificado base64: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("xmldsig: parsear certificado: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("xmldsig: llave pública no RSA")
	}
	value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig.SelectElement("SignatureValue").Text()))
	if err != nil {
		return nil, fmt.Errorf("xmldsig: SignatureValue base64: %w", err)
	}
	if err := rsa.VerifyPKCS1v15(pub, hash, s.sum(canonicalSignedInfo), value); err != nil {
		return nil, fmt.Errorf("xmldsig: firma inválida: %w", err)
	}
	return cert, nil
}
