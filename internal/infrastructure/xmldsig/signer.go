// Firma XMLDSig envuelta (enveloped) para documentos tributarios.
// El nodo Signature se agrega como último hijo de la raíz y referencia el elemento
// con atributo ID (Documento, SetDTE) o el documento completo si no existe.

package xmldsig

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
)

// Namespaces y algoritmos XMLDSig.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// EnvelopedSigner firma con RSA y el hash configurado. El SII exige RSA-SHA1.
type EnvelopedSigner struct {
	hash      crypto.Hash
	sigAlg    string
	digestAlg string
}

// NewSHA1Signer firmador RSA-SHA1 (SII).
func NewSHA1Signer() *EnvelopedSigner {
	return &EnvelopedSigner{hash: crypto.SHA1, sigAlg: AlgRSASHA1, digestAlg: AlgSHA1}
}

// NewSHA256Signer firmador RSA-SHA256.
func NewSHA256Signer() *EnvelopedSigner {
	return &EnvelopedSigner{hash: crypto.SHA256, sigAlg: AlgRSASHA256, digestAlg: AlgSHA256}
}

// Sign firma el XML y devuelve el documento con ds:Signature agregado.
func (s *EnvelopedSigner) Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("xmldsig: XML vacío")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("xmldsig: el certificado debe incluir llave privada RSA")
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("xmldsig: certificado sin cadena")
	}
	x509Cert := cert.Leaf
	if x509Cert == nil {
		var err error
		if x509Cert, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, fmt.Errorf("xmldsig: parsear certificado: %w", err)
		}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("xmldsig: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("xmldsig: documento sin raíz")
	}

	// 1) Digest del elemento referenciado (C14N)
	uri, target := referenceTarget(root)
	canonical, err := canonicalElement(target)
	if err != nil {
		return nil, err
	}
	digestB64 := base64.StdEncoding.EncodeToString(s.sum(canonical))

	// 2) Signature con SignedInfo y KeyInfo; SignatureValue se completa al final
	signatureXML := s.buildSignature(s.buildSignedInfo(uri, digestB64), &priv.PublicKey, x509Cert)
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("xmldsig: parsear Signature: %w", err)
	}
	sig := sigDoc.Root()
	root.AddChild(sig)

	// 3) SignedInfo canonicalizado en su contexto definitivo y firmado
	canonicalSignedInfo, err := canonicalElement(sig.SelectElement("SignedInfo"))
	if err != nil {
		return nil, err
	}
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, s.hash, s.sum(canonicalSignedInfo))
	if err != nil {
		return nil, fmt.Errorf("xmldsig: firmar SignedInfo: %w", err)
	}
	sig.SelectElement("SignatureValue").SetText(base64.StdEncoding.EncodeToString(signatureValue))

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("xmldsig: serializar: %w", err)
	}
	return out.Bytes(), nil
}

func (s *EnvelopedSigner) sum(b []byte) []byte {
	if s.hash == crypto.SHA1 {
		h := sha1.Sum(b)
		return h[:]
	}
	h := sha256.Sum256(b)
	return h[:]
}

func (s *EnvelopedSigner) buildSignedInfo(uri, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + s.sigAlg + `"/>`)
	sb.WriteString(`<Reference URI="` + uri + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"/></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + s.digestAlg + `"/>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

func (s *EnvelopedSigner) buildSignature(signedInfoXML string, pub *rsa.PublicKey, cert *x509.Certificate) string {
	modulus := base64.StdEncoding.EncodeToString(pub.N.Bytes())
	exponent := base64.StdEncoding.EncodeToString(bigEndian(pub.E))
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<SignatureValue></SignatureValue>`)
	sb.WriteString(`<KeyInfo><KeyValue><RSAKeyValue>`)
	sb.WriteString(`<Modulus>` + modulus + `</Modulus><Exponent>` + exponent + `</Exponent>`)
	sb.WriteString(`</RSAKeyValue></KeyValue>`)
	sb.WriteString(`<X509Data><X509Certificate>` + base64.StdEncoding.EncodeToString(cert.Raw) + `</X509Certificate></X509Data>`)
	sb.WriteString(`</KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

// ── helpers ──

// referenceTarget primer hijo de la raíz con atributo ID; si no hay, la raíz completa.
func referenceTarget(root *etree.Element) (string, *etree.Element) {
	for _, child := range root.ChildElements() {
		if id := child.SelectAttrValue("ID", ""); id != "" {
			return "#" + id, child
		}
	}
	return "", root
}

// canonicalElement serializa el elemento con los namespaces heredados y sin nodos
// Signature (transformada enveloped), y lo canonicaliza.
func canonicalElement(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	for _, sig := range cp.ChildElements() {
		if sig.Tag == "Signature" {
			cp.RemoveChild(sig)
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
				if cp.SelectAttr(a.FullKey()) == nil {
					cp.CreateAttr(a.FullKey(), a.Value)
				}
			}
		}
	}
	d := etree.NewDocument()
	d.SetRoot(cp)
	raw, err := d.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("xmldsig: serializar referencia: %w", err)
	}
	out, err := canonicalize(raw)
	if err != nil {
		return nil, fmt.Errorf("xmldsig: canonicalizar referencia: %w", err)
	}
	return out, nil
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func bigEndian(e int) []byte {
	var out []byte
	for ; e > 0; e >>= 8 {
		out = append([]byte{byte(e)}, out...)
	}
	return out
}
