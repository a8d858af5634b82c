// Package sii implementa el proveedor de autoridad tributaria de Chile: CAF, timbre
// electrónico (TED), XML del DTE, sobre de envío y los servicios web del SII.
package sii

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/emisor-dte/internal/application/folio"
	"github.com/jhoicas/emisor-dte/pkg/sii"
)

// cafValidityMonths vigencia de un CAF de facturas desde su autorización. Los de boleta no vencen.
const cafValidityMonths = 6

var latin1Decl = regexp.MustCompile(`(?i)encoding\s*=\s*["']ISO-8859-1["']`)

// CAF autorización de folios ya interpretada, con la llave para timbrar.
type CAF struct {
	IssuerRUT      string
	IssuerName     string
	DocumentType   int
	From, To       int64
	AuthorizedDate time.Time
	// caf es el nodo <CAF> tal como va dentro del TED.
	caf *etree.Element
	key *rsa.PrivateKey
}

// Covers indica si el folio pertenece al rango del CAF.
func (c *CAF) Covers(folioNumber int64) bool {
	return folioNumber >= c.From && folioNumber <= c.To
}

// ParseCAF interpreta el XML de autorización (ISO-8859-1 o UTF-8).
func ParseCAF(raw []byte) (*CAF, error) {
	doc, err := readLatin1(raw)
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil || root.Tag != "AUTORIZACION" {
		return nil, errors.New("sii: el archivo no es un CAF (falta AUTORIZACION)")
	}
	cafEl := root.SelectElement("CAF")
	if cafEl == nil {
		return nil, errors.New("sii: CAF sin nodo CAF")
	}
	da := cafEl.SelectElement("DA")
	if da == nil {
		return nil, errors.New("sii: CAF sin nodo DA")
	}

	c := &CAF{
		IssuerRUT:  childText(da, "RE"),
		IssuerName: childText(da, "RS"),
		caf:        cafEl.Copy(),
	}
	if c.DocumentType, err = strconv.Atoi(childText(da, "TD")); err != nil {
		return nil, fmt.Errorf("sii: CAF con TD inválido: %w", err)
	}
	if c.From, err = strconv.ParseInt(childText(da, "RNG/D"), 10, 64); err != nil {
		return nil, fmt.Errorf("sii: CAF con rango desde inválido: %w", err)
	}
	if c.To, err = strconv.ParseInt(childText(da, "RNG/H"), 10, 64); err != nil {
		return nil, fmt.Errorf("sii: CAF con rango hasta inválido: %w", err)
	}
	if c.AuthorizedDate, err = time.Parse(time.DateOnly, childText(da, "FA")); err != nil {
		return nil, fmt.Errorf("sii: CAF con fecha de autorización inválida: %w", err)
	}
	if err := sii.ValidateRUT(c.IssuerRUT); err != nil {
		return nil, err
	}
	if sk := childText(root, "RSASK"); sk != "" {
		if c.key, err = parsePrivateKey(sk); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ExpiryDate vencimiento del CAF; nil para boletas.
func (c *CAF) ExpiryDate() *time.Time {
	if sii.EsBoleta(c.DocumentType) {
		return nil
	}
	exp := c.AuthorizedDate.AddDate(0, cafValidityMonths, 0)
	return &exp
}

// CanStamp indica si el CAF trae la llave privada para firmar el timbre.
func (c *CAF) CanStamp() bool { return c.key != nil }

// CAFParser adapta ParseCAF al importador de folios.
type CAFParser struct{}

var _ folio.CAFParser = CAFParser{}

func (CAFParser) Parse(raw []byte) (*folio.Authorization, error) {
	c, err := ParseCAF(raw)
	if err != nil {
		return nil, err
	}
	utf8, err := toUTF8(raw)
	if err != nil {
		return nil, err
	}
	return &folio.Authorization{
		IssuerTaxID:    c.IssuerRUT,
		DocumentType:   c.DocumentType,
		RangeStart:     c.From,
		RangeEnd:       c.To,
		AuthorizedDate: c.AuthorizedDate,
		ExpiryDate:     c.ExpiryDate(),
		Raw:            string(utf8),
	}, nil
}

// toUTF8 convierte un XML declarado ISO-8859-1 a UTF-8 y ajusta la declaración.
func toUTF8(raw []byte) ([]byte, error) {
	head := raw
	if len(head) > 100 {
		head = head[:100]
	}
	if !latin1Decl.Match(head) {
		return raw, nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("sii: decodificar ISO-8859-1: %w", err)
	}
	return latin1Decl.ReplaceAll(out, []byte(`encoding="UTF-8"`)), nil
}

func readLatin1(raw []byte) (*etree.Document, error) {
	utf8, err := toUTF8(bytes.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(utf8); err != nil {
		return nil, fmt.Errorf("sii: XML ilegible: %w", err)
	}
	return doc, nil
}

func childText(el *etree.Element, path string) string {
	c := el.FindElement(path)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}

func parsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil {
		return nil, errors.New("sii: RSASK sin bloque PEM")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("sii: RSASK ilegible: %w", err)
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("sii: RSASK no es RSA")
	}
	return rk, nil
}
