package sii

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/pkg/sii"
)

const tedTimestamp = "2006-01-02T15:04:05"

// Stamp arma el timbre electrónico (TED) del documento y firma DD con la llave del CAF.
func (c *CAF) Stamp(doc *entity.Document, at string) (*etree.Element, error) {
	if c.key == nil {
		return nil, errors.New("sii: el CAF no incluye RSASK para timbrar")
	}
	if !c.Covers(doc.Folio) || c.DocumentType != doc.DocumentType {
		return nil, fmt.Errorf("sii: folio %d tipo %d fuera del CAF [%d,%d] tipo %d",
			doc.Folio, doc.DocumentType, c.From, c.To, c.DocumentType)
	}

	ted := etree.NewElement("TED")
	ted.CreateAttr("version", "1.0")
	dd := ted.CreateElement("DD")
	re, _ := sii.NormalizeRUT(doc.Issuer.TaxID)
	dd.CreateElement("RE").SetText(re)
	dd.CreateElement("TD").SetText(strconv.Itoa(doc.DocumentType))
	dd.CreateElement("F").SetText(strconv.FormatInt(doc.Folio, 10))
	dd.CreateElement("FE").SetText(doc.IssueDate.Format("2006-01-02"))
	rr, rsr := sii.RUTConsumidorFinal, sii.NombreConsumidorFinal
	if doc.Recipient != nil {
		rr, rsr = doc.Recipient.TaxID, doc.Recipient.LegalName
	}
	if n, err := sii.NormalizeRUT(rr); err == nil {
		rr = n
	}
	dd.CreateElement("RR").SetText(rr)
	dd.CreateElement("RSR").SetText(truncate(rsr, 40))
	dd.CreateElement("MNT").SetText(doc.TotalAmount.StringFixed(0))
	it1 := ""
	if len(doc.LineItems) > 0 {
		it1 = doc.LineItems[0].Description
	}
	dd.CreateElement("IT1").SetText(truncate(it1, 40))
	caf := c.caf.Copy()
	compact(caf)
	dd.AddChild(caf)
	dd.CreateElement("TSTED").SetText(at)

	signature, err := c.signDD(dd)
	if err != nil {
		return nil, err
	}
	frmt := ted.CreateElement("FRMT")
	frmt.CreateAttr("algoritmo", "SHA1withRSA")
	frmt.SetText(signature)
	return ted, nil
}

// signDD firma SHA1withRSA el DD aplanado, en ISO-8859-1 como lo verifica el SII.
func (c *CAF) signDD(dd *etree.Element) (string, error) {
	d := etree.NewDocument()
	d.SetRoot(dd.Copy())
	flat, err := d.WriteToBytes()
	if err != nil {
		return "", fmt.Errorf("sii: serializar DD: %w", err)
	}
	latin1, err := charmap.ISO8859_1.NewEncoder().Bytes(flat)
	if err != nil {
		return "", fmt.Errorf("sii: DD con caracteres fuera de ISO-8859-1: %w", err)
	}
	sum := sha1.Sum(latin1)
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.key, crypto.SHA1, sum[:])
	if err != nil {
		return "", fmt.Errorf("sii: firmar timbre: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyStamp comprueba FRMT contra la llave pública del CAF.
func (c *CAF) VerifyStamp(ted *etree.Element) error {
	dd := ted.SelectElement("DD")
	frmt := ted.SelectElement("FRMT")
	if dd == nil || frmt == nil || c.key == nil {
		return errors.New("sii: TED incompleto")
	}
	d := etree.NewDocument()
	d.SetRoot(dd.Copy())
	flat, err := d.WriteToBytes()
	if err != nil {
		return err
	}
	latin1, err := charmap.ISO8859_1.NewEncoder().Bytes(flat)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(frmt.Text())
	if err != nil {
		return err
	}
	sum := sha1.Sum(latin1)
	return rsa.VerifyPKCS1v15(&c.key.PublicKey, crypto.SHA1, sum[:], sig)
}

// compact elimina los nodos de texto en blanco (el DD se firma sin indentación).
func compact(el *etree.Element) {
	for _, tok := range append([]etree.Token(nil), el.Child...) {
		switch t := tok.(type) {
		case *etree.CharData:
			if t.IsWhitespace() {
				el.RemoveChild(t)
			}
		case *etree.Element:
			compact(t)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
