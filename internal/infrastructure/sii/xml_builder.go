package sii

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/pkg/sii"
)

// Namespace del formato DTE.
const NsSiiDte = "http://www.sii.cl/SiiDte"

// Reference datos del documento referenciado (notas de crédito y débito).
type Reference struct {
	DocumentType int
	Folio        int64
	IssueDate    time.Time
	Code         int // sii.CodRef*
	Reason       string
}

// BuildInput lo necesario para armar el XML de un DTE.
type BuildInput struct {
	Document  *entity.Document
	CAF       *CAF       // nil = sin timbre (solo ambiente dev)
	Reference *Reference // obligatorio para 56/61
	TaxRate   decimal.Decimal
	Now       time.Time
}

// BuildDTE genera <DTE><Documento ID="F{folio}T{tipo}">…</Documento></DTE> sin firma.
// Se trabaja en UTF-8; la conversión a ISO-8859-1 ocurre solo al transmitir.
func BuildDTE(in BuildInput) ([]byte, error) {
	doc := in.Document
	if doc == nil || doc.Folio <= 0 {
		return nil, fmt.Errorf("sii: documento sin folio")
	}
	boleta := sii.EsBoleta(doc.DocumentType)

	x := etree.NewDocument()
	x.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := x.CreateElement("DTE")
	root.CreateAttr("xmlns", NsSiiDte)
	root.CreateAttr("version", "1.0")
	d := root.CreateElement("Documento")
	d.CreateAttr("ID", fmt.Sprintf("F%dT%d", doc.Folio, doc.DocumentType))

	enc := d.CreateElement("Encabezado")
	id := enc.CreateElement("IdDoc")
	id.CreateElement("TipoDTE").SetText(strconv.Itoa(doc.DocumentType))
	id.CreateElement("Folio").SetText(strconv.FormatInt(doc.Folio, 10))
	id.CreateElement("FchEmis").SetText(doc.IssueDate.Format(time.DateOnly))
	if boleta {
		// 3 = ventas y servicios
		id.CreateElement("IndServicio").SetText("3")
	}

	writeEmisor(enc.CreateElement("Emisor"), doc.Issuer, boleta)
	writeReceptor(enc.CreateElement("Receptor"), doc.Recipient)
	writeTotales(enc.CreateElement("Totales"), doc, in.TaxRate, boleta)

	for _, it := range doc.LineItems {
		writeDetalle(d.CreateElement("Detalle"), it)
	}
	if in.Reference != nil {
		ref := d.CreateElement("Referencia")
		ref.CreateElement("NroLinRef").SetText("1")
		ref.CreateElement("TpoDocRef").SetText(strconv.Itoa(in.Reference.DocumentType))
		ref.CreateElement("FolioRef").SetText(strconv.FormatInt(in.Reference.Folio, 10))
		ref.CreateElement("FchRef").SetText(in.Reference.IssueDate.Format(time.DateOnly))
		if in.Reference.Code > 0 {
			ref.CreateElement("CodRef").SetText(strconv.Itoa(in.Reference.Code))
		}
		ref.CreateElement("RazonRef").SetText(truncate(in.Reference.Reason, 90))
	}

	ts := in.Now.Format(tedTimestamp)
	if in.CAF != nil {
		ted, err := in.CAF.Stamp(doc, ts)
		if err != nil {
			return nil, err
		}
		d.AddChild(ted)
	}
	d.CreateElement("TmstFirma").SetText(ts)

	return x.WriteToBytes()
}

func writeEmisor(e *etree.Element, p entity.Party, boleta bool) {
	rut, err := sii.NormalizeRUT(p.TaxID)
	if err != nil {
		rut = p.TaxID
	}
	e.CreateElement("RUTEmisor").SetText(rut)
	if boleta {
		e.CreateElement("RznSocEmisor").SetText(truncate(p.LegalName, 100))
		e.CreateElement("GiroEmisor").SetText(truncate(p.BusinessLine, 80))
	} else {
		e.CreateElement("RznSoc").SetText(truncate(p.LegalName, 100))
		e.CreateElement("GiroEmis").SetText(truncate(p.BusinessLine, 80))
		if p.ActivityCode != "" {
			e.CreateElement("Acteco").SetText(p.ActivityCode)
		}
	}
	optional(e, "DirOrigen", truncate(p.Address, 70))
	optional(e, "CmnaOrigen", truncate(p.Commune, 20))
	optional(e, "CiudadOrigen", truncate(p.City, 20))
}

func writeReceptor(e *etree.Element, p *entity.Party) {
	if p == nil {
		p = &entity.Party{TaxID: sii.RUTConsumidorFinal, LegalName: sii.NombreConsumidorFinal}
	}
	rut, err := sii.NormalizeRUT(p.TaxID)
	if err != nil {
		rut = p.TaxID
	}
	e.CreateElement("RUTRecep").SetText(rut)
	e.CreateElement("RznSocRecep").SetText(truncate(p.LegalName, 100))
	optional(e, "GiroRecep", truncate(p.BusinessLine, 40))
	optional(e, "Contacto", truncate(p.Email, 80))
	optional(e, "DirRecep", truncate(p.Address, 70))
	optional(e, "CmnaRecep", truncate(p.Commune, 20))
	optional(e, "CiudadRecep", truncate(p.City, 20))
}

func writeTotales(t *etree.Element, doc *entity.Document, rate decimal.Decimal, boleta bool) {
	if !doc.NetAmount.IsZero() {
		t.CreateElement("MntNeto").SetText(doc.NetAmount.StringFixed(0))
	}
	if !doc.ExemptAmount.IsZero() {
		t.CreateElement("MntExe").SetText(doc.ExemptAmount.StringFixed(0))
	}
	if !doc.TaxAmount.IsZero() {
		if !boleta {
			t.CreateElement("TasaIVA").SetText(rate.Mul(decimal.NewFromInt(100)).StringFixed(2))
		}
		t.CreateElement("IVA").SetText(doc.TaxAmount.StringFixed(0))
	}
	t.CreateElement("MntTotal").SetText(doc.TotalAmount.StringFixed(0))
}

func writeDetalle(e *etree.Element, it entity.LineItem) {
	e.CreateElement("NroLinDet").SetText(strconv.Itoa(it.Sequence))
	if it.Code != "" {
		cod := e.CreateElement("CdgItem")
		cod.CreateElement("TpoCodigo").SetText("INT1")
		cod.CreateElement("VlrCodigo").SetText(truncate(it.Code, 35))
	}
	if it.Exempt {
		e.CreateElement("IndExe").SetText("1")
	}
	e.CreateElement("NmbItem").SetText(truncate(it.Description, 80))
	e.CreateElement("QtyItem").SetText(it.Quantity.String())
	e.CreateElement("PrcItem").SetText(it.UnitPrice.String())
	if it.DiscountPercent.IsPositive() {
		e.CreateElement("DescuentoPct").SetText(it.DiscountPercent.StringFixed(2))
	}
	gross := it.Quantity.Mul(it.UnitPrice).Round(0)
	if disc := gross.Sub(it.LineTotal); disc.IsPositive() {
		e.CreateElement("DescuentoMonto").SetText(disc.StringFixed(0))
	}
	e.CreateElement("MontoItem").SetText(it.LineTotal.StringFixed(0))
}

func optional(parent *etree.Element, tag, value string) {
	if value != "" {
		parent.CreateElement(tag).SetText(value)
	}
}
