// Package pdf genera la representación impresa de un DTE.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Razón social + giro  │  Recuadro: RUT, tipo, N°    │
//	│  EMISOR: Dirección / Comuna / Fecha de emisión              │
//	│  RECEPTOR: Razón social + RUT + dirección                   │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Cant | Descripción | P.Unit | Desc. | Monto         │
//	│  ─────────────────────────────────────────────────────────  │
//	│  REFERENCIA (notas de crédito/débito)                       │
//	│  TOTALES: Neto / Exento / IVA / TOTAL                       │
//	│  TIMBRE: PDF417 del TED + leyenda "Timbre Electrónico SII"  │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"
	"strconv"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/border"
	"github.com/johnfercher/maroto/v2/pkg/consts/extension"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/pkg/sii"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorRed     = &props.Color{Red: 200, Green: 16, Blue: 46}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorWhite   = &props.Color{Red: 255, Green: 255, Blue: 255}
)

// ── Generator ─────────────────────────────────────────────────────────────────

// Printable datos adicionales de la representación impresa.
type Printable struct {
	Document *entity.Document
	// Reference documento referenciado (notas); opcional.
	Reference *entity.Document
}

// MarotoGenerator genera el PDF con Maroto v2.
type MarotoGenerator struct {
	// SIIOffice unidad del SII que aparece bajo el recuadro (ej: "S.I.I. - SANTIAGO CENTRO").
	SIIOffice string
}

// NewMarotoGenerator construye el generador.
func NewMarotoGenerator(siiOffice string) *MarotoGenerator {
	return &MarotoGenerator{SIIOffice: siiOffice}
}

// Generate devuelve los bytes del PDF. Sin contenido firmado el documento se marca como borrador.
func (g *MarotoGenerator) Generate(_ context.Context, p Printable) ([]byte, error) {
	doc := p.Document
	if doc == nil {
		return nil, fmt.Errorf("pdf: documento nulo")
	}
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle(documentName(doc.DocumentType), true).
		WithAuthor(doc.Issuer.LegalName, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(doc, g.SIIOffice))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(emisorRow(doc))
	m.AddRows(receptorRow(doc.Recipient))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableDetailRows(doc.LineItems)...)

	if p.Reference != nil {
		m.AddRows(referenceRow(p.Reference, doc.ReferenceReason))
	}
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRow(doc))

	m.AddRows(line.NewRow(3))
	stamp, err := stampRows(doc)
	if err != nil {
		return nil, err
	}
	m.AddRows(stamp...)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return out.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

// headerRow: razón social y giro (izq), recuadro rojo con RUT, tipo y folio (der).
func headerRow(doc *entity.Document, office string) core.Row {
	boxed := func(s string, top float64, size float64) core.Component {
		return text.New(s, props.Text{Style: fontstyle.Bold, Size: size, Align: align.Center, Color: colorRed, Top: top})
	}
	return row.New(30).Add(
		col.New(7).Add(
			text.New(doc.Issuer.LegalName, props.Text{Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1}),
			text.New(nonEmpty(doc.Issuer.BusinessLine, ""), props.Text{Size: 8, Top: 9, Color: colorGray}),
		),
		col.New(5).WithStyle(&props.Cell{BorderType: border.Full, BorderColor: colorRed, BorderThickness: 0.6}).Add(
			boxed("R.U.T.: "+formatRUT(doc.Issuer.TaxID), 3, 11),
			boxed(documentName(doc.DocumentType), 10, 9),
			boxed(folioLabel(doc), 18, 11),
			text.New(office, props.Text{Size: 7, Align: align.Center, Color: colorRed, Top: 25}),
		),
	)
}

// emisorRow: dirección del emisor y fecha de emisión.
func emisorRow(doc *entity.Document) core.Row {
	return row.New(12).Add(
		col.New(12).Add(
			text.New("EMISOR", props.Text{Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1}),
			text.New(fmt.Sprintf("Dirección: %s   |   Comuna: %s   |   Fecha de emisión: %s",
				nonEmpty(doc.Issuer.Address, "—"),
				nonEmpty(doc.Issuer.Commune, "—"),
				doc.IssueDate.Format("02/01/2006"),
			), props.Text{Size: 8, Top: 7, Color: colorGray}),
		),
	)
}

// receptorRow: datos del receptor (consumidor final si es anónimo).
func receptorRow(r *entity.Party) core.Row {
	if r == nil {
		r = &entity.Party{TaxID: sii.RUTConsumidorFinal, LegalName: sii.NombreConsumidorFinal}
	}
	return row.New(16).Add(
		col.New(12).Add(
			text.New("RECEPTOR", props.Text{Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1}),
			text.New(r.LegalName, props.Text{Style: fontstyle.Bold, Size: 10, Top: 6}),
			text.New(fmt.Sprintf("RUT: %s   |   Giro: %s   |   Dirección: %s",
				formatRUT(r.TaxID),
				nonEmpty(r.BusinessLine, "—"),
				nonEmpty(r.Address, "—"),
			), props.Text{Size: 8, Top: 12, Color: colorGray}),
		),
	)
}

// tableHeaderRow: cabecera de la tabla de detalle.
func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a, Color: colorWhite, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).WithStyle(&props.Cell{BackgroundColor: colorPrimary}).Add(
		h("Cant.", 1, align.Center),
		h("Descripción", 5, align.Left),
		h("Precio Unit.", 2, align.Right),
		h("Desc.", 1, align.Center),
		h("Monto", 3, align.Right),
	)
}

// tableDetailRows: una fila por línea; las exentas se marcan con (E).
func tableDetailRows(items []entity.LineItem) []core.Row {
	result := make([]core.Row, 0, len(items))
	for _, it := range items {
		desc := it.Description
		if it.Exempt {
			desc += " (E)"
		}
		discount := ""
		if it.DiscountPercent.IsPositive() {
			discount = it.DiscountPercent.StringFixed(0) + "%"
		} else if it.DiscountAmount.IsPositive() {
			discount = "$" + formatMoney(it.DiscountAmount.StringFixed(0))
		}
		result = append(result, row.New(7).Add(
			col.New(1).Add(text.New(it.Quantity.String(), props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(5).Add(text.New(desc, props.Text{Size: 8, Align: align.Left, Top: 1, Left: 1})),
			col.New(2).Add(text.New("$"+formatMoney(it.UnitPrice.StringFixed(0)), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
			col.New(1).Add(text.New(discount, props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(3).Add(text.New("$"+formatMoney(it.LineTotal.StringFixed(0)), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
		))
	}
	return result
}

// referenceRow: documento que la nota modifica.
func referenceRow(ref *entity.Document, reason string) core.Row {
	return row.New(10).Add(col.New(12).Add(
		text.New("REFERENCIA", props.Text{Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1}),
		text.New(fmt.Sprintf("%s N° %d del %s. %s",
			documentName(ref.DocumentType), ref.Folio, ref.IssueDate.Format("02/01/2006"), reason),
			props.Text{Size: 8, Top: 6, Color: colorGray}),
	))
}

// totalsRow: bloque de totales alineado a la derecha.
func totalsRow(doc *entity.Document) core.Row {
	label := func(s string) core.Component {
		return text.New(s, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2})
	}
	grand := func(s string) core.Component {
		return text.New(s, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 1, Top: 15})
	}
	amounts := fmt.Sprintf("$%s\n$%s\n$%s",
		formatMoney(doc.NetAmount.StringFixed(0)),
		formatMoney(doc.ExemptAmount.StringFixed(0)),
		formatMoney(doc.TaxAmount.StringFixed(0)))

	return row.New(24).Add(
		col.New(6),
		col.New(3).Add(
			label("Monto neto:\nMonto exento:\nIVA:"),
			text.New("TOTAL:", props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 2, Top: 15}),
		),
		col.New(3).Add(
			text.New(amounts, props.Text{Size: 9, Align: align.Right, Right: 1}),
			grand("$"+formatMoney(doc.TotalAmount.StringFixed(0))),
		),
	)
}

// stampRows: timbre PDF417 si el documento lleva TED; si no, QR con los datos de control.
func stampRows(doc *entity.Document) ([]core.Row, error) {
	if doc.SignedContent == "" {
		return []core.Row{row.New(10).Add(col.New(12).Add(
			text.New("BORRADOR - DOCUMENTO SIN VALIDEZ TRIBUTARIA", props.Text{
				Style: fontstyle.Bold, Size: 10, Align: align.Center, Color: colorRed, Top: 2,
			}),
		))}, nil
	}

	ted, err := StampData(doc.SignedContent)
	if err != nil {
		return nil, err
	}
	if ted != "" {
		png, err := PDF417(ted)
		if err != nil {
			return nil, err
		}
		return []core.Row{
			row.New(35).Add(
				col.New(6).Add(image.NewFromBytes(png, extension.Png, props.Rect{Percent: 100, Center: true})),
				col.New(6),
			),
			row.New(10).Add(
				col.New(6).Add(
					text.New("Timbre Electrónico SII", props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Center, Top: 1}),
					text.New("Verifique documento: www.sii.cl", props.Text{Size: 7, Align: align.Center, Top: 5, Color: colorGray}),
				),
				col.New(6),
			),
		}, nil
	}

	control := fmt.Sprintf("%s|%d|%d|%s|%s", doc.Issuer.TaxID, doc.DocumentType, doc.Folio,
		doc.TotalAmount.StringFixed(0), doc.TrackID)
	return []core.Row{row.New(40).Add(
		col.New(4).Add(code.NewQr(control, props.Rect{Percent: 95, Center: true})),
		col.New(8).Add(text.New("Representación impresa de documento electrónico.\nSeguimiento: "+
			nonEmpty(doc.TrackID, "—"), props.Text{Size: 8, Top: 4, Left: 3, Color: colorGray})),
	)}, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func documentName(tipo int) string {
	if n, ok := sii.NombresTipoDTE[tipo]; ok {
		return n
	}
	return "DOCUMENTO ELECTRÓNICO TIPO " + strconv.Itoa(tipo)
}

func folioLabel(doc *entity.Document) string {
	if doc.Folio == 0 {
		return "N° (sin folio)"
	}
	return fmt.Sprintf("N° %d", doc.Folio)
}

func formatRUT(rut string) string {
	body, dv, err := sii.SplitRUT(rut)
	if err != nil {
		return rut
	}
	return formatMoney(strconv.Itoa(body)) + "-" + string(dv)
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// formatMoney inserta puntos de miles en un string numérico sin decimales.
// Ej: "25000" → "25.000", "-1000000" → "-1.000.000"
func formatMoney(s string) string {
	sign := ""
	if len(s) > 0 && s[0] == '-' {
		sign, s = "-", s[1:]
	}
	n := len(s)
	if n <= 3 {
		return sign + s
	}
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(s) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	return sign + string(buf)
}
