package sii_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/emisor-dte/internal/infrastructure/memory"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/sii"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/xmldsig"
)

var tasa = decimal.RequireFromString("0.19")

func parse(t *testing.T, raw []byte) *etree.Element {
	t.Helper()
	x := etree.NewDocument()
	require.NoError(t, x.ReadFromBytes(raw))
	return x.Root()
}

func text(t *testing.T, root *etree.Element, path string) string {
	t.Helper()
	el := root.FindElement(path)
	require.NotNilf(t, el, "falta %s", path)
	return el.Text()
}

func TestBuildDTE_FacturaTimbrada(t *testing.T) {
	c, err := sii.ParseCAF(cafXML(t, 33, 1, 100, authorized))
	require.NoError(t, err)
	doc := stampedDocument()

	raw, err := sii.BuildDTE(sii.BuildInput{Document: doc, CAF: c, TaxRate: tasa, Now: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	root := parse(t, raw)
	assert.Equal(t, "DTE", root.Tag)
	assert.Equal(t, sii.NsSiiDte, root.SelectAttrValue("xmlns", ""))
	assert.Equal(t, "F7T33", root.SelectElement("Documento").SelectAttrValue("ID", ""))
	assert.Equal(t, "33", text(t, root, ".//IdDoc/TipoDTE"))
	assert.Equal(t, "2026-04-02", text(t, root, ".//IdDoc/FchEmis"))
	assert.Equal(t, tenantRUT, text(t, root, ".//Emisor/RUTEmisor"))
	assert.Equal(t, "Comercial Ñuñoa SpA", text(t, root, ".//Emisor/RznSoc"))
	assert.Equal(t, "12345678-5", text(t, root, ".//Receptor/RUTRecep"))
	assert.Equal(t, "10000", text(t, root, ".//Totales/MntNeto"))
	assert.Equal(t, "19.00", text(t, root, ".//Totales/TasaIVA"))
	assert.Equal(t, "1900", text(t, root, ".//Totales/IVA"))
	assert.Equal(t, "11900", text(t, root, ".//Totales/MntTotal"))
	assert.Equal(t, "10000", text(t, root, ".//Detalle/MontoItem"))
	assert.Equal(t, "2026-04-02T10:00:00", text(t, root, ".//TmstFirma"))

	ted := root.FindElement(".//TED")
	require.NotNil(t, ted)
	assert.NoError(t, c.VerifyStamp(ted))
}

func TestBuildDTE_NotaCreditoConReferencia(t *testing.T) {
	doc := stampedDocument()
	doc.DocumentType = 61
	raw, err := sii.BuildDTE(sii.BuildInput{
		Document: doc,
		Reference: &sii.Reference{
			DocumentType: 33, Folio: 3, IssueDate: time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC),
			Code: 1, Reason: "Anula factura por error en receptor",
		},
		TaxRate: tasa,
		Now:     time.Now(),
	})
	require.NoError(t, err)

	root := parse(t, raw)
	assert.Equal(t, "33", text(t, root, ".//Referencia/TpoDocRef"))
	assert.Equal(t, "3", text(t, root, ".//Referencia/FolioRef"))
	assert.Equal(t, "1", text(t, root, ".//Referencia/CodRef"))
	assert.Nil(t, root.FindElement(".//TED"), "sin CAF no hay timbre")
}

func TestBuildDTE_BoletaUsaCamposDeBoleta(t *testing.T) {
	doc := stampedDocument()
	doc.DocumentType = 39
	doc.Recipient = nil
	raw, err := sii.BuildDTE(sii.BuildInput{Document: doc, TaxRate: tasa, Now: time.Now()})
	require.NoError(t, err)

	root := parse(t, raw)
	assert.Equal(t, "3", text(t, root, ".//IdDoc/IndServicio"))
	assert.NotNil(t, root.FindElement(".//Emisor/RznSocEmisor"))
	assert.Equal(t, "66666666-6", text(t, root, ".//Receptor/RUTRecep"))
	assert.Nil(t, root.FindElement(".//Totales/TasaIVA"))
}

func TestBuildDTE_SinFolio(t *testing.T) {
	doc := stampedDocument()
	doc.Folio = 0
	_, err := sii.BuildDTE(sii.BuildInput{Document: doc, TaxRate: tasa, Now: time.Now()})
	assert.Error(t, err)
}

func TestBuildEnvelope_FirmaSobreSetDTE(t *testing.T) {
	s := memory.New()
	signer := newSigner(t, s)
	ctx := context.Background()

	raw, err := sii.BuildDTE(sii.BuildInput{Document: stampedDocument(), TaxRate: tasa, Now: time.Now()})
	require.NoError(t, err)
	signedDTE, err := signer.Sign(ctx, raw, "T")
	require.NoError(t, err)
	_, err = xmldsig.Verify(signedDTE)
	require.NoError(t, err)

	env, err := sii.BuildEnvelope(signedDTE, sii.Caratula{
		RutEmisor: tenantRUT, RutEnvia: "12.345.678-5", ResolutionDate: time.Date(2014, 8, 22, 0, 0, 0, 0, time.UTC),
		DocumentType: 33, SignedAt: time.Now(),
	})
	require.NoError(t, err)
	signedEnv, err := signer.Sign(ctx, env, "T")
	require.NoError(t, err)
	_, err = xmldsig.Verify(signedEnv)
	require.NoError(t, err, "la firma del sobre referencia SetDoc")

	root := parse(t, signedEnv)
	assert.Equal(t, "EnvioDTE", root.Tag)
	assert.Equal(t, sii.RUTSII, text(t, root, ".//Caratula/RutReceptor"))
	assert.Equal(t, "12345678-5", text(t, root, ".//Caratula/RutEnvia"))
	assert.Equal(t, "2014-08-22", text(t, root, ".//Caratula/FchResol"))
	assert.Equal(t, "0", text(t, root, ".//Caratula/NroResol"))
	assert.NotNil(t, root.FindElement("SetDTE/DTE/Signature"), "el DTE conserva su firma")

	latin1, err := sii.ToLatin1(signedEnv)
	require.NoError(t, err)
	assert.Contains(t, string(latin1[:60]), `encoding="ISO-8859-1"`)
	assert.True(t, bytes.Contains(latin1, []byte{'u', 0xF1, 'o', 'a'}), "ñ en un byte")
}

func TestBuildEnvelope_Boleta(t *testing.T) {
	doc := stampedDocument()
	doc.DocumentType = 39
	raw, err := sii.BuildDTE(sii.BuildInput{Document: doc, TaxRate: tasa, Now: time.Now()})
	require.NoError(t, err)

	env, err := sii.BuildEnvelope(raw, sii.Caratula{RutEmisor: tenantRUT, RutEnvia: tenantRUT, DocumentType: 39, SignedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "EnvioBOLETA", parse(t, env).Tag)

	_, err = sii.BuildEnvelope([]byte(`<Otro/>`), sii.Caratula{})
	assert.Error(t, err)
}
