package sii_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/sii"
)

var authorized = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func TestParseCAF_Latin1(t *testing.T) {
	c, err := sii.ParseCAF(cafXML(t, 33, 1, 500, authorized))
	require.NoError(t, err)

	assert.Equal(t, tenantRUT, c.IssuerRUT)
	assert.Equal(t, "COMERCIAL ÑUÑOA SPA", c.IssuerName)
	assert.Equal(t, 33, c.DocumentType)
	assert.Equal(t, int64(1), c.From)
	assert.Equal(t, int64(500), c.To)
	assert.True(t, c.CanStamp())
	assert.True(t, c.Covers(500))
	assert.False(t, c.Covers(501))
}

func TestCAF_VencimientoSeisMesesSalvoBoletas(t *testing.T) {
	factura, err := sii.ParseCAF(cafXML(t, 33, 1, 10, authorized))
	require.NoError(t, err)
	require.NotNil(t, factura.ExpiryDate())
	assert.Equal(t, time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC), *factura.ExpiryDate())

	boleta, err := sii.ParseCAF(cafXML(t, 39, 1, 10, authorized))
	require.NoError(t, err)
	assert.Nil(t, boleta.ExpiryDate())
}

func TestParseCAF_NoEsCAF(t *testing.T) {
	_, err := sii.ParseCAF([]byte(`<?xml version="1.0"?><EnvioDTE/>`))
	assert.Error(t, err)

	_, err = sii.ParseCAF([]byte(`<AUTORIZACION><CAF><DA><RE>76086428-9</RE><TD>33</TD>` +
		`<RNG><D>1</D><H>2</H></RNG><FA>2026-01-01</FA></DA></CAF></AUTORIZACION>`))
	assert.Error(t, err, "RUT con DV incorrecto")
}

func TestCAFParser_ConservaXMLEnUTF8(t *testing.T) {
	auth, err := sii.CAFParser{}.Parse(cafXML(t, 61, 20, 40, authorized))
	require.NoError(t, err)

	assert.Equal(t, 61, auth.DocumentType)
	assert.Equal(t, int64(20), auth.RangeStart)
	assert.Contains(t, auth.Raw, `encoding="UTF-8"`)
	assert.Contains(t, auth.Raw, "ÑUÑOA")

	again, err := sii.ParseCAF([]byte(auth.Raw))
	require.NoError(t, err)
	assert.True(t, again.CanStamp())
}

func stampedDocument() *entity.Document {
	return &entity.Document{
		TenantID:     "T",
		DocumentType: 33,
		Folio:        7,
		IssueDate:    time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Issuer:       entity.Party{TaxID: tenantRUT, LegalName: "Comercial Ñuñoa SpA", BusinessLine: "Comercio"},
		Recipient:    &entity.Party{TaxID: "12.345.678-5", LegalName: "Cliente con un nombre bastante largo para el timbre SpA"},
		LineItems: []entity.LineItem{{
			Sequence: 1, Description: "Servicio de asesoría", Quantity: decimal.NewFromInt(1),
			UnitPrice: decimal.NewFromInt(10000), LineTotal: decimal.NewFromInt(10000),
		}},
		NetAmount:   decimal.NewFromInt(10000),
		TaxAmount:   decimal.NewFromInt(1900),
		TotalAmount: decimal.NewFromInt(11900),
	}
}

func TestStamp_FirmaVerificable(t *testing.T) {
	c, err := sii.ParseCAF(cafXML(t, 33, 1, 100, authorized))
	require.NoError(t, err)

	ted, err := c.Stamp(stampedDocument(), "2026-04-02T10:00:00")
	require.NoError(t, err)
	require.NoError(t, c.VerifyStamp(ted))

	dd := ted.SelectElement("DD")
	assert.Equal(t, "12345678-5", dd.SelectElement("RR").Text())
	assert.Len(t, []rune(dd.SelectElement("RSR").Text()), 40)
	assert.Equal(t, "11900", dd.SelectElement("MNT").Text())
	assert.NotNil(t, dd.FindElement("CAF/DA/RNG"))
	assert.Equal(t, "SHA1withRSA", ted.SelectElement("FRMT").SelectAttrValue("algoritmo", ""))

	dd.SelectElement("MNT").SetText("1")
	assert.Error(t, c.VerifyStamp(ted), "un DD alterado no verifica")
}

func TestStamp_FolioFueraDelCAF(t *testing.T) {
	c, err := sii.ParseCAF(cafXML(t, 33, 1, 5, authorized))
	require.NoError(t, err)
	_, err = c.Stamp(stampedDocument(), "2026-04-02T10:00:00")
	assert.Error(t, err)
}

func TestStamp_SinLlave(t *testing.T) {
	c, err := sii.ParseCAF([]byte(`<AUTORIZACION><CAF version="1.0"><DA><RE>76086428-5</RE><TD>33</TD>` +
		`<RNG><D>1</D><H>100</H></RNG><FA>2026-03-10</FA></DA></CAF></AUTORIZACION>`))
	require.NoError(t, err)
	assert.False(t, c.CanStamp())

	_, err = c.Stamp(stampedDocument(), "2026-04-02T10:00:00")
	assert.Error(t, err)
}
