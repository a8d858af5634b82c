// Package dte contiene las reglas puras del documento tributario electrónico:
// cálculo de montos con redondeo de la autoridad, máquina de estados y validaciones.
package dte

import (
	"fmt"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Montos desglose monetario obligatorio de un DTE.
type Montos struct {
	Neto   decimal.Decimal
	IVA    decimal.Decimal
	Exento decimal.Decimal
	Total  decimal.Decimal
}

// Calculator calcula montos con la tasa de IVA y la precisión de la moneda.
// Redondeo: mitad hacia arriba (los montos son no negativos, decimal.Round equivale a half-up).
type Calculator struct {
	taxRate decimal.Decimal
	divisor decimal.Decimal // 1 + taxRate, precalculado
	places  int32
}

// NewCalculator construye la calculadora. places = decimales de la moneda (CLP = 0).
func NewCalculator(taxRate decimal.Decimal, places int32) (*Calculator, error) {
	if taxRate.IsNegative() || taxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("dte: tasa de impuesto fuera de rango: %s", taxRate)
	}
	if places < 0 {
		return nil, fmt.Errorf("dte: decimales de moneda negativos: %d", places)
	}
	return &Calculator{
		taxRate: taxRate,
		divisor: decimal.NewFromInt(1).Add(taxRate),
		places:  places,
	}, nil
}

// TaxRate tasa configurada.
func (c *Calculator) TaxRate() decimal.Decimal { return c.taxRate }

func (c *Calculator) round(d decimal.Decimal) decimal.Decimal {
	return d.Round(c.places)
}

// LineTotal monto de la línea: round(cantidad × precio) menos el descuento redondeado.
// DiscountAmount tiene precedencia sobre DiscountPercent.
func (c *Calculator) LineTotal(it entity.LineItem) decimal.Decimal {
	gross := c.round(it.Quantity.Mul(it.UnitPrice))
	discount := it.DiscountAmount
	if discount.IsZero() && it.DiscountPercent.IsPositive() {
		discount = gross.Mul(it.DiscountPercent).Div(hundred)
	}
	total := gross.Sub(c.round(discount))
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// FromLineItems calcula montos desde líneas con precios que incluyen impuesto:
// neto = round(subtotal afecto / (1+tasa)), iva = subtotal afecto - neto.
// Con allExempt todas las líneas se consideran exentas.
func (c *Calculator) FromLineItems(items []entity.LineItem, allExempt bool) Montos {
	affected, exempt := c.split(items, allExempt)
	neto := c.round(affected.Div(c.divisor))
	return Montos{
		Neto:   neto,
		IVA:    affected.Sub(neto),
		Exento: exempt,
		Total:  affected.Add(exempt),
	}
}

// FromNetLineItems calcula montos desde líneas con precios netos (facturas):
// iva = round(neto × tasa).
func (c *Calculator) FromNetLineItems(items []entity.LineItem, allExempt bool) Montos {
	affected, exempt := c.split(items, allExempt)
	iva := c.round(affected.Mul(c.taxRate))
	return Montos{
		Neto:   affected,
		IVA:    iva,
		Exento: exempt,
		Total:  affected.Add(iva).Add(exempt),
	}
}

func (c *Calculator) split(items []entity.LineItem, allExempt bool) (affected, exempt decimal.Decimal) {
	for _, it := range items {
		lt := c.LineTotal(it)
		if allExempt || it.Exempt {
			exempt = exempt.Add(lt)
		} else {
			affected = affected.Add(lt)
		}
	}
	return affected, exempt
}

// FromTaxInclusiveTotal desglosa un total con impuesto incluido.
func (c *Calculator) FromTaxInclusiveTotal(total decimal.Decimal) Montos {
	total = c.round(total)
	neto := c.round(total.Div(c.divisor))
	return Montos{Neto: neto, IVA: total.Sub(neto), Exento: decimal.Zero, Total: total}
}

// FromNetAmount calcula impuesto y total desde un neto.
func (c *Calculator) FromNetAmount(net decimal.Decimal) Montos {
	net = c.round(net)
	iva := c.round(net.Mul(c.taxRate))
	return Montos{Neto: net, IVA: iva, Exento: decimal.Zero, Total: net.Add(iva)}
}

// Validate es true solo si neto + iva + exento == total, exacto.
func (c *Calculator) Validate(m Montos) bool {
	return m.Neto.Add(m.IVA).Add(m.Exento).Equal(m.Total)
}
