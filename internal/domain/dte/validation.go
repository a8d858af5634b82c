package dte

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// MaxItemNameLength largo máximo del nombre de ítem (NmbItem).
const MaxItemNameLength = 80

// ValidateLineItems comprueba secuencia contigua desde 1, cantidades, precios,
// nombres y que cada LineTotal coincida con el cálculo de la calculadora.
func ValidateLineItems(c *Calculator, items []entity.LineItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: el documento debe tener al menos una línea", domain.ErrInvalidDocument)
	}
	var errs []error
	for i, it := range items {
		if it.Sequence != i+1 {
			errs = append(errs, fmt.Errorf("línea %d: secuencia %d no contigua", i+1, it.Sequence))
		}
		if it.Description == "" {
			errs = append(errs, fmt.Errorf("línea %d: nombre de ítem vacío", i+1))
		}
		if utf8.RuneCountInString(it.Description) > MaxItemNameLength {
			errs = append(errs, fmt.Errorf("línea %d: nombre de ítem supera %d caracteres", i+1, MaxItemNameLength))
		}
		if !it.Quantity.IsPositive() {
			errs = append(errs, fmt.Errorf("línea %d: cantidad debe ser positiva", i+1))
		}
		if it.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Errorf("línea %d: precio unitario negativo", i+1))
		}
		if it.DiscountPercent.IsNegative() || it.DiscountPercent.GreaterThan(hundred) || it.DiscountAmount.IsNegative() {
			errs = append(errs, fmt.Errorf("línea %d: descuento fuera de rango", i+1))
		}
		if want := c.LineTotal(it); !it.LineTotal.Equal(want) {
			errs = append(errs, fmt.Errorf("línea %d: monto %s no coincide con el calculado %s", i+1, it.LineTotal, want))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidDocument, errors.Join(errs...))
	}
	return nil
}

// ValidateDocument valida un documento antes de salir de DRAFT:
// líneas coherentes, montos que cuadran y folio asignado si requireFolio.
func ValidateDocument(c *Calculator, doc *entity.Document, requireFolio bool) error {
	if doc == nil {
		return fmt.Errorf("%w: documento nulo", domain.ErrInvalidDocument)
	}
	if err := ValidateLineItems(c, doc.LineItems); err != nil {
		return err
	}
	m := Montos{Neto: doc.NetAmount, IVA: doc.TaxAmount, Exento: doc.ExemptAmount, Total: doc.TotalAmount}
	if !c.Validate(m) {
		return fmt.Errorf("%w: neto %s + iva %s + exento %s != total %s",
			domain.ErrInvalidDocument, m.Neto, m.IVA, m.Exento, m.Total)
	}
	if m.Neto.IsNegative() || m.IVA.IsNegative() || m.Exento.IsNegative() {
		return fmt.Errorf("%w: montos negativos", domain.ErrInvalidDocument)
	}
	var exempt decimal.Decimal
	allExempt := doc.NetAmount.IsZero() && doc.TaxAmount.IsZero()
	for _, it := range doc.LineItems {
		if it.Exempt || allExempt {
			exempt = exempt.Add(it.LineTotal)
		}
	}
	if !exempt.Equal(doc.ExemptAmount) {
		return fmt.Errorf("%w: exento %s no coincide con la suma de líneas exentas %s",
			domain.ErrInvalidDocument, doc.ExemptAmount, exempt)
	}
	if requireFolio && doc.Folio <= 0 {
		return fmt.Errorf("%w: folio no asignado", domain.ErrInvalidDocument)
	}
	return nil
}
