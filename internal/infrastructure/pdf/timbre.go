package pdf

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/beevik/etree"
	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/pdf417"
	"golang.org/x/text/encoding/charmap"
)

// pdf417SecurityLevel nivel de corrección de errores exigido para el timbre.
const pdf417SecurityLevel = 5

// StampData extrae el TED del DTE firmado, serializado en ISO-8859-1 tal como va en el
// código de barras. Devuelve "" si el documento no lleva timbre.
func StampData(signedXML string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(signedXML); err != nil {
		return "", fmt.Errorf("pdf: XML firmado ilegible: %w", err)
	}
	ted := doc.FindElement(".//TED")
	if ted == nil {
		return "", nil
	}
	out := etree.NewDocument()
	out.SetRoot(ted.Copy())
	s, err := out.WriteToString()
	if err != nil {
		return "", err
	}
	latin1, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return "", fmt.Errorf("pdf: timbre con caracteres fuera de ISO-8859-1: %w", err)
	}
	return latin1, nil
}

// PDF417 codifica data como imagen PNG.
func PDF417(data string) ([]byte, error) {
	code, err := pdf417.Encode(data, pdf417SecurityLevel)
	if err != nil {
		return nil, fmt.Errorf("pdf: codificar PDF417: %w", err)
	}
	b := code.Bounds()
	scaled, err := barcode.Scale(code, b.Dx()*2, b.Dy()*4)
	if err != nil {
		return nil, fmt.Errorf("pdf: escalar PDF417: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("pdf: PNG del timbre: %w", err)
	}
	return buf.Bytes(), nil
}
