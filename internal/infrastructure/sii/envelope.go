package sii

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/emisor-dte/pkg/sii"
)

// RUTSII receptor de los envíos (el propio SII).
const RUTSII = "60803000-K"

// Caratula encabezado del sobre de envío.
type Caratula struct {
	RutEmisor        string
	RutEnvia         string
	ResolutionDate   time.Time
	ResolutionNumber int
	DocumentType     int
	SignedAt         time.Time
}

// BuildEnvelope envuelve un DTE ya firmado en EnvioDTE (o EnvioBOLETA) con su carátula.
// El resultado se firma luego sobre SetDTE.
func BuildEnvelope(signedDTE []byte, c Caratula) ([]byte, error) {
	dte := etree.NewDocument()
	if err := dte.ReadFromBytes(signedDTE); err != nil {
		return nil, fmt.Errorf("sii: DTE firmado ilegible: %w", err)
	}
	if dte.Root() == nil || dte.Root().Tag != "DTE" {
		return nil, errors.New("sii: el contenido firmado no es un DTE")
	}

	rootTag := "EnvioDTE"
	if sii.EsBoleta(c.DocumentType) {
		rootTag = "EnvioBOLETA"
	}
	x := etree.NewDocument()
	x.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := x.CreateElement(rootTag)
	root.CreateAttr("xmlns", NsSiiDte)
	root.CreateAttr("version", "1.0")
	set := root.CreateElement("SetDTE")
	set.CreateAttr("ID", "SetDoc")

	car := set.CreateElement("Caratula")
	car.CreateAttr("version", "1.0")
	car.CreateElement("RutEmisor").SetText(mustNormalize(c.RutEmisor))
	car.CreateElement("RutEnvia").SetText(mustNormalize(c.RutEnvia))
	car.CreateElement("RutReceptor").SetText(RUTSII)
	car.CreateElement("FchResol").SetText(c.ResolutionDate.Format(time.DateOnly))
	car.CreateElement("NroResol").SetText(strconv.Itoa(c.ResolutionNumber))
	car.CreateElement("TmstFirmaEnv").SetText(c.SignedAt.Format(tedTimestamp))
	sub := car.CreateElement("SubTotDTE")
	sub.CreateElement("TpoDTE").SetText(strconv.Itoa(c.DocumentType))
	sub.CreateElement("NroDTE").SetText("1")

	set.AddChild(dte.Root().Copy())
	return x.WriteToBytes()
}

// ToLatin1 convierte el XML a ISO-8859-1 (codificación que exige el SII) y ajusta la declaración.
func ToLatin1(utf8XML []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(utf8XML); err != nil {
		return nil, fmt.Errorf("sii: XML ilegible: %w", err)
	}
	for _, tok := range doc.Child {
		if pi, ok := tok.(*etree.ProcInst); ok && pi.Target == "xml" {
			pi.Inst = `version="1.0" encoding="ISO-8859-1"`
		}
	}
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	latin1, err := charmap.ISO8859_1.NewEncoder().Bytes(out)
	if err != nil {
		return nil, fmt.Errorf("sii: caracteres fuera de ISO-8859-1: %w", err)
	}
	return latin1, nil
}

func mustNormalize(rut string) string {
	if n, err := sii.NormalizeRUT(rut); err == nil {
		return n
	}
	return rut
}
