// Package mail envía el acuse de emisión al receptor con el PDF y el XML adjuntos.
package mail

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"github.com/jhoicas/emisor-dte/internal/application/dte"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/pdf"
	"github.com/jhoicas/emisor-dte/pkg/config"
	"github.com/jhoicas/emisor-dte/pkg/logger"
	"github.com/jhoicas/emisor-dte/pkg/sii"
)

// Dialer envía mensajes ya armados (gomail.Dialer).
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// PDFRenderer genera la representación impresa.
type PDFRenderer interface {
	Generate(ctx context.Context, p pdf.Printable) ([]byte, error)
}

// ReceiptSender implementa dte.ReceiptNotifier por SMTP.
type ReceiptSender struct {
	dialer Dialer
	from   string
	pdf    PDFRenderer
	log    *logger.Logger
}

var _ dte.ReceiptNotifier = (*ReceiptSender)(nil)

// New construye el emisor de correos con la configuración SMTP.
func New(cfg config.SMTPConfig, renderer PDFRenderer, log *logger.Logger) *ReceiptSender {
	return NewWithDialer(gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password), cfg.From, renderer, log)
}

// NewWithDialer permite inyectar el transporte (pruebas).
func NewWithDialer(d Dialer, from string, renderer PDFRenderer, log *logger.Logger) *ReceiptSender {
	if log == nil {
		log = logger.Nop()
	}
	return &ReceiptSender{dialer: d, from: from, pdf: renderer, log: log.Module("mail")}
}

// SendReceipt envía el acuse al correo del receptor.
func (s *ReceiptSender) SendReceipt(ctx context.Context, doc *entity.Document) error {
	if doc.Recipient == nil || doc.Recipient.Email == "" {
		return fmt.Errorf("mail: el documento %s no tiene correo de receptor", doc.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	name := documentLabel(doc)

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", doc.Recipient.Email)
	m.SetHeader("Subject", fmt.Sprintf("%s - %s", name, doc.Issuer.LegalName))
	m.SetBody("text/plain", fmt.Sprintf(
		"Estimado(a) %s:\n\nAdjuntamos %s emitido por %s (RUT %s) el %s, por un total de $%s.\n\n"+
			"Este documento fue aceptado por la autoridad tributaria.\n",
		doc.Recipient.LegalName, name, doc.Issuer.LegalName, doc.Issuer.TaxID,
		doc.IssueDate.Format("02/01/2006"), doc.TotalAmount.StringFixed(0)))

	base := fmt.Sprintf("DTE_%d_%d", doc.DocumentType, doc.Folio)
	if s.pdf != nil {
		raw, err := s.pdf.Generate(ctx, pdf.Printable{Document: doc})
		if err != nil {
			return fmt.Errorf("mail: generar PDF: %w", err)
		}
		m.Attach(base+".pdf", attachment(raw), gomail.SetHeader(map[string][]string{"Content-Type": {"application/pdf"}}))
	}
	if doc.SignedContent != "" {
		m.Attach(base+".xml", attachment([]byte(doc.SignedContent)), gomail.SetHeader(map[string][]string{"Content-Type": {"application/xml"}}))
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("mail: enviar a %s: %w", doc.Recipient.Email, err)
	}
	s.log.Info().Str("document_id", doc.ID).Str("to", doc.Recipient.Email).Msg("acuse enviado")
	return nil
}

func attachment(b []byte) gomail.FileSetting {
	return gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
}

func documentLabel(doc *entity.Document) string {
	if n, ok := sii.NombresTipoDTE[doc.DocumentType]; ok {
		return fmt.Sprintf("%s N° %d", n, doc.Folio)
	}
	return fmt.Sprintf("Documento %d N° %d", doc.DocumentType, doc.Folio)
}
