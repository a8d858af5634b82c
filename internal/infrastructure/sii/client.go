package sii

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/emisor-dte/pkg/sii"
)

// ── Constantes de entorno ──────────────────────────────────────────────────────

const (
	// EnvCert ambiente de certificación (maullin).
	EnvCert = "cert"
	// EnvProd ambiente de producción (palena).
	EnvProd = "prod"
	// EnvDev identificador local: no contacta al SII.
	EnvDev = "dev"

	hostCert = "https://maullin.sii.cl"
	hostProd = "https://palena.sii.cl"

	soapNS = "http://schemas.xmlsoap.org/soap/envelope/"

	// El SII invalida tokens inactivos; se renuevan antes de ese plazo.
	tokenTTL = 30 * time.Minute

	// User-Agent que exige DTEUpload.
	uploadUserAgent = "Mozilla/4.0 (compatible; PROG 1.0; Windows NT 5.0; YComp 5.0.2.4)"
)

// Host devuelve la URL base del ambiente.
func Host(env string) (string, error) {
	switch env {
	case EnvCert:
		return hostCert, nil
	case EnvProd:
		return hostProd, nil
	default:
		return "", fmt.Errorf("sii: ambiente desconocido %q (usar cert|prod|dev)", env)
	}
}

// uploadStatus glosa de los códigos STATUS de DTEUpload.
var uploadStatus = map[string]string{
	"1":  "el usuario no tiene permiso para enviar",
	"2":  "error en tamaño del archivo",
	"3":  "archivo cortado",
	"5":  "no está autenticado",
	"6":  "empresa no autorizada a enviar archivos",
	"7":  "esquema inválido",
	"8":  "firma del documento",
	"9":  "sistema bloqueado",
	"99": "error interno del SII",
}

// SeedSigner firma la semilla con el certificado del tenant (getToken).
type SeedSigner interface {
	Sign(ctx context.Context, raw []byte, tenantID string) ([]byte, error)
}

// UploadResult respuesta de DTEUpload.
type UploadResult struct {
	Status  string
	TrackID string
	Message string
}

// Accepted indica recepción del envío (STATUS 0).
func (r UploadResult) Accepted() bool { return r.Status == "0" }

// EnvelopeStatus respuesta de QueryEstUp.
type EnvelopeStatus struct {
	Estado    string
	Glosa     string
	Aceptados int
	Rechazos  int
	Reparos   int
}

// Client servicios web del SII: semilla/token, carga de envíos y estado del envío.
// Usa net/http de la stdlib.
type Client struct {
	host       string
	httpClient *http.Client
	signer     SeedSigner

	mu     sync.Mutex
	tokens map[string]cachedToken
	now    func() time.Time
}

type cachedToken struct {
	value   string
	expires time.Time
}

// NewClient construye el cliente para el host del ambiente.
func NewClient(host string, signer SeedSigner, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		httpClient: httpClient,
		signer:     signer,
		tokens:     make(map[string]cachedToken),
		now:        time.Now,
	}
}

// ── Token ─────────────────────────────────────────────────────────────────────

// Token devuelve el token vigente del tenant, solicitando uno nuevo si expiró.
func (c *Client) Token(ctx context.Context, tenantID string) (string, error) {
	c.mu.Lock()
	t, ok := c.tokens[tenantID]
	c.mu.Unlock()
	if ok && c.now().Before(t.expires) {
		return t.value, nil
	}

	seed, err := c.getSeed(ctx)
	if err != nil {
		return "", err
	}
	req := etree.NewDocument()
	req.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	req.CreateElement("getToken").CreateElement("item").CreateElement("Semilla").SetText(seed)
	unsigned, err := req.WriteToBytes()
	if err != nil {
		return "", err
	}
	signed, err := c.signer.Sign(ctx, unsigned, tenantID)
	if err != nil {
		return "", err
	}
	token, err := c.getToken(ctx, signed)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.tokens[tenantID] = cachedToken{value: token, expires: c.now().Add(tokenTTL)}
	c.mu.Unlock()
	return token, nil
}

// Forget descarta el token cacheado (p. ej. tras STATUS 5).
func (c *Client) Forget(tenantID string) {
	c.mu.Lock()
	delete(c.tokens, tenantID)
	c.mu.Unlock()
}

func (c *Client) getSeed(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, "/DTEWS/CrSeed.jws", "getSeed", nil)
	if err != nil {
		return "", err
	}
	if estado := childText(resp, ".//ESTADO"); estado != "00" {
		return "", fmt.Errorf("sii: getSeed estado %s", estado)
	}
	seed := childText(resp, ".//SEMILLA")
	if seed == "" {
		return "", errors.New("sii: getSeed sin semilla")
	}
	return seed, nil
}

func (c *Client) getToken(ctx context.Context, signedSeed []byte) (string, error) {
	resp, err := c.call(ctx, "/DTEWS/GetTokenFromSeed.jws", "getToken", [][2]string{{"pszXml", string(signedSeed)}})
	if err != nil {
		return "", err
	}
	if estado := childText(resp, ".//ESTADO"); estado != "00" {
		return "", fmt.Errorf("sii: getToken estado %s: %s", estado, childText(resp, ".//GLOSA"))
	}
	token := childText(resp, ".//TOKEN")
	if token == "" {
		return "", errors.New("sii: getToken sin token")
	}
	return token, nil
}

// ── Upload ────────────────────────────────────────────────────────────────────

// Upload envía el sobre (ya en ISO-8859-1) por DTEUpload.
func (c *Client) Upload(ctx context.Context, token, senderRUT, companyRUT string, envelope []byte) (*UploadResult, error) {
	senderBody, senderDV, err := sii.SplitRUT(senderRUT)
	if err != nil {
		return nil, fmt.Errorf("sii: RUT del enviador: %w", err)
	}
	companyBody, companyDV, err := sii.SplitRUT(companyRUT)
	if err != nil {
		return nil, fmt.Errorf("sii: RUT de la empresa: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{
		{"rutSender", strconv.Itoa(senderBody)},
		{"dvSender", string(senderDV)},
		{"rutCompany", strconv.Itoa(companyBody)},
		{"dvCompany", string(companyDV)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="archivo"; filename="envio.xml"`)
	h.Set("Content-Type", "text/xml")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(envelope); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/cgi_dte/UPL/DTEUpload", &body)
	if err != nil {
		return nil, fmt.Errorf("sii: crear request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", uploadUserAgent)
	req.Header.Set("Cookie", "TOKEN="+token)

	raw, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("sii: respuesta de DTEUpload ilegible: %w", err)
	}
	res := &UploadResult{
		Status:  childText(doc.Root(), ".//STATUS"),
		TrackID: childText(doc.Root(), ".//TRACKID"),
	}
	if !res.Accepted() {
		res.Message = uploadStatus[res.Status]
		if res.Message == "" {
			res.Message = "envío no recibido"
		}
	}
	return res, nil
}

// ── Estado ────────────────────────────────────────────────────────────────────

// EnvelopeStatus consulta QueryEstUp por track id.
func (c *Client) EnvelopeStatus(ctx context.Context, token, companyRUT, trackID string) (*EnvelopeStatus, error) {
	body, dv, err := sii.SplitRUT(companyRUT)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, "/DTEWS/QueryEstUp.jws", "getEstUp", [][2]string{
		{"RutCompania", strconv.Itoa(body)},
		{"DvCompania", string(dv)},
		{"TrackId", trackID},
		{"Token", token},
	})
	if err != nil {
		return nil, err
	}
	st := &EnvelopeStatus{
		Estado: childText(resp, ".//ESTADO"),
		Glosa:  childText(resp, ".//GLOSA"),
	}
	st.Aceptados, _ = strconv.Atoi(childText(resp, ".//ACEPTADOS"))
	st.Rechazos, _ = strconv.Atoi(childText(resp, ".//RECHAZOS"))
	st.Reparos, _ = strconv.Atoi(childText(resp, ".//REPAROS"))
	return st, nil
}

// ── SOAP ──────────────────────────────────────────────────────────────────────

// call invoca una operación RPC del SII y devuelve la respuesta interna ya parseada
// (el SII entrega un XML escapado dentro de <{op}Return>).
func (c *Client) call(ctx context.Context, path, op string, params [][2]string) (*etree.Element, error) {
	env := etree.NewDocument()
	env.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	e := env.CreateElement("soapenv:Envelope")
	e.CreateAttr("xmlns:soapenv", soapNS)
	e.CreateElement("soapenv:Header")
	o := e.CreateElement("soapenv:Body").CreateElement(op)
	for _, p := range params {
		o.CreateElement(p[0]).SetText(p[1])
	}
	payload, err := env.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("sii: serializar envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("sii: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	raw, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	outer := etree.NewDocument()
	if err := outer.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("sii: respuesta SOAP ilegible: %w", err)
	}
	if fault := outer.FindElement(".//Fault"); fault != nil {
		return nil, fmt.Errorf("sii: SOAP Fault: %s", childText(fault, "faultstring"))
	}
	ret := outer.FindElement(".//" + op + "Return")
	if ret == nil {
		return nil, fmt.Errorf("sii: respuesta de %s sin %sReturn", op, op)
	}
	inner := etree.NewDocument()
	if err := inner.ReadFromString(strings.TrimSpace(ret.Text())); err != nil {
		return nil, fmt.Errorf("sii: respuesta interna de %s ilegible: %w", op, err)
	}
	if inner.Root() == nil {
		return nil, fmt.Errorf("sii: respuesta de %s vacía", op)
	}
	return inner.Root(), nil
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sii: timeout o cancelación: %w", ctx.Err())
		}
		return nil, fmt.Errorf("sii: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("sii: leer respuesta: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sii: HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if latin1Decl.Match(raw[:min(len(raw), 100)]) {
		return toUTF8(raw)
	}
	return raw, nil
}
