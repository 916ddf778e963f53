package hacienda

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jhoicas/facturador-dte/internal/application/lifecycle"
	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	"github.com/jhoicas/facturador-dte/pkg/logger"
)

// Estados que devuelve el servicio de recepción.
const (
	estadoProcesado = "PROCESADO"
	estadoRechazado = "RECHAZADO"
	estadoEnProceso = "EN_PROCESO"
)

// Client implementa el puerto de envío contra el API REST del Ministerio de
// Hacienda. Con BaseURL vacío opera en modo dev: acepta localmente sin tocar
// la red (mismo contrato, sello sintético).
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient construye el cliente con un timeout de red generoso: el servicio
// de recepción puede tardar varios segundos en validar el documento.
func NewClient(baseURL, authToken string, log *logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

// ── Contratos JSON del servicio ───────────────────────────────────────────────

type receptionRequest struct {
	Ambiente         string `json:"ambiente"`
	Version          int    `json:"version"`
	TipoDte          string `json:"tipoDte"`
	CodigoGeneracion string `json:"codigoGeneracion"`
	NumeroControl    string `json:"numeroControl"`
	NITEmisor        string `json:"nitEmisor"`
	Documento        string `json:"documento"` // XML firmado en Base64
}

type receptionResponse struct {
	Estado         string   `json:"estado"`
	SelloRecibido  string   `json:"selloRecibido"`
	DescripcionMsg string   `json:"descripcionMsg"`
	Observaciones  []string `json:"observaciones"`
}

type contingencyReport struct {
	IDEvento          string   `json:"idEvento"`
	Motivo            string   `json:"motivo"`
	FechaInicio       string   `json:"fechaInicio"`
	FechaFin          string   `json:"fechaFin"`
	CodigosGeneracion []string `json:"codigosGeneracion"`
}

// ── lifecycle.SubmissionClient ────────────────────────────────────────────────

// Submit entrega el DTE firmado al servicio de recepción.
func (c *Client) Submit(ctx context.Context, doc *lifecycle.SignedDocument) (*lifecycle.SubmissionResult, error) {
	if c.baseURL == "" {
		c.log.Warn().Str("generation_code", doc.GenerationCode).Msg("modo dev: DTE aceptado sin enviar")
		return &lifecycle.SubmissionResult{Accepted: true, ReceptionSeal: "DEV-" + doc.GenerationCode}, nil
	}

	body := receptionRequest{
		Ambiente:         doc.Ambiente,
		Version:          1,
		TipoDte:          doc.DocType,
		CodigoGeneracion: doc.GenerationCode,
		NumeroControl:    doc.ControlNumber,
		NITEmisor:        doc.IssuerNIT,
		Documento:        base64.StdEncoding.EncodeToString(doc.Payload),
	}
	var resp receptionResponse
	if err := c.postJSON(ctx, "/fesv/recepciondte", body, &resp); err != nil {
		return nil, err
	}

	switch resp.Estado {
	case estadoProcesado:
		return &lifecycle.SubmissionResult{
			Accepted:      true,
			ReceptionSeal: resp.SelloRecibido,
			Observations:  resp.Observaciones,
		}, nil
	case estadoRechazado:
		return nil, &domain.SubmissionError{
			Category:     domain.SubmissionRejected,
			Message:      resp.DescripcionMsg,
			Observations: resp.Observaciones,
		}
	default:
		return nil, &domain.SubmissionError{
			Category: domain.SubmissionTransient,
			Message:  fmt.Sprintf("estado inesperado del servicio: %q", resp.Estado),
		}
	}
}

// QueryStatus consulta el estado remoto de un envío por código de generación.
func (c *Client) QueryStatus(ctx context.Context, generationCode string) (entity.DocumentStatus, error) {
	if c.baseURL == "" {
		return entity.StatusAccepted, nil
	}
	var resp receptionResponse
	if err := c.getJSON(ctx, "/fesv/recepcion/"+url.PathEscape(generationCode), &resp); err != nil {
		return "", err
	}
	switch resp.Estado {
	case estadoProcesado:
		return entity.StatusAccepted, nil
	case estadoRechazado:
		return entity.StatusFailed, nil
	case estadoEnProceso:
		return entity.StatusSubmitted, nil
	default:
		return "", fmt.Errorf("hacienda: estado remoto desconocido %q", resp.Estado)
	}
}

// Invalidate envía el evento de invalidación firmado.
func (c *Client) Invalidate(ctx context.Context, doc *lifecycle.SignedDocument) (*lifecycle.InvalidationResult, error) {
	if c.baseURL == "" {
		c.log.Warn().Str("generation_code", doc.GenerationCode).Msg("modo dev: invalidación aceptada sin enviar")
		return &lifecycle.InvalidationResult{Accepted: true, Seal: "DEV-ANUL-" + doc.GenerationCode}, nil
	}

	body := receptionRequest{
		Ambiente:         doc.Ambiente,
		Version:          1,
		TipoDte:          doc.DocType,
		CodigoGeneracion: doc.GenerationCode,
		NumeroControl:    doc.ControlNumber,
		NITEmisor:        doc.IssuerNIT,
		Documento:        base64.StdEncoding.EncodeToString(doc.Payload),
	}
	var resp receptionResponse
	if err := c.postJSON(ctx, "/fesv/anulardte", body, &resp); err != nil {
		return nil, err
	}
	return &lifecycle.InvalidationResult{
		Accepted:     resp.Estado == estadoProcesado,
		Seal:         resp.SelloRecibido,
		Observations: resp.Observaciones,
	}, nil
}

// ── contingency.HealthProber / contingency.WindowReporter ────────────────────

// Probe verifica la salud del servicio de recepción.
func (c *Client) Probe(ctx context.Context) error {
	if c.baseURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fesv/salud", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hacienda: salud respondió %d", resp.StatusCode)
	}
	return nil
}

// ReportContingency notifica a Hacienda una ventana de contingencia cerrada.
func (c *Client) ReportContingency(ctx context.Context, ev *entity.ContingencyEvent) error {
	if c.baseURL == "" {
		return nil
	}
	endedAt := ""
	if ev.EndedAt != nil {
		endedAt = ev.EndedAt.UTC().Format(timeLayoutDTE)
	}
	body := contingencyReport{
		IDEvento:          ev.ID,
		Motivo:            ev.Reason,
		FechaInicio:       ev.StartedAt.UTC().Format(timeLayoutDTE),
		FechaFin:          endedAt,
		CodigosGeneracion: ev.GenerationCodes,
	}
	var resp receptionResponse
	return c.postJSON(ctx, "/fesv/contingencia", body, &resp)
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("hacienda: serializar petición: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	return c.do(req, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// do ejecuta la petición y clasifica el fallo: timeout → transitorio, red
// caída o 503 → servicio no disponible, 4xx → rechazo, resto de 5xx →
// transitorio.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if uerr, ok := err.(*url.Error); ok && uerr.Timeout() {
			return &domain.SubmissionError{Category: domain.SubmissionTransient, Message: "timeout contra el servicio de recepción"}
		}
		return &domain.SubmissionError{Category: domain.SubmissionUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.SubmissionError{Category: domain.SubmissionTransient, Message: "leer respuesta: " + err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(raw, out); err != nil {
			return &domain.SubmissionError{Category: domain.SubmissionTransient, Message: "respuesta ilegible del servicio"}
		}
		return nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		return &domain.SubmissionError{Category: domain.SubmissionUnavailable, Message: "servicio de recepción no disponible (503)"}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &domain.SubmissionError{Category: domain.SubmissionTransient, Message: fmt.Sprintf("servicio respondió %d", resp.StatusCode)}
	default:
		// 4xx: el documento fue examinado y rechazado.
		var body receptionResponse
		msg := fmt.Sprintf("rechazado con %d", resp.StatusCode)
		if json.Unmarshal(raw, &body) == nil && body.DescripcionMsg != "" {
			msg = body.DescripcionMsg
		}
		return &domain.SubmissionError{Category: domain.SubmissionRejected, Message: msg, Observations: parseObs(raw)}
	}
}

func parseObs(raw []byte) []string {
	var body receptionResponse
	if json.Unmarshal(raw, &body) == nil {
		return body.Observaciones
	}
	return nil
}
