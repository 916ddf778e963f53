// Package syncremote implementa el transporte HTTP hacia el store compartido
// de sincronización multi-dispositivo. El store remoto es un servicio propio
// (no Hacienda): un log de cambios global con revisiones monótonas.
package syncremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jhoicas/facturador-dte/internal/application/syncer"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

var _ syncer.Transport = (*HTTPTransport)(nil)

// HTTPTransport empuja y trae registros de cambio vía JSON sobre HTTP.
type HTTPTransport struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewHTTPTransport construye el transporte.
func NewHTTPTransport(baseURL, authToken string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type wireRecord struct {
	ID             string    `json:"id"`
	CompanyID      string    `json:"companyId"`
	DocumentID     string    `json:"documentId"`
	GenerationCode string    `json:"generationCode,omitempty"`
	Revision       int64     `json:"revision"`
	Status         string    `json:"status"`
	ContentHash    string    `json:"contentHash,omitempty"`
	ReceptionSeal  string    `json:"receptionSeal,omitempty"`
	Payload        []byte    `json:"payload,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type pushRequest struct {
	Records []wireRecord `json:"records"`
}

type pullResponse struct {
	Records []wireRecord `json:"records"`
	Cursor  int64        `json:"cursor"`
}

// Push entrega los cambios locales al store remoto.
func (t *HTTPTransport) Push(ctx context.Context, recs []*entity.ChangeRecord) error {
	body := pushRequest{Records: make([]wireRecord, 0, len(recs))}
	for _, rec := range recs {
		body.Records = append(body.Records, toWire(rec))
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sync: serializar push: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sync/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	t.authorize(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync: push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync: push respondió %d", resp.StatusCode)
	}
	return nil
}

// Pull trae los cambios remotos posteriores a sinceRevision y el nuevo cursor.
func (t *HTTPTransport) Pull(ctx context.Context, sinceRevision int64) ([]*entity.ChangeRecord, int64, error) {
	u := t.baseURL + "/sync/pull?since=" + url.QueryEscape(strconv.FormatInt(sinceRevision, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	t.authorize(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("sync: pull: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("sync: pull respondió %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("sync: leer respuesta: %w", err)
	}
	var body pullResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, 0, fmt.Errorf("sync: respuesta ilegible: %w", err)
	}

	recs := make([]*entity.ChangeRecord, 0, len(body.Records))
	for i := range body.Records {
		recs = append(recs, fromWire(&body.Records[i]))
	}
	return recs, body.Cursor, nil
}

func (t *HTTPTransport) authorize(req *http.Request) {
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}
}

func toWire(rec *entity.ChangeRecord) wireRecord {
	return wireRecord{
		ID:             rec.ID,
		CompanyID:      rec.CompanyID,
		DocumentID:     rec.DocumentID,
		GenerationCode: rec.GenerationCode,
		Revision:       rec.Revision,
		Status:         string(rec.Status),
		ContentHash:    rec.ContentHash,
		ReceptionSeal:  rec.ReceptionSeal,
		Payload:        rec.Payload,
		CreatedAt:      rec.CreatedAt,
	}
}

func fromWire(w *wireRecord) *entity.ChangeRecord {
	return &entity.ChangeRecord{
		ID:             w.ID,
		CompanyID:      w.CompanyID,
		DocumentID:     w.DocumentID,
		GenerationCode: w.GenerationCode,
		Revision:       w.Revision,
		Status:         entity.DocumentStatus(w.Status),
		ContentHash:    w.ContentHash,
		ReceptionSeal:  w.ReceptionSeal,
		Payload:        w.Payload,
		CreatedAt:      w.CreatedAt,
	}
}
