// Package dto define los contratos JSON de la API HTTP. Las entidades de
// dominio nunca se serializan directamente.
package dto

import "time"

// CreateDraftRequest crea un borrador de factura. El precio unitario es
// opcional: vacío toma el precio de catálogo del producto.
type CreateDraftRequest struct {
	CustomerID string      `json:"customer_id"`
	DocType    string      `json:"doc_type"` // "01" factura, "03" crédito fiscal
	Items      []DraftItem `json:"items"`
}

type DraftItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UnitPrice string `json:"unit_price,omitempty"` // decimal con 2 decimales máximo
}

// InvoiceResponse es la vista pública de una factura.
type InvoiceResponse struct {
	ID             string                `json:"id"`
	CompanyID      string                `json:"company_id"`
	CustomerID     string                `json:"customer_id"`
	DocType        string                `json:"doc_type"`
	Status         string                `json:"status"`
	GenerationCode string                `json:"generation_code,omitempty"`
	ControlNumber  string                `json:"control_number,omitempty"`
	ReceptionSeal  string                `json:"reception_seal,omitempty"`
	Invalidated    bool                  `json:"invalidated"`
	LastError      string                `json:"last_error,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	Items          []InvoiceItemResponse `json:"items,omitempty"`
}

type InvoiceItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TaxRate     string `json:"tax_rate"`
}

// EmitResponse es la respuesta de la emisión: la referencia durable del DTE.
type EmitResponse struct {
	DocumentID     string `json:"document_id"`
	GenerationCode string `json:"generation_code"`
	ControlNumber  string `json:"control_number"`
	Status         string `json:"status"`
}

// InvalidateRequest solicita la invalidación de un DTE aceptado.
type InvalidateRequest struct {
	Type                string `json:"type"` // catálogo CAT-024: "1" error, "2" rescindir, "3" otro
	Justification       string `json:"justification"`
	ResponsibleName     string `json:"responsible_name"`
	ResponsibleDocument string `json:"responsible_document"`
	RequesterName       string `json:"requester_name"`
	RequesterDocument   string `json:"requester_document"`
}

// InvalidateResponse confirma la invalidación con el sello del evento.
type InvalidateResponse struct {
	Seal         string   `json:"seal"`
	Observations []string `json:"observations,omitempty"`
}

// AbandonRequest renuncia a un documento FAILED y anula su correlativo.
type AbandonRequest struct {
	Reason string `json:"reason"`
}

// StatusResponse es el estado actual de un documento.
type StatusResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// TransitionResponse es una entrada del audit trail.
type TransitionResponse struct {
	From           string    `json:"from"`
	To             string    `json:"to"`
	GenerationCode string    `json:"generation_code,omitempty"`
	ControlNumber  string    `json:"control_number,omitempty"`
	ReceptionSeal  string    `json:"reception_seal,omitempty"`
	ErrorPayload   string    `json:"error_payload,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ContingencyEventResponse es la vista de una ventana de contingencia.
type ContingencyEventResponse struct {
	ID              string     `json:"id"`
	Reason          string     `json:"reason"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	GenerationCodes []string   `json:"generation_codes"`
	Reported        bool       `json:"reported"`
}

// SyncResultResponse resume una pasada de sincronización manual.
type SyncResultResponse struct {
	Pushed     int                     `json:"pushed"`
	Applied    int                     `json:"applied"`
	Skipped    int                     `json:"skipped"`
	Violations []SyncViolationResponse `json:"violations,omitempty"`
}

type SyncViolationResponse struct {
	DocumentID string `json:"document_id"`
	LocalHash  string `json:"local_hash"`
	RemoteHash string `json:"remote_hash"`
	LocalSeal  string `json:"local_seal,omitempty"`
	RemoteSeal string `json:"remote_seal,omitempty"`
}

// ErrorResponse es el sobre de error estándar de la API.
type ErrorResponse struct {
	Error string `json:"error"`
}
