package entity

import "time"

// ChangeRecord es la unidad de intercambio de la sincronización
// multi-dispositivo: el estado observable de un documento en una revisión
// dada, más el hash de su snapshot firmado para la comparación de integridad
// entre dispositivos. El change log local es append-only; cada transición
// persistida produce un registro.
type ChangeRecord struct {
	ID             string
	CompanyID      string
	DocumentID     string
	GenerationCode string
	Revision       int64 // monótona por dispositivo, asigna el change log
	Status         DocumentStatus
	ContentHash    string // hash del snapshot canónico (vacío antes de firmar)
	ReceptionSeal  string // sello de Hacienda; no forma parte del hash del snapshot
	Payload        []byte // estado serializado del documento
	Pushed         bool
	CreatedAt      time.Time
}
