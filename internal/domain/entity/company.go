package entity

import "time"

// Company representa al emisor: la identidad fiscal en cuyo nombre se emiten
// los DTE. Invariante de partición: una empresa es emisor de producción (sus
// documentos cuentan para obligaciones fiscales reales y se sincronizan al
// store remoto) o emisor sandbox/pruebas (sus documentos nunca salen del
// dispositivo). Esa frontera no se cruza jamás.
type Company struct {
	ID             string
	Name           string
	NIT            string // NIT salvadoreño (14 dígitos, con o sin guiones)
	NRC            string // Número de Registro de Contribuyente
	ActivityCode   string // actividad económica (catálogo CAT-019)
	EstablishmentCode string // código de establecimiento (ej. "M001")
	PointOfSaleCode   string // código de punto de venta (ej. "P001")
	Address        string
	Phone          string
	Email          string
	CertPath       string // referencia a la credencial de firma (.p12 o PEM)
	CertKeyPath    string
	IsProduction   bool // true: ambiente "01" y sync remoto; false: sandbox local
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EstablishmentPOS devuelve el bloque {estab}{pos} del número de control.
func (c *Company) EstablishmentPOS() string {
	return c.EstablishmentCode + c.PointOfSaleCode
}
