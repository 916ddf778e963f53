package entity

import "time"

// Customer representa al receptor del DTE.
type Customer struct {
	ID           string
	CompanyID    string
	Name         string
	DocumentType string // "36" NIT | "13" DUI (catálogo CAT-022)
	DocumentNum  string
	NRC          string // obligatorio solo para Crédito Fiscal
	Email        string
	Phone        string
	Address      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
