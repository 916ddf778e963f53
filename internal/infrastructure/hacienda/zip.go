package hacienda

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"

	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

var nonDigit = regexp.MustCompile(`[^0-9]`)

// PackageDTE empaqueta el XML firmado en un ZIP en memoria con un único
// archivo {NIT}-{numeroControl}.xml, listo para descarga o archivo fiscal.
func PackageDTE(xmlBytes []byte, company *entity.Company, inv *entity.Invoice) ([]byte, string, error) {
	if inv.ControlNumber == "" {
		return nil, "", fmt.Errorf("hacienda: el documento no tiene número de control asignado")
	}
	base := DTEFilename(company, inv)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create(base + ".xml")
	if err != nil {
		return nil, "", fmt.Errorf("zip: crear entrada: %w", err)
	}
	if _, err := fw.Write(xmlBytes); err != nil {
		return nil, "", fmt.Errorf("zip: escribir XML: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("zip: cerrar archivo: %w", err)
	}
	return buf.Bytes(), base + ".zip", nil
}

// DTEFilename genera el nombre base del archivo: {NIT solo dígitos}-{numeroControl}.
func DTEFilename(company *entity.Company, inv *entity.Invoice) string {
	nit := nonDigit.ReplaceAllString(company.NIT, "")
	return nit + "-" + inv.ControlNumber
}
