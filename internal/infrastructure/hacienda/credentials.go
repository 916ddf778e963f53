package hacienda

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	"github.com/jhoicas/facturador-dte/internal/infrastructure/hacienda/signer"
)

// CredentialStore resuelve la credencial de firma de cada emisor a partir de
// las rutas registradas en su ficha (.p12 o par PEM). No cachea: la rotación
// de la credencial surte efecto en la siguiente firma.
type CredentialStore struct {
	p12Password string
}

func NewCredentialStore(p12Password string) *CredentialStore {
	return &CredentialStore{p12Password: p12Password}
}

// Load implementa lifecycle.CredentialSource.
func (s *CredentialStore) Load(company *entity.Company) (tls.Certificate, error) {
	if company.CertPath == "" {
		return tls.Certificate{}, fmt.Errorf("el emisor %s no tiene credencial de firma registrada", company.ID)
	}
	if strings.HasSuffix(strings.ToLower(company.CertPath), ".p12") ||
		strings.HasSuffix(strings.ToLower(company.CertPath), ".pfx") {
		return signer.LoadFromP12(company.CertPath, s.p12Password)
	}
	return signer.LoadFromPEM(company.CertPath, company.CertKeyPath)
}
