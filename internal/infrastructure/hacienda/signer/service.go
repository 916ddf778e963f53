// Servicio de firma electrónica del DTE: XML-DSig enveloped con propiedades
// XAdES (SigningTime, SigningCertificate). Inyecta <ds:Signature> en el
// elemento <Firma> que el codec deja vacío.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
)

// Service implementa la firma del DTE. Función pura sobre bytes: la credencial
// la aporta el caller en cada llamada.
type Service struct {
	// Now se inyecta en tests para fijar el SigningTime.
	Now func() time.Time
}

func NewService() *Service {
	return &Service{Now: time.Now}
}

// Sign firma el XML del DTE e inyecta el nodo ds:Signature en <Firma>.
func (s *Service) Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("hacienda: XML vacío")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("hacienda: la credencial debe incluir llave privada RSA")
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("hacienda: la credencial no trae certificado")
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("hacienda: parsear certificado: %w", err)
	}

	// 1) Digest del documento (C14N). Reference URI="#dte-doc"
	canonicalDoc, err := canonicalizeXML(xmlBytes)
	if err != nil {
		canonicalDoc = xmlBytes
	}
	docDigest := sha256.Sum256(canonicalDoc)
	docDigestB64 := base64.StdEncoding.EncodeToString(docDigest[:])

	// 2) SignedInfo canónico firmado con RSA-SHA256
	signedInfoXML := s.buildSignedInfo(docDigestB64)
	canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfoXML))
	if err != nil {
		canonicalSignedInfo = []byte(signedInfoXML)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, fmt.Errorf("hacienda: firmar SignedInfo: %w", err)
	}
	signatureValueB64 := base64.StdEncoding.EncodeToString(signatureValue)

	// 3) KeyInfo + propiedades XAdES
	certB64 := base64.StdEncoding.EncodeToString(x509Cert.Raw)
	signingTime := s.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	certDigestB64, issuerName, serialHex := CertDigestAndIssuerSerial(x509Cert)
	signatureXML := s.buildFullSignature(signedInfoXML, signatureValueB64, certB64, signingTime, certDigestB64, issuerName, serialHex)

	// 4) Inyectar en <Firma>
	return injectSignature(xmlBytes, signatureXML)
}

// Verify comprueba la firma de un DTE ya firmado con la credencial dada:
// recalcula el digest del documento sin el nodo de firma y verifica el
// SignatureValue contra el SignedInfo canónico. Firmar dos veces los mismos
// bytes produce firmas que verifican ambas.
func (s *Service) Verify(signedBytes []byte, cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return fmt.Errorf("hacienda: la credencial no trae certificado")
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("hacienda: parsear certificado: %w", err)
	}
	pub, ok := x509Cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("hacienda: el certificado no lleva llave pública RSA")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedBytes); err != nil {
		return fmt.Errorf("hacienda: parsear XML firmado: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("hacienda: documento sin raíz")
	}
	firma := root.SelectElement("Firma")
	if firma == nil {
		return fmt.Errorf("hacienda: el documento no tiene elemento Firma")
	}
	sig := firma.SelectElement("ds:Signature")
	if sig == nil {
		return fmt.Errorf("hacienda: el documento no está firmado")
	}

	sigValueEl := sig.SelectElement("ds:SignatureValue")
	digestEl := sig.FindElement("./ds:SignedInfo/ds:Reference/ds:DigestValue")
	if sigValueEl == nil || digestEl == nil {
		return fmt.Errorf("hacienda: firma incompleta")
	}
	sigValue, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigValueEl.Text()))
	if err != nil {
		return fmt.Errorf("hacienda: SignatureValue ilegible: %w", err)
	}

	// Transformación enveloped: el digest de la Reference cubre el documento
	// sin el nodo de firma.
	firma.RemoveChild(sig)
	var stripped bytes.Buffer
	if _, err := doc.WriteTo(&stripped); err != nil {
		return fmt.Errorf("hacienda: serializar documento sin firma: %w", err)
	}
	canonicalDoc, err := canonicalizeXML(stripped.Bytes())
	if err != nil {
		canonicalDoc = stripped.Bytes()
	}
	docDigest := sha256.Sum256(canonicalDoc)
	docDigestB64 := base64.StdEncoding.EncodeToString(docDigest[:])
	if docDigestB64 != strings.TrimSpace(digestEl.Text()) {
		return fmt.Errorf("hacienda: el digest del documento no coincide con la Reference")
	}

	signedInfoXML := s.buildSignedInfo(docDigestB64)
	canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfoXML))
	if err != nil {
		canonicalSignedInfo = []byte(signedInfoXML)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, signHash[:], sigValue); err != nil {
		return fmt.Errorf("hacienda: la firma no verifica: %w", err)
	}
	return nil
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func (s *Service) buildSignedInfo(docDigestB64 string) string {
	uri := "#" + DocumentElementID
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<ds:Reference URI="` + uri + `">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<ds:Transform Algorithm="` + AlgC14N + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func (s *Service) buildFullSignature(signedInfoXML, signatureValueB64, certB64, signingTime, certDigestB64, issuerName, serialHex string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" xmlns:xades="` + NamespaceXAdES + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue>` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`<ds:Object><xades:QualifyingProperties>`)
	sb.WriteString(`<xades:SignedProperties Id="signed-props">`)
	sb.WriteString(`<xades:SignedSignatureProperties>`)
	sb.WriteString(`<xades:SigningTime>` + signingTime + `</xades:SigningTime>`)
	sb.WriteString(`<xades:SigningCertificate><xades:Cert><xades:CertDigest><ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + certDigestB64 + `</ds:DigestValue></xades:CertDigest>`)
	sb.WriteString(`<xades:IssuerSerial><ds:X509IssuerName>` + escapeXML(issuerName) + `</ds:X509IssuerName><ds:X509SerialNumber>` + serialHex + `</ds:X509SerialNumber></xades:IssuerSerial></xades:Cert></xades:SigningCertificate>`)
	sb.WriteString(`</xades:SignedSignatureProperties></xades:SignedProperties></xades:QualifyingProperties></ds:Object>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// injectSignature cuelga el nodo ds:Signature del elemento <Firma>.
func injectSignature(xmlBytes []byte, signatureXML string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("hacienda: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("hacienda: documento sin raíz")
	}
	firma := root.SelectElement("Firma")
	if firma == nil {
		return nil, fmt.Errorf("hacienda: no se encontró el elemento Firma para inyectar la firma")
	}

	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("hacienda: parsear Signature: %w", err)
	}
	if sigRoot := sigDoc.Root(); sigRoot != nil {
		firma.AddChild(sigRoot)
	}

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("hacienda: serializar documento firmado: %w", err)
	}
	return out.Bytes(), nil
}
