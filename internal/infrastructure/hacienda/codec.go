// Package hacienda implementa la integración con el Ministerio de Hacienda:
// serialización canónica del DTE, firma electrónica, cliente del servicio de
// recepción y empaquetado para descarga.
package hacienda

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/facturador-dte/internal/domain/dte"
)

// Namespace del documento DTE y el Id del elemento raíz al que apunta la
// Reference de la firma.
const (
	NsDTE         = "urn:mh:sv:fe:dte:v1"
	DocumentID    = "dte-doc"
	timeLayoutDTE = "2006-01-02T15:04:05Z"
)

// XMLCodec serializa snapshots a su forma XML firmable. La serialización es
// determinista: el mismo snapshot produce siempre los mismos bytes, requisito
// para que el hash de contenido sea comparable entre dispositivos.
type XMLCodec struct{}

func NewXMLCodec() *XMLCodec {
	return &XMLCodec{}
}

// Encode produce el XML del DTE con el elemento <Firma> vacío como
// placeholder; el firmador inyecta ahí el nodo ds:Signature.
func (c *XMLCodec) Encode(s *dte.DocumentSnapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("hacienda: snapshot nulo")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("DTE")
	root.CreateAttr("Id", DocumentID)
	root.CreateAttr("xmlns", NsDTE)

	ident := root.CreateElement("Identificacion")
	ident.CreateElement("Version").SetText(strconv.Itoa(s.Identification.Version))
	ident.CreateElement("Ambiente").SetText(s.Identification.Ambiente)
	ident.CreateElement("TipoDte").SetText(s.Identification.DocType)
	ident.CreateElement("CodigoGeneracion").SetText(s.Identification.GenerationCode)
	ident.CreateElement("NumeroControl").SetText(s.Identification.ControlNumber)
	ident.CreateElement("FechaEmision").SetText(s.Identification.IssuedAt.UTC().Format(timeLayoutDTE))
	ident.CreateElement("TipoContingencia").SetText(strconv.FormatBool(s.Identification.Contingency))

	emisor := root.CreateElement("Emisor")
	emisor.CreateElement("NIT").SetText(s.Issuer.NIT)
	emisor.CreateElement("NRC").SetText(s.Issuer.NRC)
	emisor.CreateElement("Nombre").SetText(s.Issuer.Name)
	emisor.CreateElement("CodActividad").SetText(s.Issuer.ActivityCode)
	emisor.CreateElement("CodEstablePOS").SetText(s.Issuer.EstablishmentPOS)
	if s.Issuer.Address != "" {
		emisor.CreateElement("Direccion").SetText(s.Issuer.Address)
	}
	if s.Issuer.Email != "" {
		emisor.CreateElement("Correo").SetText(s.Issuer.Email)
	}

	// Un snapshot de invalidación no lleva receptor ni cuerpo: referencia al
	// DTE original en el bloque Motivo.
	if s.Reason == nil {
		receptor := root.CreateElement("Receptor")
		receptor.CreateElement("TipoDocumento").SetText(s.Receptor.DocumentType)
		receptor.CreateElement("NumDocumento").SetText(s.Receptor.DocumentNum)
		if s.Receptor.NRC != "" {
			receptor.CreateElement("NRC").SetText(s.Receptor.NRC)
		}
		receptor.CreateElement("Nombre").SetText(s.Receptor.Name)
		if s.Receptor.Email != "" {
			receptor.CreateElement("Correo").SetText(s.Receptor.Email)
		}
		if s.Receptor.Address != "" {
			receptor.CreateElement("Direccion").SetText(s.Receptor.Address)
		}

		cuerpo := root.CreateElement("CuerpoDocumento")
		for _, line := range s.Lines {
			item := cuerpo.CreateElement("Item")
			item.CreateAttr("NumItem", strconv.Itoa(line.Number))
			item.CreateElement("Descripcion").SetText(line.ProductName)
			item.CreateElement("Cantidad").SetText(strconv.FormatInt(line.Quantity, 10))
			item.CreateElement("PrecioUni").SetText(line.UnitPrice.StringFixed(2))
			item.CreateElement("VentaGravada").SetText(line.LineTotal.StringFixed(2))
		}

		resumen := root.CreateElement("Resumen")
		resumen.CreateElement("SubTotal").SetText(s.Summary.Subtotal.StringFixed(2))
		resumen.CreateElement("TotalIva").SetText(s.Summary.Tax.StringFixed(2))
		resumen.CreateElement("MontoTotalOperacion").SetText(s.Summary.Total.StringFixed(2))
		resumen.CreateElement("TasaIva").SetText(s.Summary.TaxRate.String())
	} else {
		motivo := root.CreateElement("Motivo")
		motivo.CreateElement("TipoAnulacion").SetText(s.Reason.InvalidationType)
		motivo.CreateElement("MotivoAnulacion").SetText(s.Reason.Justification)
		motivo.CreateElement("NombreResponsable").SetText(s.Reason.ResponsibleName)
		motivo.CreateElement("DocumentoResponsable").SetText(s.Reason.ResponsibleDocument)
		motivo.CreateElement("NombreSolicita").SetText(s.Reason.RequesterName)
		motivo.CreateElement("DocumentoSolicita").SetText(s.Reason.RequesterDocument)
		motivo.CreateElement("CodigoGeneracionAnulado").SetText(s.Reason.TargetGenerationCode)
		motivo.CreateElement("SelloRecibido").SetText(s.Reason.TargetReceptionSeal)
	}

	// Placeholder para la firma electrónica (el firmador inyecta ds:Signature).
	root.CreateElement("Firma")

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("hacienda: serializar DTE: %w", err)
	}
	return out, nil
}

// Hash devuelve el hash de contenido del payload: SHA-256 en hex sobre la
// forma canónica C14N. La canonicalización absorbe diferencias cosméticas de
// serialización entre dispositivos.
func (c *XMLCodec) Hash(payload []byte) string {
	canonical, err := canonicalize(payload)
	if err != nil {
		canonical = payload
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}
