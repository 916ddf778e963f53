package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturador-dte/internal/application/contingency"
	"github.com/jhoicas/facturador-dte/internal/application/invoicing"
	"github.com/jhoicas/facturador-dte/internal/application/lifecycle"
	"github.com/jhoicas/facturador-dte/internal/application/syncer"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Invoicing   *invoicing.UseCase
	Engine      *lifecycle.Engine
	Documents   lifecycle.DocumentStore
	Companies   lifecycle.CompanyStore
	Contingency *contingency.Manager
	Sync        *syncer.Coordinator // nil = sync deshabilitado
	JWTSecret   string
}

// Router registra las rutas de la API. Todas las rutas del ciclo de vida DTE
// exigen Bearer Token con emisor y dispositivo.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	// Borradores y consulta de facturas
	invoices := protected.Group("/invoices")
	invoiceHandler := NewInvoiceHandler(deps.Invoicing)
	invoices.Post("/", invoiceHandler.Create)
	invoices.Get("/", invoiceHandler.List)
	invoices.Get("/:id", invoiceHandler.GetByID)
	invoices.Get("/:id/transitions", invoiceHandler.Transitions)

	// Ciclo de vida DTE
	dteHandler := NewDTEHandler(deps.Engine, deps.Documents, deps.Companies)
	invoices.Post("/:id/emit", dteHandler.Emit)
	invoices.Post("/:id/retry", dteHandler.Retry)
	invoices.Post("/:id/abandon", dteHandler.Abandon)
	invoices.Post("/:id/invalidate", dteHandler.Invalidate)
	invoices.Post("/:id/reconcile", dteHandler.Reconcile)
	invoices.Get("/:id/status", dteHandler.Status)
	invoices.Get("/:id/events", dteHandler.Events)
	invoices.Get("/:id/download", dteHandler.Download)

	// Contingencia
	cont := protected.Group("/contingency")
	contingencyHandler := NewContingencyHandler(deps.Contingency)
	cont.Get("/mode", contingencyHandler.Mode)
	cont.Get("/events", contingencyHandler.Events)
	cont.Post("/resume", contingencyHandler.Resume)

	// Sincronización multi-dispositivo
	syncHandler := NewSyncHandler(deps.Sync)
	protected.Post("/sync", syncHandler.Run)
}
