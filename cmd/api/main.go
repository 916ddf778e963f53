package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/facturador-dte/internal/application/contingency"
	"github.com/jhoicas/facturador-dte/internal/application/invoicing"
	"github.com/jhoicas/facturador-dte/internal/application/lifecycle"
	"github.com/jhoicas/facturador-dte/internal/application/syncer"
	"github.com/jhoicas/facturador-dte/internal/infrastructure/hacienda"
	"github.com/jhoicas/facturador-dte/internal/infrastructure/hacienda/signer"
	"github.com/jhoicas/facturador-dte/internal/infrastructure/postgres"
	"github.com/jhoicas/facturador-dte/internal/infrastructure/syncremote"
	httpRouter "github.com/jhoicas/facturador-dte/internal/interfaces/http"
	"github.com/jhoicas/facturador-dte/pkg/config"
	"github.com/jhoicas/facturador-dte/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Msg("iniciando motor DTE")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	documentRepo := postgres.NewDocumentRepository(pool)
	companyRepo := postgres.NewCompanyRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	contingencyRepo := postgres.NewContingencyRepository(pool)
	changeLogRepo := postgres.NewChangeLogRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// Cliente de Hacienda. Con DTE_BASE_URL vacío opera en modo dev: acepta
	// localmente sin tocar la red.
	client := hacienda.NewClient(cfg.DTE.BaseURL, cfg.DTE.AuthToken, log)
	if cfg.DTE.BaseURL == "" {
		log.Warn().Msg("DTE_BASE_URL vacío: el servicio de recepción opera en modo dev")
	}

	manager := contingency.NewManager(
		contingencyRepo, client, client,
		cfg.DTE.ContingencyThreshold, cfg.DTE.ContingencyWindow, log,
	)

	engine := lifecycle.NewEngine(lifecycle.Deps{
		Tx:          txRunner,
		Documents:   documentRepo,
		Companies:   companyRepo,
		Customers:   customerRepo,
		Client:      client,
		Codec:       hacienda.NewXMLCodec(),
		Signer:      signer.NewService(),
		Credentials: hacienda.NewCredentialStore(cfg.DTE.CertPassword),
		Gate:        manager,
		Policy: lifecycle.Policy{
			RetryAttempts: cfg.DTE.RetryAttempts,
			RetryBase:     cfg.DTE.RetryBase,
			RetryCap:      cfg.DTE.RetryCap,
		},
		Log: log,
	})
	// El motor reenvía la cola del gestor; se ata después de construir ambos.
	manager.BindReplayer(engine)
	go manager.Watch(ctx, cfg.DTE.ProbeInterval)

	// Sincronización multi-dispositivo: solo si hay store remoto configurado.
	var coordinator *syncer.Coordinator
	if cfg.Sync.BaseURL != "" {
		transport := syncremote.NewHTTPTransport(cfg.Sync.BaseURL, cfg.Sync.AuthToken)
		coordinator = syncer.NewCoordinator(changeLogRepo, transport, companyRepo, log)
		go func() {
			ticker := time.NewTicker(cfg.Sync.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					res, err := coordinator.Sync(ctx)
					if err != nil {
						log.Warn().Err(err).Msg("pasada de sincronización fallida")
						continue
					}
					if len(res.Violations) > 0 {
						log.Error().Int("violations", len(res.Violations)).Msg("violaciones de integridad de sync detectadas")
					}
				}
			}
		}()
	} else {
		log.Info().Msg("SYNC_BASE_URL vacío: sincronización deshabilitada, dispositivo aislado")
	}

	invoicingUC := invoicing.NewUseCase(documentRepo, customerRepo, productRepo)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Facturador DTE API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": cfg.App.Name,
			"mode":    string(manager.Mode()),
		})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Invoicing:   invoicingUC,
		Engine:      engine,
		Documents:   documentRepo,
		Companies:   companyRepo,
		Contingency: manager,
		Sync:        coordinator,
		JWTSecret:   cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("motor DTE detenido")
}
