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
	"github.com/shopspring/decimal"

	"github.com/jhoicas/emisor-dte/internal/application/dte"
	"github.com/jhoicas/emisor-dte/internal/application/folio"
	"github.com/jhoicas/emisor-dte/internal/application/provider"
	"github.com/jhoicas/emisor-dte/internal/application/signing"
	dterules "github.com/jhoicas/emisor-dte/internal/domain/dte"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/cache"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/mail"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/memory"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/mockauthority"
	infrapdf "github.com/jhoicas/emisor-dte/internal/infrastructure/pdf"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/postgres"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/seniat"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/sii"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/sunat"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/xmldsig"
	httpRouter "github.com/jhoicas/emisor-dte/internal/interfaces/http"
	"github.com/jhoicas/emisor-dte/pkg/config"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// repos repositorios del store elegido (postgres o memoria).
type repos struct {
	tenants     repository.TenantRepository
	ranges      repository.FolioRangeRepository
	series      repository.SeriesRepository
	documents   repository.DocumentRepository
	credentials repository.CredentialRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("store", cfg.DB.StoreDriver).
		Str("sii_env", cfg.SII.Environment).
		Msg("iniciando aplicación")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var store repos
	if cfg.DB.StoreDriver == "memory" {
		log.Warn().Msg("store en memoria: los datos se pierden al reiniciar")
		m := memory.New()
		store = repos{m.Tenants, m.FolioRanges, m.FolioRanges, m.Documents, m.Credentials}
	} else {
		if cfg.DB.MigrateOnStart {
			if err := postgres.Migrate(cfg.DB.ConnectionString(), log); err != nil {
				log.Fatal().Err(err).Msg("migraciones")
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.DB, log)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()
		ranges := postgres.NewFolioRangeRepository(pool)
		store = repos{
			tenants:     postgres.NewTenantRepository(pool),
			ranges:      ranges,
			series:      ranges,
			documents:   postgres.NewDocumentRepository(pool),
			credentials: postgres.NewCredentialRepository(pool),
		}
	}

	loc, err := time.LoadLocation(cfg.DTE.Location)
	if err != nil {
		log.Fatal().Err(err).Str("location", cfg.DTE.Location).Msg("zona horaria inválida")
	}
	taxRate, err := decimal.NewFromString(cfg.DTE.TaxRate)
	if err != nil {
		log.Fatal().Err(err).Str("tax_rate", cfg.DTE.TaxRate).Msg("tasa de impuesto inválida")
	}
	calc, err := dterules.NewCalculator(taxRate, cfg.DTE.CurrencyDecimals)
	if err != nil {
		log.Fatal().Err(err).Msg("calculadora de montos")
	}

	// Firma: caché de certificados + invalidación entre instancias vía Redis (opcional)
	credCache := signing.NewCache(store.credentials, log)
	signer := signing.NewService(credCache, xmldsig.NewSHA1Signer(), log)
	var rotator *signing.Rotator
	if cfg.Redis.Host != "" {
		bus, err := cache.NewCredentialBus(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a Redis")
		}
		defer bus.Close()
		rotator = signing.NewRotator(store.credentials, credCache, bus, log)
		go func() {
			if err := bus.Subscribe(ctx, credCache.Invalidate); err != nil {
				log.Error().Err(err).Msg("suscripción de invalidación finalizada")
			}
		}()
	} else {
		rotator = signing.NewRotator(store.credentials, credCache, nil, log)
	}

	// Proveedores por país
	registry := provider.NewRegistry(log)
	siiProvider, err := newSIIProvider(cfg, store, signer, taxRate, loc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("proveedor SII")
	}
	for _, p := range []provider.AuthorityProvider{
		siiProvider,
		sunat.New(store.series, nil, log),
		seniat.New(),
		mockauthority.New(mockauthority.Config{}, log),
	} {
		if err := registry.Register(p); err != nil {
			log.Fatal().Err(err).Msg("registrar proveedor")
		}
	}
	if cfg.DTE.FallbackCountry != "" {
		if err := registry.SetFallback(cfg.DTE.FallbackCountry); err != nil {
			log.Fatal().Err(err).Msg("país de respaldo")
		}
	}

	allocator := folio.NewAllocator(store.ranges, log, folio.WithLowCapacityThreshold(cfg.DTE.LowFolioWarning))
	importer := folio.NewImporter(store.ranges, store.tenants, sii.CAFParser{}, log)

	// PDF y acuse por correo (SMTP opcional)
	pdfGenerator := infrapdf.NewMarotoGenerator(cfg.SII.Office)
	var notifier dte.ReceiptNotifier
	if cfg.SMTP.Host != "" {
		notifier = mail.New(cfg.SMTP, pdfGenerator, log)
	}

	manager := dte.NewManager(
		store.tenants, store.documents, allocator, registry,
		dte.NewBuilder(calc, loc), calc, notifier,
		dte.Config{TransmitTimeout: cfg.DTE.TransmitTimeout, PollTimeout: cfg.DTE.PollTimeout},
		log,
	)
	poller := dte.NewPoller(manager, cfg.DTE.PollInterval, cfg.DTE.PollBatchSize, log)
	go poller.Run(ctx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.DTE.TransmitTimeout + 10*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Emisor DTE API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Lifecycle:     manager,
		Importer:      importer,
		Allocator:     allocator,
		Rotator:       rotator,
		Signer:        signer,
		Registry:      registry,
		Tenants:       store.tenants,
		PDF:           pdfGenerator,
		PublicBaseURL: cfg.HTTP.PublicBaseURL,
		Location:      loc,
		JWTSecret:     cfg.JWT.Secret,
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

	log.Info().Msg("aplicación detenida")
}

// newSIIProvider arma el proveedor Chile. Fuera de dev usa el cliente HTTP del ambiente.
func newSIIProvider(cfg *config.Config, store repos, signer *signing.Service, taxRate decimal.Decimal, loc *time.Location, log *logger.Logger) (*sii.Provider, error) {
	siiCfg := sii.Config{
		Environment:      cfg.SII.Environment,
		SenderRUT:        cfg.SII.SenderRUT,
		ResolutionNumber: cfg.SII.ResolutionNumber,
		TaxRate:          taxRate,
		Location:         loc,
	}
	if cfg.SII.ResolutionDate != "" {
		d, err := time.ParseInLocation(time.DateOnly, cfg.SII.ResolutionDate, loc)
		if err != nil {
			return nil, err
		}
		siiCfg.ResolutionDate = d
	}
	var client *sii.Client
	if siiCfg.Environment != sii.EnvDev && siiCfg.Environment != "" {
		host, err := sii.Host(siiCfg.Environment)
		if err != nil {
			return nil, err
		}
		client = sii.NewClient(host, signer, nil)
	}
	return sii.NewProvider(siiCfg, store.tenants, store.ranges, store.documents, signer, client, log)
}
