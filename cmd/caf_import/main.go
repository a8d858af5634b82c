// caf_import registra archivos CAF (autorización de folios del SII) para un tenant.
//
// Uso: go run ./cmd/caf_import [-dry-run] <tenant_id> <archivo.xml|directorio>...
//
// Con un directorio se cargan todos los *.xml que contenga, en orden alfabético.
// Con -dry-run solo se interpreta cada archivo y se muestra el rango, sin tocar la base.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jhoicas/emisor-dte/internal/application/folio"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/postgres"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/sii"
	"github.com/jhoicas/emisor-dte/pkg/config"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "solo interpretar los archivos")
	flag.Parse()
	if flag.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Uso: caf_import [-dry-run] <tenant_id> <archivo.xml|directorio>...")
		os.Exit(2)
	}
	tenantID := flag.Arg(0)

	files, err := collect(flag.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Listar archivos: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "No se encontraron archivos CAF")
		os.Exit(1)
	}

	if *dryRun {
		failed := 0
		for _, path := range files {
			raw, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				continue
			}
			auth, err := sii.CAFParser{}.Parse(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				continue
			}
			printAuthorization(path, auth)
		}
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cargar configuración: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Conexión a PostgreSQL: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	importer := folio.NewImporter(
		postgres.NewFolioRangeRepository(pool),
		postgres.NewTenantRepository(pool),
		sii.CAFParser{},
		log,
	)

	failed := 0
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		r, err := importer.ImportCAF(ctx, tenantID, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("%s: tipo %d folios %d-%d registrado (id %s)\n", path, r.DocumentType, r.RangeStart, r.RangeEnd, r.ID)
	}
	fmt.Printf("Cargados %d de %d archivos\n", len(files)-failed, len(files))
	if failed > 0 {
		os.Exit(1)
	}
}

// collect expande directorios a sus *.xml. El orden es estable para que los
// rangos de un mismo tipo se registren del más antiguo al más reciente.
func collect(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.xml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

func printAuthorization(path string, auth *folio.Authorization) {
	expiry := "sin vencimiento"
	if auth.ExpiryDate != nil {
		expiry = "vence " + auth.ExpiryDate.Format(time.DateOnly)
	}
	fmt.Printf("%s: RUT %s tipo %d folios %d-%d autorizado %s (%s)\n",
		path, auth.IssuerTaxID, auth.DocumentType, auth.RangeStart, auth.RangeEnd,
		auth.AuthorizedDate.Format(time.DateOnly), expiry)
}
