// check_credential diagnostica un certificado de firma antes de cargarlo a un tenant.
//
// Uso:
//
//	go run ./cmd/check_credential -p12 ruta/certificado.p12 -password secreto
//	go run ./cmd/check_credential -tenant <tenant_id>
//
// Con -p12 revisa el archivo local (contraseña, vigencia, RUT del titular).
// Con -tenant revisa el certificado activo registrado en la base de datos.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/emisor-dte/internal/application/signing"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/postgres"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/xmldsig"
	"github.com/jhoicas/emisor-dte/pkg/config"
	"github.com/jhoicas/emisor-dte/pkg/logger"
	"github.com/jhoicas/emisor-dte/pkg/sii"
)

func main() {
	p12Path := flag.String("p12", "", "ruta del archivo PKCS#12")
	password := flag.String("password", "", "contraseña del PKCS#12")
	tenantID := flag.String("tenant", "", "tenant cuyo certificado activo se revisa")
	flag.Parse()

	switch {
	case *p12Path != "":
		os.Exit(checkFile(*p12Path, *password))
	case *tenantID != "":
		os.Exit(checkTenant(*tenantID))
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func checkFile(path, password string) int {
	fmt.Println("🔍 DIAGNÓSTICO DE CERTIFICADO DE FIRMA")
	fmt.Println("--------------------------------------")
	fmt.Printf("📂 Leyendo: %s\n", path)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("\n❌ ERROR DE ARCHIVO:")
		fmt.Printf("   Detalle técnico: %v\n", err)
		return 1
	}
	fmt.Printf("✅ Archivo encontrado. Tamaño: %d bytes\n", len(data))

	fmt.Println("\n🔐 Decodificando PKCS#12 con la contraseña...")
	_, leaf, err := signing.DecodeP12(data, password)
	if err != nil {
		fmt.Println("\n❌ ERROR DE CONTRASEÑA O FORMATO:")
		fmt.Printf("   Detalle técnico: %v\n", err)
		return 1
	}
	return report(leaf.Subject.CommonName, leaf.Issuer.CommonName, leaf.Subject.SerialNumber, leaf.NotAfter)
}

func checkTenant(tenantID string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cargar configuración: %v\n", err)
		return 1
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: "warn"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Conexión a PostgreSQL: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := signing.NewService(signing.NewCache(postgres.NewCredentialRepository(pool), log), xmldsig.NewSHA1Signer(), log)
	cred, err := svc.Credential(ctx, tenantID)
	if err != nil {
		fmt.Printf("❌ Tenant %s sin certificado utilizable: %v\n", tenantID, err)
		return 1
	}
	return report(cred.Leaf.Subject.CommonName, cred.Leaf.Issuer.CommonName, cred.Leaf.Subject.SerialNumber, cred.ExpiresAt)
}

func report(subject, issuer, serial string, expiresAt time.Time) int {
	fmt.Printf("\n   Titular:  %s\n", subject)
	fmt.Printf("   Emisor:   %s\n", issuer)
	if serial != "" {
		if err := sii.ValidateRUT(serial); err != nil {
			fmt.Printf("   ⚠️  RUT del titular no válido (%s): %v\n", serial, err)
		} else {
			fmt.Printf("   RUT:      %s\n", serial)
		}
	}
	days := int(time.Until(expiresAt).Hours() / 24)
	fmt.Printf("   Vence:    %s (%d días)\n", expiresAt.Format(time.DateOnly), days)
	if days < 0 {
		fmt.Println("\n❌ El certificado está vencido.")
		return 1
	}
	fmt.Println("\n✨ Certificado válido para firmar.")
	return 0
}
