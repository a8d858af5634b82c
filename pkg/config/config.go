package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración del emisor (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App   AppConfig
	DB    DBConfig
	JWT   JWTConfig
	HTTP  HTTPConfig
	DTE   DTEConfig
	SII   SIIConfig
	Redis RedisConfig
	SMTP  SMTPConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env  string // development, staging, production
	Name string
	// LogLevel trace, debug, info, warn, error
	LogLevel string
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	StoreDriver string // "postgres" (default) o "memory" (solo desarrollo local)
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	// MigrateOnStart aplica las migraciones embebidas al arrancar.
	MigrateOnStart bool
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN devuelve el connection string para PostgreSQL con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// JWTConfig configuración de JWT.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
	// PublicBaseURL se antepone a las URLs de artefactos (PDF, XML firmado).
	PublicBaseURL string
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DTEConfig parámetros del ciclo de emisión.
type DTEConfig struct {
	TaxRate          string        // tasa de IVA como decimal ("0.19")
	CurrencyDecimals int32         // decimales de la moneda (CLP = 0)
	LowFolioWarning  int64         // umbral de aviso de folios restantes
	TransmitTimeout  time.Duration // timeout por envío a la autoridad
	PollTimeout      time.Duration // timeout por consulta de estado
	PollInterval     time.Duration // periodo del poller en segundo plano (0 = deshabilitado)
	PollBatchSize    int
	FallbackCountry  string // país de respaldo; vacío = sin fallback
	Location         string // zona horaria para la fecha de emisión
}

// SIIConfig configuración del proveedor Chile.
type SIIConfig struct {
	Environment      string // "dev" (simulado), "cert" (maullin), "prod" (palena)
	SenderRUT        string // RUT de la persona que envía (RutEnvia en la carátula)
	ResolutionNumber int
	ResolutionDate   string // YYYY-MM-DD
	// Office unidad del SII impresa bajo el recuadro del folio.
	Office string
}

// RedisConfig configuración del bus de invalidación de certificados.
// Host vacío deshabilita Redis (invalidación solo local).
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Channel  string
}

// SMTPConfig configuración del envío de acuses por correo. Host vacío lo deshabilita.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST, DTE_TAX_RATE, SII_ENV, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		App: AppConfig{
			Env:      getString(v, "APP_ENV", "development"),
			Name:     getString(v, "APP_NAME", "emisor-dte"),
			LogLevel: getString(v, "LOG_LEVEL", "info"),
		},
		DB: DBConfig{
			StoreDriver:    getString(v, "STORE_DRIVER", "postgres"),
			DatabaseURL:    getString(v, "DATABASE_URL", ""),
			Host:           getString(v, "DB_HOST", "localhost"),
			Port:           getInt(v, "DB_PORT", 5432),
			User:           getString(v, "DB_USER", "postgres"),
			Password:       getString(v, "DB_PASSWORD", ""),
			DBName:         getString(v, "DB_NAME", "emisor_dte"),
			SSLMode:        getString(v, "DB_SSLMODE", "disable"),
			MigrateOnStart: getBool(v, "DB_MIGRATE_ON_START", false),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "emisor-dte"),
		},
		HTTP: HTTPConfig{
			Host:          getString(v, "HTTP_HOST", "0.0.0.0"),
			Port:          getInt(v, "HTTP_PORT", 8080),
			PublicBaseURL: getString(v, "HTTP_PUBLIC_BASE_URL", ""),
		},
		DTE: DTEConfig{
			TaxRate:          getString(v, "DTE_TAX_RATE", "0.19"),
			CurrencyDecimals: int32(getInt(v, "DTE_CURRENCY_DECIMALS", 0)),
			LowFolioWarning:  int64(getInt(v, "DTE_LOW_FOLIO_WARNING", 10)),
			TransmitTimeout:  getDuration(v, "DTE_TRANSMIT_TIMEOUT", 60*time.Second),
			PollTimeout:      getDuration(v, "DTE_POLL_TIMEOUT", 30*time.Second),
			PollInterval:     getDuration(v, "DTE_POLL_INTERVAL", time.Minute),
			PollBatchSize:    getInt(v, "DTE_POLL_BATCH_SIZE", 50),
			FallbackCountry:  getString(v, "DTE_FALLBACK_COUNTRY", ""),
			Location:         getString(v, "DTE_LOCATION", "America/Santiago"),
		},
		SII: SIIConfig{
			Environment:      getString(v, "SII_ENV", "dev"),
			SenderRUT:        getString(v, "SII_SENDER_RUT", ""),
			ResolutionNumber: getInt(v, "SII_RESOLUTION_NUMBER", 0),
			ResolutionDate:   getString(v, "SII_RESOLUTION_DATE", ""),
		},
		Redis: RedisConfig{
			Host:     getString(v, "REDIS_HOST", ""),
			Port:     getInt(v, "REDIS_PORT", 6379),
			Password: getString(v, "REDIS_PASSWORD", ""),
			DB:       getInt(v, "REDIS_DB", 0),
			Channel:  getString(v, "REDIS_CREDENTIAL_CHANNEL", "dte:credentials:invalidate"),
		},
		SMTP: SMTPConfig{
			Host:     getString(v, "SMTP_HOST", ""),
			Port:     getInt(v, "SMTP_PORT", 587),
			User:     getString(v, "SMTP_USER", ""),
			Password: getString(v, "SMTP_PASSWORD", ""),
			From:     getString(v, "SMTP_FROM", ""),
		},
	}

	if cfg.DB.StoreDriver != "postgres" && cfg.DB.StoreDriver != "memory" {
		return nil, fmt.Errorf("config: STORE_DRIVER desconocido %q (usar postgres|memory)", cfg.DB.StoreDriver)
	}
	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return def
}

// getDuration acepta "30s", "2m" o segundos enteros.
func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	raw := strings.TrimSpace(v.GetString(key))
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
