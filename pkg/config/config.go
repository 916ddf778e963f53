package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración de la aplicación (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App  AppConfig
	DB   DBConfig
	JWT  JWTConfig
	HTTP HTTPConfig
	DTE  DTEConfig
	Sync SyncConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env  string // development, staging, production
	Name string
}

// DTEConfig configuración de emisión electrónica (Ministerio de Hacienda).
type DTEConfig struct {
	BaseURL              string // URL del servicio de recepción (vacío = modo dev, no envía)
	AuthToken            string // token de autenticación ante el servicio de recepción
	CertPassword         string // contraseña de las credenciales .p12 de los emisores
	RetryAttempts        int    // intentos máximos para errores transitorios
	RetryBase            time.Duration
	RetryCap             time.Duration
	ContingencyThreshold int           // fallos transitorios consecutivos que activan contingencia
	ContingencyWindow    time.Duration // ventana deslizante para el contador anterior
	ProbeInterval        time.Duration // frecuencia del health probe en contingencia
}

// SyncConfig configuración del transporte de sincronización multi-dispositivo.
type SyncConfig struct {
	BaseURL   string // vacío = sync deshabilitado (dispositivo aislado)
	AuthToken string
	Interval  time.Duration
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN construye el connection string con URL encoding para caracteres especiales.
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
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST, DTE_BASE_URL, etc.
func Load() (*Config, error) {
	v := viper.New()

	// Opcional: archivo de configuración (.env)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		App: AppConfig{
			Env:  getString(v, "APP_ENV", "development"),
			Name: getString(v, "APP_NAME", "facturador-dte"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "facturador_dte"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "facturador-dte"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		DTE: DTEConfig{
			BaseURL:              getString(v, "DTE_BASE_URL", ""),
			AuthToken:            getString(v, "DTE_AUTH_TOKEN", ""),
			CertPassword:         getString(v, "DTE_CERT_PASSWORD", ""),
			RetryAttempts:        getInt(v, "DTE_RETRY_ATTEMPTS", 5),
			RetryBase:            getDuration(v, "DTE_RETRY_BASE", 2*time.Second),
			RetryCap:             getDuration(v, "DTE_RETRY_CAP", 60*time.Second),
			ContingencyThreshold: getInt(v, "DTE_CONTINGENCY_THRESHOLD", 3),
			ContingencyWindow:    getDuration(v, "DTE_CONTINGENCY_WINDOW", 5*time.Minute),
			ProbeInterval:        getDuration(v, "DTE_PROBE_INTERVAL", 30*time.Second),
		},
		Sync: SyncConfig{
			BaseURL:   getString(v, "SYNC_BASE_URL", ""),
			AuthToken: getString(v, "SYNC_AUTH_TOKEN", ""),
			Interval:  getDuration(v, "SYNC_INTERVAL", time.Minute),
		},
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
		case string:
			n, _ := strconv.Atoi(v.GetString(key))
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if v.IsSet(key) {
		if d, err := time.ParseDuration(v.GetString(key)); err == nil {
			return d
		}
	}
	return def
}
