package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Port                      int
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		MaxUploadSize             int64 // bytes
	}

	DatabaseConfig struct {
		Engine        string // postgres | memory
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	MediaConfig struct {
		GCSBucket        string
		GCSCredentials   string // path to a service account JSON file; ADC when empty
		PublicBaseURL    string
		MuxTokenID       string
		MuxTokenSecret   string
		MuxBaseURL       string
		ThumbnailWidth   int
		ThumbnailHeight  int
		ThumbnailQuality float32
	}

	Config struct {
		Env             string // DEV (local; default), TEST, QA, PROD
		Build           string
		Debug           bool
		TestMode        bool
		AppName         string
		SecretKey       string
		FrontendBaseURL string

		PasswordResetTimeoutDelta time.Duration

		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string

		Server   ServerConfig
		Database DatabaseConfig
		Media    MediaConfig
	}
)

func (dc DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", dc.Host, dc.Port)
}

func (sc ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", sc.Host, sc.Port)
}

// NewConfig loads the app's config from the environment.
// `config/.env.<env>` is loaded first when it exists.
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	loadDotEnv(env)

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, env)

	conf := &Config{
		Env:             env,
		Build:           v.GetString("build"),
		Debug:           v.GetBool("debug"),
		TestMode:        env == "TEST",
		AppName:         v.GetString("app_name"),
		SecretKey:       v.GetString("secret_key"),
		FrontendBaseURL: v.GetString("frontend_base_url"),

		PasswordResetTimeoutDelta: v.GetDuration("password_reset_timeout_delta"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("app_name"),
			Address: v.GetString("default_from_email"),
		},
		SendgridApiKey: v.GetString("sendgrid_api_key"),
		RollbarToken:   v.GetString("rollbar_token"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Port:                      v.GetInt("server.port"),
			DebugHost:                 v.GetString("server.debug_host"),
			ShutdownTimeout:           v.GetDuration("server.shutdown_timeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwt_expiration_delta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwt_refresh_expiration_delta"),
			MaxUploadSize:             v.GetInt64("server.max_upload_size"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("db.engine"),
			Host:          v.GetString("db.host"),
			Port:          v.GetInt("db.port"),
			Name:          v.GetString("db.name"),
			User:          v.GetString("db.user"),
			Password:      v.GetString("db.password"),
			AdminUser:     v.GetString("db.admin_user"),
			AdminPassword: v.GetString("db.admin_password"),
			DisableTLS:    v.GetBool("db.disable_tls"),
		},
		Media: MediaConfig{
			GCSBucket:        v.GetString("media.gcs_bucket"),
			GCSCredentials:   v.GetString("media.gcs_credentials"),
			PublicBaseURL:    v.GetString("media.public_base_url"),
			MuxTokenID:       v.GetString("media.mux_token_id"),
			MuxTokenSecret:   v.GetString("media.mux_token_secret"),
			MuxBaseURL:       v.GetString("media.mux_base_url"),
			ThumbnailWidth:   v.GetInt("media.thumbnail_width"),
			ThumbnailHeight:  v.GetInt("media.thumbnail_height"),
			ThumbnailQuality: float32(v.GetFloat64("media.thumbnail_quality")),
		},
	}
	if conf.TestMode {
		conf.Debug = true
	}
	return conf
}

func setDefaults(v *viper.Viper, env string) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("app_name", "LearnPlus")
	v.SetDefault("secret_key", "4v!q9c)f-lp$2+m0x#g1k^sd=8w@zr7(u3tyh6e&jn5ob*ai")
	v.SetDefault("frontend_base_url", "http://localhost:3000")
	v.SetDefault("default_from_email", "noreply@localhost")
	v.SetDefault("password_reset_timeout_delta", 3*24*time.Hour)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.debug_host", "0.0.0.0:4000")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.jwt_expiration_delta", 7*24*time.Hour)
	v.SetDefault("server.jwt_refresh_expiration_delta", 30*24*time.Hour)
	v.SetDefault("server.max_upload_size", int64(512<<20))

	v.SetDefault("db.engine", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "learnplus")
	v.SetDefault("db.user", "learnplus")
	v.SetDefault("db.password", "learnplus")
	v.SetDefault("db.admin_user", "postgres")
	v.SetDefault("db.admin_password", "postgres")
	v.SetDefault("db.disable_tls", env == "DEV" || env == "TEST")

	v.SetDefault("media.gcs_bucket", "")
	v.SetDefault("media.gcs_credentials", "")
	v.SetDefault("media.public_base_url", "https://storage.googleapis.com")
	v.SetDefault("media.mux_token_id", "")
	v.SetDefault("media.mux_token_secret", "")
	v.SetDefault("media.mux_base_url", "https://api.mux.com")
	v.SetDefault("media.thumbnail_width", 1280)
	v.SetDefault("media.thumbnail_height", 720)
	v.SetDefault("media.thumbnail_quality", 85.0)
}

// loadDotEnv loads config/.env.<env> if it exists (ignored if it does not)
func loadDotEnv(env string) {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
}
