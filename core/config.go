package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env       string
		Build     string
		Debug     bool
		TestMode  bool
		AppName   string
		SecretKey string
		WorkDir   string

		RollbarToken string

		Server    ServerConfig
		Database  DatabaseConfig
		Grading   GradingConfig
		Bulletin  BulletinConfig
		Bulk      BulkConfig
		Notify    NotifyConfig
		Storage   StorageConfig
		Scheduler SchedulerConfig
	}

	ServerConfig struct {
		Address            string
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		DisableReqLogs     bool
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		InMemory      bool
	}

	// GradingConfig holds the institution-level grading policy.
	GradingConfig struct {
		ContinuousWeight   decimal.Decimal
		ExamWeight         decimal.Decimal
		PromotionThreshold decimal.Decimal
		CategoriesFile     string
	}

	BulletinConfig struct {
		SchoolName string
		Language   string // en | fr
	}

	BulkConfig struct {
		Concurrency int
		ItemTimeout time.Duration
	}

	NotifyConfig struct {
		Channels         []string
		SendgridApiKey   string
		DefaultFromName  string
		DefaultFromEmail string
		MaxInFlight      int
	}

	StorageConfig struct {
		Driver          string // local | oss
		Dir             string
		BaseURL         string
		OSSEndpoint     string
		OSSAccessKey    string
		OSSSecretKey    string
		OSSBucket       string
		OSSObjectPrefix string
	}

	SchedulerConfig struct {
		RetrySpec string // cron spec; empty disables retries
	}
)

func (db DatabaseConfig) Address() string {
	return db.Host + ":" + db.Port
}

// NewConfig loads the configuration from defaults, `config/.env.<env>` and the environment.
// Environment variables are prefixed with the upper-cased ENV, eg. PROD_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Masomo")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.disableReqLogs", false)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "masomo")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "masomo")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.inMemory", false)

	v.SetDefault("grading.continuousWeight", "0.4")
	v.SetDefault("grading.examWeight", "0.6")
	v.SetDefault("grading.promotionThreshold", "10")
	v.SetDefault("grading.categoriesFile", "")

	v.SetDefault("bulletin.schoolName", "Masomo")
	v.SetDefault("bulletin.language", "fr")

	v.SetDefault("bulk.concurrency", 8)
	v.SetDefault("bulk.itemTimeout", 30*time.Second)

	v.SetDefault("notify.channels", "mail")
	v.SetDefault("notify.sendgridApiKey", "")
	v.SetDefault("notify.defaultFromName", "Masomo")
	v.SetDefault("notify.defaultFromEmail", "noreply@localhost")
	v.SetDefault("notify.maxInFlight", 4)

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.dir", filepath.Join(os.TempDir(), "masomo-bulletins"))
	v.SetDefault("storage.baseURL", "file://")
	v.SetDefault("storage.ossObjectPrefix", "bulletins/")

	v.SetDefault("scheduler.retrySpec", "@every 15m")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd: %v", err)
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:          env,
		Build:        v.GetString("build"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		AppName:      v.GetString("appName"),
		SecretKey:    v.GetString("secretKey"),
		WorkDir:      wd,
		RollbarToken: v.GetString("rollbarToken"),
		Server: ServerConfig{
			Address:            v.GetString("server.address"),
			Host:               v.GetString("server.host"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			DisableReqLogs:     v.GetBool("server.disableReqLogs"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			InMemory:      v.GetBool("database.inMemory"),
		},
		Grading: GradingConfig{
			ContinuousWeight:   mustDecimal(v, "grading.continuousWeight"),
			ExamWeight:         mustDecimal(v, "grading.examWeight"),
			PromotionThreshold: mustDecimal(v, "grading.promotionThreshold"),
			CategoriesFile:     v.GetString("grading.categoriesFile"),
		},
		Bulletin: BulletinConfig{
			SchoolName: v.GetString("bulletin.schoolName"),
			Language:   v.GetString("bulletin.language"),
		},
		Bulk: BulkConfig{
			Concurrency: v.GetInt("bulk.concurrency"),
			ItemTimeout: v.GetDuration("bulk.itemTimeout"),
		},
		Notify: NotifyConfig{
			Channels:         splitList(v.GetString("notify.channels")),
			SendgridApiKey:   v.GetString("notify.sendgridApiKey"),
			DefaultFromName:  v.GetString("notify.defaultFromName"),
			DefaultFromEmail: v.GetString("notify.defaultFromEmail"),
			MaxInFlight:      v.GetInt("notify.maxInFlight"),
		},
		Storage: StorageConfig{
			Driver:          v.GetString("storage.driver"),
			Dir:             v.GetString("storage.dir"),
			BaseURL:         v.GetString("storage.baseURL"),
			OSSEndpoint:     v.GetString("storage.ossEndpoint"),
			OSSAccessKey:    v.GetString("storage.ossAccessKey"),
			OSSSecretKey:    v.GetString("storage.ossSecretKey"),
			OSSBucket:       v.GetString("storage.ossBucket"),
			OSSObjectPrefix: v.GetString("storage.ossObjectPrefix"),
		},
		Scheduler: SchedulerConfig{
			RetrySpec: v.GetString("scheduler.retrySpec"),
		},
	}
}

func mustDecimal(v *viper.Viper, key string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		log.Fatalf("config.%s: %v", key, err)
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = CleanString(part, true /* lower */); part != "" {
			out = append(out, part)
		}
	}
	return out
}
