package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	serverConfig struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
	}

	dbConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	feesConfig struct {
		Currency                string
		DueDateOffsetDays       int
		InstallmentIntervalDays int
		OverdueCron             string
	}

	amqpConfig struct {
		URL      string
		Exchange string
	}

	Config struct {
		AppName         string
		Env             string
		Build           string
		Debug           bool
		TestMode        bool
		WorkDir         string
		FrontendBaseURL string
		APIKey          string
		RollbarToken    string
		SendgridApiKey  string

		defaultFromEmail     string
		defaultFromEmailName string

		Server   serverConfig
		Database dbConfig
		Fees     feesConfig
		AMQP     amqpConfig
	}
)

func (c dbConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.defaultFromEmailName, Address: c.defaultFromEmail}
}

// NewConfig reads the app configuration from the environment.
// A `config/.env.<env>` file is loaded first, if it exists.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("appName", "Masomo Fees")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("apiKey", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("defaultFromEmailName", "Finance Office")

	v.SetDefault("server.host", "0.0.0.0:8000")
	v.SetDefault("server.debugHost", "0.0.0.0:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "masomo_fees")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "masomo")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("fees.currency", "PHP")
	v.SetDefault("fees.dueDateOffsetDays", 7)
	v.SetDefault("fees.installmentIntervalDays", 30)
	v.SetDefault("fees.overdueCron", "@daily")

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "fees")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()

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
		AppName:              v.GetString("appName"),
		Env:                  env,
		Build:                v.GetString("build"),
		Debug:                v.GetBool("debug"),
		TestMode:             v.GetBool("testMode"),
		WorkDir:              wd,
		FrontendBaseURL:      v.GetString("frontendBaseURL"),
		APIKey:               v.GetString("apiKey"),
		RollbarToken:         v.GetString("rollbarToken"),
		SendgridApiKey:       v.GetString("sendgridApiKey"),
		defaultFromEmail:     v.GetString("defaultFromEmail"),
		defaultFromEmailName: v.GetString("defaultFromEmailName"),
		Server: serverConfig{
			Host:            v.GetString("server.host"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
		},
		Database: dbConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Fees: feesConfig{
			Currency:                v.GetString("fees.currency"),
			DueDateOffsetDays:       v.GetInt("fees.dueDateOffsetDays"),
			InstallmentIntervalDays: v.GetInt("fees.installmentIntervalDays"),
			OverdueCron:             v.GetString("fees.overdueCron"),
		},
		AMQP: amqpConfig{
			URL:      v.GetString("amqp.url"),
			Exchange: v.GetString("amqp.exchange"),
		},
	}
}
