// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	SMTP                    `yaml:"smtp"`
	OAuth                   `yaml:"oauth"`
	Navigation              `yaml:"navigation"`
	Realtime                `yaml:"realtime"`
	Scheduler               `yaml:"scheduler"`
	Plans                   []Plan `yaml:"plans"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// PublicURL адрес фронтенда, на который ведут ссылки из писем и OAuth-редиректы
	PublicURL string `yaml:"public_url" env-default:"http://localhost:5173"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ структура для подключения к брокеру
type RabbitMQ struct {
	URL        string        `yaml:"url"`
	Retries    int           `yaml:"retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	// CodeTTL время жизни одноразового кода из письма или OAuth-редиректа
	CodeTTL time.Duration `yaml:"code_ttl" env-default:"24h"`
}

// SMTP настройки почтового сервера для sender
type SMTP struct {
	SMTPHost     string `yaml:"host"`
	SMTPPort     string `yaml:"port" env-default:"587"`
	SMTPUser     string `yaml:"user"`
	SMTPPass     string `yaml:"pass"`
	SMTPFromName string `yaml:"from_name" env-default:"SignalDesk"`
	// SMTPStartTLS запрещает отправку по открытому соединению на порту 587
	SMTPStartTLS bool   `yaml:"starttls" env-default:"true"`
}

// OAuth настройки социальных провайдеров
type OAuth struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GitHubClientID     string `yaml:"github_client_id"`
	GitHubClientSecret string `yaml:"github_client_secret"`
	// RedirectBaseURL базовый адрес API, к которому провайдер вернёт пользователя
	RedirectBaseURL string `yaml:"redirect_base_url" env-default:"http://localhost:8080"`
}

// Navigation настройки координатора экранов
type Navigation struct {
	// PersistDebounce окно схлопывания записей в локальное хранилище
	PersistDebounce time.Duration `yaml:"persist_debounce" env-default:"500ms"`
	// RecentVerificationWindow порог "свежего" подтверждения почты без редиректа
	RecentVerificationWindow time.Duration `yaml:"recent_verification_window" env-default:"1m"`
	// IdleClientTTL через сколько простаивающий координатор выгружается из памяти
	IdleClientTTL time.Duration `yaml:"idle_client_ttl" env-default:"30m"`
}

// Realtime настройки канала статусов платежа
type Realtime struct {
	BaseDelay    time.Duration `yaml:"base_delay" env-default:"1s"`
	MaxDelay     time.Duration `yaml:"max_delay" env-default:"30s"`
	Jitter       float64       `yaml:"jitter" env-default:"0.3"`
	MaxRetries   int           `yaml:"max_retries" env-default:"5"`
	PollInterval time.Duration `yaml:"poll_interval" env-default:"15s"`
}

// Scheduler расписание фоновых задач
type Scheduler struct {
	ExpireSpec string `yaml:"expire_spec" env-default:"0 3 * * *"`
}

// Plan тарифный план в конфиге. Цена строкой, чтобы не терять точность.
type Plan struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Price  string `yaml:"price"`
	Months int    `yaml:"months"`
}

// MustLoad функция для загрузки конфига, возвращает конфиг, сгенерированный из config/config.go
// Переменные из .env в рабочей папке подхватываются, если файл есть.
func MustLoad() *Config {
	_ = godotenv.Load()
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"  MaxRetries: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"JWTToken:\n"+
			"  TokenTTL: %s\n"+
			"Navigation:\n"+
			"  PersistDebounce: %s\n"+
			"  RecentVerificationWindow: %s\n"+
			"Realtime:\n"+
			"  BaseDelay: %s\n"+
			"  MaxDelay: %s\n"+
			"  MaxRetries: %d\n"+
			"Plans: %d\n",
		c.Env,
		c.AddressRedis,
		c.DB,
		c.RedisConnection.MaxRetries,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.TokenTTL,
		c.PersistDebounce,
		c.RecentVerificationWindow,
		c.BaseDelay,
		c.MaxDelay,
		c.Realtime.MaxRetries,
		len(c.Plans),
	)
}
