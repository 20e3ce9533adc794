// Package config собирает конфигурацию из флагов, переменных окружения (PICNIC_*),
// YAML-файла и значений по умолчанию.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

// EnvPrefix — префикс переменных окружения.
const EnvPrefix = "PICNIC"

// Config описывает настройки сервиса.
type Config struct {
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	CountryCode string `mapstructure:"country_code"`
	APIBaseURL  string `mapstructure:"api_base_url"`
	APIVersion  string `mapstructure:"api_version"`

	MinRefreshInterval time.Duration `mapstructure:"min_refresh_interval"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ScanInterval       time.Duration `mapstructure:"scan_interval"`
	DeliveryScope      string        `mapstructure:"delivery_scope"`

	HTTP    HTTPConfig    `mapstructure:"http"`
	GRPC    GRPCConfig    `mapstructure:"grpc"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig — HTTP API, метрики и health checks.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GRPCConfig — gRPC health server; пустой адрес отключает его.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// KafkaConfig — публикация смен состояний; пустой список брокеров отключает её.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Enabled сообщает, настроена ли Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// LoggingConfig — уровень, формат и файл логов.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SetDefaults регистрирует значения по умолчанию. Ключи без значения тоже
// регистрируются, иначе viper не подхватит их из окружения при Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("country_code", "NL")
	v.SetDefault("api_base_url", "")
	v.SetDefault("api_version", "15")
	v.SetDefault("min_refresh_interval", 15*time.Minute)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("scan_interval", 30*time.Second)
	v.SetDefault("delivery_scope", "all")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
	v.SetDefault("grpc.addr", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "picnic.sensor.events")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// NewViper возвращает viper с умолчаниями и привязкой к PICNIC_* переменным.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv подгружает .env файлы; отсутствующие файлы пропускаются.
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load читает файл (если задан), раскладывает настройки в Config и проверяет их.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Username = strings.TrimSpace(c.Username)
	c.CountryCode = strings.ToUpper(strings.TrimSpace(c.CountryCode))
	c.DeliveryScope = strings.ToLower(strings.TrimSpace(c.DeliveryScope))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
}

// Validate проверяет обязательные поля и диапазоны.
func (c Config) Validate() error {
	var errs []error

	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}
	if !isCountryCode(c.CountryCode) {
		errs = append(errs, fmt.Errorf("country_code must be two letters, got %q", c.CountryCode))
	}
	if c.MinRefreshInterval <= 0 {
		errs = append(errs, errors.New("min_refresh_interval must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, errors.New("scan_interval must be positive"))
	}
	if c.DeliveryScope != "all" && c.DeliveryScope != "current" {
		errs = append(errs, fmt.Errorf("delivery_scope must be all or current, got %q", c.DeliveryScope))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(errs...))
}

func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
