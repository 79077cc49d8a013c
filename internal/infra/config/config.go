package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`

	API struct {
		Addr string `envconfig:"API_HTTP_ADDR" default:":8080"`
		// AuthToken защищает изменяющие ручки API; пустое значение
		// оставляет API открытым.
		AuthToken string `envconfig:"API_AUTH_TOKEN"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// PGDSN включает хранение в Postgres; при пустом значении
	// используется локальный bbolt-файл BoltPath.
	PGDSN    string `envconfig:"PG_DSN"`
	BoltPath string `envconfig:"BOLT_PATH" default:"relwatch.db"`

	// RedisAddr включает общий кэш версий и резервную очередь в Redis.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// RabbitURL включает доставку уведомлений через AMQP.
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Notify string `envconfig:"NOTIFY_QUEUE_KEY" default:"notify_jobs"`
	} `envconfig:""`

	Telegram struct {
		Token  string `envconfig:"TG_BOT_TOKEN"`
		ChatID int64  `envconfig:"TG_CHAT_ID"`
	} `envconfig:""`

	Bot struct {
		Addr string `envconfig:"BOT_HTTP_ADDR" default:":8081"`
	} `envconfig:""`

	Fetch struct {
		Timeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"15s"`
		GitHubToken string        `envconfig:"GITHUB_TOKEN"`
	} `envconfig:""`

	Watcher struct {
		MaxConcurrent int `envconfig:"WATCHER_MAX_CONCURRENT" default:"5"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
