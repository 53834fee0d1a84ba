package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"smcbot/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Feed      FeedConfig
	Risk      RiskConfig
	Lifecycle LifecycleConfig
	Symbols   SymbolsConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig - настройки хранилища
type DatabaseConfig struct {
	Driver     string // postgres, sqlite, memory
	Host       string
	Port       int
	Name       string
	User       string
	Password   string
	SSLMode    string
	SQLitePath string
}

// SecurityConfig - административный доступ к API
type SecurityConfig struct {
	// bcrypt-хеш административного токена; пусто = мутирующие эндпоинты отключены
	AdminTokenHash string
}

// FeedConfig - источники цен
type FeedConfig struct {
	StreamURL    string
	SecondaryURL string
	TertiaryURL  string
	Timeframe    string

	// переподключение потока: delay(n) = min(ReconnectCap, ReconnectBase·2^n)
	ReconnectBase    time.Duration
	ReconnectCap     time.Duration
	ReconnectCeiling int // после стольких неудач подряд - алерт (повторы продолжаются)

	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration

	StaleAfter    time.Duration // цена старше считается устаревшей
	StaticMaxAge  time.Duration // максимальный возраст last-known цены
	RESTRate      float64       // запросов в секунду на провайдера
	RESTBurst     int
	RESTTimeout   time.Duration
	CandleHistory int // размер кольцевого буфера свечей на символ
}

// RiskConfig - параметры контроля допуска
type RiskConfig struct {
	InitialBalance       float64
	RiskPerTrade         float64 // доля баланса на сделку
	MaxPortfolioRisk     float64 // Σ open risk / balance
	Cooldown             time.Duration
	MaxConcurrentSignals int
	PositionLossLimit    float64 // аварийный лимит убытка позиции, доля баланса
	MaxDrawdown          float64 // аварийный лимит просадки от HWM
}

// LifecycleConfig - жизненный цикл позиций и расписание
type LifecycleConfig struct {
	CycleInterval   time.Duration
	TickInterval    time.Duration // проверка стопов/целей открытых позиций
	AnalysisWindow  int           // свечей на один прогон анализа
	SignalTTL       time.Duration
	EODTime         utils.ClockTime
	EODLocation     *time.Location
	IntentQueueSize int
	ShutdownTimeout time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения и файла символов
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvAsInt("DB_PORT", 5432),
			Name:       getEnv("DB_NAME", "smcbot"),
			User:       getEnv("DB_USER", "smcbot"),
			Password:   getEnv("DB_PASSWORD", ""),
			SSLMode:    getEnv("DB_SSL_MODE", "disable"),
			SQLitePath: getEnv("SQLITE_PATH", "smcbot.db"),
		},
		Security: SecurityConfig{
			AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),
		},
		Feed: FeedConfig{
			StreamURL:        getEnv("FEED_STREAM_URL", ""),
			SecondaryURL:     getEnv("FEED_SECONDARY_URL", ""),
			TertiaryURL:      getEnv("FEED_TERTIARY_URL", ""),
			Timeframe:        getEnv("FEED_TIMEFRAME", "5m"),
			ReconnectBase:    getEnvAsDuration("FEED_RECONNECT_BASE", 2*time.Second),
			ReconnectCap:     getEnvAsDuration("FEED_RECONNECT_CAP", 30*time.Second),
			ReconnectCeiling: getEnvAsInt("FEED_RECONNECT_CEILING", 10),
			ConnectTimeout:   getEnvAsDuration("FEED_CONNECT_TIMEOUT", 10*time.Second),
			PingInterval:     getEnvAsDuration("FEED_PING_INTERVAL", 20*time.Second),
			PongTimeout:      getEnvAsDuration("FEED_PONG_TIMEOUT", 10*time.Second),
			StaleAfter:       getEnvAsDuration("FEED_STALE_AFTER", 15*time.Second),
			StaticMaxAge:     getEnvAsDuration("FEED_STATIC_MAX_AGE", 5*time.Minute),
			RESTRate:         getEnvAsFloat("FEED_REST_RATE", 5),
			RESTBurst:        getEnvAsInt("FEED_REST_BURST", 5),
			RESTTimeout:      getEnvAsDuration("FEED_REST_TIMEOUT", 5*time.Second),
			CandleHistory:    getEnvAsInt("FEED_CANDLE_HISTORY", 500),
		},
		Risk: RiskConfig{
			InitialBalance:       getEnvAsFloat("INITIAL_BALANCE", 100),
			RiskPerTrade:         getEnvAsFloat("RISK_PER_TRADE", 0.01),
			MaxPortfolioRisk:     getEnvAsFloat("MAX_PORTFOLIO_RISK", 0.05),
			Cooldown:             getEnvAsDuration("SIGNAL_COOLDOWN", 15*time.Minute),
			MaxConcurrentSignals: getEnvAsInt("MAX_CONCURRENT_SIGNALS", 5),
			PositionLossLimit:    getEnvAsFloat("EMERGENCY_POSITION_LOSS", 0.05),
			MaxDrawdown:          getEnvAsFloat("MAX_DRAWDOWN", 0.25),
		},
		Lifecycle: LifecycleConfig{
			CycleInterval:   getEnvAsDuration("CYCLE_INTERVAL", time.Minute),
			TickInterval:    getEnvAsDuration("TICK_INTERVAL", 5*time.Second),
			AnalysisWindow:  getEnvAsInt("ANALYSIS_WINDOW", 100),
			SignalTTL:       getEnvAsDuration("SIGNAL_TTL", 4*time.Hour),
			IntentQueueSize: getEnvAsInt("INTENT_QUEUE_SIZE", 256),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	eod, err := utils.ParseClock(getEnv("EOD_TIME", "21:55"))
	if err != nil {
		return nil, fmt.Errorf("EOD_TIME: %w", err)
	}
	cfg.Lifecycle.EODTime = eod

	loc, err := time.LoadLocation(getEnv("EOD_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("EOD_TIMEZONE: %w", err)
	}
	cfg.Lifecycle.EODLocation = loc

	symbols, err := LoadSymbols(getEnv("SYMBOLS_FILE", ""), getEnvAsList("SYMBOLS", []string{"BTCUSDT", "ETHUSDT"}))
	if err != nil {
		return nil, err
	}
	cfg.Symbols = *symbols

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет числовые диапазоны параметров
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres, sqlite or memory, got %q", c.Database.Driver)
	}

	if c.Feed.ReconnectBase <= 0 || c.Feed.ReconnectCap < c.Feed.ReconnectBase {
		return fmt.Errorf("FEED_RECONNECT_CAP (%v) must be >= FEED_RECONNECT_BASE (%v) > 0",
			c.Feed.ReconnectCap, c.Feed.ReconnectBase)
	}
	if c.Feed.ReconnectCeiling < 1 {
		return fmt.Errorf("FEED_RECONNECT_CEILING must be positive, got %d", c.Feed.ReconnectCeiling)
	}
	if c.Feed.RESTRate <= 0 {
		return fmt.Errorf("FEED_REST_RATE must be positive, got %v", c.Feed.RESTRate)
	}
	if c.Feed.CandleHistory < 50 {
		return fmt.Errorf("FEED_CANDLE_HISTORY must be at least 50, got %d", c.Feed.CandleHistory)
	}

	if c.Risk.InitialBalance <= 0 {
		return fmt.Errorf("INITIAL_BALANCE must be positive, got %v", c.Risk.InitialBalance)
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 1 {
		return fmt.Errorf("RISK_PER_TRADE must be within (0, 1], got %v", c.Risk.RiskPerTrade)
	}
	if c.Risk.MaxPortfolioRisk <= 0 || c.Risk.MaxPortfolioRisk > 1 {
		return fmt.Errorf("MAX_PORTFOLIO_RISK must be within (0, 1], got %v", c.Risk.MaxPortfolioRisk)
	}
	if c.Risk.MaxConcurrentSignals < 1 {
		return fmt.Errorf("MAX_CONCURRENT_SIGNALS must be positive, got %d", c.Risk.MaxConcurrentSignals)
	}
	if c.Risk.Cooldown < 0 {
		return fmt.Errorf("SIGNAL_COOLDOWN cannot be negative, got %v", c.Risk.Cooldown)
	}

	if c.Lifecycle.CycleInterval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL must be positive, got %v", c.Lifecycle.CycleInterval)
	}
	if c.Lifecycle.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %v", c.Lifecycle.TickInterval)
	}
	if c.Lifecycle.AnalysisWindow < 20 || c.Lifecycle.AnalysisWindow > c.Feed.CandleHistory {
		return fmt.Errorf("ANALYSIS_WINDOW must be within [20, FEED_CANDLE_HISTORY], got %d", c.Lifecycle.AnalysisWindow)
	}
	if c.Lifecycle.IntentQueueSize < 1 {
		return fmt.Errorf("INTENT_QUEUE_SIZE must be positive, got %d", c.Lifecycle.IntentQueueSize)
	}

	return c.Symbols.Validate()
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", d.SQLitePath)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	if d.Driver == "sqlite" {
		return d.DSN()
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
