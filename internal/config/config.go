package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type Config struct {
	// Secrets (from .env)
	AggregatorAPIKey string
	ScannerAPIKey    string
	CoinGeckoAPIKey  string
	WebhookURL       string
	BotName          string
	APIKey           string
	CORSAllowOrigin  string

	// Storage
	StoreDriver string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string
	SQLitePath  string
	RedisAddr   string

	// Blockchain
	RPCURL            string
	ChainID           int64
	ExplorerTxURL     string
	GasLimit          uint64
	GasMultiplier     float64
	PriorityFeeWei    string
	MaxSubmitAttempts int

	// Upstream APIs
	AggregatorURL string
	AggregatorRPS float64
	ScannerURL    string
	ScannerRPS    float64
	CoinGeckoURL  string
	BaseCoinID    string
	SnapshotTTL   time.Duration

	// Fees and execution
	FeeRecipient   string
	FeeRate        float64
	FeeFloorWei    string
	NetworkFeeWei  string
	SlippageBps    int
	QuoteTimeout   time.Duration
	ConfirmTimeout time.Duration

	// Risk Management
	MaxDailyTrades int
	MaxTradeSize   float64

	// Paper Trading
	PaperTradingEnabled bool
	PaperInitialBalance float64

	// Server and timing
	APIPort            int
	SessionTTL         time.Duration
	PnLRefreshInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BOT_NAME", "TrahnSwapBot")
	v.SetDefault("CORS_ALLOW_ORIGIN", "*")

	v.SetDefault("STORE_DRIVER", StorePostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "trahn_swapbot")
	v.SetDefault("SQLITE_PATH", "./data/swapbot.db")

	v.SetDefault("CHAIN_ID", 1)
	v.SetDefault("EXPLORER_TX_URL", "https://etherscan.io/tx/")
	v.SetDefault("GAS_LIMIT", 500000)
	v.SetDefault("GAS_MULTIPLIER", 1.2)
	v.SetDefault("PRIORITY_FEE_WEI", "1000000000")
	v.SetDefault("MAX_SUBMIT_ATTEMPTS", 5)

	v.SetDefault("AGGREGATOR_RPS", 5)
	v.SetDefault("SCANNER_RPS", 5)
	v.SetDefault("COINGECKO_URL", "https://api.coingecko.com/api/v3")
	v.SetDefault("BASE_COIN_ID", "ethereum")
	v.SetDefault("SNAPSHOT_CACHE_TTL", "30s")

	v.SetDefault("FEE_RATE", 0.005)
	v.SetDefault("FEE_FLOOR_WEI", "5000000000000000")
	v.SetDefault("NETWORK_FEE_WEI", "1000000000000000")
	v.SetDefault("SLIPPAGE_BPS", 1500)
	v.SetDefault("QUOTE_TIMEOUT", "15s")
	v.SetDefault("CONFIRM_TIMEOUT", "90s")

	v.SetDefault("MAX_DAILY_TRADES", 50)
	v.SetDefault("MAX_TRADE_SIZE", 0)

	v.SetDefault("PAPER_TRADING_ENABLED", true)
	v.SetDefault("PAPER_INITIAL_BALANCE", 1.0)

	v.SetDefault("API_PORT", 3001)
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("PNL_REFRESH_INTERVAL", "5m")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Load reads .env, then an optional YAML file at path, then the process
// environment. Environment variables win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		AggregatorAPIKey: v.GetString("AGGREGATOR_API_KEY"),
		ScannerAPIKey:    v.GetString("SCANNER_API_KEY"),
		CoinGeckoAPIKey:  v.GetString("COINGECKO_API_KEY"),
		WebhookURL:       v.GetString("WEBHOOK_URL"),
		BotName:          v.GetString("BOT_NAME"),
		APIKey:           v.GetString("API_KEY"),
		CORSAllowOrigin:  v.GetString("CORS_ALLOW_ORIGIN"),

		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		DBHost:      v.GetString("DB_HOST"),
		DBPort:      v.GetInt("DB_PORT"),
		DBName:      v.GetString("DB_NAME"),
		DBUser:      v.GetString("DB_USER"),
		DBPassword:  v.GetString("DB_PASSWORD"),
		SQLitePath:  v.GetString("SQLITE_PATH"),
		RedisAddr:   v.GetString("REDIS_ADDR"),

		RPCURL:            v.GetString("RPC_URL"),
		ChainID:           v.GetInt64("CHAIN_ID"),
		ExplorerTxURL:     v.GetString("EXPLORER_TX_URL"),
		GasLimit:          v.GetUint64("GAS_LIMIT"),
		GasMultiplier:     v.GetFloat64("GAS_MULTIPLIER"),
		PriorityFeeWei:    v.GetString("PRIORITY_FEE_WEI"),
		MaxSubmitAttempts: v.GetInt("MAX_SUBMIT_ATTEMPTS"),

		AggregatorURL: v.GetString("AGGREGATOR_URL"),
		AggregatorRPS: v.GetFloat64("AGGREGATOR_RPS"),
		ScannerURL:    v.GetString("SCANNER_URL"),
		ScannerRPS:    v.GetFloat64("SCANNER_RPS"),
		CoinGeckoURL:  v.GetString("COINGECKO_URL"),
		BaseCoinID:    v.GetString("BASE_COIN_ID"),
		SnapshotTTL:   v.GetDuration("SNAPSHOT_CACHE_TTL"),

		FeeRecipient:   v.GetString("FEE_RECIPIENT"),
		FeeRate:        v.GetFloat64("FEE_RATE"),
		FeeFloorWei:    v.GetString("FEE_FLOOR_WEI"),
		NetworkFeeWei:  v.GetString("NETWORK_FEE_WEI"),
		SlippageBps:    v.GetInt("SLIPPAGE_BPS"),
		QuoteTimeout:   v.GetDuration("QUOTE_TIMEOUT"),
		ConfirmTimeout: v.GetDuration("CONFIRM_TIMEOUT"),

		MaxDailyTrades: v.GetInt("MAX_DAILY_TRADES"),
		MaxTradeSize:   v.GetFloat64("MAX_TRADE_SIZE"),

		PaperTradingEnabled: v.GetBool("PAPER_TRADING_ENABLED"),
		PaperInitialBalance: v.GetFloat64("PAPER_INITIAL_BALANCE"),

		APIPort:            v.GetInt("API_PORT"),
		SessionTTL:         v.GetDuration("SESSION_TTL"),
		PnLRefreshInterval: v.GetDuration("PNL_REFRESH_INTERVAL"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
	}
	return cfg, nil
}

// Validate reports every problem at once. Soft issues are logged as
// warnings instead.
func (c *Config) Validate(log logrus.FieldLogger) error {
	var errs []string

	switch c.StoreDriver {
	case StorePostgres:
		if c.DBUser == "" {
			errs = append(errs, "DB_USER is required for the postgres store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required for the sqlite store")
		}
	case StoreMemory:
		log.Warn("STORE_DRIVER=memory: users and trades are lost on restart")
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER %q is not one of postgres, sqlite, memory", c.StoreDriver))
	}

	if !c.PaperTradingEnabled && c.RPCURL == "" {
		errs = append(errs, "RPC_URL is required for live trading")
	}
	if c.AggregatorURL == "" {
		errs = append(errs, "AGGREGATOR_URL is required")
	}
	if c.ScannerURL == "" {
		errs = append(errs, "SCANNER_URL is required")
	}
	if !common.IsHexAddress(c.FeeRecipient) {
		errs = append(errs, "FEE_RECIPIENT must be a hex address")
	}
	if c.FeeRate < 0 || c.FeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("FEE_RATE %v must be in [0, 1)", c.FeeRate))
	}
	for _, w := range []struct{ key, val string }{
		{"FEE_FLOOR_WEI", c.FeeFloorWei},
		{"NETWORK_FEE_WEI", c.NetworkFeeWei},
		{"PRIORITY_FEE_WEI", c.PriorityFeeWei},
	} {
		if _, err := parseWei(w.val); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", w.key, err))
		}
	}
	if c.SlippageBps <= 0 || c.SlippageBps > 10000 {
		errs = append(errs, fmt.Sprintf("SLIPPAGE_BPS %d must be in (0, 10000]", c.SlippageBps))
	}
	if c.PaperTradingEnabled && c.PaperInitialBalance < 0 {
		errs = append(errs, "PAPER_INITIAL_BALANCE must not be negative")
	}

	if c.APIKey == "" {
		log.Warn("API_KEY not set, REST API has no authentication")
	}
	if c.MaxDailyTrades == 0 && c.MaxTradeSize == 0 {
		log.Warn("MAX_DAILY_TRADES and MAX_TRADE_SIZE are both 0, no per-trade limits active")
	}
	if c.CoinGeckoAPIKey == "" {
		log.Warn("COINGECKO_API_KEY not set, using the public rate limit")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Print logs the effective configuration without secrets.
func (c *Config) Print(log logrus.FieldLogger) {
	mode := "live"
	if c.PaperTradingEnabled {
		mode = "paper"
	}
	log.WithFields(logrus.Fields{
		"mode":          mode,
		"store":         c.StoreDriver,
		"redis":         boolLabel(c.RedisAddr != "", "configured", "not set (in-memory cache)"),
		"chain_id":      c.ChainID,
		"rpc":           boolLabel(c.RPCURL != "", "configured", "not set"),
		"aggregator":    c.AggregatorURL,
		"scanner":       c.ScannerURL,
		"fee_recipient": truncAddr(c.FeeRecipient),
		"fee_rate":      c.FeeRate,
		"fee_floor_wei": c.FeeFloorWei,
		"slippage_bps":  c.SlippageBps,
		"max_daily":     c.MaxDailyTrades,
		"max_size":      c.MaxTradeSize,
		"webhook":       boolLabel(c.WebhookURL != "", "configured", "not set"),
		"api_auth":      boolLabel(c.APIKey != "", "enabled", "disabled"),
	}).Info("configuration loaded")
	if c.PaperTradingEnabled {
		log.WithField("initial_balance", c.PaperInitialBalance).Warn("PAPER TRADING MODE: no real transactions will execute")
	}
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) FeeFloor() *big.Int    { return mustWei(c.FeeFloorWei) }
func (c *Config) NetworkFee() *big.Int  { return mustWei(c.NetworkFeeWei) }
func (c *Config) PriorityFee() *big.Int { return mustWei(c.PriorityFeeWei) }

func (c *Config) FeeRecipientAddress() common.Address {
	return common.HexToAddress(c.FeeRecipient)
}

// --- helpers ---

var errBadWei = errors.New("must be a non-negative integer amount of wei")

func parseWei(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 {
		return nil, errBadWei
	}
	return n, nil
}

// mustWei is only called on values Validate accepted.
func mustWei(s string) *big.Int {
	n, err := parseWei(s)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated wei amount %q", s))
	}
	return n
}

func truncAddr(addr string) string {
	if len(addr) > 10 {
		return addr[:10] + "..."
	}
	return addr
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
