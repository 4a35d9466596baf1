package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Node struct {
	DBPath   string // empty = in-memory store
	LogFile  string
	LogLevel string
	// Devnet enables the faucet and price endpoints and falls back to the
	// in-memory oracle and router when no URLs are configured
	Devnet  bool
	ChainID int64
}

type Accounts struct {
	Admin   common.Address
	Custody common.Address // holds escrowed funds
	Oracle  common.Address
	Router  common.Address
}

type Oracle struct {
	URL       string // empty = in-memory static feed
	Decimals  uint32 // static feed precision
	Timeout   time.Duration
	RateLimit float64 // outbound requests per second
}

type Router struct {
	URL          string // empty = in-memory router
	Rates        string // in-memory rates, "in:out:num:den,..."
	Timeout      time.Duration
	AllowanceTTL time.Duration
}

type Keeper struct {
	Enabled       bool
	Address       common.Address
	Interval      time.Duration
	SlippageBps   uint32
	DeadlineSecs  uint64
	Concurrency   int
	Watchlist     string // YAML path
	DefaultTicker string // e.g. "other:XLMUSD"
}

type API struct {
	Addr           string
	RateLimit      float64 // requests per second, 0 = unlimited
	AllowedOrigins []string
}

type Config struct {
	Node     Node
	Accounts Accounts
	Oracle   Oracle
	Router   Router
	Keeper   Keeper
	API      API
}

func Default() Config {
	return Config{
		Node: Node{
			DBPath:   "data/trailstop",
			LogFile:  "data/node.log",
			LogLevel: "info",
			Devnet:   true,
			ChainID:  1337,
		},
		Accounts: Accounts{
			Admin:   common.HexToAddress("0x00000000000000000000000000000000000000ad"),
			Custody: common.HexToAddress("0x00000000000000000000000000000000000000c0"),
			Oracle:  common.HexToAddress("0x000000000000000000000000000000000000000c"),
			Router:  common.HexToAddress("0x000000000000000000000000000000000000000e"),
		},
		Oracle: Oracle{
			Decimals:  7,
			Timeout:   5 * time.Second,
			RateLimit: 10,
		},
		Router: Router{
			Timeout:      10 * time.Second,
			AllowanceTTL: 1000 * time.Second,
		},
		Keeper: Keeper{
			Enabled:       false,
			Address:       common.HexToAddress("0x00000000000000000000000000000000004ee9e4"),
			Interval:      10 * time.Second,
			SlippageBps:   100,
			DeadlineSecs:  300,
			Concurrency:   4,
			DefaultTicker: "other:XLMUSD",
		},
		API: API{
			Addr:           ":8080",
			RateLimit:      50,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	// Node
	cfg.Node.DBPath = getEnv("DB_PATH", cfg.Node.DBPath)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.Devnet = getBool("DEVNET", cfg.Node.Devnet)
	if v, ok := lookupInt("CHAIN_ID"); ok {
		cfg.Node.ChainID = v
	}

	// Accounts
	cfg.Accounts.Admin = getAddress("ADMIN_ADDRESS", cfg.Accounts.Admin)
	cfg.Accounts.Custody = getAddress("CUSTODY_ADDRESS", cfg.Accounts.Custody)
	cfg.Accounts.Oracle = getAddress("ORACLE_ADDRESS", cfg.Accounts.Oracle)
	cfg.Accounts.Router = getAddress("ROUTER_ADDRESS", cfg.Accounts.Router)

	// Oracle
	cfg.Oracle.URL = getEnv("ORACLE_URL", cfg.Oracle.URL)
	if v, ok := lookupInt("ORACLE_DECIMALS"); ok && v >= 0 {
		cfg.Oracle.Decimals = uint32(v)
	}
	if v, ok := lookupInt("ORACLE_TIMEOUT_MS"); ok {
		cfg.Oracle.Timeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := lookupFloat("ORACLE_RATE_LIMIT"); ok {
		cfg.Oracle.RateLimit = v
	}

	// Router
	cfg.Router.URL = getEnv("ROUTER_URL", cfg.Router.URL)
	cfg.Router.Rates = getEnv("ROUTER_RATES", cfg.Router.Rates)
	if v, ok := lookupInt("ROUTER_TIMEOUT_MS"); ok {
		cfg.Router.Timeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := lookupInt("ALLOWANCE_TTL_SECONDS"); ok && v > 0 {
		cfg.Router.AllowanceTTL = time.Duration(v) * time.Second
	}

	// Keeper
	cfg.Keeper.Enabled = getBool("KEEPER_ENABLED", cfg.Keeper.Enabled)
	cfg.Keeper.Address = getAddress("KEEPER_ADDRESS", cfg.Keeper.Address)
	if v, ok := lookupInt("KEEPER_INTERVAL_MS"); ok && v > 0 {
		cfg.Keeper.Interval = time.Duration(v) * time.Millisecond
	}
	if v, ok := lookupInt("KEEPER_SLIPPAGE_BPS"); ok && v >= 0 {
		cfg.Keeper.SlippageBps = uint32(v)
	}
	if v, ok := lookupInt("KEEPER_DEADLINE_SECS"); ok && v >= 0 {
		cfg.Keeper.DeadlineSecs = uint64(v)
	}
	if v, ok := lookupInt("KEEPER_CONCURRENCY"); ok && v > 0 {
		cfg.Keeper.Concurrency = int(v)
	}
	cfg.Keeper.Watchlist = getEnv("KEEPER_WATCHLIST", cfg.Keeper.Watchlist)
	cfg.Keeper.DefaultTicker = getEnv("KEEPER_DEFAULT_TICKER", cfg.Keeper.DefaultTicker)

	// API
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v, ok := lookupFloat("API_RATE_LIMIT"); ok {
		cfg.API.RateLimit = v
	}
	// Origins from comma-separated list
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = strings.Split(origins, ",")
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getAddress(key string, defaultValue common.Address) common.Address {
	if value := os.Getenv(key); common.IsHexAddress(value) {
		return common.HexToAddress(value)
	}
	return defaultValue
}

func lookupInt(key string) (int64, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(value, 10, 64)
	return n, err == nil
}

func lookupFloat(key string) (float64, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 64)
	return f, err == nil
}
