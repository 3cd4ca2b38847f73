// Package configs loads the process configuration from environment
// variables (spec §6) and projects it into the per-component config
// structs each package actually wants, mirroring the teacher's
// Config/ToXConfig() split.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	"solsniper"
	"solsniper/internal/errs"
	"solsniper/internal/executor"
	"solsniper/internal/ingestion"
	"solsniper/internal/orchestrator"
	"solsniper/internal/position"
	"solsniper/internal/risk"
	"solsniper/internal/rpcmanager"
)

// Config is the raw, validated projection of every recognized environment
// variable (spec §6's table).
type Config struct {
	GRPCEndpoint string
	GRPCToken    string
	HeliusAPIKey string
	BackupRPCURLs []string
	PrivateKey   string

	BuyAmountSol          float64
	MaxSlippageBps        int
	TakeProfitPercent     float64
	StopLossPercent       float64
	MaxPositionSizeSol    float64
	MaxConcurrentPositions int

	JitoBlockEngineURL string
	JitoTipLamports    uint64
	JitoTipPercent     float64
	JitoMaxTipLamports uint64

	MinLiquiditySol     float64
	MaxTopHolderPercent float64
	RiskScoreThreshold  int
	EnableHoneypotCheck bool
	MaxTaxPercent       float64

	EnableRaydium bool
	EnablePumpfun bool
	EnableOrca    bool

	ShyftRPSLimit    float64
	HeliusRPSLimit   float64
	HeliusPriority   int
	ShyftPriority    int
	SolanaPriority   int

	RPCCacheTTL           time.Duration
	MaxConcurrentFetches  int
	FetchTimeout          time.Duration
	RPCPollingInterval    time.Duration
	EnableGRPCAutoDetect  bool

	DryRun     bool
	UseDevnet  bool

	EnableAutoSweep    bool
	ColdWalletAddress  string

	LogLevel   string
	LogFile    string
	LogConsole bool
}

// Load reads a .env file if present (ignored if missing) then parses every
// recognized variable from the process environment, aggregating every
// validation failure into one line-by-line error (spec §6: "Invalid config
// aborts startup with a line-by-line error listing").
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	var problems []string
	c := &Config{}

	c.GRPCEndpoint = os.Getenv("GRPC_ENDPOINT")
	c.GRPCToken = os.Getenv("GRPC_TOKEN")
	c.HeliusAPIKey = os.Getenv("HELIUS_API_KEY")
	c.BackupRPCURLs = splitCSV(os.Getenv("BACKUP_RPC_URLS"))
	c.PrivateKey = os.Getenv("PRIVATE_KEY")
	if c.PrivateKey == "" {
		problems = append(problems, "PRIVATE_KEY is required")
	}

	c.BuyAmountSol = envFloat("BUY_AMOUNT_SOL", 0.05, &problems)
	c.MaxSlippageBps = envInt("MAX_SLIPPAGE_BPS", 500, &problems)
	c.TakeProfitPercent = envFloat("TAKE_PROFIT_PERCENT", 50, &problems)
	c.StopLossPercent = envFloat("STOP_LOSS_PERCENT", 20, &problems)
	c.MaxPositionSizeSol = envFloat("MAX_POSITION_SIZE_SOL", 1, &problems)
	c.MaxConcurrentPositions = envInt("MAX_CONCURRENT_POSITIONS", 5, &problems)

	c.JitoBlockEngineURL = envString("JITO_BLOCK_ENGINE_URL", "https://mainnet.block-engine.jito.wtf")
	c.JitoTipLamports = envUint64("JITO_TIP_LAMPORTS", 100_000, &problems)
	c.JitoTipPercent = envFloat("JITO_TIP_PERCENT", 5, &problems)
	c.JitoMaxTipLamports = envUint64("JITO_MAX_TIP_LAMPORTS", 5_000_000, &problems)

	c.MinLiquiditySol = envFloat("MIN_LIQUIDITY_SOL", 5, &problems)
	c.MaxTopHolderPercent = envFloat("MAX_TOP_HOLDER_PERCENT", 30, &problems)
	c.RiskScoreThreshold = envInt("RISK_SCORE_THRESHOLD", 50, &problems)
	c.EnableHoneypotCheck = envBool("ENABLE_HONEYPOT_CHECK", true, &problems)
	c.MaxTaxPercent = envFloat("MAX_TAX_PERCENT", 10, &problems)

	c.EnableRaydium = envBool("ENABLE_RAYDIUM", true, &problems)
	c.EnablePumpfun = envBool("ENABLE_PUMPFUN", true, &problems)
	c.EnableOrca = envBool("ENABLE_ORCA", false, &problems)

	c.ShyftRPSLimit = envFloat("SHYFT_RPC_RPS", 10, &problems)
	c.HeliusRPSLimit = envFloat("HELIUS_RPC_RPS", 10, &problems)
	c.HeliusPriority = envInt("HELIUS_PRIORITY", 1, &problems)
	c.ShyftPriority = envInt("SHYFT_PRIORITY", 2, &problems)
	c.SolanaPriority = envInt("SOLANA_PRIORITY", 3, &problems)

	c.RPCCacheTTL = time.Duration(envInt("RPC_CACHE_TTL_MS", 2000, &problems)) * time.Millisecond
	c.MaxConcurrentFetches = envInt("MAX_CONCURRENT_FETCHES", 2, &problems)
	c.FetchTimeout = time.Duration(envInt("FETCH_TIMEOUT_MS", 5000, &problems)) * time.Millisecond
	c.RPCPollingInterval = time.Duration(envInt("RPC_POLLING_INTERVAL_MS", 2000, &problems)) * time.Millisecond
	c.EnableGRPCAutoDetect = envBool("ENABLE_GRPC_AUTO_DETECT", true, &problems)

	c.DryRun = envBool("DRY_RUN", false, &problems)
	c.UseDevnet = envBool("USE_DEVNET", false, &problems)

	c.EnableAutoSweep = envBool("ENABLE_AUTO_SWEEP", false, &problems)
	c.ColdWalletAddress = os.Getenv("COLD_WALLET_ADDRESS")
	if c.EnableAutoSweep && c.ColdWalletAddress == "" {
		problems = append(problems, "COLD_WALLET_ADDRESS is required when ENABLE_AUTO_SWEEP=true")
	}

	c.LogLevel = envString("LOG_LEVEL", "info")
	c.LogFile = os.Getenv("LOG_FILE")
	c.LogConsole = envBool("LOG_CONSOLE", true, &problems)

	if c.MaxSlippageBps < 0 || c.MaxSlippageBps > 10_000 {
		problems = append(problems, "MAX_SLIPPAGE_BPS must be in [0, 10000]")
	}
	if c.MaxConcurrentFetches < 1 {
		problems = append(problems, "MAX_CONCURRENT_FETCHES must be >= 1")
	}
	if c.MaxConcurrentPositions < 1 {
		problems = append(problems, "MAX_CONCURRENT_POSITIONS must be >= 1")
	}
	if !c.EnableRaydium && !c.EnablePumpfun && !c.EnableOrca {
		problems = append(problems, "at least one of ENABLE_RAYDIUM, ENABLE_PUMPFUN, ENABLE_ORCA must be true")
	}

	if len(problems) > 0 {
		return nil, errs.Wrap(errs.ErrConfiguration, "invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return c, nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64, problems *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: invalid float %q", key, v))
		return def
	}
	return f
}

func envInt(key string, def int, problems *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func envUint64(key string, def uint64, problems *[]string) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: invalid unsigned integer %q", key, v))
		return def
	}
	return n
}

func envBool(key string, def bool, problems *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

// Wallet parses PRIVATE_KEY (base58) into a signing keypair.
func (c *Config) Wallet() (solana.PrivateKey, error) {
	pk, err := solana.PrivateKeyFromBase58(c.PrivateKey)
	if err != nil {
		return nil, errs.Wrap(errs.ErrConfiguration, "PRIVATE_KEY: %v", err)
	}
	return pk, nil
}

// ColdWallet parses COLD_WALLET_ADDRESS, when set.
func (c *Config) ColdWallet() (solana.PublicKey, error) {
	if c.ColdWalletAddress == "" {
		return solana.PublicKey{}, nil
	}
	return solana.PublicKeyFromBase58(c.ColdWalletAddress)
}

// heliusURL builds the Helius mainnet RPC URL from the configured API key.
func (c *Config) heliusURL() string {
	return fmt.Sprintf("https://mainnet.helius-rpc.com/?api-key=%s", c.HeliusAPIKey)
}

// ToProviderConfigs projects the per-provider rate/priority fields into C4's
// provider table (spec §6: "HELIUS_API_KEY builds Helius RPC/WS URLs";
// "SHYFT_RPC_RPS, HELIUS_RPC_RPS, HELIUS_PRIORITY, SHYFT_PRIORITY,
// SOLANA_PRIORITY: per-provider rate & priority"). Helius is first when an
// API key is configured; every BACKUP_RPC_URLS entry becomes one additional
// provider, sharing the Shyft/Solana priority and rate-limit fields in the
// order they're listed so a deployment can point them at whichever
// providers it actually holds keys for.
func (c *Config) ToProviderConfigs() []rpcmanager.ProviderConfig {
	var providers []rpcmanager.ProviderConfig
	if c.HeliusAPIKey != "" {
		providers = append(providers, rpcmanager.ProviderConfig{
			Name: "helius", URL: c.heliusURL(), RPSLimit: c.HeliusRPSLimit, Priority: c.HeliusPriority,
		})
	}
	backupPriorities := []int{c.ShyftPriority, c.SolanaPriority}
	for i, url := range c.BackupRPCURLs {
		priority := c.SolanaPriority
		if i < len(backupPriorities) {
			priority = backupPriorities[i]
		}
		providers = append(providers, rpcmanager.ProviderConfig{
			Name: fmt.Sprintf("backup-%d", i+1), URL: url, RPSLimit: c.ShyftRPSLimit, Priority: priority,
		})
	}
	return providers
}

// ToIngestionConfig projects the ingestion coordinator's config (spec §4.6,
// §6).
func (c *Config) ToIngestionConfig(enabledDexes []solsniper.Dex) ingestion.Config {
	return ingestion.Config{
		GRPCEndpoint:         c.GRPCEndpoint,
		GRPCToken:            c.GRPCToken,
		WSEndpoint:           c.heliusWSURL(),
		EnabledDexes:         enabledDexes,
		UseDevnet:            c.UseDevnet,
		EnableGRPCAutoDetect: c.EnableGRPCAutoDetect,
		MaxConcurrentFetches: c.MaxConcurrentFetches,
		FetchTimeout:         c.FetchTimeout,
		PollInterval:         c.RPCPollingInterval,
	}
}

func (c *Config) heliusWSURL() string {
	if c.HeliusAPIKey == "" {
		return ""
	}
	return fmt.Sprintf("wss://mainnet.helius-rpc.com/?api-key=%s", c.HeliusAPIKey)
}

// ToRiskConfig projects the risk analyzer's config (spec §4.7, §6).
func (c *Config) ToRiskConfig(wallet solana.PublicKey) risk.Config {
	return risk.Config{
		MinLiquiditySol:     c.MinLiquiditySol,
		MaxTopHolderPercent: c.MaxTopHolderPercent,
		EnableHoneypotCheck: c.EnableHoneypotCheck,
		MaxTaxPercent:       c.MaxTaxPercent,
		WalletAddress:       wallet,
	}
}

// ToExecutorConfig projects the bundle executor's config (spec §4.8, §6).
func (c *Config) ToExecutorConfig(wallet solana.PrivateKey) executor.Config {
	return executor.Config{
		DryRun:         c.DryRun,
		Wallet:         wallet,
		TipStrategy:    executor.TipDynamic,
		TipLamports:    c.JitoTipLamports,
		TipPercent:     c.JitoTipPercent,
		MaxTipLamports: c.JitoMaxTipLamports,
		BlockEngineURL: c.JitoBlockEngineURL,
	}
}

// ToPositionConfig projects the position manager's config (spec §4.9, §6).
func (c *Config) ToPositionConfig() position.Config {
	return position.Config{
		TakeProfitPercent:      c.TakeProfitPercent,
		StopLossPercent:        c.StopLossPercent,
		MaxPositionSizeSol:     c.MaxPositionSizeSol,
		MaxConcurrentPositions: c.MaxConcurrentPositions,
	}
}

// ToOrchestratorConfig projects the orchestrator's own buy-decision config
// (spec §4.10, §6).
func (c *Config) ToOrchestratorConfig(wallet solana.PublicKey) orchestrator.Config {
	return orchestrator.Config{
		RiskScoreThreshold: c.RiskScoreThreshold,
		BuyAmountLamports:  uint64(c.BuyAmountSol * float64(solana.LAMPORTS_PER_SOL)),
		MaxSlippageBps:     c.MaxSlippageBps,
		Wallet:             wallet,
	}
}

// EnabledDexes lists the DEXes enabled for ingestion/execution per the
// ENABLE_RAYDIUM/ENABLE_PUMPFUN/ENABLE_ORCA flags. Orca has no decoder
// wired (see DESIGN.md) so it is accepted but never yields a non-empty
// list entry today.
func (c *Config) EnabledDexes() []solsniper.Dex {
	var out []solsniper.Dex
	if c.EnablePumpfun {
		out = append(out, solsniper.DexPumpfun)
	}
	if c.EnableRaydium {
		out = append(out, solsniper.DexRaydium)
	}
	return out
}
