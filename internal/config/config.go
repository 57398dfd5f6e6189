// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds watchdog configuration.
type Config struct {
	L1RPCURL     string
	L2RPCURL     string
	WalletKey    string // hex-encoded private key of the watchdog wallet
	Paymaster    string // optional paymaster address for sponsored L2 transactions
	ListenAddr   string
	DatabasePath string // Path to SQLite database file

	// Flow toggles. A flow that is disabled never runs and never reports.
	FlowTransfer         bool
	FlowDeposit          bool
	FlowDepositUser      bool
	FlowWithdrawal       bool
	FlowWithdrawFinalize bool

	FlowInterval  time.Duration // pause between consecutive runs of one flow
	RetryLimit    int           // failed runs retried up to this many times per cycle
	RetryInterval time.Duration
	StepTimeout   time.Duration // bound on each individual step
	L2ExecTimeout time.Duration // bound on deposit execution on the rollup

	GasPriceCeilingGwei int64  // settlement gas price above which runs are skipped
	LogBlockRange       uint64 // how far back event reconciliation looks
	DepositTriggerWin   time.Duration
}

// Defaults
const (
	DefaultL1RPCURL            = "http://localhost:8545"
	DefaultL2RPCURL            = "http://localhost:3050"
	DefaultListenAddr          = ":8081"
	DefaultDatabasePath        = "./data/watchdog.db"
	DefaultFlowInterval        = 5 * time.Minute
	DefaultRetryLimit          = 3
	DefaultRetryInterval       = 30 * time.Second
	DefaultStepTimeout         = 2 * time.Minute
	DefaultL2ExecTimeout       = 10 * time.Minute
	DefaultGasPriceCeilingGwei = 200
	DefaultLogBlockRange       = 50000
	DefaultDepositTriggerWin   = time.Hour
)

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		L1RPCURL:             DefaultL1RPCURL,
		L2RPCURL:             DefaultL2RPCURL,
		ListenAddr:           DefaultListenAddr,
		DatabasePath:         DefaultDatabasePath,
		FlowTransfer:         true,
		FlowDeposit:          true,
		FlowDepositUser:      false,
		FlowWithdrawal:       true,
		FlowWithdrawFinalize: true,
		FlowInterval:         DefaultFlowInterval,
		RetryLimit:           DefaultRetryLimit,
		RetryInterval:        DefaultRetryInterval,
		StepTimeout:          DefaultStepTimeout,
		L2ExecTimeout:        DefaultL2ExecTimeout,
		GasPriceCeilingGwei:  DefaultGasPriceCeilingGwei,
		LogBlockRange:        DefaultLogBlockRange,
		DepositTriggerWin:    DefaultDepositTriggerWin,
	}
	cfg.applyEnv()

	var (
		l1URL      = flag.String("l1", cfg.L1RPCURL, "Settlement layer RPC URL")
		l2URL      = flag.String("l2", cfg.L2RPCURL, "Rollup RPC URL")
		listenAddr = flag.String("listen", cfg.ListenAddr, "HTTP listen address")
		dbPath     = flag.String("db", cfg.DatabasePath, "SQLite database path")
		interval   = flag.Duration("interval", cfg.FlowInterval, "Pause between flow runs")
		ceiling    = flag.Int64("gas-ceiling-gwei", cfg.GasPriceCeilingGwei, "Settlement gas price ceiling in gwei")
	)
	flag.Parse()

	cfg.L1RPCURL = *l1URL
	cfg.L2RPCURL = *l2URL
	cfg.ListenAddr = *listenAddr
	cfg.DatabasePath = *dbPath
	cfg.FlowInterval = *interval
	cfg.GasPriceCeilingGwei = *ceiling

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("L1_RPC_URL"); v != "" {
		c.L1RPCURL = v
	}
	if v := os.Getenv("L2_RPC_URL"); v != "" {
		c.L2RPCURL = v
	}
	if v := os.Getenv("WALLET_KEY"); v != "" {
		c.WalletKey = v
	}
	if v := os.Getenv("PAYMASTER_ADDRESS"); v != "" {
		c.Paymaster = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}

	c.FlowTransfer = boolEnv("FLOW_TRANSFER", c.FlowTransfer)
	c.FlowDeposit = boolEnv("FLOW_DEPOSIT", c.FlowDeposit)
	c.FlowDepositUser = boolEnv("FLOW_DEPOSIT_USER", c.FlowDepositUser)
	c.FlowWithdrawal = boolEnv("FLOW_WITHDRAWAL", c.FlowWithdrawal)
	c.FlowWithdrawFinalize = boolEnv("FLOW_WITHDRAW_FINALIZE", c.FlowWithdrawFinalize)

	c.FlowInterval = durationEnv("FLOW_INTERVAL", c.FlowInterval)
	c.RetryInterval = durationEnv("RETRY_INTERVAL", c.RetryInterval)
	c.StepTimeout = durationEnv("STEP_TIMEOUT", c.StepTimeout)
	c.L2ExecTimeout = durationEnv("L2_EXECUTION_TIMEOUT", c.L2ExecTimeout)
	c.DepositTriggerWin = durationEnv("DEPOSIT_TRIGGER_WINDOW", c.DepositTriggerWin)

	if v := os.Getenv("RETRY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.RetryLimit = n
		}
	}
	if v := os.Getenv("GAS_PRICE_CEILING_GWEI"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.GasPriceCeilingGwei = n
		}
	}
	if v := os.Getenv("LOG_BLOCK_RANGE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			c.LogBlockRange = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.L1RPCURL == "" {
		return fmt.Errorf("L1 RPC URL is required")
	}
	if c.L2RPCURL == "" {
		return fmt.Errorf("L2 RPC URL is required")
	}
	if c.WalletKey == "" {
		return fmt.Errorf("WALLET_KEY is required")
	}
	if c.Paymaster != "" && !common.IsHexAddress(c.Paymaster) {
		return fmt.Errorf("PAYMASTER_ADDRESS is not a valid address: %s", c.Paymaster)
	}
	if c.FlowInterval <= 0 {
		return fmt.Errorf("flow interval must be positive")
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("retry limit cannot be negative")
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("step timeout must be positive")
	}
	if c.L2ExecTimeout <= 0 {
		return fmt.Errorf("L2 execution timeout must be positive")
	}
	if c.GasPriceCeilingGwei <= 0 {
		return fmt.Errorf("gas price ceiling must be positive")
	}
	if c.LogBlockRange == 0 {
		return fmt.Errorf("log block range must be positive")
	}
	return nil
}

// EnabledFlows returns the number of flows switched on.
func (c *Config) EnabledFlows() int {
	n := 0
	for _, on := range []bool{c.FlowTransfer, c.FlowDeposit, c.FlowDepositUser, c.FlowWithdrawal, c.FlowWithdrawFinalize} {
		if on {
			n++
		}
	}
	return n
}

// GasCeilingWei converts the configured gwei ceiling to wei.
func (c *Config) GasCeilingWei() *big.Int {
	return new(big.Int).Mul(big.NewInt(c.GasPriceCeilingGwei), big.NewInt(1e9))
}

// PaymasterAddress returns the configured paymaster, or nil when unset.
func (c *Config) PaymasterAddress() *common.Address {
	if c.Paymaster == "" {
		return nil
	}
	addr := common.HexToAddress(c.Paymaster)
	return &addr
}

func boolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return fallback
}
