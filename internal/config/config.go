package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"trustwork/internal/stacks"
	"trustwork/internal/txbuild"
)

// Deployment mirrors deployments.json: where the contracts live and who
// arbitrates.
type Deployment struct {
	Network    string `json:"network"`
	APIURL     string `json:"apiUrl"`
	Arbitrator string `json:"arbitrator"`
	Token      string `json:"token"`
	Contracts  struct {
		Marketplace string `json:"marketplace"`
		Escrow      string `json:"escrow"`
	} `json:"contracts"`
}

// AppConfig is the deployment plus the environment-derived settings.
type AppConfig struct {
	Deployment Deployment
	Service    ServiceConfig
	Chain      ChainConfig
	Query      QueryConfig
}

type ServiceConfig struct {
	HTTPPort           int
	HMACSecret         string
	HMACClockSkew      time.Duration
	JournalPath        string
	JournalPostgresDSN string
	JournalTTL         time.Duration
	LogLevel           string
}

type ChainConfig struct {
	Network     string
	APIURL      string
	PrivateKey  string
	BlockTime   time.Duration
	Marketplace stacks.Contract
	Escrow      stacks.Contract
	Asset       txbuild.Asset
	Arbitrator  string

	// Fee is the flat transaction fee in micro-STX; zero uses the signer's
	// default.
	Fee uint64
}

// Mainnet reports whether addresses are SP-prefixed.
func (c ChainConfig) Mainnet() bool { return c.Network == "mainnet" }

type QueryConfig struct {
	Concurrency  int
	EscrowWindow int
	MaxJobs      int
}

const defaultDeploymentsPath = "deployments.json"

var defaultAPIURLs = map[string]string{
	"mainnet": "https://api.hiro.so",
	"testnet": "https://api.testnet.hiro.so",
}

// Load reads deployments.json and applies environment overrides.
func Load() (*AppConfig, error) {
	deployment, err := loadDeployment(envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath))
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}
	return fromDeployment(deployment)
}

func fromDeployment(d *Deployment) (*AppConfig, error) {
	network := envOr("STACKS_NETWORK", d.Network)
	if network == "" {
		network = "testnet"
	}
	if _, ok := defaultAPIURLs[network]; !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	apiURL := envOr("STACKS_API_URL", d.APIURL)
	if apiURL == "" {
		apiURL = defaultAPIURLs[network]
	}

	chain := ChainConfig{
		Network:    network,
		APIURL:     apiURL,
		PrivateKey: envOr("SIGNER_PRIVATE_KEY", ""),
		Fee:        uint64(max(envOrInt("SIGNER_FEE_MICROSTX", 0), 0)),
		BlockTime:  time.Duration(envOrInt("BLOCK_TIME_SECONDS", int(txbuild.DefaultBlockTime/time.Second))) * time.Second,
		Arbitrator: d.Arbitrator,
	}
	var err error
	if chain.Marketplace, err = stacks.ParseContract(d.Contracts.Marketplace); err != nil {
		return nil, fmt.Errorf("marketplace contract: %w", err)
	}
	if d.Contracts.Escrow != "" {
		if chain.Escrow, err = stacks.ParseContract(d.Contracts.Escrow); err != nil {
			return nil, fmt.Errorf("escrow contract: %w", err)
		}
	}
	if chain.Asset, err = txbuild.ParseAsset(d.Token); err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	return &AppConfig{
		Deployment: *d,
		Chain:      chain,
		Service: ServiceConfig{
			HTTPPort:           envOrInt("API_HTTP_PORT", 3000),
			HMACSecret:         envOr("HMAC_SECRET", ""),
			HMACClockSkew:      time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			JournalPath:        envOr("JOURNAL_PATH", "trustwork-journal.json"),
			JournalPostgresDSN: envOr("JOURNAL_POSTGRES_DSN", ""),
			JournalTTL:         time.Duration(envOrInt("JOURNAL_TTL_SECONDS", 24*60*60)) * time.Second,
			LogLevel:           strings.ToLower(envOr("LOG_LEVEL", "info")),
		},
		Query: QueryConfig{
			Concurrency:  envOrInt("QUERY_CONCURRENCY", 10),
			EscrowWindow: envOrInt("ESCROW_WINDOW", 50),
			MaxJobs:      envOrInt("QUERY_MAX_JOBS", 10_000),
		},
	}, nil
}

func loadDeployment(path string) (*Deployment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Deployment
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
