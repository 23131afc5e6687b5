package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for distributor server configuration
const (
	EnvOwnerAddress        = "MERKLE_MINT_OWNER_ADDRESS"
	EnvDistributorAddress  = "MERKLE_MINT_DISTRIBUTOR_ADDRESS"
	EnvWalletAddress       = "MERKLE_MINT_WALLET_ADDRESS"
	EnvPaymentTokenAddress = "MERKLE_MINT_PAYMENT_TOKEN_ADDRESS"
	EnvUnitPrice           = "MERKLE_MINT_UNIT_PRICE"
	EnvPort                = "MERKLE_MINT_PORT"
	EnvPersistenceType     = "MERKLE_MINT_PERSISTENCE_TYPE"
	EnvDataPath            = "MERKLE_MINT_DATA_PATH"
	EnvRedisAddress        = "MERKLE_MINT_REDIS_ADDRESS"
	EnvRedisPassword       = "MERKLE_MINT_REDIS_PASSWORD"
	EnvRedisDB             = "MERKLE_MINT_REDIS_DB"
	EnvRedisKeyPrefix      = "MERKLE_MINT_REDIS_KEY_PREFIX"
	EnvSnapshotFile        = "MERKLE_MINT_SNAPSHOT_FILE"
	EnvRateLimit           = "MERKLE_MINT_RATE_LIMIT"
	EnvRateBurst           = "MERKLE_MINT_RATE_BURST"
	EnvAllowedOrigins      = "MERKLE_MINT_ALLOWED_ORIGINS"
	EnvSignatureMaxAge     = "MERKLE_MINT_SIGNATURE_MAX_AGE"
	EnvVerbose             = "MERKLE_MINT_VERBOSE"
	EnvEnvFile             = "MERKLE_MINT_ENV_FILE"

	// Client
	EnvServerURL  = "MERKLE_MINT_SERVER_URL"
	EnvPrivateKey = "MERKLE_MINT_PRIVATE_KEY"
)

type PersistenceType string

const (
	PersistenceTypeMemory PersistenceType = "memory"
	PersistenceTypeBadger PersistenceType = "badger"
	PersistenceTypeRedis  PersistenceType = "redis"
)

// Defaults
const (
	DefaultPort              = 8080
	DefaultDataPath          = "./data"
	DefaultRateLimit         = 5.0
	DefaultRateBurst         = 10
	DefaultSignatureMaxAge   = 5 * time.Minute
	DefaultRedisKeyPrefix    = ""
	DefaultPersistenceType   = PersistenceTypeMemory
	DefaultUnitPriceBaseUnit = "200000000"
)

// DistributorServerConfig represents the complete configuration for a distributor server
type DistributorServerConfig struct {
	// Distribution identity
	OwnerAddress        string `json:"owner_address"`
	DistributorAddress  string `json:"distributor_address"` // spender on the payment ledger
	WalletAddress       string `json:"wallet_address"`
	PaymentTokenAddress string `json:"payment_token_address"`
	UnitPrice           string `json:"unit_price"` // base units of the payment token

	// HTTP surface
	Port            int           `json:"port"`
	RateLimit       float64       `json:"rate_limit"` // requests per second per client
	RateBurst       int           `json:"rate_burst"`
	AllowedOrigins  []string      `json:"allowed_origins"`
	SignatureMaxAge time.Duration `json:"signature_max_age"`

	// Persistence
	PersistenceType PersistenceType `json:"persistence_type"`
	DataPath        string          `json:"data_path"`
	RedisAddress    string          `json:"redis_address"`
	RedisPassword   string          `json:"-"`
	RedisDB         int             `json:"redis_db"`
	RedisKeyPrefix  string          `json:"redis_key_prefix"`

	// SnapshotFile is imported and published on start when set
	SnapshotFile string `json:"snapshot_file"`

	Verbose bool `json:"verbose"`
}

// NewDefaultDistributorServerConfig returns a config populated with defaults
func NewDefaultDistributorServerConfig() *DistributorServerConfig {
	return &DistributorServerConfig{
		UnitPrice:       DefaultUnitPriceBaseUnit,
		Port:            DefaultPort,
		RateLimit:       DefaultRateLimit,
		RateBurst:       DefaultRateBurst,
		SignatureMaxAge: DefaultSignatureMaxAge,
		PersistenceType: DefaultPersistenceType,
		DataPath:        DefaultDataPath,
		RedisKeyPrefix:  DefaultRedisKeyPrefix,
	}
}

// Validate validates the distributor server configuration
func (c *DistributorServerConfig) Validate() error {
	var allErrors field.ErrorList

	allErrors = append(allErrors, validateAddress(field.NewPath("ownerAddress"), c.OwnerAddress, true)...)
	allErrors = append(allErrors, validateAddress(field.NewPath("distributorAddress"), c.DistributorAddress, true)...)
	allErrors = append(allErrors, validateAddress(field.NewPath("walletAddress"), c.WalletAddress, true)...)
	allErrors = append(allErrors, validateAddress(field.NewPath("paymentTokenAddress"), c.PaymentTokenAddress, false)...)

	if _, err := c.UnitPriceInt(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("unitPrice"), c.UnitPrice, err.Error()))
	}

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}
	if c.RateLimit <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RateLimit, "must be positive"))
	}
	if c.RateBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateBurst"), c.RateBurst, "must be at least 1"))
	}
	if c.SignatureMaxAge <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("signatureMaxAge"), c.SignatureMaxAge.String(), "must be positive"))
	}

	switch c.PersistenceType {
	case PersistenceTypeMemory:
	case PersistenceTypeBadger:
		if c.DataPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataPath"), "dataPath is required for badger persistence"))
		}
	case PersistenceTypeRedis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redisAddress is required for redis persistence"))
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redisDB"), c.RedisDB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistenceType"), c.PersistenceType,
			[]string{string(PersistenceTypeMemory), string(PersistenceTypeBadger), string(PersistenceTypeRedis)}))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func validateAddress(path *field.Path, value string, required bool) field.ErrorList {
	var errs field.ErrorList
	if value == "" {
		if required {
			errs = append(errs, field.Required(path, fmt.Sprintf("%s is required", path.String())))
		}
		return errs
	}
	if !common.IsHexAddress(value) {
		errs = append(errs, field.Invalid(path, value, "invalid address format"))
	} else if common.HexToAddress(value) == (common.Address{}) {
		errs = append(errs, field.Invalid(path, value, "cannot be the zero address"))
	}
	return errs
}

// UnitPriceInt parses the configured unit price
func (c *DistributorServerConfig) UnitPriceInt() (*uint256.Int, error) {
	if c.UnitPrice == "" {
		return nil, fmt.Errorf("unit price cannot be empty")
	}
	price, err := uint256.FromDecimal(c.UnitPrice)
	if err != nil {
		return nil, fmt.Errorf("unit price must be a base-10 unsigned integer: %w", err)
	}
	if price.IsZero() {
		return nil, fmt.Errorf("unit price must be positive")
	}
	return price, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
