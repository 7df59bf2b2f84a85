package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// LogConfig configures the slog handler built by internal/logging.
type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// SlabConfig seeds a fresh market at InitMarket time. The program itself
// never trusts these values at runtime, only the signed instruction
// payload; this struct exists so the harness has typed defaults to build
// that payload from instead of hardcoding constants at every call site.
type SlabConfig struct {
	UnitScale              uint64
	RiskReductionThreshold uint64
	MaintenanceFeeBps      uint64
	OracleClampCapE6       uint64
	OraclePriceCapE6       uint64
	FundingRateBpsPerHour  int64
	Admin                  solana.PublicKey
	OracleAuthority        solana.PublicKey
}

// HarnessConfig drives cmd/percolator-sim: which market to seed, which
// keypair to sign with, and how the scripted crank loop is paced.
type HarnessConfig struct {
	KeypairPath      string
	CrankInterval    time.Duration
	CrankPanicMode   bool
	DefaultOracleE6  uint64
	MatcherProgramID solana.PublicKey
	Log              LogConfig
}

func LoadSlabConfig() (SlabConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return SlabConfig{}, err
	}

	unitScale, err := envUint64("SLAB_UNIT_SCALE", 1)
	if err != nil {
		return SlabConfig{}, err
	}
	riskThreshold, err := envUint64("SLAB_RISK_REDUCTION_THRESHOLD", 0)
	if err != nil {
		return SlabConfig{}, err
	}
	maintenanceFeeBps, err := envUint64("SLAB_MAINTENANCE_FEE_BPS", 0)
	if err != nil {
		return SlabConfig{}, err
	}
	clampCap, err := envUint64("SLAB_ORACLE_CLAMP_CAP_E6", 0)
	if err != nil {
		return SlabConfig{}, err
	}
	priceCap, err := envUint64("SLAB_ORACLE_PRICE_CAP_E6", 0)
	if err != nil {
		return SlabConfig{}, err
	}
	fundingBps, err := envInt64("SLAB_FUNDING_RATE_BPS_PER_HOUR", 0)
	if err != nil {
		return SlabConfig{}, err
	}
	admin, err := envPubkey("SLAB_ADMIN", solana.PublicKey{})
	if err != nil {
		return SlabConfig{}, err
	}
	oracleAuthority, err := envPubkey("SLAB_ORACLE_AUTHORITY", admin)
	if err != nil {
		return SlabConfig{}, err
	}

	return SlabConfig{
		UnitScale:              unitScale,
		RiskReductionThreshold: riskThreshold,
		MaintenanceFeeBps:      maintenanceFeeBps,
		OracleClampCapE6:       clampCap,
		OraclePriceCapE6:       priceCap,
		FundingRateBpsPerHour:  fundingBps,
		Admin:                  admin,
		OracleAuthority:        oracleAuthority,
	}, nil
}

func LoadHarnessConfig() (HarnessConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return HarnessConfig{}, err
	}

	keypairPath := envOrDefault("HARNESS_KEYPAIR_PATH", envOrDefault("SOLANA_KEYPAIR_PATH", "~/.config/solana/id.json"))
	keypairPath = maybeUseLocalSecretKeypair(keypairPath)
	expandedKeypair, err := expandHomePath(keypairPath)
	if err != nil {
		return HarnessConfig{}, fmt.Errorf("expand keypair path: %w", err)
	}

	crankInterval, err := envDuration("HARNESS_CRANK_INTERVAL", time.Second)
	if err != nil {
		return HarnessConfig{}, err
	}

	panicMode, err := envBool("HARNESS_CRANK_PANIC_MODE", false)
	if err != nil {
		return HarnessConfig{}, err
	}

	defaultOracle, err := envUint64("HARNESS_DEFAULT_ORACLE_E6", 0)
	if err != nil {
		return HarnessConfig{}, err
	}

	matcherProgramID, err := envPubkey("HARNESS_MATCHER_PROGRAM_ID", solana.PublicKey{})
	if err != nil {
		return HarnessConfig{}, err
	}

	return HarnessConfig{
		KeypairPath:      expandedKeypair,
		CrankInterval:    crankInterval,
		CrankPanicMode:   panicMode,
		DefaultOracleE6:  defaultOracle,
		MatcherProgramID: matcherProgramID,
		Log:              buildLogConfig("HARNESS", "percolator-sim"),
	}, nil
}

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeConfigPhase,
		Path:   runtimeConfigPath,
		Loaded: runtimeConfigLoaded,
	}, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	level := envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info"))
	format := envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text"))
	output := envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console"))
	filePath := envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join(".docker", serviceName, serviceName+".log")))

	return LogConfig{
		Level:    level,
		Format:   format,
		Output:   output,
		FilePath: filePath,
	}
}

func envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return pk, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return d, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envUint64(key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
	runtimeConfigLoaded bool
	runtimeConfigPath   string
	runtimeConfigPhase  string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		runtimeConfigValues = make(map[string]string)

		phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if phase == "" {
			phase = "local"
		}
		runtimeConfigPhase = phase

		configPath := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		explicitPath := configPath != ""
		if configPath == "" {
			configPath = filepath.Join("config", "config-"+phase+".yaml")
		}

		body, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicitPath {
				return
			}
			runtimeConfigErr = fmt.Errorf("read config file %q: %w", configPath, err)
			return
		}

		raw := make(map[string]any)
		if err := yaml.Unmarshal(body, &raw); err != nil {
			runtimeConfigErr = fmt.Errorf("parse config file %q: %w", configPath, err)
			return
		}

		flattened, err := flattenConfig(raw)
		if err != nil {
			runtimeConfigErr = fmt.Errorf("flatten config file %q: %w", configPath, err)
			return
		}

		runtimeConfigValues = flattened
		runtimeConfigLoaded = true
		if absPath, err := filepath.Abs(configPath); err == nil {
			runtimeConfigPath = absPath
		} else {
			runtimeConfigPath = configPath
		}
	})
	return runtimeConfigErr
}

func flattenConfig(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case map[any]any:
		for keyAny, child := range typed {
			keyText, ok := keyAny.(string)
			if !ok {
				return fmt.Errorf("unsupported map key type %T under %q", keyAny, prefix)
			}
			segment := normalizeKeySegment(keyText)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if strings.TrimSpace(scalar) == "" {
					continue
				}
				parts = append(parts, strings.TrimSpace(scalar))
			case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}

	if value := strings.TrimSpace(runtimeConfigValues[key]); value != "" {
		return value
	}
	return ""
}

func maybeUseLocalSecretKeypair(current string) string {
	expandedCurrent, err := expandHomePath(current)
	if err != nil {
		return current
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return current
	}
	defaultHomePath := filepath.Join(homeDir, ".config", "solana", "id.json")
	if filepath.Clean(expandedCurrent) != filepath.Clean(defaultHomePath) {
		return current
	}

	for _, candidate := range []string{
		"../.local/secret/deployer-wallet.json",
		".local/secret/deployer-wallet.json",
	} {
		absoluteCandidate, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		info, err := os.Stat(absoluteCandidate)
		if err != nil {
			continue
		}
		if info.IsDir() {
			continue
		}
		return absoluteCandidate
	}

	return current
}
