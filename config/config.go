package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config carries the daemon configuration. Fee percentages use the engine's
// fixed-point convention (100 = 1% of the trade price).
type Config struct {
	ListenAddress    string `toml:"ListenAddress"`
	DataDir          string `toml:"DataDir"`
	NetworkName      string `toml:"NetworkName"`
	HouseAddress     string `toml:"HouseAddress"`
	FeeAdminAddress  string `toml:"FeeAdminAddress"`
	BuyerFeePercent  int64  `toml:"BuyerFeePercent"`
	SellerFeePercent int64  `toml:"SellerFeePercent"`
	JWTSecret        string `toml:"JWTSecret"`
	LogFile          string `toml:"LogFile"`
	Env              string `toml:"Env"`
}

// Load reads the configuration from path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the address-typed fields. The fee percentages are
// deliberately unconstrained; the engines store them verbatim.
func (c *Config) Validate() error {
	if c.HouseAddress != "" && !common.IsHexAddress(c.HouseAddress) {
		return fmt.Errorf("config: malformed HouseAddress %q", c.HouseAddress)
	}
	if c.FeeAdminAddress != "" && !common.IsHexAddress(c.FeeAdminAddress) {
		return fmt.Errorf("config: malformed FeeAdminAddress %q", c.FeeAdminAddress)
	}
	return nil
}

// House returns the configured house wallet as a 20-byte address.
func (c *Config) House() [20]byte {
	return common.HexToAddress(c.HouseAddress)
}

// FeeAdmin returns the configured CHANGE_FEE admin as a 20-byte address.
func (c *Config) FeeAdmin() [20]byte {
	return common.HexToAddress(c.FeeAdminAddress)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8646"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./marketdata"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "snc-local"
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:    ":8646",
		DataDir:          "./marketdata",
		NetworkName:      "snc-local",
		BuyerFeePercent:  100,
		SellerFeePercent: 100,
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
