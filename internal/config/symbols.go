package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"smcbot/pkg/utils"
)

// SymbolParams параметры анализа и допуска для одного символа
type SymbolParams struct {
	VolatilityFactor      float64 `yaml:"volatility_factor"`
	MinConfluence         float64 `yaml:"min_confluence"`
	FibTolerance          float64 `yaml:"fib_tolerance"`
	MinSeparationPct      float64 `yaml:"min_separation_pct"` // доля: 0.02 = 2%
	MaxPositionsPerSymbol int     `yaml:"max_positions_per_symbol"`
	BaseStopPct           float64 `yaml:"base_stop_pct"`
}

// DefaultSymbolParams значения по умолчанию
func DefaultSymbolParams() SymbolParams {
	return SymbolParams{
		VolatilityFactor:      1.0,
		MinConfluence:         0.6,
		FibTolerance:          0.02,
		MinSeparationPct:      0.02,
		MaxPositionsPerSymbol: 2,
		BaseStopPct:           0.01,
	}
}

// merge заполняет нулевые поля значениями base
func (p SymbolParams) merge(base SymbolParams) SymbolParams {
	if p.VolatilityFactor == 0 {
		p.VolatilityFactor = base.VolatilityFactor
	}
	if p.MinConfluence == 0 {
		p.MinConfluence = base.MinConfluence
	}
	if p.FibTolerance == 0 {
		p.FibTolerance = base.FibTolerance
	}
	if p.MinSeparationPct == 0 {
		p.MinSeparationPct = base.MinSeparationPct
	}
	if p.MaxPositionsPerSymbol == 0 {
		p.MaxPositionsPerSymbol = base.MaxPositionsPerSymbol
	}
	if p.BaseStopPct == 0 {
		p.BaseStopPct = base.BaseStopPct
	}
	return p
}

// Validate диапазоны параметров
func (p SymbolParams) Validate() error {
	if p.VolatilityFactor <= 0 {
		return fmt.Errorf("volatility_factor must be positive, got %v", p.VolatilityFactor)
	}
	if p.MinConfluence < 0 || p.MinConfluence > 1 {
		return fmt.Errorf("min_confluence must be within [0, 1], got %v", p.MinConfluence)
	}
	if p.FibTolerance < 0 || p.FibTolerance > 0.5 {
		return fmt.Errorf("fib_tolerance must be within [0, 0.5], got %v", p.FibTolerance)
	}
	if p.MinSeparationPct < 0 || p.MinSeparationPct >= 1 {
		return fmt.Errorf("min_separation_pct must be within [0, 1), got %v", p.MinSeparationPct)
	}
	if p.MaxPositionsPerSymbol < 1 {
		return fmt.Errorf("max_positions_per_symbol must be positive, got %d", p.MaxPositionsPerSymbol)
	}
	if p.BaseStopPct <= 0 || p.BaseStopPct >= 1 {
		return fmt.Errorf("base_stop_pct must be within (0, 1), got %v", p.BaseStopPct)
	}
	return nil
}

// SymbolsConfig список отслеживаемых символов и их параметры
type SymbolsConfig struct {
	Tracked   []string                `yaml:"symbols"`
	Defaults  SymbolParams            `yaml:"defaults"`
	Overrides map[string]SymbolParams `yaml:"overrides"`
}

// LoadSymbols читает YAML файл символов. Пустой путь или отсутствующий файл
// дают значения по умолчанию для fallback списка.
//
//	symbols: [BTCUSDT, ETHUSDT]
//	defaults:
//	  min_confluence: 0.6
//	overrides:
//	  ETHUSDT:
//	    volatility_factor: 1.4
func LoadSymbols(path string, fallback []string) (*SymbolsConfig, error) {
	cfg := &SymbolsConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read symbols file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse symbols file: %w", err)
			}
		}
	}

	if len(cfg.Tracked) == 0 {
		cfg.Tracked = fallback
	}
	for i, s := range cfg.Tracked {
		cfg.Tracked[i] = utils.NormalizeSymbol(s)
	}

	cfg.Defaults = cfg.Defaults.merge(DefaultSymbolParams())

	normalized := make(map[string]SymbolParams, len(cfg.Overrides))
	for symbol, p := range cfg.Overrides {
		normalized[utils.NormalizeSymbol(symbol)] = p.merge(cfg.Defaults)
	}
	cfg.Overrides = normalized

	return cfg, nil
}

// Params эффективные параметры символа
func (s *SymbolsConfig) Params(symbol string) SymbolParams {
	if p, ok := s.Overrides[symbol]; ok {
		return p
	}
	return s.Defaults
}

// Validate проверяет defaults и все переопределения
func (s *SymbolsConfig) Validate() error {
	if len(s.Tracked) == 0 {
		return fmt.Errorf("at least one symbol must be tracked")
	}
	for _, sym := range s.Tracked {
		if err := utils.ValidateSymbol(sym); err != nil {
			return err
		}
	}
	if err := s.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for sym, p := range s.Overrides {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", sym, err)
		}
	}
	return nil
}
