package app

import (
	"github.com/candorhq/candor/internal/ai"
	"github.com/candorhq/candor/internal/services"
	"github.com/candorhq/candor/internal/worker"
)

// AnalyzerConfig converts AIConfig into the ai package representation.
func (c AIConfig) AnalyzerConfig() ai.Config {
	return ai.Config{
		Provider:          c.Provider,
		APIKey:            c.APIKey,
		Model:             c.Model,
		Timeout:           c.Timeout,
		RequestsPerMinute: c.RequestsPerMinute,
	}
}

// ProcessorConfig converts AnalysisConfig into AnalysisProcessor parameters.
func (c AnalysisConfig) ProcessorConfig() services.AnalysisConfig {
	return services.AnalysisConfig{
		MaxAttempts: c.MaxAttempts,
		RetryBase:   c.RetryBase,
		RetryMax:    c.RetryMax,
		Lease:       c.Lease,
	}
}

// PoolConfig sizes the analysis worker pool.
func (c AnalysisConfig) PoolConfig() worker.Config {
	return worker.Config{
		Name:         "analysis",
		Workers:      c.Workers,
		PollInterval: c.PollInterval,
	}
}
