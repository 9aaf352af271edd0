package ingest

import (
	"context"
	"fmt"
)

// IngestionStats holds metrics about a single adapter run.
type IngestionStats struct {
	TotalFound int
	TotalSaved int
	Errors     int
}

// FetcherStrategy is the contract every source adapter implements: fetch,
// parse, and hand raw records to the pipeline (spec §4.3).
type FetcherStrategy interface {
	Run(ctx context.Context, config SourceConfig, pipeline *Pipeline) (IngestionStats, error)
}

// StrategyFactory maps strategy IDs (from sources.yaml) to implementations.
type StrategyFactory struct {
	strategies map[string]FetcherStrategy
}

func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{
		strategies: make(map[string]FetcherStrategy),
	}
}

func (f *StrategyFactory) Register(id string, strategy FetcherStrategy) {
	f.strategies[id] = strategy
}

func (f *StrategyFactory) Get(id string) (FetcherStrategy, error) {
	strategy, ok := f.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", id)
	}
	return strategy, nil
}

// GlobalStrategyFactory is the process-wide registry consulted by the
// scheduler and CLI tools when running a fuente by its configured strategy.
var GlobalStrategyFactory = NewStrategyFactory()

func init() {
	GlobalStrategyFactory.Register("html_generic", &HTMLGenericStrategy{})
	GlobalStrategyFactory.Register("aspnet_postback", &AspNetPostbackStrategy{})
	GlobalStrategyFactory.Register("json_api", &JSONAPIStrategy{})
	GlobalStrategyFactory.Register("boletin_pdf", &BoletinPDFStrategy{})
}
