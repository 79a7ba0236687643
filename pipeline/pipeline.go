// Package pipeline sequences the extract, transform, load and query phases of a run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-etl-banks/config"
	"github.com/aluiziolira/go-etl-banks/metrics"
	"github.com/aluiziolira/go-etl-banks/models"
	"github.com/aluiziolira/go-etl-banks/parser"
	"github.com/aluiziolira/go-etl-banks/store"
	"github.com/aluiziolira/go-etl-banks/transform"
)

// State is a step of the driver's linear state machine.
type State int

const (
	StateStart State = iota
	StateExtracting
	StateTransforming
	StateLoading
	StateQuerying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "Start"
	case StateExtracting:
		return "Extracting"
	case StateTransforming:
		return "Transforming"
	case StateLoading:
		return "Loading"
	case StateQuerying:
		return "Querying"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Fetcher returns the raw bytes of the document at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ProgressLog is the append-only progress sink.
type ProgressLog interface {
	Log(message string) error
}

// Driver runs one ETL pass. Any failure moves it to StateFailed and aborts
// the remaining phases; nothing is retried or rolled back.
type Driver struct {
	cfg       *config.Config
	fetcher   Fetcher
	store     store.Store
	persister *Persister
	progress  ProgressLog
	metrics   *metrics.Metrics
	runID     string

	mu    sync.Mutex
	state State
}

// NewDriver wires the pipeline components. m may be nil.
func NewDriver(cfg *config.Config, fetcher Fetcher, st store.Store, progress ProgressLog, m *metrics.Metrics) *Driver {
	return &Driver{
		cfg:       cfg,
		fetcher:   fetcher,
		store:     st,
		persister: NewPersister(cfg, st),
		progress:  progress,
		metrics:   m,
		runID:     uuid.NewString(),
		state:     StateStart,
	}
}

// RunID identifies this driver's run in logs.
func (d *Driver) RunID() string {
	return d.runID
}

// State returns the current state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run executes every phase in order and returns the fixed query results.
func (d *Driver) Run(ctx context.Context) (result *models.RunResult, err error) {
	logger := slog.With(slog.String("run_id", d.runID))
	result = &models.RunResult{RunID: d.runID, StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		if err != nil {
			logger.Error("run failed", slog.String("phase", d.State().String()), slog.Any("error", err))
			d.setState(StateFailed)
		}
		d.metrics.IncRun(d.State().String())
	}()

	if err := d.log("ETL Process started"); err != nil {
		return result, err
	}

	var raw []models.RawRecord
	err = d.phase(ctx, StateExtracting, "Extract phase started", "Extract phase completed", func() error {
		document, err := d.fetcher.Fetch(ctx, d.cfg.URL)
		if err != nil {
			return err
		}
		raw, err = parser.Extract(document, parser.ExtractOptions{Columns: d.cfg.Columns})
		if err != nil {
			return err
		}
		d.metrics.AddRecords("extract", len(raw))
		logger.Info("extracted records", slog.Int("count", len(raw)), slog.Int("bytes", len(document)))
		return nil
	})
	if err != nil {
		return result, err
	}

	var set *models.RecordSet
	err = d.phase(ctx, StateTransforming, "Transform phase started", "Transform phase completed", func() error {
		derived, err := transform.Derive(raw, d.cfg.Factors)
		if err != nil {
			return err
		}
		set = derived
		d.metrics.AddRecords("derive", set.Len())
		return nil
	})
	if err != nil {
		return result, err
	}
	result.RecordCount = set.Len()

	err = d.phase(ctx, StateLoading, "Load phase started", "Load phase completed", func() error {
		if err := d.persister.PersistFile(set); err != nil {
			return err
		}
		if err := d.log("Data loaded to .csv file"); err != nil {
			return err
		}
		if err := d.persister.PersistStore(ctx, set); err != nil {
			return err
		}
		if err := d.log("Data loaded to database"); err != nil {
			return err
		}
		d.metrics.AddRecords("load", set.Len())
		logger.Info("loaded records",
			slog.Int("count", set.Len()),
			slog.String("csv", d.cfg.CSVPath),
			slog.String("table", d.cfg.TableName),
		)
		return nil
	})
	if err != nil {
		return result, err
	}

	err = d.phase(ctx, StateQuerying, "Query phase started", "Query phase completed", func() error {
		for _, q := range d.cfg.RunQueries() {
			res, err := d.store.Query(ctx, q)
			if err != nil {
				return err
			}
			result.Queries = append(result.Queries, models.QueryOutput{SQL: q, Result: res})
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	d.setState(StateDone)
	if err := d.log("ETL Process completed successfully"); err != nil {
		return result, err
	}
	logger.Info("run complete", slog.Int("records", result.RecordCount), slog.Duration("duration", time.Since(result.StartTime)))
	return result, nil
}

func (d *Driver) phase(ctx context.Context, state State, started, completed string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", state, err)
	}
	d.setState(state)
	if err := d.log(started); err != nil {
		return err
	}
	began := time.Now()
	if err := fn(); err != nil {
		return err
	}
	d.metrics.ObservePhase(state.String(), time.Since(began))
	return d.log(completed)
}

func (d *Driver) log(message string) error {
	if err := d.progress.Log(message); err != nil {
		return fmt.Errorf("progress log: %w", err)
	}
	return nil
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}
