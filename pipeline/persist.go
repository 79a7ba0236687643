package pipeline

import (
	"context"
	"fmt"

	"github.com/aluiziolira/go-etl-banks/config"
	"github.com/aluiziolira/go-etl-banks/models"
	"github.com/aluiziolira/go-etl-banks/store"
)

// PersistError reports a failed write to one sink.
type PersistError struct {
	Sink string // file or store
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist to %s: %v", e.Sink, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Persister writes a whole record set to the flat-file sink and the store.
// Each call replaces prior sink contents, so either step can be re-run after
// a partial failure. The two sinks are not written atomically together.
type Persister struct {
	format   string
	csvPath  string
	jsonPath string
	store    store.Store
	table    string
}

// NewPersister builds a persister for the sinks named in cfg.
func NewPersister(cfg *config.Config, st store.Store) *Persister {
	return &Persister{
		format:   cfg.OutputFormat,
		csvPath:  cfg.CSVPath,
		jsonPath: cfg.JSONOutputPath(),
		store:    st,
		table:    cfg.TableName,
	}
}

// Persist writes the file sink then the store sink.
func (p *Persister) Persist(ctx context.Context, set *models.RecordSet) error {
	if err := p.PersistFile(set); err != nil {
		return err
	}
	return p.PersistStore(ctx, set)
}

// PersistFile overwrites the flat-file export with set.
func (p *Persister) PersistFile(set *models.RecordSet) error {
	writer, err := p.newWriter(set.Header())
	if err != nil {
		return &PersistError{Sink: "file", Err: err}
	}
	if err := writer.Write(set); err != nil {
		writer.Close()
		return &PersistError{Sink: "file", Err: err}
	}
	if err := writer.Close(); err != nil {
		return &PersistError{Sink: "file", Err: err}
	}
	if err := writer.Validate(); err != nil {
		return &PersistError{Sink: "file", Err: fmt.Errorf("validate output: %w", err)}
	}
	return nil
}

// PersistStore replaces the store table with set.
func (p *Persister) PersistStore(ctx context.Context, set *models.RecordSet) error {
	if err := p.store.Replace(ctx, p.table, set); err != nil {
		return &PersistError{Sink: "store", Err: err}
	}
	return nil
}

func (p *Persister) newWriter(header []string) (OutputWriter, error) {
	switch p.format {
	case "csv", "":
		return NewCSVWriter(p.csvPath, header)
	case "dual":
		return NewDualWriter(p.csvPath, p.jsonPath, header)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}
