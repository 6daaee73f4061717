// Package normalizer runs a data set's records through its mapping and the
// record validator into an output.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/minio/highwayhash"

	"github.com/fidde/xml_profiler/internal/analyzer"
	"github.com/fidde/xml_profiler/internal/metrics"
	"github.com/fidde/xml_profiler/internal/storage"
	"github.com/fidde/xml_profiler/internal/storage/filestore"
	"github.com/fidde/xml_profiler/internal/validator"
	"github.com/fidde/xml_profiler/pkg/models"
	"github.com/fidde/xml_profiler/pkg/stats"
)

// ErrNoRecordRoot is returned when a data set's facts do not name a record root.
var ErrNoRecordRoot = errors.New("record root not set")

var contentKey = []byte("xml_profiler normalized records.")

// Config configures a Normalizer.
type Config struct {
	Output storage.Output

	// DiscardInvalid sends records with validation problems to the
	// discarded output instead of the normalized one.
	DiscardInvalid bool

	// IdentifierThreshold is the number of distinct identifiers tracked in
	// memory before the tracker spills into SpillDir. Zero means
	// stats.HoldThreshold.
	IdentifierThreshold int
	SpillDir            string

	Logger *slog.Logger
}

// Normalizer runs normalization passes. It holds no per-run state and may
// be shared.
type Normalizer struct {
	output         storage.Output
	discardInvalid bool
	idThreshold    int
	spillDir       string
	logger         *slog.Logger
}

// New creates a normalizer.
func New(cfg Config) *Normalizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdentifierThreshold <= 0 {
		cfg.IdentifierThreshold = stats.HoldThreshold
	}
	return &Normalizer{
		output:         cfg.Output,
		discardInvalid: cfg.DiscardInvalid,
		idThreshold:    cfg.IdentifierThreshold,
		spillDir:       cfg.SpillDir,
		logger:         cfg.Logger,
	}
}

// Run normalizes the data set's source to def using the stored mapping for
// def's prefix. The mapping's counters are updated when the run completes.
// A cancelled run clears whatever it wrote and returns models.ErrAborted.
func (n *Normalizer) Run(ctx context.Context, ds *filestore.DataSet, def *models.RecordDefinition, listener models.ProgressListener) (*models.RunSummary, error) {
	facts, err := ds.Facts()
	if err != nil {
		return nil, err
	}
	if facts.RecordRootPath() == "" {
		return nil, fmt.Errorf("normalizing %s: %w", ds.Spec(), ErrNoRecordRoot)
	}
	recordRoot, err := models.ParsePath(facts.RecordRootPath())
	if err != nil {
		return nil, fmt.Errorf("normalizing %s: %w", ds.Spec(), err)
	}
	total, _ := strconv.Atoi(facts.RecordCount())

	mapping, err := ds.Mapping(def.Prefix)
	if err != nil {
		return nil, err
	}
	transformer, err := NewMappingTransformer(def, mapping)
	if err != nil {
		return nil, err
	}

	src, err := ds.OpenSource()
	if err != nil {
		return nil, err
	}
	extractor := analyzer.NewExtractor(src, analyzer.ExtractorConfig{
		RecordRoot: recordRoot,
		Total:      total,
		Listener:   listener,
		Logger:     n.logger,
	})
	defer extractor.Close()

	v := validator.New(def, n.logger)
	ids := stats.NewUniquenessWithThreshold(n.idThreshold, n.spillDir)
	defer ids.Close()
	v.GuardUniqueness(ids)

	r := &run{
		n:           n,
		transformer: transformer,
		validator:   v,
		uniquePath:  facts.RelativeUniquePath(),
		summary: &models.RunSummary{
			RunID:   uuid.NewString(),
			DataSet: ds.Spec(),
			Prefix:  def.Prefix,
			Started: time.Now().UTC(),
		},
	}
	n.logger.Info("normalization started", "data_set", ds.Spec(), "prefix", def.Prefix, "run_id", r.summary.RunID)

	err = r.records(ctx, extractor)
	if err == nil {
		r.summary.RepeatedIdentifiers, err = ids.Repeated()
	}
	if err != nil {
		if clearErr := n.output.ClearRun(context.WithoutCancel(ctx), r.summary.RunID); clearErr != nil {
			n.logger.Error("clearing failed run", "run_id", r.summary.RunID, "error", clearErr)
		}
		metrics.NormalizeRuns.WithLabelValues(runLabel(err)).Inc()
		return nil, fmt.Errorf("normalizing %s: %w", ds.Spec(), err)
	}
	v.Report()
	if len(r.summary.RepeatedIdentifiers) > 0 {
		n.logger.Warn("repeated identifiers",
			"data_set", ds.Spec(),
			"prefix", def.Prefix,
			"identifiers", r.summary.RepeatedIdentifiers)
	}

	summary := r.summary
	summary.Finished = time.Now().UTC()
	if err := n.output.FinishRun(ctx, summary); err != nil {
		return nil, fmt.Errorf("finishing run %s: %w", summary.RunID, err)
	}

	mapping.RecordsNormalized = summary.Normalized
	mapping.RecordsDiscarded = summary.Discarded
	mapping.NormalizeTime = summary.Finished
	if err := ds.SetMapping(mapping); err != nil {
		return nil, err
	}

	metrics.NormalizeRuns.WithLabelValues("success").Inc()
	metrics.PassDuration.WithLabelValues("normalize").Observe(summary.Finished.Sub(summary.Started).Seconds())
	n.logger.Info("normalization finished",
		"data_set", ds.Spec(),
		"prefix", def.Prefix,
		"normalized", summary.Normalized,
		"discarded", summary.Discarded)
	return summary, nil
}

// run is the state of one pass.
type run struct {
	n           *Normalizer
	transformer Transformer
	validator   *validator.Validator
	uniquePath  string
	summary     *models.RunSummary
}

func (r *run) records(ctx context.Context, extractor *analyzer.Extractor) error {
	for {
		record, err := extractor.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.record(ctx, record); err != nil {
			return err
		}
	}
}

func (r *run) record(ctx context.Context, record *analyzer.Record) error {
	out, err := r.transformer.Transform(record)
	if err != nil {
		return r.discard(ctx, record.Index, record.XML(), []string{"Problem transforming: " + err.Error()})
	}

	validated, problems := r.validator.ValidateRecord(out)
	if validated == validator.InvalidRecord || (len(problems) > 0 && r.n.discardInvalid) {
		return r.discard(ctx, record.Index, out, problems)
	}

	normalized := &models.NormalizedRecord{
		RunID:      r.summary.RunID,
		DataSet:    r.summary.DataSet,
		Index:      record.Index,
		Identifier: r.identifier(record),
		Content:    validated,
		Hash:       highwayhash.Sum64([]byte(validated), contentKey),
	}
	if err := r.n.output.WriteNormalized(ctx, normalized); err != nil {
		return fmt.Errorf("writing record %d: %w", record.Index, err)
	}
	r.summary.Normalized++
	return nil
}

func (r *run) discard(ctx context.Context, index int, content string, problems []string) error {
	discarded := &models.DiscardedRecord{
		RunID:    r.summary.RunID,
		DataSet:  r.summary.DataSet,
		Index:    index,
		Content:  content,
		Problems: problems,
	}
	if err := r.n.output.WriteDiscarded(ctx, discarded); err != nil {
		return fmt.Errorf("writing discarded record %d: %w", index, err)
	}
	r.summary.Discarded++
	return nil
}

func (r *run) identifier(record *analyzer.Record) string {
	if r.uniquePath == "" {
		return ""
	}
	if values := record.Values(r.uniquePath); len(values) > 0 {
		return values[0]
	}
	return ""
}

func runLabel(err error) string {
	if errors.Is(err, models.ErrAborted) {
		return "aborted"
	}
	return "error"
}
