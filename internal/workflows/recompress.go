package workflows

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tendant/simple-derivative-pipeline/internal/dedupe"
	"github.com/tendant/simple-derivative-pipeline/internal/encoder"
	"github.com/tendant/simple-derivative-pipeline/internal/naming"
	"github.com/tendant/simple-derivative-pipeline/internal/scratch"
	"github.com/tendant/simple-derivative-pipeline/internal/storage"
	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

// Recompression defaults
const (
	DefaultCeilingBytes = 100 * 1024
	DefaultMaxWidth     = 650
)

// DefaultQualityLadder is tried in order until an output fits the ceiling
var DefaultQualityLadder = []int{80, 65, 50, 35}

// RecompressConfig controls the size-driven second pass
type RecompressConfig struct {
	Scheme        naming.Scheme
	CeilingBytes  int64
	MaxWidth      int
	QualityLadder []int
	Format        string // used when the object's own format cannot be determined
}

func (c *RecompressConfig) withDefaults() {
	if c.Scheme == (naming.Scheme{}) {
		c.Scheme = naming.DefaultScheme()
	}
	if c.CeilingBytes <= 0 {
		c.CeilingBytes = DefaultCeilingBytes
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = DefaultMaxWidth
	}
	if len(c.QualityLadder) == 0 {
		c.QualityLadder = DefaultQualityLadder
	}
	if c.Format == "" {
		c.Format = encoder.FormatWebP
	}
	c.Format = encoder.NormalizeFormat(c.Format)
}

// Marker returns the value written under the recompressed metadata key
func (c RecompressConfig) Marker() string {
	return strconv.Itoa(c.MaxWidth) + "w"
}

// RecompressWorkflow shrinks oversized derivatives in place
type RecompressWorkflow struct {
	store   storage.BlobStore
	encoder encoder.Encoder
	scratch *scratch.Space
	config  RecompressConfig
	options
}

// NewRecompressWorkflow creates a new recompression workflow
func NewRecompressWorkflow(store storage.BlobStore, enc encoder.Encoder, space *scratch.Space, cfg RecompressConfig, opts ...Option) *RecompressWorkflow {
	cfg.withDefaults()
	return &RecompressWorkflow{
		store:   store,
		encoder: enc,
		scratch: space,
		config:  cfg,
		options: applyOptions(opts),
	}
}

// Name returns the workflow name
func (w *RecompressWorkflow) Name() string {
	return "RecompressWorkflow"
}

// Execute runs the recompression state machine
func (w *RecompressWorkflow) Execute(wctx *WorkflowContext) (result *WorkflowResult, err error) {
	r := newRun(pipeline.JobRecompress, wctx, w.logger)
	defer r.recoverInto(&result)

	req := wctx.Request
	ctx := wctx.Ctx

	if strings.TrimSpace(req.ObjectKey) == "" {
		return r.fail(FailureInvalidRequest, fmt.Errorf("%w: object_key is required", ErrInvalidRequest)), nil
	}
	if w.config.Scheme.Classify(req.ObjectKey) != naming.NamespaceDerivative {
		return r.filtered("path is outside the derivative namespace"), nil
	}

	// Compliant and already-processed objects never get downloaded
	meta, err := w.store.GetMetadata(ctx, req.ObjectKey)
	if errors.Is(err, storage.ErrNotFound) {
		return r.filtered("derivative no longer exists"), nil
	}
	if err != nil {
		r.enter(StateDownloading)
		return r.fail(FailureDownload, fmt.Errorf("%w: %w", ErrDownloadFailed, err)), nil
	}
	if marker := meta.Custom(pipeline.MetaRecompressed); marker != "" {
		return r.filtered("already recompressed (" + marker + ")"), nil
	}
	if meta.Size <= w.config.CeilingBytes {
		return r.filtered(fmt.Sprintf("size %d is within the %d byte ceiling", meta.Size, w.config.CeilingBytes)), nil
	}

	r.enter(StateDownloading)
	file, data, err := download(ctx, w.store, w.scratch, req.ObjectKey)
	defer release(w.scratch, file, r.logger)
	if err != nil {
		return r.fail(FailureDownload, err), nil
	}

	// Walk the quality ladder until the output fits
	r.enter(StateEncoding)
	format := formatOf(meta.ContentType, req.ObjectKey)
	if format == "" {
		format = w.config.Format
	}
	var best *encoder.Result
	var bestQuality int
	for _, q := range w.config.QualityLadder {
		res, err := w.encoder.Encode(data, encoder.Constraints{
			Format:   format,
			Quality:  q,
			MaxWidth: w.config.MaxWidth,
		})
		if err != nil {
			return r.fail(encodeFailure(err), err), nil
		}
		if best == nil || res.Size() < best.Size() {
			best, bestQuality = res, q
		}
		r.logger.Debug("recompress attempt", "quality", q, "bytes", res.Size())
		if res.Size() <= w.config.CeilingBytes {
			break
		}
	}

	// Overwrite in place, carrying the existing metadata forward
	r.enter(StateUploading)
	custom := make(map[string]string, len(meta.CustomMetadata)+3)
	for k, v := range meta.CustomMetadata {
		custom[k] = v
	}
	custom[pipeline.MetaWidth] = strconv.Itoa(best.Width)
	custom[pipeline.MetaHeight] = strconv.Itoa(best.Height)
	custom[pipeline.MetaRecompressed] = w.config.Marker()

	cacheControl := meta.CacheControl
	if cacheControl == "" {
		cacheControl = pipeline.ImmutableCacheControl
	}
	written, err := w.store.Upload(ctx, req.ObjectKey, bytes.NewReader(best.Data), storage.ObjectMeta{
		ContentType:    best.ContentType,
		CacheControl:   cacheControl,
		CustomMetadata: custom,
	})
	if err != nil {
		return r.fail(FailureUpload, fmt.Errorf("%w: %w", ErrUploadFailed, err)), nil
	}

	r.enter(StateTagging)
	token := custom[pipeline.MetaProvenanceToken]
	sourcePath := custom[pipeline.MetaSourcePath]
	accessURL := w.access(req.ObjectKey, token)
	if w.ledger != nil && sourcePath != "" {
		err := w.ledger.Commit(ctx, dedupe.Entry{
			SourcePath:      sourcePath,
			DerivativePath:  req.ObjectKey,
			ProvenanceToken: token,
			SourceETag:      custom[pipeline.MetaSourceETag],
			AccessURL:       accessURL,
			Pipeline:        pipeline.JobRecompress,
		})
		if err != nil {
			return r.fail(FailureTag, fmt.Errorf("%w: %w", ErrTagFailed, err)), nil
		}
	}

	r.enter(StateCleaningUp)
	release(w.scratch, file, r.logger)

	return r.done(&pipeline.DerivativeObject{
		SourcePath:      sourcePath,
		DerivativePath:  req.ObjectKey,
		ContentType:     best.ContentType,
		Width:           best.Width,
		Height:          best.Height,
		SizeBytes:       written.Size,
		ProvenanceToken: token,
	}, accessURL, bestQuality), nil
}
