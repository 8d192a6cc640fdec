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

// IngestConfig controls first-pass derivative generation
type IngestConfig struct {
	Scheme   naming.Scheme
	Format   string // target format, default webp
	Quality  int    // default 80
	MaxWidth int    // 0 keeps the source width
}

func (c *IngestConfig) withDefaults() {
	if c.Scheme == (naming.Scheme{}) {
		c.Scheme = naming.DefaultScheme()
	}
	if c.Format == "" {
		c.Format = encoder.FormatWebP
	}
	c.Format = encoder.NormalizeFormat(c.Format)
	if c.Quality == 0 {
		c.Quality = encoder.DefaultQuality
	}
}

// IngestWorkflow turns a newly uploaded raw image into its derivative
type IngestWorkflow struct {
	store   storage.BlobStore
	encoder encoder.Encoder
	scratch *scratch.Space
	config  IngestConfig
	options
}

// NewIngestWorkflow creates a new ingestion workflow
func NewIngestWorkflow(store storage.BlobStore, enc encoder.Encoder, space *scratch.Space, cfg IngestConfig, opts ...Option) *IngestWorkflow {
	cfg.withDefaults()
	return &IngestWorkflow{
		store:   store,
		encoder: enc,
		scratch: space,
		config:  cfg,
		options: applyOptions(opts),
	}
}

// Name returns the workflow name
func (w *IngestWorkflow) Name() string {
	return "IngestWorkflow"
}

// Execute runs the ingestion state machine. Every outcome, including
// failures, is reported through the result.
func (w *IngestWorkflow) Execute(wctx *WorkflowContext) (result *WorkflowResult, err error) {
	r := newRun(pipeline.JobIngest, wctx, w.logger)
	defer r.recoverInto(&result)

	req := wctx.Request
	ctx := wctx.Ctx

	// Step 1: Validate request
	if strings.TrimSpace(req.ObjectKey) == "" {
		return r.fail(FailureInvalidRequest, fmt.Errorf("%w: object_key is required", ErrInvalidRequest)), nil
	}

	// Step 2: Filter on namespace and content type; no store access yet
	switch ns := w.config.Scheme.Classify(req.ObjectKey); ns {
	case naming.NamespaceDerivative:
		return r.filtered("path is in the derivative namespace"), nil
	case naming.NamespaceOther:
		return r.filtered("path is outside the raw namespace"), nil
	}
	if req.ContentType != "" && !isImage(req.ContentType) {
		return r.filtered("content type " + req.ContentType + " is not an image"), nil
	}

	rawMeta, err := w.store.GetMetadata(ctx, req.ObjectKey)
	if errors.Is(err, storage.ErrNotFound) {
		return r.filtered("source object no longer exists"), nil
	}
	if err != nil {
		r.enter(StateDownloading)
		return r.fail(FailureDownload, fmt.Errorf("%w: %w", ErrDownloadFailed, err)), nil
	}
	if req.ContentType == "" && !isImage(rawMeta.ContentType) {
		return r.filtered("content type " + rawMeta.ContentType + " is not an image"), nil
	}

	token := rawMeta.Custom(pipeline.MetaProvenanceToken)
	if token == "" {
		token = req.Metadata[pipeline.MetaProvenanceToken]
	}
	derivativePath := w.config.Scheme.DerivativePath(req.ObjectKey, w.config.Format)

	// Step 3: Skip when an equivalent derivative is already committed
	if dup, reason := w.alreadyDerived(wctx, derivativePath, token, rawMeta.ETag); dup {
		return r.filtered(reason), nil
	}

	// Step 4: Download into scratch space
	r.enter(StateDownloading)
	file, data, err := download(ctx, w.store, w.scratch, req.ObjectKey)
	defer release(w.scratch, file, r.logger)
	if err != nil {
		return r.fail(FailureDownload, err), nil
	}

	// Step 5: Encode
	r.enter(StateEncoding)
	res, err := w.encoder.Encode(data, encoder.Constraints{
		Format:   w.config.Format,
		Quality:  w.config.Quality,
		MaxWidth: w.config.MaxWidth,
	})
	if err != nil {
		return r.fail(encodeFailure(err), err), nil
	}

	// Step 6: Upload under the deterministic derivative path
	r.enter(StateUploading)
	custom := map[string]string{
		pipeline.MetaSourcePath: req.ObjectKey,
		pipeline.MetaWidth:      strconv.Itoa(res.Width),
		pipeline.MetaHeight:     strconv.Itoa(res.Height),
	}
	if token != "" {
		custom[pipeline.MetaProvenanceToken] = token
	}
	if rawMeta.ETag != "" {
		custom[pipeline.MetaSourceETag] = rawMeta.ETag
	}
	accessURL := w.access(derivativePath, token)
	if accessURL != "" {
		custom[pipeline.MetaAccessURL] = accessURL
	}
	written, err := w.store.Upload(ctx, derivativePath, bytes.NewReader(res.Data), storage.ObjectMeta{
		ContentType:    res.ContentType,
		CacheControl:   pipeline.ImmutableCacheControl,
		CustomMetadata: custom,
	})
	if err != nil {
		return r.fail(FailureUpload, fmt.Errorf("%w: %w", ErrUploadFailed, err)), nil
	}

	// Step 7: The object already carries the access descriptor; the ledger,
	// when configured, is the durable record of it
	r.enter(StateTagging)
	if w.ledger != nil {
		err := w.ledger.Commit(ctx, dedupe.Entry{
			SourcePath:      req.ObjectKey,
			DerivativePath:  derivativePath,
			ProvenanceToken: token,
			SourceETag:      rawMeta.ETag,
			AccessURL:       accessURL,
			Pipeline:        pipeline.JobIngest,
		})
		if err != nil {
			return r.fail(FailureTag, fmt.Errorf("%w: %w", ErrTagFailed, err)), nil
		}
	}

	// Step 8: Cleanup
	r.enter(StateCleaningUp)
	release(w.scratch, file, r.logger)

	return r.done(&pipeline.DerivativeObject{
		SourcePath:      req.ObjectKey,
		DerivativePath:  derivativePath,
		ContentType:     res.ContentType,
		Width:           res.Width,
		Height:          res.Height,
		SizeBytes:       written.Size,
		ProvenanceToken: token,
	}, accessURL, w.config.Quality), nil
}

// alreadyDerived reports whether the derivative at path already reflects the
// current raw object. Lookup errors fall through to reprocessing, which is
// safe because encoding is deterministic.
func (w *IngestWorkflow) alreadyDerived(wctx *WorkflowContext, path, token, etag string) (bool, string) {
	ctx := wctx.Ctx
	meta, err := w.store.GetMetadata(ctx, path)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			w.logger.Warn("failed to check existing derivative", "run_id", wctx.RunID, "derivative", path, "error", err)
		}
		return false, ""
	}
	if meta.Custom(pipeline.MetaProvenanceToken) != token {
		return false, ""
	}
	if recorded := meta.Custom(pipeline.MetaSourceETag); recorded != "" && etag != "" && recorded != etag {
		return false, ""
	}

	if w.ledger != nil {
		entry, err := w.ledger.Lookup(ctx, wctx.Request.ObjectKey)
		if err != nil {
			w.logger.Warn("failed to check ledger", "run_id", wctx.RunID, "error", err)
			return false, ""
		}
		if entry == nil || entry.DerivativePath != path || entry.ProvenanceToken != token {
			return false, ""
		}
		if entry.SourceETag != "" && etag != "" && entry.SourceETag != etag {
			return false, ""
		}
	}
	return true, "derivative already exists for this provenance token"
}

func isImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}
