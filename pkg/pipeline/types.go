package pipeline

// ProcessRequest represents a request to process a stored object
type ProcessRequest struct {
	Job         string            `json:"job"` // ingest, recompress
	Bucket      string            `json:"bucket,omitempty"`
	ObjectKey   string            `json:"object_key"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ProcessResponse represents the response from triggering processing
type ProcessResponse struct {
	RunID           string `json:"run_id"`
	Job             string `json:"job,omitempty"`
	State           string `json:"state,omitempty"`
	Failure         string `json:"failure,omitempty"`
	Reason          string `json:"reason,omitempty"`
	DedupeSeenCount int    `json:"dedupe_seen_count"`
}

// ObjectEvent is an "object finalized" notification from the blob store.
// Delivery is at-least-once; the same event may arrive more than once.
type ObjectEvent struct {
	Bucket      string        `json:"bucket"`
	Name        string        `json:"name"`
	ContentType string        `json:"contentType"`
	Metadata    EventMetadata `json:"metadata"`
}

// EventMetadata wraps the user supplied metadata of an event
type EventMetadata struct {
	CustomMetadata map[string]string `json:"customMetadata,omitempty"`
}

// ToRequest converts the event into a process request for the given job
func (e ObjectEvent) ToRequest(job string) ProcessRequest {
	return ProcessRequest{
		Job:         job,
		Bucket:      e.Bucket,
		ObjectKey:   e.Name,
		ContentType: e.ContentType,
		Metadata:    e.Metadata.CustomMetadata,
	}
}

// RawObject is an original upload. The pipeline never mutates it.
type RawObject struct {
	Path           string
	Bucket         string
	ContentType    string
	CustomMetadata map[string]string
}

// ProvenanceToken returns the token carried in the object's metadata, if any
func (o RawObject) ProvenanceToken() string {
	return o.CustomMetadata[MetaProvenanceToken]
}

// DerivativeObject describes a generated derivative
type DerivativeObject struct {
	SourcePath      string `json:"source_path"`
	DerivativePath  string `json:"derivative_path"`
	ContentType     string `json:"content_type"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	SizeBytes       int64  `json:"size_bytes"`
	ProvenanceToken string `json:"provenance_token,omitempty"`
}

// JobType constants
const (
	JobIngest     = "ingest"
	JobRecompress = "recompress"
)

// Custom metadata keys written on derivatives
const (
	MetaProvenanceToken = "provenance_token"
	MetaSourcePath      = "source_path"
	MetaSourceETag      = "source_etag"
	MetaWidth           = "width"
	MetaHeight          = "height"
	MetaRecompressed    = "recompressed"
	MetaAccessURL       = "access_url"
)

// ImmutableCacheControl is set on every derivative upload
const ImmutableCacheControl = "public, max-age=31536000"
