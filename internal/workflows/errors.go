package workflows

import "errors"

var (
	// ErrWorkflowNotFound is returned when a workflow is not registered
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidRequest is returned when the request is invalid
	ErrInvalidRequest = errors.New("invalid workflow request")

	// ErrDownloadFailed is returned when the source object cannot be read
	ErrDownloadFailed = errors.New("download failed")

	// ErrUploadFailed is returned when the derivative cannot be written
	ErrUploadFailed = errors.New("upload failed")

	// ErrTagFailed is returned when the access descriptor cannot be recorded
	ErrTagFailed = errors.New("tagging failed")
)

// FailureKind classifies a failed run
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureInvalidRequest FailureKind = "invalid_request"
	FailureDecode         FailureKind = "decode_failed"
	FailureEncode         FailureKind = "encode_failed"
	FailureDownload       FailureKind = "download_failed"
	FailureUpload         FailureKind = "upload_failed"
	FailureTag            FailureKind = "tag_failed"
	FailureInternal       FailureKind = "internal"
)

// Transient reports whether redelivering the event may succeed. Corrupt or
// unsupported input never will.
func (k FailureKind) Transient() bool {
	switch k {
	case FailureDownload, FailureUpload, FailureTag, FailureInternal:
		return true
	default:
		return false
	}
}
