// Package naming maps source paths to derivative paths and classifies paths
// into processing namespaces.
package naming

import (
	"path"
	"strings"
)

// Default namespace prefixes
const (
	DefaultRawPrefix        = "uploads/"
	DefaultDerivativePrefix = "derivatives/"
)

// Namespace is the processing namespace a path belongs to
type Namespace int

const (
	// NamespaceOther is any path outside the configured namespaces
	NamespaceOther Namespace = iota
	// NamespaceRaw holds original uploads
	NamespaceRaw
	// NamespaceDerivative holds generated derivatives
	NamespaceDerivative
)

func (n Namespace) String() string {
	switch n {
	case NamespaceRaw:
		return "raw"
	case NamespaceDerivative:
		return "derivative"
	default:
		return "other"
	}
}

// Scheme holds the namespace prefixes. The zero value is not usable; use
// DefaultScheme or NewScheme.
type Scheme struct {
	RawPrefix        string
	DerivativePrefix string
}

// DefaultScheme returns the uploads/ and derivatives/ layout
func DefaultScheme() Scheme {
	return NewScheme(DefaultRawPrefix, DefaultDerivativePrefix)
}

// NewScheme normalises both prefixes to end with a single slash
func NewScheme(rawPrefix, derivativePrefix string) Scheme {
	return Scheme{
		RawPrefix:        normalizePrefix(rawPrefix),
		DerivativePrefix: normalizePrefix(derivativePrefix),
	}
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// Classify returns the namespace of p. The derivative prefix wins when one
// prefix is nested inside the other.
func (s Scheme) Classify(p string) Namespace {
	p = strings.TrimPrefix(p, "/")
	if s.DerivativePrefix != "" && strings.HasPrefix(p, s.DerivativePrefix) {
		return NamespaceDerivative
	}
	if s.RawPrefix == "" || strings.HasPrefix(p, s.RawPrefix) {
		return NamespaceRaw
	}
	return NamespaceOther
}

// DerivativePath is the pure naming function f(sourcePath). It strips the raw
// prefix and the extension, appends the target format's extension and
// relocates the result under the derivative prefix.
func (s Scheme) DerivativePath(sourcePath, format string) string {
	p := strings.TrimPrefix(path.Clean("/"+sourcePath), "/")
	if s.RawPrefix != "" {
		p = strings.TrimPrefix(p, s.RawPrefix)
	}
	base := path.Base(p)
	if ext := path.Ext(base); ext != "" && ext != base {
		p = strings.TrimSuffix(p, ext)
	}
	return s.DerivativePrefix + p + "." + Extension(format)
}

// Extension returns the file extension used for a target format
func Extension(format string) string {
	switch f := strings.ToLower(format); f {
	case "jpeg", "jpg":
		return "jpg"
	case "":
		return "bin"
	default:
		return f
	}
}

// ContentType returns the MIME type for a target format
func ContentType(format string) string {
	switch f := strings.ToLower(format); f {
	case "jpg", "jpeg":
		return "image/jpeg"
	default:
		return "image/" + f
	}
}
