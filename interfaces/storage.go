package interfaces

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// StorageKey is the sharded path of an object inside a storage backend:
// [majorShard, minorShard, filename].
type StorageKey []string

// Join returns the slash-joined form of the key, as used inside an
// attachment's representations map.
func (k StorageKey) Join() string {
	return strings.Join(k, "/")
}

// Filename returns the trailing segment of the key.
func (k StorageKey) Filename() string {
	if len(k) == 0 {
		return ""
	}
	return k[len(k)-1]
}

// Dir returns every segment except the trailing filename.
func (k StorageKey) Dir() StorageKey {
	if len(k) == 0 {
		return nil
	}
	return k[:len(k)-1]
}

// String implements fmt.Stringer.
func (k StorageKey) String() string {
	return k.Join()
}

// ParseStorageKey splits a joined key back into its segments.
func ParseStorageKey(joined string) StorageKey {
	if joined == "" {
		return nil
	}
	return StorageKey(strings.Split(joined, "/"))
}

// StoreOptions are passed to StorageBackend.Store.
type StoreOptions struct {
	// Public marks the object as readable without credentials where the
	// medium supports object ACLs.
	Public bool
	// ContentType is recorded alongside the object when the medium supports it.
	ContentType string
}

// URLOptions are passed to StorageBackend.PublicURLFor. They are currently
// informational; backends derive URLs from configuration and key only.
type URLOptions struct {
	Public bool
}

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "s3", "ipfs", "vault":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// Redacted returns the URI with any embedded credentials masked, for logging.
func (loc StorageBackendLocation) Redacted() string {
	parsed, err := url.Parse(loc.Raw)
	if err != nil {
		return loc.Scheme + "://" + loc.Host + loc.Path
	}
	if parsed.User != nil {
		parsed.User = url.User("xxxxx")
	}
	return parsed.String()
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrContentNotFound is returned when requested content cannot be found in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrUnknownStorageBackend is returned when an attachment names a backend
	// that is not registered.
	ErrUnknownStorageBackend = errors.New("unknown storage backend")
)

// StorageError is a failure of a backend store, destroy or fetch.
type StorageError struct {
	Backend string
	Op      string
	Key     StorageKey
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s on %s: %v", e.Op, e.Key.Join(), e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// StorageBackend physically stores attachment bytes under a StorageKey.
type StorageBackend interface {
	// Store writes data at key, creating any intermediate grouping and
	// overwriting an existing object.
	Store(ctx context.Context, key StorageKey, data io.Reader, opts StoreOptions) error

	// Destroy removes the object at key. Removing a missing object is not an error.
	Destroy(ctx context.Context, key StorageKey) error

	// FetchLocalCopy materializes the object as a temporary local file.
	// The caller must close and remove the returned file.
	FetchLocalCopy(ctx context.Context, key StorageKey) (*os.File, error)

	// PublicURLFor derives a client-facing URL for key. No I/O.
	PublicURLFor(key StorageKey, opts URLOptions) string

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// StorageBackendFactory creates storage backends.
type StorageBackendFactory interface {
	// StorageBackendFor creates backend from URI.
	// Supports file://, s3://, ipfs://, vault://
	StorageBackendFor(location StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend creates a mirrored storage backend.
	CreateMultiBackend(locations []StorageBackendLocation) (StorageBackend, error)
}

// ReleaseLocalCopy closes and removes a file returned by FetchLocalCopy or a
// representation handler. Nil is a no-op.
func ReleaseLocalCopy(f *os.File) {
	if f == nil {
		return
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
}
