/**
 * Structured error taxonomy for the download engine.
 *
 * Every actor (Priority Queue, Download Queue, Mirror Policy, Cache
 * Manager, Resource Manager, Processors) reports failures as a Kind
 * drawn from this taxonomy rather than an ad-hoc string, so that
 * downstream policy decisions (retry vs. surface) can switch on a
 * closed, documented vocabulary instead of pattern-matching messages.
 *
 * Grounded on CloudPull's internal/errors.ErrorType classification
 * (internal/errors/types.go), generalized from a flat enum into
 * namespaced kinds (queue.*, processor.*, cache.*, network.*,
 * filesystem.*, mirror.*) per the nested taxonomy the engine needs.
 */

package taxonomy

import (
	"fmt"
)

// Kind identifies a specific failure within a namespace, e.g.
// network.timeout or mirror.all_exhausted.
type Kind struct {
	Namespace string
	Name      string
}

// String returns the dotted form, e.g. "network.timeout".
func (k Kind) String() string {
	return k.Namespace + "." + k.Name
}

var (
	QueueNoProcessorAvailable = Kind{"queue", "no_processor_available"}
	QueueInactive             = Kind{"queue", "inactive"}
	QueueCancelled            = Kind{"queue", "cancelled"}

	ProcessorCannotProcess   = Kind{"processor", "cannot_process"}
	ProcessorInactive        = Kind{"processor", "inactive"}
	ProcessorDownloadFailed  = Kind{"processor", "download_failed"}

	CacheFileNotFound      = Kind{"cache", "file_not_found"}
	CacheFileAlreadyExists = Kind{"cache", "file_already_exists"}
	CachePermissionDenied  = Kind{"cache", "permission_denied"}
	CacheStorageError      = Kind{"cache", "storage_error"}

	NetworkConnectionFailed = Kind{"network", "connection_failed"}
	NetworkTimeout          = Kind{"network", "timeout"}
	NetworkCancelled        = Kind{"network", "cancelled"}
	NetworkServerError      = Kind{"network", "server_error"}
	NetworkNoConnection     = Kind{"network", "no_connection"}

	FilesystemCannotCreateDirectory = Kind{"filesystem", "cannot_create_directory"}
	FilesystemCannotMove            = Kind{"filesystem", "cannot_move"}
	FilesystemInsufficientSpace     = Kind{"filesystem", "insufficient_space"}

	MirrorNoMirrors     = Kind{"mirror", "no_mirrors"}
	MirrorAllExhausted  = Kind{"mirror", "all_exhausted"}
)

// retryable records which kinds the Download Queue should treat as
// transient (eligible for policy-based mirror retry) versus terminal.
var retryable = map[Kind]bool{
	NetworkConnectionFailed: true,
	NetworkTimeout:          true,
	NetworkServerError:      true,
	CacheStorageError:       true,
}

// Error is a taxonomy-classified failure. It satisfies the error
// interface and carries enough structure for callers to switch on
// Kind without parsing Error().
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

// New creates a taxonomy error of the given kind.
func New(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a taxonomy.Error of the same Kind,
// letting callers write errors.Is(err, taxonomy.New(taxonomy.NetworkTimeout, "", nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the download queue should retry via the
// mirror policy rather than surface the failure as terminal.
func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// KindOf extracts the Kind from err if it (or something it wraps) is
// a *Error, returning (zero Kind, false) otherwise.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if te, ok := err.(*Error); ok {
			return te.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Kind{}, false
}

// Of is a predicate form of KindOf for a single kind, e.g.
// if taxonomy.Of(err, taxonomy.MirrorAllExhausted) { ... }.
func Of(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
