// Package backend defines the storage-element contract every DiGS
// backend implements (spec.md §4.4) and a small factory registry that
// dispatches a node.Type to a concrete SEBackend instance. Grounded on the
// teacher's cachefactory.go factory-registration pattern: backends
// self-register in an init() rather than the dispatcher knowing about
// every implementation by name.
package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/epcced/digs"
)

// Handle identifies one in-flight or completed transfer. It is only
// meaningful to the backend that issued it.
type Handle int64

// TransferStatus is the state of a transfer as reported by Monitor.
type TransferStatus int

const (
	StatusInProgress TransferStatus = iota
	StatusDone
	StatusFailed
)

// FileInfo is one entry returned by ScanNode/ScanInbox.
type FileInfo struct {
	Path     string
	Size     int64
	Checksum string
}

// SEBackend is the storage-element contract from spec.md §4.4. Storage
// failures are returned as a digs.Error whose Code is drawn from the
// ErrorCode taxonomy (package digs) so callers — placement, the transfer
// manager, the control thread — can apply one retry/failover policy
// uniformly across backends. Not every error is wrapped: for example,
// Monitor on an unknown handle returns a plain error.
type SEBackend interface {
	// Metadata
	GetLength(ctx context.Context, host, path string) (int64, error)
	GetChecksum(ctx context.Context, host, path string) (string, error)
	DoesExist(ctx context.Context, host, path string) (bool, error)
	IsDirectory(ctx context.Context, host, path string) (bool, error)
	GetOwner(ctx context.Context, host, path string) (string, error)
	GetGroup(ctx context.Context, host, path string) (string, error)
	SetGroup(ctx context.Context, host, path, group string) error
	GetPermissions(ctx context.Context, host, path string) (string, error)
	SetPermissions(ctx context.Context, host, path, octal string) error
	GetModificationTime(ctx context.Context, host, path string) (time.Time, error)

	// Directory
	Mkdir(ctx context.Context, host, path string) error
	MkdirTree(ctx context.Context, host, path string) error
	Mv(ctx context.Context, host, src, dst string) error
	Rm(ctx context.Context, host, path string) error
	Rmdir(ctx context.Context, host, path string) error
	Rmr(ctx context.Context, host, path string) error

	// Transfers
	StartPut(ctx context.Context, host, localPath, remotePath string) (Handle, error)
	StartGet(ctx context.Context, host, remotePath, localPath string) (Handle, error)
	StartCopyToInbox(ctx context.Context, host, localPath, lfn string) (Handle, error)
	Monitor(ctx context.Context, h Handle) (TransferStatus, int, error)
	End(ctx context.Context, h Handle) error
	Cancel(ctx context.Context, h Handle) error

	// Inbox
	CopyFromInbox(ctx context.Context, host, lfn, destPath string) error

	// Scan
	ScanNode(ctx context.Context, host, root string) ([]FileInfo, error)
	ScanInbox(ctx context.Context, host string) ([]string, error)

	// Health
	Ping(ctx context.Context, host string) error
	Housekeeping(ctx context.Context, host string) error
}

// Factory constructs a backend instance given a config bag opaque to the
// dispatcher; each backend package defines its own concrete config type
// and type-asserts it out of this parameter.
type Factory func(config any) (SEBackend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a backend factory under the given node-type name. Called
// from each backend subpackage's init(), per the factory-registration
// pattern.
func Register(typeName string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typeName] = f
}

// Dispatch resolves a node-type name to a constructed SEBackend.
func Dispatch(typeName string, config any) (SEBackend, error) {
	registryMu.RLock()
	f, ok := registry[typeName]
	registryMu.RUnlock()
	if !ok {
		return nil, digs.NewError(digs.Invariant, typeName, fmt.Errorf("backend: no factory registered for type %q", typeName))
	}
	return f(config)
}
