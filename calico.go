// Package calico implements an embedded, single-writer, disk-backed
// B+-tree key-value store with write-ahead logging and crash recovery.
// Engine is the sole entry point; internal/env, internal/txn and
// internal/tree are wired together here into the public surface, the
// way the teacher's pkg/turdb.DB wires pager/schema/mvcc/executor.
package calico

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"calico/internal/calicoerr"
	"calico/internal/env"
	"calico/internal/logging"
	"calico/internal/pager"
	"calico/internal/page"
	"calico/internal/tree"
	"calico/internal/txn"
)

// Options configures Open (spec.md §6's recognized option keys).
type Options struct {
	// PageSize is a power of two in [512, 32768]; default 8192. Ignored
	// when opening an existing database (its on-disk page_size wins).
	PageSize int

	// CacheSize is the buffer pool budget in bytes; converted to a frame
	// count clamped to [8, 8192]. Default 8192 * 1000 (roughly 1000
	// default-size pages).
	CacheSize int

	// CreateIfMissing creates a new database file when path doesn't
	// exist. Its zero value is false, so callers who want spec.md's
	// documented default of true should start from DefaultOptions()
	// rather than a bare Options{}.
	CreateIfMissing bool
	// ErrorIfExists fails Open if path already exists.
	ErrorIfExists bool

	// WalPrefix is the directory WAL segments are written under; default
	// is path + "-wal", a sibling of the database file.
	WalPrefix string

	LogLevel    string // off|error|warn|info|trace
	LogTarget   string // file|stdout|stderr
	MaxLogSize  int64
	MaxLogFiles int

	// Env is a dependency-injected filesystem, for tests; default is the
	// real OS (internal/env.Posix).
	Env env.Env
}

const (
	defaultPageSize  = 8192
	defaultCacheSize = defaultPageSize * 1000
	minFrameCount    = 8
	maxFrameCount    = 8192
	walBlockSize     = 32 * 1024
	walSegmentLimit  = 16 * 1024 * 1024
)

// DefaultOptions returns the Options spec.md documents as the implicit
// default: page_size 8192, create_if_missing true, WAL logging enabled,
// logging off.
func DefaultOptions() Options {
	return Options{
		PageSize:        defaultPageSize,
		CacheSize:       defaultCacheSize,
		CreateIfMissing: true,
	}
}

func (o Options) withDefaults(path string) Options {
	if o.PageSize == 0 {
		o.PageSize = defaultPageSize
	}
	if o.CacheSize == 0 {
		o.CacheSize = defaultCacheSize
	}
	if o.WalPrefix == "" {
		o.WalPrefix = path + "-wal"
	}
	if o.Env == nil {
		o.Env = env.New()
	}
	return o
}

func frameCount(cacheSize, pageSize int) int {
	n := cacheSize / pageSize
	if n < minFrameCount {
		n = minFrameCount
	}
	if n > maxFrameCount {
		n = maxFrameCount
	}
	return n
}

// Engine is an open Calico database. It is single-writer: every public
// method that touches the tree serializes through the underlying
// txn.Manager, matching spec.md §5's single-threaded cooperative model.
type Engine struct {
	mu     sync.Mutex
	mgr    *txn.Manager
	tr     *tree.Tree
	logger *logging.Logger
	e      env.Env
	path   string
	closed bool
}

// Open opens path, creating it (per CreateIfMissing) if it doesn't
// exist, and running crash recovery against any pending WAL records.
func Open(path string, opts Options) (*Engine, error) {
	opts = opts.withDefaults(path)

	exists := opts.Env.FileExists(path)
	if !exists && !opts.CreateIfMissing {
		return nil, calicoerr.New(calicoerr.NotFound, "database %q does not exist", path)
	}
	if exists && opts.ErrorIfExists {
		return nil, calicoerr.New(calicoerr.InvalidArgument, "database %q already exists", path)
	}

	logger, err := logging.New(logging.Options{
		Level:       logging.ParseLevel(opts.LogLevel),
		Target:      logging.ParseTarget(opts.LogTarget),
		Path:        logPath(path),
		MaxLogSize:  opts.MaxLogSize,
		MaxLogFiles: opts.MaxLogFiles,
	})
	if err != nil {
		return nil, calicoerr.Wrap(calicoerr.Io, err, "open log")
	}

	pageSize := opts.PageSize
	if exists {
		if sz, err := existingPageSize(opts.Env, path); err == nil && sz != 0 {
			pageSize = sz
		}
	}

	// Env has no mkdir primitive (it models files, not directories); the
	// real filesystem needs the WAL directory to exist before wal.Open
	// can create a segment file in it. An in-memory Env has a flat
	// namespace and needs no such step.
	if _, isPosix := opts.Env.(env.Posix); isPosix {
		if err := os.MkdirAll(opts.WalPrefix, 0755); err != nil {
			logger.Close()
			return nil, calicoerr.Wrap(calicoerr.Io, err, "create wal dir %s", opts.WalPrefix)
		}
	}

	mgr, err := txn.Open(opts.Env, path, pager.Options{
		PageSize:   pageSize,
		FrameCount: frameCount(opts.CacheSize, pageSize),
	}, txn.ManagerOptions{
		WalDir:       opts.WalPrefix,
		BlockSize:    walBlockSize,
		SegmentLimit: walSegmentLimit,
	})
	if err != nil {
		logger.Close()
		return nil, err
	}
	logger.Infof("opened %s (page_size=%d)", path, pageSize)

	return &Engine{
		mgr:    mgr,
		tr:     tree.Open(pageSize),
		logger: logger,
		e:      opts.Env,
		path:   path,
	}, nil
}

// logPath picks a log file path sibling to the database when Target is
// file-based and no explicit path was given.
func logPath(dbPath string) string {
	return dbPath + ".log"
}

// existingPageSize reads page_size out of an existing database's file
// header without going through the full Pager/txn machinery.
func existingPageSize(e env.Env, path string) (int, error) {
	r, err := e.NewEditor(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	size, err := r.Size()
	if err != nil || size == 0 {
		return 0, err
	}
	// The file header sits at the tail of page 1, whose size we don't
	// know yet; probe candidate page sizes from largest to smallest,
	// since a valid file is always an exact multiple of its page size
	// and large enough to contain at least one page.
	for _, candidate := range []int{32768, 16384, 8192, 4096, 2048, 1024, 512} {
		if size%int64(candidate) != 0 {
			continue
		}
		buf := make([]byte, candidate)
		if _, err := r.ReadAt(buf, 0); err != nil {
			continue
		}
		if h, err := page.DecodeFileHeader(buf); err == nil && int(h.PageSize) == candidate {
			return candidate, nil
		}
	}
	return 0, calicoerr.New(calicoerr.Corruption, "could not determine page size for %s", path)
}

func (e *Engine) checkOpen() error {
	if e.closed {
		return calicoerr.New(calicoerr.LogicError, "engine is closed")
	}
	return e.mgr.Latched()
}

// Close flushes and closes the database. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.mgr.Close()
	e.logger.Close()
	return err
}

// Get returns the value stored for key, or calicoerr.ErrNotFound.
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	t, err := e.mgr.Begin()
	if err != nil {
		return nil, err
	}
	defer t.Abort()

	return e.tr.Get(t, key)
}

// Put inserts or overwrites key with value in its own transaction.
func (e *Engine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}

	t, err := e.mgr.Begin()
	if err != nil {
		return err
	}
	inserted, err := e.tr.Put(t, key, value)
	if err != nil {
		t.Abort()
		return err
	}
	if err := e.bumpRecordCount(t, inserted, 0); err != nil {
		t.Abort()
		return err
	}
	return t.Commit()
}

// Erase removes key. Returns calicoerr.ErrNotFound if absent.
func (e *Engine) Erase(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}

	t, err := e.mgr.Begin()
	if err != nil {
		return err
	}
	if err := e.tr.Erase(t, key); err != nil {
		t.Abort()
		return err
	}
	if err := e.bumpRecordCount(t, false, -1); err != nil {
		t.Abort()
		return err
	}
	return t.Commit()
}

// bumpRecordCount adjusts the file header's record_count: by +1 when a
// Put inserted a brand-new key, or by delta for an Erase.
func (e *Engine) bumpRecordCount(t *txn.Txn, inserted bool, delta int64) error {
	if !inserted && delta == 0 {
		return nil
	}
	h, err := t.Header()
	if err != nil {
		return err
	}
	if inserted {
		h.RecordCount++
	} else {
		h.RecordCount = uint64(int64(h.RecordCount) + delta)
	}
	return t.WriteHeader(h)
}

// NewCursor opens a read cursor over a fresh transaction. The cursor
// remains valid until Close (or any mutation made through the same
// underlying transaction, which Calico never exposes concurrently since
// the engine is single-writer).
func (e *Engine) NewCursor() (*Cursor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	t, err := e.mgr.Begin()
	if err != nil {
		return nil, err
	}
	return &Cursor{e: e, t: t, c: e.tr.NewCursor(t), ownsTxn: true}, nil
}

// BeginTxn starts an explicit write transaction (spec.md §6's
// begin_txn/commit_txn/rollback_txn, surfaced idiomatically as a handle
// with Commit/Rollback methods rather than an opaque TxnId + separate
// calls, the way the teacher's turdb.Tx works).
func (e *Engine) BeginTxn() (*Txn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	t, err := e.mgr.Begin()
	if err != nil {
		return nil, err
	}
	return &Txn{e: e, t: t}, nil
}

// WithTxn runs fn inside a fresh transaction, committing on a nil return
// and rolling back otherwise -- additive convenience sugar mirroring the
// original CalicoDB project's Batch helper (see SPEC_FULL.md).
func (e *Engine) WithTxn(fn func(*Txn) error) error {
	tx, err := e.BeginTxn()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetProperty answers a diagnostic counter by name (spec.md §6's
// get_property, plus the original project's wal_segment_count and
// dirty_page_count, see SPEC_FULL.md).
func (e *Engine) GetProperty(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return "", err
	}

	p := e.mgr.Pager()
	switch name {
	case "page_size":
		return strconv.Itoa(p.PageSize()), nil
	case "page_count":
		return strconv.FormatUint(p.PageCount(), 10), nil
	case "record_count":
		h, err := p.Header()
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(h.RecordCount, 10), nil
	case "cache_hit_ratio":
		st := p.Stats()
		total := st.Hits + st.Misses
		if total == 0 {
			return "0", nil
		}
		return fmt.Sprintf("%.4f", float64(st.Hits)/float64(total)), nil
	case "dirty_page_count":
		return strconv.Itoa(p.Stats().DirtyPages), nil
	case "wal_segment_count":
		return strconv.FormatUint(e.mgr.WalSegmentNumber()+1, 10), nil
	default:
		return "", calicoerr.New(calicoerr.InvalidArgument, "unknown property %q", name)
	}
}

// Destroy removes a database's data file, every WAL segment under its
// wal_prefix, and its log file placeholder, mirroring the original
// CalicoDB project's Database::destroy (see SPEC_FULL.md).
func Destroy(path string, opts Options) error {
	opts = opts.withDefaults(path)
	e := opts.Env

	if err := e.RemoveFile(path); err != nil && e.FileExists(path) {
		return calicoerr.Wrap(calicoerr.Io, err, "remove %s", path)
	}
	_ = e.RemoveFile(path + ".log")
	_ = e.RemoveFile(path + ".lock")

	children, err := e.Children(opts.WalPrefix)
	if err != nil {
		return nil // wal dir never existed
	}
	for _, child := range children {
		if strings.HasPrefix(filepath.Base(child), "wal-") {
			_ = e.RemoveFile(child)
		}
	}
	return nil
}
