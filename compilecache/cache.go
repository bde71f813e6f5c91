package compilecache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/isdmx/runbox/apperr"
	"github.com/isdmx/runbox/metrics"
	"github.com/isdmx/runbox/project"
	"github.com/isdmx/runbox/sandbox"
)

// Lookup results reported to metrics
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupStale = "stale"
)

const maxResolveAttempts = 3

// Config holds configuration for the compilation cache
type Config struct {
	RootDir        string
	MaxEntries     int
	CompileTimeout time.Duration
}

// Artifact is a compiled project. Dir holds the sources and the compiler
// output and must be treated as read only.
type Artifact struct {
	Fingerprint string
	Dir         string
	Files       []project.SourceFile
}

type entry struct {
	artifact Artifact
	leases   int
	evicted  bool
	elem     *list.Element
}

// Cache maps fingerprints to compiled artifacts.
type Cache struct {
	logger        *zap.Logger
	config        Config
	fingerprinter *project.Fingerprinter
	compiler      Compiler
	fs            sandbox.FileSystem
	metrics       *metrics.Metrics

	flight singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List
	closed  bool
}

// New creates a cache rooted at config.RootDir.
func New(logger *zap.Logger, config Config, fingerprinter *project.Fingerprinter, compiler Compiler, fs sandbox.FileSystem, m *metrics.Metrics) (*Cache, error) {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 256
	}
	if config.CompileTimeout <= 0 {
		config.CompileTimeout = 60 * time.Second
	}
	if fs == nil {
		fs = sandbox.RealFileSystem{}
	}
	if err := fs.MkdirAll(config.RootDir, sandbox.DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		logger:        logger,
		config:        config,
		fingerprinter: fingerprinter,
		compiler:      compiler,
		fs:            fs,
		metrics:       m,
		entries:       make(map[string]*entry),
		lru:           list.New(),
	}, nil
}

// Resolve returns a lease on the compiled artifact for snapshot, compiling it
// when no valid artifact is cached. The caller must Release the lease.
func (c *Cache) Resolve(ctx context.Context, snapshot project.Snapshot) (*Lease, error) {
	fp := c.fingerprinter.Fingerprint(snapshot)
	log := c.logger.With(zap.String("fingerprint", shortFingerprint(fp)))

	// Only the first lookup of a resolve is counted.
	lookup := ""
	record := func(result string) {
		if lookup == "" {
			lookup = result
			c.metrics.CacheLookup(result)
		}
	}

	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		if lease := c.acquire(fp); lease != nil {
			exists, err := c.fs.FileExists(lease.entry.artifact.Dir)
			if err == nil && exists {
				record(LookupHit)
				if lookup == LookupHit {
					log.Debug("compilation cache hit")
				} else {
					log.Debug("compiled artifact ready", zap.String("lookup", lookup))
				}
				return lease, nil
			}
			log.Warn("cached artifact missing on disk, recompiling", zap.String("dir", lease.entry.artifact.Dir), zap.Error(err))
			record(LookupStale)
			c.invalidate(lease.entry)
			lease.Release()
		} else {
			record(LookupMiss)
		}

		ch := c.flight.DoChan(fp, func() (any, error) {
			return nil, c.build(ctx, fp, snapshot)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, apperr.Newf(apperr.InternalError, "artifact %s was evicted before it could be used", shortFingerprint(fp))
}

// build compiles snapshot into a fresh directory and inserts it. It runs
// detached from the caller's cancellation because other resolvers may be
// waiting on the same flight.
func (c *Cache) build(ctx context.Context, fp string, snapshot project.Snapshot) error {
	if c.contains(fp) {
		return nil
	}

	dir, err := c.fs.MkdirTemp(c.config.RootDir, shortFingerprint(fp)+"-*")
	if err != nil {
		return apperr.Wrap(err, apperr.InternalError, "failed to create build directory")
	}
	if err := snapshot.WriteTo(dir); err != nil {
		c.removeStorage(dir)
		if apperr.CodeOf(err) != apperr.Unknown {
			return err
		}
		return apperr.Wrap(err, apperr.InternalError, "failed to write sources")
	}

	compileCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.CompileTimeout)
	defer cancel()

	start := time.Now()
	if err := c.compiler.Compile(compileCtx, dir); err != nil {
		c.removeStorage(dir)
		c.logger.Info("compilation failed",
			zap.String("fingerprint", shortFingerprint(fp)),
			zap.Stringer("code", apperr.CodeOf(err)),
			zap.Duration("elapsed", time.Since(start)))
		return err
	}
	c.logger.Info("compiled project",
		zap.String("fingerprint", shortFingerprint(fp)),
		zap.Int("files", snapshot.Len()),
		zap.Duration("elapsed", time.Since(start)))

	return c.insert(Artifact{Fingerprint: fp, Dir: dir, Files: snapshot.Files()})
}

func (c *Cache) contains(fp string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fp]
	return ok
}

func (c *Cache) acquire(fp string) *Lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if !ok {
		return nil
	}
	c.lru.MoveToFront(e.elem)
	e.leases++
	return &Lease{cache: c, entry: e}
}

func (c *Cache) insert(artifact Artifact) error {
	var victims []string

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.removeStorage(artifact.Dir)
		return apperr.New(apperr.InternalError, "compilation cache is closed")
	}
	if _, ok := c.entries[artifact.Fingerprint]; ok {
		// Built concurrently after a stale drop; keep the mapped one.
		c.mu.Unlock()
		c.removeStorage(artifact.Dir)
		return nil
	}
	e := &entry{artifact: artifact}
	e.elem = c.lru.PushFront(artifact.Fingerprint)
	c.entries[artifact.Fingerprint] = e

	evicted := 0
	for c.lru.Len() > c.config.MaxEntries {
		oldest := c.lru.Back()
		victim := c.entries[oldest.Value.(string)]
		c.detach(victim)
		evicted++
		if victim.leases == 0 {
			victims = append(victims, victim.artifact.Dir)
		}
	}
	c.mu.Unlock()

	for i := 0; i < evicted; i++ {
		c.metrics.CacheEviction()
	}
	for _, dir := range victims {
		c.removeStorage(dir)
	}
	return nil
}

// detach removes e from the mapping. Callers hold c.mu.
func (c *Cache) detach(e *entry) {
	if e.evicted {
		return
	}
	e.evicted = true
	c.lru.Remove(e.elem)
	delete(c.entries, e.artifact.Fingerprint)
}

// invalidate drops a stale entry if it is still mapped.
func (c *Cache) invalidate(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[e.artifact.Fingerprint]; ok && cur == e {
		c.detach(e)
	}
}

func (c *Cache) release(e *entry) {
	c.mu.Lock()
	e.leases--
	remove := e.evicted && e.leases == 0
	c.mu.Unlock()

	if remove {
		c.removeStorage(e.artifact.Dir)
	}
}

func (c *Cache) removeStorage(dir string) {
	if err := c.fs.RemoveAll(dir); err != nil {
		c.logger.Warn("failed to remove artifact directory", zap.String("dir", dir), zap.Error(err))
	}
}

// Len returns the number of mapped artifacts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close drops every entry. Storage of leased artifacts is removed when the
// last lease is released.
func (c *Cache) Close() error {
	var dirs []string

	c.mu.Lock()
	c.closed = true
	for _, e := range c.entries {
		if e.leases == 0 {
			dirs = append(dirs, e.artifact.Dir)
		}
		e.evicted = true
	}
	c.entries = make(map[string]*entry)
	c.lru.Init()
	c.mu.Unlock()

	for _, dir := range dirs {
		c.removeStorage(dir)
	}
	c.logger.Info("compilation cache closed", zap.Int("removed", len(dirs)))
	return nil
}

// Lease keeps an artifact on disk until released.
type Lease struct {
	cache *Cache
	entry *entry
	once  sync.Once
}

// Artifact returns the leased artifact.
func (l *Lease) Artifact() Artifact {
	return l.entry.artifact
}

// Release gives the lease back. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cache.release(l.entry)
	})
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
