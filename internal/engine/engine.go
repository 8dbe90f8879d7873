// Package engine implements the profiler's single public entry point: an
// Init/Scope/CollectStats API sitting on top of a pluggable raw allocator,
// the process-wide tree registry, and the JSON/DOT/human-readable output
// utilities.
//
// Go has no ELF symbol interposition, so nothing here actually shadows
// libc's malloc/free; instead a caller wires an internal/rawalloc.Allocator
// into every allocation site it wants tracked. The Engine itself is the part that decides
// what gets charged to which node, which is the part the profiler is
// actually about.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/malloctag/mtag/internal/rawalloc"
	"github.com/malloctag/mtag/internal/tagcap"
	"github.com/malloctag/mtag/internal/tagnode"
	"github.com/malloctag/mtag/internal/tagoutput"
	"github.com/malloctag/mtag/internal/tagregistry"
	"github.com/malloctag/mtag/internal/tagtree"
	"github.com/malloctag/mtag/pkg/mtaglog"
	"github.com/malloctag/mtag/pkg/mtagtelemetry"
)

const (
	envJSONPath      = "MTAG_STATS_OUTPUT_JSON"
	envDOTPath       = "MTAG_STATS_OUTPUT_GRAPHVIZ_DOT"
	envSnapshotSec   = "MTAG_SNAPSHOT_INTERVAL_SEC"
	envSnapshotPrefx = "MTAG_SNAPSHOT_OUTPUT_PREFIX_FILE_PATH"
)

// Sink is the minimal write target Engine needs for WriteStats and
// snapshotting. internal/tagsink.LocalSink and COSSink both satisfy this
// shape without Engine importing that package, keeping the dependency
// pointed from domain-specific storage back at the core, not the other
// way around.
type Sink interface {
	Write(ctx context.Context, key string, r io.Reader) error
}

// fileSink is the zero-value Sink: a direct os.WriteFile, matching the
// original tool's plain on-disk behaviour when no sink is configured.
type fileSink struct{}

func (fileSink) Write(_ context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return os.WriteFile(key, data, 0o644)
}

// Engine is the process-wide profiler instance. The zero value is not
// usable; construct with New.
type Engine struct {
	initialized atomic.Bool
	initMu      sync.Mutex

	limits   tagcap.Limits
	maxTrees int

	registry *tagregistry.Registry
	raw      rawalloc.Allocator
	sink     Sink
	logger   mtaglog.Logger
	clock    mtaglog.Clock

	bytesBeforeInit atomic.Uint64

	threadsMu sync.Mutex
	threads   map[int]*perThread

	snapshotMu     sync.Mutex
	snapshotIndex  int
	snapshotEvery  time.Duration
	lastSnapshotAt time.Time
}

// perThread is the per-OS-thread state the spec calls hook_active and
// current_tree. Keyed by kernel tid, not by goroutine: callers that move
// goroutines across OS threads mid-scope get incoherent tracking, which
// is why BindThread exists.
type perThread struct {
	hookActive   bool
	disableDepth int
	tree         *tagtree.Tree
}

// Option configures a new Engine.
type Option func(*Engine)

// WithAllocator overrides the raw allocator backing every tracked
// primitive. Defaults to rawalloc.NewGoHeapAllocator().
func WithAllocator(a rawalloc.Allocator) Option {
	return func(e *Engine) { e.raw = a }
}

// WithSink overrides the write target for WriteStats/snapshots. Defaults
// to a direct filesystem write.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger overrides the engine's logger. Defaults to a null logger,
// matching the original tool's silence on the fast path.
func WithLogger(l mtaglog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the engine's time source, for deterministic
// snapshot-interval tests.
func WithClock(c mtaglog.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New constructs an Engine. Init must still be called before any Scope or
// tracking call; New alone does not register the main tree.
func New(opts ...Option) *Engine {
	e := &Engine{
		raw:     rawalloc.NewGoHeapAllocator(),
		sink:    fileSink{},
		logger:  &mtaglog.NullLogger{},
		clock:   mtaglog.NewRealClock(),
		threads: make(map[int]*perThread),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init registers the main tree if this is the first successful call;
// idempotent, safe under concurrent callers (first caller wins).
func (e *Engine) Init(maxNodes, maxLevels, snapshotIntervalSec int) error {
	if e.initialized.Load() {
		return nil
	}
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.initialized.Load() {
		return nil
	}

	limits := tagcap.DefaultLimits()
	if maxNodes > 0 {
		limits.MaxNodes = maxNodes
	}
	if maxLevels > 0 {
		limits.MaxLevels = maxLevels
	}
	e.limits = limits
	e.maxTrees = tagcap.DefaultMaxTrees
	e.registry = tagregistry.New(e.maxTrees)

	if snapshotIntervalSec <= 0 {
		if v, ok := os.LookupEnv(envSnapshotSec); ok {
			if n, err := strconv.Atoi(v); err == nil {
				snapshotIntervalSec = n
			}
		}
	}
	e.snapshotEvery = time.Duration(snapshotIntervalSec) * time.Second

	tid := currentThreadID()
	name := currentThreadName()
	vmSize, _ := vmSizeAndRSSBytes()

	e.disableHookFor(tid, func() {
		tree, err := e.registry.RegisterMain(limits, tid, name, vmSize)
		if err != nil {
			mtaglog.WithTID(e.logger, tid).Error("mtag: failed to register main tree: %v", err)
			return
		}
		e.perThreadState(tid).tree = tree
	})

	e.initialized.Store(true)
	return nil
}

// GetLimit returns the named limit in effect: the value Init set, or the
// compile-time default before Init. It returns 0 for an unknown name.
func (e *Engine) GetLimit(name string) int {
	switch name {
	case "max_trees":
		if e.maxTrees != 0 {
			return e.maxTrees
		}
		return tagcap.DefaultMaxTrees
	case "max_tree_nodes":
		return e.effectiveLimits().MaxNodes
	case "max_tree_levels":
		return e.effectiveLimits().MaxLevels
	case "max_node_siblings":
		return e.effectiveLimits().MaxSiblings
	default:
		return 0
	}
}

func (e *Engine) effectiveLimits() tagcap.Limits {
	if e.limits == (tagcap.Limits{}) {
		return tagcap.DefaultLimits()
	}
	return e.limits
}

// BindThread locks the calling goroutine to its current OS thread for the
// duration of a batch of Scope calls, matching the C original's
// assumption that "the current thread" is a stable identity. Callers that
// enter Scopes without calling this risk having the goroutine rescheduled
// onto a different OS thread mid-scope, which the engine cannot detect.
// The returned func must be deferred to release the thread lock.
func BindThread() func() {
	runtimeLockOSThread()
	return runtimeUnlockOSThread
}

// perThreadState returns (creating if necessary) this OS thread's guard
// state. Called only from cold paths already holding no per-tree lock.
func (e *Engine) perThreadState(tid int) *perThread {
	e.threadsMu.Lock()
	defer e.threadsMu.Unlock()
	st, ok := e.threads[tid]
	if !ok {
		st = &perThread{hookActive: true}
		e.threads[tid] = st
	}
	return st
}

// disableHookFor runs fn with tid's reentrancy flag cleared, restoring
// whatever it was afterward. Nested disables compose: only the outermost
// call actually flips the flag.
func (e *Engine) disableHookFor(tid int, fn func()) {
	st := e.perThreadState(tid)
	st.disableDepth++
	if st.disableDepth == 1 {
		st.hookActive = false
	}
	defer func() {
		st.disableDepth--
		if st.disableDepth == 0 {
			st.hookActive = true
		}
	}()
	fn()
}

// ensureTree returns tid's tree, lazily registering a secondary tree
// (under a disable window) if this is the thread's first tracked
// operation. Returns nil if the registry has no main tree yet or is at
// capacity; callers must treat nil as "do not track."
func (e *Engine) ensureTree(tid int) *tagtree.Tree {
	st := e.perThreadState(tid)
	if st.tree != nil {
		return st.tree
	}
	if e.registry == nil || !e.registry.HasMain() {
		return nil
	}

	var result *tagtree.Tree
	e.disableHookFor(tid, func() {
		if st.tree != nil {
			result = st.tree
			return
		}
		name := currentThreadName()
		vmSize, _ := vmSizeAndRSSBytes()
		tree, err := e.registry.RegisterSecondary(tid, name, vmSize)
		if err != nil {
			mtaglog.WithTID(e.logger, tid).Debug("mtag: secondary tree not registered: %v", err)
			return
		}
		st.tree = tree
		result = tree
	})
	return result
}

// Scope is the RAII-style tracked region. Construct with EnterScope or
// EnterScopeFunc; Leave (or a deferred call to it) pops the cursor iff
// the matching push succeeded.
type Scope struct {
	engine *Engine
	tid    int
	pushed bool
}

// EnterScope pushes a scope named name onto the calling thread's tree.
// Must be called after Init; calling before Init is a programmer error
// (UseBeforeInit) and is treated as a no-op scope.
func (e *Engine) EnterScope(name string) *Scope {
	tid := currentThreadID()
	s := &Scope{engine: e, tid: tid}
	if !e.initialized.Load() {
		mtaglog.WithTID(mtaglog.WithScope(e.logger, name), tid).Warn("mtag: scope entered before Init")
		return s
	}
	tree := e.ensureTree(tid)
	if tree == nil {
		return s
	}
	s.pushed = tree.Push(name)
	return s
}

// EnterScopeFunc pushes a scope named "className::functionName",
// truncated to the configured MAX_NAME_LEN.
func (e *Engine) EnterScopeFunc(className, functionName string) *Scope {
	name := e.effectiveLimits().TruncateName(className + "::" + functionName)
	return e.EnterScope(name)
}

// Leave pops the scope's push iff it succeeded. Safe to call multiple
// times; only the first call has effect.
func (s *Scope) Leave() {
	if s == nil || !s.pushed {
		return
	}
	s.pushed = false
	tree := s.engine.ensureTree(s.tid)
	if tree != nil {
		tree.Pop()
	}
}

// trackAlloc implements the interposer contract's steps 3-7 for a
// non-free primitive. size is the reportable (usable) size already
// queried from the raw allocator.
func (e *Engine) trackAlloc(kind tagnode.PrimitiveKind, size uint64) {
	tid := currentThreadID()
	st := e.perThreadState(tid)
	if !st.hookActive {
		return
	}
	if e.registry == nil || !e.registry.HasMain() {
		e.bytesBeforeInit.Add(size)
		return
	}
	tree := e.ensureTree(tid)
	if tree == nil {
		return
	}
	tree.TrackAllocInCursor(kind, size)
}

// trackFree implements the free-specific half of the interposer contract:
// size is usable_size(ptr) as measured before the raw free ran. A zero
// size means FreeSizeUnknown; the tree records a free-tracking failure
// instead of updating any node counter.
func (e *Engine) trackFree(size uint64) {
	tid := currentThreadID()
	st := e.perThreadState(tid)
	if !st.hookActive {
		return
	}
	tree := e.ensureTree(tid)
	if tree == nil {
		return
	}
	if size == 0 {
		tree.NoteFreeTrackingFailure()
		return
	}
	tree.TrackFreeInCursor(size)
}

// TrackedMalloc, TrackedRealloc, TrackedCalloc, TrackedMemalign,
// TrackedValloc, and TrackedPvalloc are the interposer entry points: each
// calls the raw allocator, measures usable_size, and charges the current
// scope. memalign/valloc/pvalloc fold into PrimitiveKind Malloc's counter,
// since the per-node counter set only distinguishes
// malloc/realloc/calloc/free (see the data model); their bytes are still
// visible, just not broken out from ordinary malloc calls in
// nCallsTo_malloc.

func (e *Engine) TrackedMalloc(size uint64) (uintptr, bool) {
	ptr, ok := e.raw.Alloc(size)
	if !ok {
		return 0, false
	}
	e.trackAlloc(tagnode.Malloc, e.raw.UsableSize(ptr))
	return ptr, true
}

func (e *Engine) TrackedCalloc(count, size uint64) (uintptr, bool) {
	ptr, ok := e.raw.Calloc(count, size)
	if !ok {
		return 0, false
	}
	e.trackAlloc(tagnode.Calloc, e.raw.UsableSize(ptr))
	return ptr, true
}

func (e *Engine) TrackedRealloc(ptr uintptr, size uint64) (uintptr, bool) {
	newPtr, ok := e.raw.Realloc(ptr, size)
	if !ok {
		return 0, false
	}
	e.trackAlloc(tagnode.Realloc, e.raw.UsableSize(newPtr))
	return newPtr, true
}

func (e *Engine) TrackedMemalign(alignment, size uint64) (uintptr, bool) {
	ptr, ok := e.raw.Memalign(alignment, size)
	if !ok {
		return 0, false
	}
	e.trackAlloc(tagnode.Malloc, e.raw.UsableSize(ptr))
	return ptr, true
}

func (e *Engine) TrackedValloc(size uint64) (uintptr, bool) {
	ptr, ok := e.raw.Valloc(size)
	if !ok {
		return 0, false
	}
	e.trackAlloc(tagnode.Malloc, e.raw.UsableSize(ptr))
	return ptr, true
}

func (e *Engine) TrackedPvalloc(size uint64) (uintptr, bool) {
	ptr, ok := e.raw.Pvalloc(size)
	if !ok {
		return 0, false
	}
	e.trackAlloc(tagnode.Malloc, e.raw.UsableSize(ptr))
	return ptr, true
}

// TrackedFree measures usable_size before releasing ptr, matching the
// spec's requirement that free-tracking use the same measure the
// allocation side recorded.
func (e *Engine) TrackedFree(ptr uintptr) {
	if ptr == 0 {
		return
	}
	size := e.raw.UsableSize(ptr)
	e.raw.Free(ptr)
	e.trackFree(size)
}

// CollectStats renders the whole-process document in the requested
// format.
func (e *Engine) CollectStats(format tagoutput.Format) (string, error) {
	if e.registry == nil {
		return "", fmt.Errorf("mtag: CollectStats called before Init")
	}
	_, span := mtagtelemetry.StartCollectSpan(context.Background(), "mtag.collect_stats",
		e.registry.TreeCount(), e.registry.GrandTotalTrackedBytes(), format.String())
	defer span.End()

	vmSize, vmRSS := vmSizeAndRSSBytes()
	var out string
	var serializeErr error
	e.disableHookFor(currentThreadID(), func() {
		out, serializeErr = e.registry.Serialize(format, os.Getpid(), e.bytesBeforeInit.Load(), vmSize, vmRSS, e.clock.Now())
	})
	mtagtelemetry.RecordSpanError(span, serializeErr)
	return out, serializeErr
}

// CollectAsMap returns the flat machine-friendly KPI view.
func (e *Engine) CollectAsMap() map[string]uint64 {
	if e.registry == nil {
		return map[string]uint64{".nTrees": 0}
	}
	var m map[string]uint64
	e.disableHookFor(currentThreadID(), func() {
		m = e.registry.CollectAsMap()
	})
	return m
}

// KeyPrefixForThread returns "tid<tid>:", using the caller's own tid when
// tid is 0.
func (e *Engine) KeyPrefixForThread(tid int) string {
	if tid == 0 {
		tid = currentThreadID()
	}
	return "tid" + strconv.Itoa(tid) + ":"
}

// WriteStats renders format and writes it through the engine's sink. An
// empty path falls back to the environment variable selected by format;
// FormatAll writes both JSON and DOT under one disable window.
func (e *Engine) WriteStats(ctx context.Context, format tagoutput.Format, path string) error {
	if format == tagoutput.FormatAll {
		var firstErr error
		e.disableHookFor(currentThreadID(), func() {
			if err := e.writeOneFormat(ctx, tagoutput.FormatJSON, ""); err != nil {
				firstErr = err
			}
			if err := e.writeOneFormat(ctx, tagoutput.FormatDOT, ""); err != nil && firstErr == nil {
				firstErr = err
			}
		})
		return firstErr
	}
	return e.writeOneFormat(ctx, format, path)
}

func (e *Engine) writeOneFormat(ctx context.Context, format tagoutput.Format, path string) error {
	if path == "" {
		path = e.defaultPathFor(format)
	}
	if path == "" {
		return fmt.Errorf("mtag: no output path configured for format %v", format)
	}
	body, err := e.CollectStats(format)
	if err != nil {
		return err
	}
	return e.sink.Write(ctx, path, strings.NewReader(body))
}

func (e *Engine) defaultPathFor(format tagoutput.Format) string {
	switch format {
	case tagoutput.FormatJSON:
		return os.Getenv(envJSONPath)
	case tagoutput.FormatDOT:
		return os.Getenv(envDOTPath)
	default:
		return ""
	}
}

// SetSnapshotInterval overrides the interval configured at Init time.
func (e *Engine) SetSnapshotInterval(secs int) {
	e.snapshotMu.Lock()
	defer e.snapshotMu.Unlock()
	e.snapshotEvery = time.Duration(secs) * time.Second
}

// WriteSnapshotIfNeeded writes a new numbered snapshot if at least the
// configured interval has elapsed since the previous one, and reports
// whether it did. prefix falls back to MTAG_SNAPSHOT_OUTPUT_PREFIX_FILE_PATH
// when empty; snapshotting stays disabled (returns false, nil) if neither
// yields a prefix.
func (e *Engine) WriteSnapshotIfNeeded(ctx context.Context, format tagoutput.Format, prefix string) (bool, error) {
	e.snapshotMu.Lock()
	defer e.snapshotMu.Unlock()

	if e.snapshotEvery <= 0 {
		return false, nil
	}
	if prefix == "" {
		prefix = os.Getenv(envSnapshotPrefx)
	}
	if prefix == "" {
		return false, nil
	}

	now := e.clock.Now()
	if !e.lastSnapshotAt.IsZero() && now.Sub(e.lastSnapshotAt) < e.snapshotEvery {
		return false, nil
	}

	idx := e.snapshotIndex
	e.snapshotIndex++
	e.lastSnapshotAt = now

	var writeErr error
	e.disableHookFor(currentThreadID(), func() {
		exts := []string{}
		switch format {
		case tagoutput.FormatJSON:
			exts = []string{"json"}
		case tagoutput.FormatDOT:
			exts = []string{"dot"}
		case tagoutput.FormatAll:
			exts = []string{"json", "dot"}
		}
		for _, ext := range exts {
			f := tagoutput.FormatJSON
			if ext == "dot" {
				f = tagoutput.FormatDOT
			}
			body, err := e.CollectStats(f)
			if err != nil {
				writeErr = err
				return
			}
			path := fmt.Sprintf("%s.%04d.%s", prefix, idx, ext)
			if err := e.sink.Write(ctx, path, strings.NewReader(body)); err != nil {
				writeErr = err
				return
			}
		}
	})
	return writeErr == nil, writeErr
}

// VmSizeBytes returns the process's current virtual memory size.
func (e *Engine) VmSizeBytes() uint64 {
	vmSize, _ := vmSizeAndRSSBytes()
	return vmSize
}

// VmRSSBytes returns the process's current resident set size.
func (e *Engine) VmRSSBytes() uint64 {
	_, vmRSS := vmSizeAndRSSBytes()
	return vmRSS
}

// MallocInfo returns the raw allocator's diagnostic XML.
func (e *Engine) MallocInfo() string {
	return mallocInfoXML()
}
