// Package debug holds mutexes that can report contention while a node runs.
package debug

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Tracing is off unless POWLEDGER_LOCK_TRACE is set. Two optional filters in
// milliseconds drop short events:
//
//	POWLEDGER_LOCK_TRACE_MIN_WAIT_MS
//	POWLEDGER_LOCK_TRACE_MIN_HOLD_MS   (exclusive locks only)
//
// Read locks report wait time only; with several readers there is no single
// hold time.

var (
	traceEnabled atomic.Bool
	minWaitNS    atomic.Int64
	minHoldNS    atomic.Int64

	// seq correlates acquire and release lines of exclusive locks.
	seq atomic.Uint64

	traceOnce sync.Once

	traceLog atomic.Pointer[zap.Logger]
)

// SetLogger routes trace lines to l. Until it is called they are dropped.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	traceLog.Store(l.Named("lock"))
}

// Enabled reports whether lock tracing is on.
func Enabled() bool {
	traceInit()
	return traceEnabled.Load()
}

// SetEnabled overrides POWLEDGER_LOCK_TRACE.
func SetEnabled(on bool) {
	traceInit()
	traceEnabled.Store(on)
}

func traceInit() {
	traceOnce.Do(func() {
		traceEnabled.Store(envBool("POWLEDGER_LOCK_TRACE"))
		minWaitNS.Store(int64(envMillis("POWLEDGER_LOCK_TRACE_MIN_WAIT_MS")))
		minHoldNS.Store(int64(envMillis("POWLEDGER_LOCK_TRACE_MIN_HOLD_MS")))
	})
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envMillis(key string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

// caller returns file:line of the lock's user, trimmed to the last two path
// elements.
func caller() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown:0"
	}
	if i := strings.LastIndexByte(file, '/'); i > 0 {
		if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
			file = file[j+1:]
		}
	}
	return file + ":" + strconv.Itoa(line)
}

func logger() *zap.Logger {
	if l := traceLog.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

func traceAcquire(name, mode string, id uint64, wait time.Duration) {
	if int64(wait) < minWaitNS.Load() {
		return
	}
	fields := []zap.Field{
		zap.String("name", name),
		zap.String("mode", mode),
		zap.Duration("wait", wait.Truncate(time.Microsecond)),
		zap.String("at", caller()),
	}
	if id != 0 {
		fields = append(fields, zap.Uint64("seq", id))
	}
	logger().Debug("acquire", fields...)
}

func traceRelease(name string, id uint64, held time.Duration) {
	if int64(held) < minHoldNS.Load() {
		return
	}
	logger().Debug("release",
		zap.String("name", name),
		zap.Uint64("seq", id),
		zap.Duration("held", held.Truncate(time.Microsecond)),
		zap.String("at", caller()))
}

// Mutex is a sync.Mutex that reports wait and hold times when tracing is on.
type Mutex struct {
	mu   sync.Mutex
	name string

	acquiredNS atomic.Int64
	seq        atomic.Uint64
}

func NewMutex(name string) Mutex { return Mutex{name: name} }

func (m *Mutex) SetName(name string) { m.name = name }

func (m *Mutex) Lock() {
	if !Enabled() {
		m.mu.Lock()
		return
	}
	start := time.Now()
	m.mu.Lock()
	wait := time.Since(start)

	id := seq.Add(1)
	m.seq.Store(id)
	m.acquiredNS.Store(time.Now().UnixNano())
	traceAcquire(nameOf(m.name), "lock", id, wait)
}

func (m *Mutex) Unlock() {
	if !Enabled() {
		m.mu.Unlock()
		return
	}
	id := m.seq.Load()
	held := time.Since(time.Unix(0, m.acquiredNS.Load()))
	m.mu.Unlock()
	traceRelease(nameOf(m.name), id, held)
}

// RWMutex is the sync.RWMutex counterpart of Mutex.
type RWMutex struct {
	mu   sync.RWMutex
	name string

	acquiredNS atomic.Int64
	seq        atomic.Uint64
}

func NewRWMutex(name string) RWMutex { return RWMutex{name: name} }

func (m *RWMutex) SetName(name string) { m.name = name }

func (m *RWMutex) Lock() {
	if !Enabled() {
		m.mu.Lock()
		return
	}
	start := time.Now()
	m.mu.Lock()
	wait := time.Since(start)

	id := seq.Add(1)
	m.seq.Store(id)
	m.acquiredNS.Store(time.Now().UnixNano())
	traceAcquire(nameOf(m.name), "lock", id, wait)
}

func (m *RWMutex) Unlock() {
	if !Enabled() {
		m.mu.Unlock()
		return
	}
	id := m.seq.Load()
	held := time.Since(time.Unix(0, m.acquiredNS.Load()))
	m.mu.Unlock()
	traceRelease(nameOf(m.name), id, held)
}

func (m *RWMutex) RLock() {
	if !Enabled() {
		m.mu.RLock()
		return
	}
	start := time.Now()
	m.mu.RLock()
	traceAcquire(nameOf(m.name), "rlock", 0, time.Since(start))
}

func (m *RWMutex) RUnlock() { m.mu.RUnlock() }

func nameOf(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}
