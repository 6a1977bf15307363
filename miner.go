package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/p2pclouds/powledger/chain"
	"github.com/p2pclouds/powledger/ledger"
	"github.com/p2pclouds/powledger/workerpool"
)

// MinerStats holds mining statistics for the current session.
type MinerStats struct {
	HashCount     uint64
	BlocksFound   uint64
	StaleRounds   uint64
	StartTime     time.Time
	LastBlockTime time.Time
}

// Miner runs ledger.Build on a pool of threads. Each thread mines its own
// template; the first block found makes the others stale.
type Miner struct {
	ledger *ledger.Ledger
	log    *zap.Logger
	pool   *workerpool.Pool

	startMu sync.Mutex

	threads atomic.Int32
	blocks  atomic.Uint64
	stale   atomic.Uint64

	mu         sync.Mutex
	hashBase   uint64
	startTime  time.Time
	lastBlock  time.Time
	errBackoff time.Duration
}

// NewMiner creates a stopped miner with the given thread count.
func NewMiner(l *ledger.Ledger, log *zap.Logger, threads int) *Miner {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Miner{
		ledger:     l,
		log:        log,
		pool:       workerpool.New(log),
		errBackoff: time.Second,
	}
	m.threads.Store(int32(clampThreads(threads)))
	return m
}

// Start begins mining. It returns workerpool.ErrRunning if already started.
// The statistics of a running session are left untouched in that case.
func (m *Miner) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.pool.Running() {
		return workerpool.ErrRunning
	}

	m.mu.Lock()
	m.hashBase = m.ledger.Consensus().HashCount()
	m.startTime = time.Now()
	m.lastBlock = time.Time{}
	m.mu.Unlock()
	m.blocks.Store(0)
	m.stale.Store(0)

	if err := m.pool.Start(ctx, m.Threads(), m.work); err != nil {
		return err
	}
	m.log.Info("mining started",
		zap.Int("threads", m.Threads()),
		zap.String("reward_address", m.ledger.RewardAddress()))
	return nil
}

func (m *Miner) work(ctx context.Context, id int) {
	res, err := m.ledger.Build(ctx)
	switch {
	case err == nil:
		m.blocks.Add(1)
		m.mu.Lock()
		m.lastBlock = time.Now()
		m.mu.Unlock()
		m.log.Debug("thread found block",
			zap.Int("thread", id),
			zap.Stringer("hash", res.Node.Hash()),
			zap.Uint32("height", res.Node.Height()))
	case ctx.Err() != nil:
	case errors.Is(err, chain.ErrStaleTip):
		m.stale.Add(1)
	default:
		m.log.Warn("mining round failed", zap.Int("thread", id), zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(m.errBackoff):
		}
	}
}

// Stop halts mining and waits for every thread to return.
func (m *Miner) Stop() {
	running := m.pool.Running()
	m.pool.Stop()
	if running {
		m.log.Info("mining stopped", zap.Uint64("blocks_found", m.blocks.Load()))
	}
}

func (m *Miner) IsRunning() bool { return m.pool.Running() }

// SetThreads clamps n to [1, NumCPU] and applies it, restarting the threads
// when mining is active.
func (m *Miner) SetThreads(n int) int {
	n = clampThreads(n)
	m.threads.Store(int32(n))
	m.pool.Resize(n)
	return n
}

func (m *Miner) Threads() int { return int(m.threads.Load()) }

func (m *Miner) Stats() MinerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MinerStats{
		HashCount:     m.ledger.Consensus().HashCount() - m.hashBase,
		BlocksFound:   m.blocks.Load(),
		StaleRounds:   m.stale.Load(),
		StartTime:     m.startTime,
		LastBlockTime: m.lastBlock,
	}
}

// HashRate is the average hashes per second since Start.
func (m *Miner) HashRate() float64 {
	stats := m.Stats()
	if stats.StartTime.IsZero() {
		return 0
	}
	elapsed := time.Since(stats.StartTime).Seconds()
	if elapsed < 1 {
		return 0
	}
	return float64(stats.HashCount) / elapsed
}
