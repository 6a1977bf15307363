package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/p2pclouds/powledger/workerpool"
)

func TestMinerSetThreads_ClampsToNumCPUAndMinimumOne(t *testing.T) {
	d := mustNewTestDaemon(t)
	m := d.Miner()

	if got := m.SetThreads(0); got != 1 || m.Threads() != 1 {
		t.Fatalf("expected threads to clamp to 1, got %d", m.Threads())
	}
	max := maxThreads()
	if got := m.SetThreads(max + 1000); got != max || m.Threads() != max {
		t.Fatalf("expected threads to clamp to %d, got %d", max, m.Threads())
	}
}

func TestMiner_MinesUntilStopped(t *testing.T) {
	d := mustNewTestDaemon(t)
	m := NewMiner(d.Ledger(), zaptest.NewLogger(t), 2)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("second Start succeeded")
	}

	deadline := time.Now().Add(10 * time.Second)
	for d.Ledger().ActiveHeight() < 3 {
		if time.Now().After(deadline) {
			m.Stop()
			t.Fatalf("miner reached height %d before the deadline", d.Ledger().ActiveHeight())
		}
		time.Sleep(10 * time.Millisecond)
	}
	m.Stop()
	if m.IsRunning() {
		t.Fatalf("miner running after Stop")
	}

	stats := m.Stats()
	if stats.BlocksFound < 3 || stats.HashCount == 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	height := d.Ledger().ActiveHeight()
	time.Sleep(50 * time.Millisecond)
	if d.Ledger().ActiveHeight() != height {
		t.Fatalf("chain grew after Stop")
	}
}

func TestMiner_SecondStartKeepsSessionStats(t *testing.T) {
	d := mustNewTestDaemon(t)
	m := NewMiner(d.Ledger(), zaptest.NewLogger(t), 1)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for m.Stats().BlocksFound == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no block found before the deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
	before := m.Stats()

	if err := m.Start(context.Background()); !errors.Is(err, workerpool.ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
	after := m.Stats()
	if after.BlocksFound < before.BlocksFound || after.HashCount < before.HashCount {
		t.Fatalf("stats went backwards: before %+v, after %+v", before, after)
	}
	if !after.StartTime.Equal(before.StartTime) {
		t.Fatalf("start time reset from %v to %v", before.StartTime, after.StartTime)
	}
}

func TestMiner_StopsWithParentContext(t *testing.T) {
	d := mustNewTestDaemon(t)
	m := NewMiner(d.Ledger(), zaptest.NewLogger(t), 1)

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	if m.IsRunning() {
		t.Fatalf("miner still running after its context was cancelled")
	}
	m.Stop()
}
