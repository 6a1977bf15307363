package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/p2pclouds/powledger/chain"
	"github.com/p2pclouds/powledger/ledger"
	"github.com/p2pclouds/powledger/protocol/params"
)

// Daemon ties the ledger, the miner and the API together.
type Daemon struct {
	cfg    Config
	log    *zap.Logger
	params *params.Params
	clock  *chain.SystemClock

	ledger *ledger.Ledger
	miner  *Miner
	api    *APIServer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDaemon builds every component. Nothing runs until Start.
func NewDaemon(cfg Config, log *zap.Logger) (*Daemon, error) {
	p, err := params.ByName(cfg.Network)
	if err != nil {
		return nil, err
	}
	clock := chain.NewSystemClock()

	l, err := ledger.New(ledger.Config{
		Params:        p,
		Clock:         clock,
		Logger:        log,
		RewardAddress: cfg.RewardAddress,
		Fee:           cfg.Fee,
		MaxPending:    cfg.MaxPending,
		MaxOrphans:    cfg.MaxOrphans,
	})
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		cfg:    cfg,
		log:    log,
		params: p,
		clock:  clock,
		ledger: l,
		miner:  NewMiner(l, log.Named("miner"), cfg.MiningThreads),
		ctx:    ctx,
		cancel: cancel,
	}
	d.api = NewAPIServer(d, log.Named("api"))
	return d, nil
}

// Start launches the API server and, when configured, the miner.
func (d *Daemon) Start() error {
	if d.cfg.APIListen != "" {
		if err := d.api.Start(d.cfg.APIListen, d.cfg.APIToken, d.cfg.APICookie); err != nil {
			return err
		}
	}
	if d.cfg.MiningEnabled {
		if err := d.StartMining(); err != nil {
			return err
		}
	}
	tip := d.ledger.Tip()
	d.log.Info("daemon started",
		zap.String("network", d.params.Name),
		zap.Uint32("height", tip.Height()),
		zap.Stringer("tip", tip.Hash()))
	return nil
}

// Stop shuts down the miner and the API server.
func (d *Daemon) Stop() error {
	d.miner.Stop()
	d.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.api.Stop(ctx)
	d.log.Info("daemon stopped", zap.Uint32("height", d.ledger.ActiveHeight()))
	return err
}

func (d *Daemon) StartMining() error { return d.miner.Start(d.ctx) }
func (d *Daemon) StopMining()        { d.miner.Stop() }
func (d *Daemon) IsMining() bool     { return d.miner.IsRunning() }

func (d *Daemon) Ledger() *ledger.Ledger    { return d.ledger }
func (d *Daemon) Miner() *Miner             { return d.miner }
func (d *Daemon) Params() *params.Params    { return d.params }
func (d *Daemon) Clock() *chain.SystemClock { return d.clock }
