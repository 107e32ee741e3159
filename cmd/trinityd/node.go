// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/chronosvault/trinity/api"
	"github.com/chronosvault/trinity/attestation"
	"github.com/chronosvault/trinity/consensus/trinity"
	"github.com/chronosvault/trinity/genesis"
	"github.com/chronosvault/trinity/governance"
	"github.com/chronosvault/trinity/internal/config"
	"github.com/chronosvault/trinity/internal/sgx"
	"github.com/chronosvault/trinity/storage"
	"github.com/chronosvault/trinity/swap"
	"github.com/chronosvault/trinity/vault"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

// errDataDirUsed is returned when another process holds the data directory.
var errDataDirUsed = errors.New("data directory already used by another process")

// node owns every long-lived component of a running trinityd.
type node struct {
	cfg   *config.Config
	clock clock.Clock
	lock  *flock.Flock // nil for the memory engine
	db    storage.Database

	registry  *governance.Registry
	allowList *governance.AllowList
	verifier  *attestation.Verifier
	engine    *trinity.Engine
	ledger    *trinity.Ledger
	vault     *vault.Workflow
	swaps     *swap.Manager
	server    *api.Server
}

// newNode opens the database and builds the components in dependency order.
// Genesis is applied before the node is returned.
func newNode(cfg *config.Config, clk clock.Clock) (*node, error) {
	if clk == nil {
		clk = clock.New()
	}
	n := &node{cfg: cfg, clock: clk}
	if cfg.Database.Engine.Durable() {
		lock, err := lockDataDir(cfg.Node.DataDir)
		if err != nil {
			return nil, err
		}
		n.lock = lock
	}
	db, err := storage.Open(cfg.StorageConfig())
	if err != nil {
		n.unlock()
		return nil, fmt.Errorf("open database: %w", err)
	}
	n.db = db
	if err := n.setup(); err != nil {
		n.close()
		return nil, err
	}
	return n, nil
}

// lockDataDir creates dir and takes an exclusive file lock inside it so two
// nodes never share one database.
func lockDataDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(dir, "LOCK"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", errDataDirUsed, dir)
	}
	return lock, nil
}

func (n *node) unlock() {
	if n.lock == nil {
		return
	}
	if err := n.lock.Unlock(); err != nil {
		log.Error("Failed to release data directory lock", "err", err)
	}
}

func (n *node) setup() error {
	cfg := n.cfg
	var err error

	if n.registry, err = governance.NewRegistry(cfg.GovernanceConfig(), n.db, n.clock); err != nil {
		return err
	}
	if n.allowList, err = loadAllowList(cfg.Attestation.AllowListFile); err != nil {
		return err
	}
	authority, err := newTCBAuthority(cfg, n.clock)
	if err != nil {
		return err
	}
	n.verifier = attestation.NewVerifier(cfg.VerifierConfig(), n.allowList, authority, n.registry, n.clock)

	if n.engine, err = trinity.NewEngine(cfg.EngineConfig(), n.registry, n.db, n.clock); err != nil {
		return err
	}
	n.ledger = trinity.NewLedger(n.registry, n.db, n.clock)
	n.vault = vault.NewWorkflow(n.db, n.engine, logExecutor{}, vault.NewTimeLocks(n.db), n.clock)
	if n.swaps, err = swap.NewManager(cfg.HTLCConfig(), n.db, n.ledger, n.clock); err != nil {
		return err
	}

	applied, err := genesis.Apply(context.Background(), n.db, genesis.FromConfig(cfg), n.registry, n.vault, n.clock.Now())
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		log.Info("Applied genesis", "validators", len(cfg.Genesis.Validators), "signers", len(cfg.Vault.Signers), "vaults", len(cfg.Vault.TimeLocks))
	}

	n.server = api.New(api.Config{
		Addr:            cfg.API.ListenAddr,
		CORSOrigins:     cfg.API.CORSOrigins,
		RateLimit:       cfg.API.RateLimit,
		RateBurst:       cfg.API.RateBurst,
		ReadTimeout:     cfg.API.ReadTimeout,
		WriteTimeout:    cfg.API.WriteTimeout,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	}, api.Backend{
		Attestor:   n.verifier,
		Validators: n.registry,
		Consensus:  n.engine,
		Ledger:     n.ledger,
		Vault:      n.vault,
		Swaps:      n.swaps,
	})
	return nil
}

func loadAllowList(path string) (*governance.AllowList, error) {
	if path == "" {
		log.Warn("No measurement allow-list configured, every attestation will be rejected")
		return governance.NewAllowList()
	}
	entries, err := governance.LoadAllowListFile(path)
	if err != nil {
		return nil, fmt.Errorf("load allow-list: %w", err)
	}
	log.Info("Loaded allow-list", "path", path, "entries", len(entries))
	return governance.NewAllowList(entries...)
}

func newTCBAuthority(cfg *config.Config, clk clock.Clock) (attestation.TCBAuthority, error) {
	if cfg.Attestation.Authority != attestation.SourceVendor {
		log.Warn("Using local TCB checks, vendor collateral is not consulted")
		return attestation.LocalAuthority{}, nil
	}
	intelRoots, err := readRoots(cfg.Attestation.IntelRootsFile)
	if err != nil {
		return nil, err
	}
	amdRoots, err := readRoots(cfg.Attestation.AMDRootsFile)
	if err != nil {
		return nil, err
	}
	fetcher := sgx.NewCollateralFetcher(cfg.FetcherConfig(), sgx.NewCertCache(cfg.CollateralCacheDir()), nil)
	authority, err := attestation.NewVendorAuthority(attestation.VendorConfig{
		IntelRoots: intelRoots,
		AMDRoots:   amdRoots,
		AMDProduct: cfg.Attestation.AMDProduct,
		CacheTTL:   cfg.Attestation.CacheTTL,
	}, fetcher, clk)
	if err != nil {
		return nil, err
	}
	log.Info("Using vendor TCB authority", "pcs", cfg.Attestation.PCSURL, "kds", cfg.Attestation.KDSURL)
	return authority, nil
}

func readRoots(path string) ([]*x509.Certificate, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read root certificates: %w", err)
	}
	roots, err := sgx.ParsePEMCertChain(data)
	if err != nil {
		return nil, fmt.Errorf("parse root certificates %s: %w", path, err)
	}
	return roots, nil
}

// run starts the API server, the operation sweeper, the allow-list watcher
// and the confirmation logger, and blocks until ctx is cancelled, a signal
// arrives or one of them fails.
func (n *node) run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.server.Serve(ctx) })
	g.Go(func() error { return n.engine.RunSweeper(ctx) })
	g.Go(func() error { return n.logConfirmations(ctx) })
	if path := n.cfg.Attestation.AllowListFile; path != "" {
		g.Go(func() error { return governance.WatchAllowListFile(ctx, path, n.allowList) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("Trinity node stopped")
	return err
}

func (n *node) logConfirmations(ctx context.Context) error {
	ch := make(chan trinity.ConfirmedEvent, 16)
	sub := n.engine.SubscribeConfirmations(ch)
	defer sub.Unsubscribe()

	for {
		select {
		case ev := <-ch:
			log.Info("Operation confirmed", "op", ev.OperationID, "roles", ev.Roles)
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

func (n *node) close() {
	if n.engine != nil {
		n.engine.Close()
	}
	if err := n.db.Close(); err != nil {
		log.Error("Failed to close database", "err", err)
	}
	n.unlock()
}

// logExecutor is the vault executor of a standalone node. Settlement on the
// target chains happens in the chain adapters, the node only records that
// the proposal passed.
type logExecutor struct{}

func (logExecutor) ExecuteProposal(_ context.Context, p *vault.Proposal) error {
	log.Info("Vault proposal executed", "tx", p.ID, "action", p.Payload.Action, "vault", p.Payload.VaultID, "approvals", len(p.Approvals))
	return nil
}
