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

// trinityd runs a Trinity validator node: the attestation verifier, the
// validator registry, the 2-of-3 consensus engine, the vault workflow and the
// HTLC swap manager behind one HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/chronosvault/trinity/internal/config"
	"github.com/chronosvault/trinity/storage"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		EnvVars: []string{"TRINITY_CONFIG"},
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the database and the collateral cache",
	}
	devFlag = &cli.BoolFlag{
		Name:  "dev",
		Usage: "Development mode: memory database and local TCB checks are allowed",
	}
	dbEngineFlag = &cli.StringFlag{
		Name:  "db.engine",
		Usage: "Database engine (memory, leveldb, pebble)",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP API listening address",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "Format logs as JSON",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a rotated file as well as stderr",
	}
)

var appFlags = []cli.Flag{
	configFileFlag,
	dataDirFlag,
	devFlag,
	dbEngineFlag,
	httpAddrFlag,
	verbosityFlag,
	logJSONFlag,
	logFileFlag,
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "trinityd"
	app.Usage = "hardware-attested 2-of-3 multi-chain consensus node"
	app.Flags = appFlags
	app.Action = serve
	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Run the node (default)",
			Action: serve,
		},
		{
			Name:      "inspect",
			Usage:     "Parse an SGX quote or SEV-SNP report and print its fields",
			ArgsUsage: "<evidence-file>",
			Action:    inspect,
		},
		{
			Name:   "dumpconfig",
			Usage:  "Print the effective configuration as TOML",
			Action: dumpConfig,
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers the command line flags over the config file and the
// environment, then validates the result.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String(configFileFlag.Name))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.Node.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(devFlag.Name) && ctx.Bool(devFlag.Name) {
		cfg.Node.Mode = config.ModeDevelopment
	}
	if ctx.IsSet(dbEngineFlag.Name) {
		cfg.Database.Engine = storage.Engine(ctx.String(dbEngineFlag.Name))
	}
	if ctx.IsSet(httpAddrFlag.Name) {
		cfg.API.ListenAddr = ctx.String(httpAddrFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = ctx.Int(verbosityFlag.Name)
	}
	if ctx.IsSet(logJSONFlag.Name) {
		cfg.Log.JSON = ctx.Bool(logJSONFlag.Name)
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.Log.File = ctx.String(logFileFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg.Log, ctx.App.ErrWriter)
	defer closeLog()

	log.Info("Starting Trinity node", "mode", cfg.Node.Mode, "datadir", cfg.Node.DataDir, "db", cfg.Database.Engine)
	n, err := newNode(cfg, nil)
	if err != nil {
		return err
	}
	defer n.close()
	return n.run(ctx.Context)
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	return config.Dump(cfg, ctx.App.Writer)
}
