// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Command tssctl is the CLI front end for both cluster roles (coordinator,
// signer) and for talking to a running coordinator's control socket,
// mirroring the subcommand surface of original_source/tss/src/main.rs and
// built the way drand-drand/cmd/drand-cli structures an urfave/cli/v2 app.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/frostcluster/tss/internal/config"
	"github.com/frostcluster/tss/internal/ipc"
	"github.com/frostcluster/tss/internal/log"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the TOML process configuration",
}

var socketFlag = &cli.StringFlag{
	Name:  "socket",
	Usage: "path to the coordinator's IPC control socket",
	Value: "control.sock",
}

func main() {
	app := &cli.App{
		Name:  "tssctl",
		Usage: "FROST coordinator/signer cluster control",
		Commands: []*cli.Command{
			coordinatorCommand,
			signerCommand,
			peerIDCommand,
			listSignerCommand,
			dialCommand,
			startDKGCommand,
			signCommand,
			loopSignCommand,
			listPkIDCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadSettings resolves --config into a Settings, falling back to a
// conservative default rooted at ./tss-data when none is given.
func loadSettings(c *cli.Context) (*config.Settings, error) {
	if path := c.String(configFlag.Name); path != "" {
		return config.Load(path)
	}
	s := config.Default("tss-data")
	return s, s.EnsureBaseDir()
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

var coordinatorCommand = &cli.Command{
	Name:  "coordinator",
	Usage: "run the coordinator process: DKG/signing session manager, key store, IPC control socket",
	Flags: []cli.Flag{configFlag},
	Action: func(c *cli.Context) error {
		settings, err := loadSettings(c)
		if err != nil {
			return err
		}
		logger, err := log.New(log.Options{Level: settings.Log.Level, Pretty: settings.Log.Pretty})
		if err != nil {
			return err
		}
		defer logger.Sync()

		coord, err := newCoordinator(settings, logger)
		if err != nil {
			return err
		}
		defer coord.Close()

		logger.Infow("coordinator started", "socket", settings.IPCSocketPath, "listen", settings.ListenAddr)
		waitForSignal()
		return nil
	},
}

var signerCommand = &cli.Command{
	Name:  "signer",
	Usage: "run a signer process: registers with the coordinator, holds key shares, answers DKG/signing requests",
	Flags: []cli.Flag{configFlag},
	Action: func(c *cli.Context) error {
		settings, err := loadSettings(c)
		if err != nil {
			return err
		}
		logger, err := log.New(log.Options{Level: settings.Log.Level, Pretty: settings.Log.Pretty})
		if err != nil {
			return err
		}
		defer logger.Sync()

		signerProc, err := newSignerProcess(settings, logger)
		if err != nil {
			return err
		}
		defer signerProc.Close()

		logger.Infow("signer started", "listen", settings.ListenAddr)
		waitForSignal()
		return nil
	},
}

var peerIDCommand = &cli.Command{
	Name:  "peer_id",
	Usage: "print this process's libp2p peer id",
	Flags: []cli.Flag{configFlag},
	Action: func(c *cli.Context) error {
		settings, err := loadSettings(c)
		if err != nil {
			return err
		}
		id, err := loadOrCreateIdentity(settings.IdentityKeyFile)
		if err != nil {
			return err
		}
		fmt.Println(id.PeerID())
		return nil
	},
}

var listSignerCommand = &cli.Command{
	Name:  "list_signer",
	Usage: "list signers registered with a running coordinator",
	Flags: []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		return sendControl(c, "list_signer")
	},
}

var dialCommand = &cli.Command{
	Name:      "dial",
	Usage:     "ask the coordinator to dial a signer address",
	ArgsUsage: "<address>",
	Flags:     []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		return sendControl(c, "dial "+c.Args().First())
	},
}

var startDKGCommand = &cli.Command{
	Name:      "start_dkg",
	Usage:     "start a DKG job for a threshold and ciphersuite",
	ArgsUsage: "<threshold> <ciphersuite>",
	Flags:     []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		return sendControl(c, fmt.Sprintf("start_dkg %s %s", c.Args().Get(0), c.Args().Get(1)))
	},
}

var signCommand = &cli.Command{
	Name:      "sign",
	Usage:     "sign a message under a previously generated key, with an optional hex tweak",
	ArgsUsage: "<pk_id> <message> [tweak_hex]",
	Flags:     []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		args := []string{c.Args().Get(0), c.Args().Get(1)}
		if tweak := c.Args().Get(2); tweak != "" {
			args = append(args, tweak)
		}
		return sendControl(c, "sign "+strings.Join(args, " "))
	},
}

var loopSignCommand = &cli.Command{
	Name:      "loop_sign",
	Usage:     "issue n concurrent signing jobs for a key, timing each",
	ArgsUsage: "<pk_id> <n>",
	Flags:     []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		return sendControl(c, fmt.Sprintf("loop_sign %s %s", c.Args().Get(0), c.Args().Get(1)))
	},
}

var listPkIDCommand = &cli.Command{
	Name:  "lspk",
	Usage: "list generated key ids",
	Flags: []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		return sendControl(c, "list_pkid")
	},
}

func sendControl(c *cli.Context, command string) error {
	resp, err := ipc.DialAndSend(c.String(socketFlag.Name), command)
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}
