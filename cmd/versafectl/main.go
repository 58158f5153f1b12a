// Package main defines versafectl, the administrative CLI for a
// VerSafe node: draining the ledger outbox, re-verifying audit chain
// shards and rotating the token signing key set.
//
// Exit codes: 0 success, 2 usage error, 3 integrity failure,
// 4 ledger unavailable, 5 internal error.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/versafe/versafe/audit"
	"github.com/versafe/versafe/cmd/versafe/flags"
	"github.com/versafe/versafe/db"
	"github.com/versafe/versafe/ledger"
	"github.com/versafe/versafe/runtime/version"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var log = logrus.WithField("prefix", "versafectl")

const (
	exitUsage             = 2
	exitIntegrityFailure  = 3
	exitLedgerUnavailable = 4
	exitInternal          = 5
)

func main() {
	app := cli.App{}
	app.Name = "versafectl"
	app.Usage = "administrative tasks for a VerSafe node"
	app.Version = version.SemanticVersion()
	app.Before = func(ctx *cli.Context) error {
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		logrus.SetFormatter(formatter)
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:  "outbox",
			Usage: "ledger outbox operations",
			Subcommands: []*cli.Command{
				{
					Name:  "drain",
					Usage: "submit queued ledger operations to the endorsing peers",
					Flags: []cli.Flag{
						flags.DataDirFlag,
						flags.LedgerEndpointsFlag,
						flags.LedgerQuorumFlag,
					},
					Action: drainOutbox,
				},
			},
		},
		{
			Name:  "audit",
			Usage: "audit chain operations",
			Subcommands: []*cli.Command{
				{
					Name:  "verify",
					Usage: "re-verify the hash chain of one audit shard",
					Flags: []cli.Flag{
						flags.DataDirFlag,
						&cli.StringFlag{
							Name:     "service",
							Usage:    "Service whose shard to verify",
							Required: true,
						},
						&cli.StringFlag{
							Name:     "day",
							Usage:    "Shard day in 2006-01-02 form",
							Required: true,
						},
					},
					Action: verifyAuditShard,
				},
			},
		},
		{
			Name:  "keys",
			Usage: "token signing key set operations",
			Subcommands: []*cli.Command{
				{
					Name:  "generate",
					Usage: "add a fresh signing key to the token key set; the new key becomes the signing key",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:     "keyset",
							Usage:    "Path to the JSON key set file",
							Required: true,
						},
					},
					Action: generateKey,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		code := exitInternal
		if exitErr, ok := err.(cli.ExitCoder); ok {
			code = exitErr.ExitCode()
		}
		log.Error(err.Error())
		os.Exit(code)
	}
}

func openDB(cliCtx *cli.Context) (db.Database, error) {
	d, err := db.NewDB(cliCtx.Context, cliCtx.String(flags.DataDirFlag.Name))
	if err != nil {
		return nil, cli.Exit(errors.Wrap(err, "could not open metadata store"), exitInternal)
	}
	return d, nil
}

func drainOutbox(cliCtx *cli.Context) error {
	endpoints := cliCtx.StringSlice(flags.LedgerEndpointsFlag.Name)
	if len(endpoints) == 0 {
		return cli.Exit("at least one --ledger-endpoint is required", exitUsage)
	}
	d, err := openDB(cliCtx)
	if err != nil {
		return err
	}
	defer closeDB(d)

	svc, err := ledger.NewService(cliCtx.Context, &ledger.Config{
		Database: d,
		Client: ledger.NewClient(&ledger.ClientConfig{
			Endpoints: endpoints,
			Quorum:    cliCtx.Int(flags.LedgerQuorumFlag.Name),
		}),
	})
	if err != nil {
		return cli.Exit(err, exitInternal)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			log.WithError(err).Error("Could not stop ledger gateway")
		}
	}()

	drained, err := svc.DrainOutbox(cliCtx.Context)
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerUnavailable) {
			return cli.Exit(fmt.Sprintf("drained %d entries, then ledger became unavailable: %v", drained, err), exitLedgerUnavailable)
		}
		return cli.Exit(err, exitInternal)
	}
	fmt.Printf("drained %d outbox entries\n", drained)
	return nil
}

func verifyAuditShard(cliCtx *cli.Context) error {
	day, err := time.Parse("2006-01-02", cliCtx.String("day"))
	if err != nil {
		return cli.Exit("--day must be in 2006-01-02 form", exitUsage)
	}
	d, err := openDB(cliCtx)
	if err != nil {
		return err
	}
	defer closeDB(d)

	records, err := d.AuditShard(cliCtx.Context, cliCtx.String("service"), day)
	if err != nil {
		return cli.Exit(err, exitInternal)
	}
	broken, err := audit.VerifyShard(records)
	if err != nil {
		return cli.Exit(fmt.Sprintf("audit chain broken at record index %d: %v", broken, err), exitIntegrityFailure)
	}
	fmt.Printf("shard intact: %d records verified\n", len(records))
	return nil
}

// generateKey appends a fresh HS256 secret to the key set file. The kid
// embeds the generation time, so the newest key sorts last and becomes
// the signing key on the next reload.
func generateKey(cliCtx *cli.Context) error {
	path := cliCtx.String("keyset")
	keySet := map[string]string{}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &keySet); err != nil {
			return cli.Exit(errors.Wrap(err, "could not parse existing key set"), exitUsage)
		}
	} else if !os.IsNotExist(err) {
		return cli.Exit(err, exitInternal)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return cli.Exit(err, exitInternal)
	}
	kid := time.Now().UTC().Format("2006-01-02-150405")
	if _, exists := keySet[kid]; exists {
		return cli.Exit("a key with this kid already exists, retry", exitInternal)
	}
	keySet[kid] = hex.EncodeToString(secret)

	encoded, err := json.MarshalIndent(keySet, "", "  ")
	if err != nil {
		return cli.Exit(err, exitInternal)
	}
	if err := os.WriteFile(path, encoded, 0600); err != nil {
		return cli.Exit(err, exitInternal)
	}
	fmt.Printf("added signing key %s to %s\n", kid, path)
	return nil
}

func closeDB(d db.Database) {
	if err := d.Close(); err != nil {
		log.WithError(err).Error("Could not close metadata store")
	}
}
