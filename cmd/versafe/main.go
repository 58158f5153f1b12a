// Package main defines the VerSafe node binary. The node anchors
// document fingerprints on a permissioned ledger, drives the signing
// workflow and serves the HTTP API.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/versafe/versafe/cmd/versafe/flags"
	"github.com/versafe/versafe/node"
	"github.com/versafe/versafe/runtime/version"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var log = logrus.WithField("prefix", "main")

func startNode(cliCtx *cli.Context) error {
	n, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	n.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "versafe"
	app.Usage = "document integrity node: content-addressed storage, multi-party signing and ledger-anchored verification"
	app.Version = version.SemanticVersion()
	app.Flags = flags.NodeFlags
	app.Action = startNode
	app.Before = func(ctx *cli.Context) error {
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		logrus.SetFormatter(formatter)

		level, err := logrus.ParseLevel(ctx.String(flags.VerbosityFlag.Name))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
