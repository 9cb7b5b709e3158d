package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"rektbot/cmd/admin"
	"rektbot/cmd/bot"
	"rektbot/src/auth"
)

var Version string

func main() {
	// environment variables already set win over .env
	envErr := godotenv.Load()

	logConfig := GetLogConfig()
	logFile, err := SetupLogger(logConfig)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()
	defer handlePanic(logConfig.AppName)

	if envErr != nil && !os.IsNotExist(envErr) {
		logrus.WithError(envErr).Warn("failed to load .env")
	}

	app := cli.NewApp()
	app.Name = "rektbot"
	app.Usage = "Leveraged futures positions for Nostr users, paid over Lightning"
	app.Version = Version

	app.Commands = []cli.Command{
		botCMD,
		ordersCMD,
		resolveWithdrawalCMD,
		hashTokenCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		_ = logFile.Close()
		os.Exit(1)
	}
}

var (
	botCMD = cli.Command{
		Name:        "bot",
		Usage:       "run the bot",
		Action:      botAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the order lifecycle engine, the Nostr listener and the admin API`,
	}
	ordersCMD = cli.Command{
		Name:      "orders",
		Usage:     "dump orders as JSON",
		Action:    ordersAction,
		ArgsUsage: "[status...]",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "owner", Usage: "only orders of this owner"},
		},
		Description: `Print the orders in the given statuses (all when none) from the read-only database`,
	}
	resolveWithdrawalCMD = cli.Command{
		Name:      "resolve-withdrawal",
		Usage:     "settle a payout interrupted by a restart",
		Action:    resolveWithdrawalAction,
		ArgsUsage: "<withdrawal id>",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "server", Value: "http://127.0.0.1:9898", Usage: "admin API base URL"},
			cli.StringFlag{Name: "token", EnvVar: "ADMIN_TOKEN", Usage: "admin bearer token"},
			cli.BoolFlag{Name: "paid", Usage: "the venue shows the payout as sent"},
		},
		Description: `Mark an interrupted withdrawal as paid (--paid) or failed on the running bot`,
	}
	hashTokenCMD = cli.Command{
		Name:        "hash-token",
		Usage:       "print the ADMIN_TOKEN_HASH for a token",
		Action:      hashTokenAction,
		ArgsUsage:   "<token>",
		Description: `Hash an admin token with bcrypt`,
	}
)

func botAction(_ *cli.Context) error {
	logrus.Info("Starting bot CMD")

	b := &bot.Bot{Log: logrus.WithField("cmd", "bot")}
	if err := b.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func ordersAction(c *cli.Context) error {
	return admin.DumpOrdersCMD(os.Stdout, c.String("owner"), c.Args())
}

func resolveWithdrawalAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("expected exactly one withdrawal id", 2)
	}
	return admin.ResolveWithdrawal(c.String("server"), c.String("token"), c.Args().First(), c.Bool("paid"))
}

func hashTokenAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("expected exactly one token", 2)
	}
	hash, err := auth.HashToken(c.Args().First())
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
