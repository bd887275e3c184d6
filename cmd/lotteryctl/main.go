// Command lotteryctl runs maintenance tasks against the lottery database:
// one-off prune cycles, inventory seeding and order review from a shell.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/iliyamo/lottery-ticket-reservation/internal/database"
	"github.com/iliyamo/lottery-ticket-reservation/internal/logging"
	"github.com/iliyamo/lottery-ticket-reservation/internal/repository"
	"github.com/iliyamo/lottery-ticket-reservation/internal/service"
)

func dbFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "db-user", EnvVars: []string{"DB_USER"}, Value: "root"},
		&cli.StringFlag{Name: "db-pass", EnvVars: []string{"DB_PASS"}},
		&cli.StringFlag{Name: "db-host", EnvVars: []string{"DB_HOST"}, Value: "127.0.0.1"},
		&cli.StringFlag{Name: "db-port", EnvVars: []string{"DB_PORT"}, Value: "3306"},
		&cli.StringFlag{Name: "db-name", EnvVars: []string{"DB_NAME"}, Value: "lottery"},
		&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Value: "info"},
		&cli.BoolFlag{Name: "no-migrate", Usage: "skip creating missing tables"},
	}
}

// openStore connects and returns a store; close must be called when done.
func openStore(c *cli.Context) (*repository.MySQLStore, func(), error) {
	logging.Init(c.String("log-level"), "text")
	db, err := database.Open(c.String("db-user"), c.String("db-pass"), c.String("db-host"), c.String("db-port"), c.String("db-name"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if !c.Bool("no-migrate") {
		if err := database.EnsureSchema(c.Context, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("schema: %w", err)
		}
	}
	return repository.NewMySQLStore(db), func() { _ = db.Close() }, nil
}

func withManager(fn func(c *cli.Context, m *service.OrderManager) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		store, closeFn, err := openStore(c)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(c, service.NewOrderManager(store, service.Options{}))
	}
}

func report(out service.Outcome, err error) error {
	if err != nil {
		return cli.Exit(service.Message(err)+": "+err.Error(), 1)
	}
	fmt.Println(out.Message)
	return nil
}

func main() {
	app := &cli.App{
		Name:  "lotteryctl",
		Usage: "Operate the lottery ticket store",
		Flags: dbFlags(),
		Commands: []*cli.Command{
			{
				Name:  "prune",
				Usage: "run one expiry and ghost-order sweep",
				Action: func(c *cli.Context) error {
					store, closeFn, err := openStore(c)
					if err != nil {
						return err
					}
					defer closeFn()
					rep, err := service.NewPruner(store, 0, nil, nil).PruneOnce(c.Context)
					if err != nil {
						return err
					}
					fmt.Printf("reclaimed %d ticket(s), deleted %d order(s), %d failure(s)\n",
						len(rep.Reclaimed), len(rep.GhostsDeleted), rep.Failed)
					return nil
				},
			},
			{
				Name:  "seed",
				Usage: "add available tickets",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "code", Required: true, Usage: "ticket code, repeatable or comma separated"},
				},
				Action: withManager(func(c *cli.Context, m *service.OrderManager) error {
					var codes []string
					for _, v := range c.StringSlice("code") {
						codes = append(codes, strings.Split(v, ",")...)
					}
					return report(m.AddTickets(c.Context, codes))
				}),
			},
			{
				Name:  "confirm",
				Usage: "confirm a submitted order",
				Flags: []cli.Flag{&cli.Uint64Flag{Name: "order", Required: true}},
				Action: withManager(func(c *cli.Context, m *service.OrderManager) error {
					return report(m.AdminConfirm(c.Context, c.Uint64("order")))
				}),
			},
			{
				Name:  "cancel",
				Usage: "cancel a submitted order and release its tickets",
				Flags: []cli.Flag{&cli.Uint64Flag{Name: "order", Required: true}},
				Action: withManager(func(c *cli.Context, m *service.OrderManager) error {
					return report(m.AdminCancel(c.Context, c.Uint64("order")))
				}),
			},
			{
				Name:  "note",
				Usage: "set the note of a ticket",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Required: true},
					&cli.StringFlag{Name: "text", Required: true},
				},
				Action: withManager(func(c *cli.Context, m *service.OrderManager) error {
					return report(m.EditNote(c.Context, c.String("code"), c.String("text")))
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
