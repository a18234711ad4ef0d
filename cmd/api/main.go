package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/spec-kit/support-inbox/internal/domain"
)

func main() {
	app := &cli.App{
		Name:   "api",
		Usage:  "support inbox: email threading and ticket automation",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, the job runtime and the automation schedule",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply schema and job queue migrations, then exit",
				Action: migrate,
			},
			{
				Name:  "automation",
				Usage: "automation jobs",
				Subcommands: []*cli.Command{
					{
						Name:  "run",
						Usage: "run one automation job synchronously",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "job",
								Usage:    "inbox_poll, reminders, auto_close, escalation or sla_breach",
								Required: true,
							},
							&cli.Int64Flag{
								Name:  "shop",
								Usage: "limit the run to one shop id (0 runs every shop)",
							},
						},
						Action: runAutomation,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func parseJob(raw string) (domain.JobName, error) {
	job := domain.JobName(raw)
	if !job.Valid() {
		return "", fmt.Errorf("unknown job %q", raw)
	}
	return job, nil
}
