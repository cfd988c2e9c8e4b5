// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Command taskqueuectl is a producer-side CLI for a restserver: create,
// inspect, cancel, and delete jobs over HTTP, in the spirit of the
// teacher's cptest and coordbench command-line tools.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/taskqueue/taskqueue/restclient"
)

func newClient(c *cli.Context) *restclient.Client {
	cl := restclient.New(c.GlobalString("server"))
	if secret := c.GlobalString("auth-secret"); secret != "" {
		cl.AuthSecret = []byte(secret)
	}
	return cl
}

func printJob(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	app := cli.NewApp()
	app.Name = "taskqueuectl"
	app.Usage = "inspect and drive a taskqueued REST server"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "server", Value: "http://localhost:8080", Usage: "base URL of the REST server"},
		cli.StringFlag{Name: "auth-secret", Value: "", Usage: "shared secret for signed requests"},
	}
	app.Commands = []cli.Command{
		{
			Name:      "create",
			Usage:     "create a new job",
			ArgsUsage: "<tag>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "args", Value: "{}", Usage: "job args as a JSON object"},
				cli.DurationFlag{Name: "delay", Usage: "delay before the job becomes acquirable"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return cli.NewExitError("usage: taskqueuectl create <tag>", 1)
				}
				var args map[string]interface{}
				if err := json.Unmarshal([]byte(c.String("args")), &args); err != nil {
					return cli.NewExitError(fmt.Sprintf("invalid --args: %v", err), 1)
				}
				cl := newClient(c)
				var runAt time.Time
				if d := c.Duration("delay"); d > 0 {
					runAt = time.Now().Add(d)
				}
				job, err := cl.CreateJob(context.Background(), cl.CreateJobID(), c.Args().First(), args, runAt)
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return printJob(job)
			},
		},
		{
			Name:      "get",
			Usage:     "fetch a job by id",
			ArgsUsage: "<id>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return cli.NewExitError("usage: taskqueuectl get <id>", 1)
				}
				job, err := newClient(c).GetJob(context.Background(), c.Args().First())
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				if job == nil {
					return cli.NewExitError("no such job", 1)
				}
				return printJob(job)
			},
		},
		{
			Name:      "cancel",
			Usage:     "cancel a job",
			ArgsUsage: "<id> <version>",
			Action: func(c *cli.Context) error {
				id, version, err := idAndVersion(c)
				if err != nil {
					return err
				}
				job, err := newClient(c).CancelJob(context.Background(), id, version)
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return printJob(job)
			},
		},
		{
			Name:      "delete",
			Usage:     "delete a job",
			ArgsUsage: "<id> <version>",
			Action: func(c *cli.Context) error {
				id, version, err := idAndVersion(c)
				if err != nil {
					return err
				}
				if err := newClient(c).DeleteJob(context.Background(), id, version); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func idAndVersion(c *cli.Context) (string, int, error) {
	if c.NArg() != 2 {
		return "", 0, cli.NewExitError(fmt.Sprintf("usage: taskqueuectl %s <id> <version>", c.Command.Name), 1)
	}
	var version int
	if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &version); err != nil {
		return "", 0, cli.NewExitError("version must be an integer", 1)
	}
	return c.Args().Get(0), version, nil
}
