// Command userctl calls the directory's UserService over RPC.
//
//	userctl list
//	userctl get 1
//	userctl create "Alice Williams" alice@example.com 28
//	userctl demo
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "userctl"
	app.Usage = "query and update the user directory"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "addr",
			Value:  "localhost:50051",
			Usage:  "directory RPC address",
			EnvVar: "USERCTL_ADDR",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: 5 * time.Second,
			Usage: "deadline for each call",
		},
		cli.StringFlag{
			Name:  "codec",
			Value: "json",
			Usage: "wire codec: json or binary",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "list",
			Usage:  "list every user",
			Action: listCommand,
		},
		{
			Name:      "get",
			Usage:     "show one user",
			ArgsUsage: "<user_id>",
			Action:    getCommand,
		},
		{
			Name:      "create",
			Usage:     "create a user",
			ArgsUsage: "<name> <email> <age>",
			Action:    createCommand,
		},
		{
			Name:   "demo",
			Usage:  "list, create a sample user, get by id, get a missing id, list again",
			Action: demoCommand,
		},
	}
	return app
}
