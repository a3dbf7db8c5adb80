// mbnode runs one node of the medical record bridge. It uses *onet* as a
// network and overlay library; the bridge service is registered through its
// import. First set up a config file for the server by using:
//
// 	./mbnode setup
//
// Then you can launch the daemon with:
//
// 	./mbnode
package main

import (
	"os"
	"path"

	"github.com/medchain/medbridge"
	_ "github.com/medchain/medbridge/service"
	"go.dedis.ch/onet/v3/app"
	"go.dedis.ch/onet/v3/cfgpath"
	"go.dedis.ch/onet/v3/log"
	cli "gopkg.in/urfave/cli.v1"
)

const (
	// DefaultName is the name of the binary we produce and is used to
	// create a directory folder with this name
	DefaultName = "mbnode"

	// Version of this binary
	Version = "0.1"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = DefaultName
	cliApp.Usage = "run a medical record bridge node"
	cliApp.Version = Version
	serverFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: path.Join(cfgpath.GetConfigPath(DefaultName), app.DefaultServerConfig),
			Usage: "configuration file of the server",
		},
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
	}

	cliApp.Commands = []cli.Command{
		{
			Name:    "setup",
			Aliases: []string{"s"},
			Usage:   "Setup server configuration (interactive)",
			Action: func(c *cli.Context) error {
				if c.String("config") != "" {
					log.Fatal("[-] Configuration file option cannot be used for the 'setup' command")
				}
				if c.String("debug") != "" {
					log.Fatal("[-] Debug option cannot be used for the 'setup' command")
				}
				app.InteractiveConfig(medbridge.Suite, DefaultName)
				return nil
			},
		},
		{
			Name:  "server",
			Usage: "Start bridge node",
			Action: func(c *cli.Context) error {
				runServer(c)
				return nil
			},
			Flags: serverFlags,
		},
	}
	cliApp.Flags = serverFlags
	cliApp.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
	// default action
	cliApp.Action = func(c *cli.Context) error {
		runServer(c)
		return nil
	}

	err := cliApp.Run(os.Args)
	log.ErrFatal(err)
}

func runServer(ctx *cli.Context) {
	config := ctx.String("config")
	app.RunServer(config)
}
