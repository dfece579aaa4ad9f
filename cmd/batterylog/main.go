package main

import (
	"fmt"
	"os"

	"github.com/TheCacophonyProject/batterylog/internal/server"
	"github.com/TheCacophonyProject/batterylog/internal/viewer"
	"github.com/TheCacophonyProject/batterylog/logging"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

var version = "<not set>"

func runMain() error {
	log = logging.NewLogger("info")
	if len(os.Args) < 2 {
		log.Info("Usage: batterylog <server|viewer> [args]")
		return fmt.Errorf("no subcommand given")
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	var err error
	switch subcommand {
	case "server":
		err = server.Run(args, version)
	case "viewer":
		err = viewer.Run(args, version)
	default:
		err = fmt.Errorf("unknown subcommand: %s", subcommand)
	}

	return err
}
