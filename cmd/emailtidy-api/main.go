package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"email-tidy-go/internal/app"
)

func main() {
	flags := pflag.NewFlagSet("emailtidy-api", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to config file (default: ./config.yaml or ./config/config.yaml)")
	_ = flags.Parse(os.Args[1:])

	if err := app.Run(*configPath); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}
