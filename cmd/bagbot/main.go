// Command bagbot runs the bagging accumulation bot.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"

	"bagging-bot/internal/cli"
	"bagging-bot/internal/logging"
)

func main() {
	// Bootstrap logger until the config's [log] section is loaded.
	bootstrap := logging.DefaultLogConfig()
	bootstrap.File = false
	logger := logging.NewLoggerWithConfig(bootstrap)

	rootCmd := cli.NewRootCmd(logger)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}
