// JexAgent CLI — инструмент командной строки для управления
// задачами и квотой через HTTP API.
//
// Использование:
//
//	jexagent [--api-url URL] [--user UUID] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	task   Управление задачами
//	quota  Состояние дневной квоты
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deloog/jexagent-backend/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var userID string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "jexagent",
		Short:         "JexAgent CLI — task admission and progress tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("JEXAGENT_USER_ID"), "User ID (UUID), default $JEXAGENT_USER_ID")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL, userID) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewQuotaCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
