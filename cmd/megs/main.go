// megs — командная строка конвейера таксономической классификации.
//
// Использование:
//
//	megs [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	run        Локальный запуск kaiju → kaiju2table / kaiju2krona → ktImportText
//	plan       DAG шагов для заданных параметров
//	preflight  Проверка FASTQ-файлов образцов
//	presets    Готовые наборы параметров
//	submit     Отправка run в API
//	runs       Управление runs через API
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/megs/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "megs",
		Short:         "megs — Kaiju taxonomic classification of metagenomic reads",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewLocalRunCmd(outputFn),
		cli.NewPlanCmd(outputFn),
		cli.NewPreflightCmd(outputFn),
		cli.NewPresetsCmd(outputFn),
		cli.NewSubmitCmd(clientFn, outputFn),
		cli.NewRunsCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
