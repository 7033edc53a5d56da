// Command simulate runs a headless game for a fixed number of ticks and
// prints the outcome as tables.
//
//	go run ./cmd/simulate --ticks 60 --seed 7 --open ETH:LONG:1000:3 --close-after 30
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ecosim/perps-engine/internal/config"
	"github.com/ecosim/perps-engine/internal/sim"
)

var rootCmd = &cobra.Command{
	Use:           "simulate",
	Short:         "Run a seeded eco-sim game without the HTTP surface",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ticks, err := cmd.Flags().GetInt("ticks")
		if err != nil {
			return err
		}
		seed, err := cmd.Flags().GetInt64("seed")
		if err != nil {
			return err
		}
		opens, err := cmd.Flags().GetStringArray("open")
		if err != nil {
			return err
		}
		closeAfter, err := cmd.Flags().GetInt("close-after")
		if err != nil {
			return err
		}
		csvPath, err := cmd.Flags().GetString("journal-csv")
		if err != nil {
			return err
		}
		envFile, err := cmd.Flags().GetString("env-file")
		if err != nil {
			return err
		}

		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

		engineCfg, err := cfg.Engine()
		if err != nil {
			return err
		}

		reqs := make([]sim.OpenRequest, 0, len(opens))
		for _, s := range opens {
			req, err := parseOpen(s)
			if err != nil {
				return err
			}
			reqs = append(reqs, req)
		}

		if seed == 0 {
			seed = cfg.Seed
		}
		return Run(cmd.OutOrStdout(), RunArgs{
			Engine:     engineCfg,
			Seed:       seed,
			Ticks:      ticks,
			Opens:      reqs,
			CloseAfter: closeAfter,
			JournalCSV: csvPath,
		})
	},
}

func init() {
	rootCmd.Flags().Int("ticks", 30, "number of market ticks to run")
	rootCmd.Flags().Int64("seed", 0, "random seed (0: SEED from the environment, else the clock)")
	rootCmd.Flags().StringArray("open", nil, "position to open before the first tick, SYMBOL:DIRECTION:AMOUNT:LEVERAGE (repeatable)")
	rootCmd.Flags().Int("close-after", 0, "close every open position after this many ticks (0: never)")
	rootCmd.Flags().String("journal-csv", "", "write the journal to this CSV file")
	rootCmd.Flags().String("env-file", config.DefaultEnvFile, "dotenv file to load before the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "simulate:", err)
		os.Exit(1)
	}
}
