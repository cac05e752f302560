package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/NathanMulbrook/netfuzz/pkg/engine"
	"github.com/NathanMulbrook/netfuzz/pkg/harness"
)

var fuzzHost string
var fuzzPort int
var fuzzCorpus string
var fuzzMaxLen int
var fuzzLenControl int
var fuzzDict string
var fuzzWorkers int
var fuzzDetectLeaks bool

// fuzzCmd represents the fuzz command
var fuzzCmd = &cobra.Command{
	Use:   "fuzz",
	Short: "Fuzz a network service",
	Long: `Launches the fuzzing run against the target endpoint and keeps it
going until interrupted. Every generated case travels over its own TCP
connection; connection errors are counted but never stop the run.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := harness.DefaultConfig()
		if cmd.Flags().Changed("host") {
			cfg.Target.Host = fuzzHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Target.Port = fuzzPort
		}
		if cmd.Flags().Changed("workers") {
			cfg.Workers = fuzzWorkers
		}

		opts := harness.DefaultEngineOptions()
		if cmd.Flags().Changed("corpus") {
			opts.CorpusDir = fuzzCorpus
		}
		if cmd.Flags().Changed("max-len") {
			opts.MaxLen = fuzzMaxLen
		}
		if cmd.Flags().Changed("len-control") {
			opts.LenControl = fuzzLenControl
		}
		if cmd.Flags().Changed("dict") {
			opts.Dict = fuzzDict
		}
		if cmd.Flags().Changed("detect-leaks") {
			opts.DetectLeaks = fuzzDetectLeaks
		}

		launcher := harness.NewLauncher(cfg, engine.NewMutationEngine(), opts)
		run := launcher.Launch()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Stopping fuzzing run")
			run.Stop()
			if err := run.Wait(); err != nil {
				log.Error().Err(err).Msg("Fuzzing run ended with error")
				os.Exit(1)
			}
		case <-run.Done():
			if err := run.Err(); err != nil {
				log.Error().Err(err).Msg("Fuzzing run ended with error")
				os.Exit(1)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(fuzzCmd)

	fuzzCmd.Flags().StringVar(&fuzzHost, "host", "::1", "Target host")
	fuzzCmd.Flags().IntVar(&fuzzPort, "port", 5555, "Target port")
	fuzzCmd.Flags().StringVar(&fuzzCorpus, "corpus", "corpus", "Corpus directory")
	fuzzCmd.Flags().IntVar(&fuzzMaxLen, "max-len", 60000, "Maximum case length in bytes")
	fuzzCmd.Flags().IntVar(&fuzzLenControl, "len-control", 20, "Case length growth bias, 0 disables the ramp")
	fuzzCmd.Flags().StringVar(&fuzzDict, "dict", "", "Token dictionary file")
	fuzzCmd.Flags().IntVar(&fuzzWorkers, "workers", 1, "Concurrent delivery workers")
	fuzzCmd.Flags().BoolVar(&fuzzDetectLeaks, "detect-leaks", false, "Enable goroutine leak checks between cases")
}
