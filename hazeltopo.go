package main

import (
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"hazeltopo/api"
	"hazeltopo/client"
	"hazeltopo/logging"
	"hazeltopo/report"
	"hazeltopo/scenario"
	"hazeltopo/status"
	"os"
	"os/signal"
	"syscall"
)

var (
	configFilePath     string
	useUnisocketClient bool
	onlyScenarios      string
	apiPort            int
)

var errScenariosFailed = errors.New("at least one scenario outcome failed")

var lp *logging.LogProvider

var rootCmd = &cobra.Command{
	Use:   "hazeltopo",
	Short: "Partition topology verification harness",
	Long: "hazeltopo loads datasets into a data grid, changes the grid's topology, and verifies partition " +
		"distribution and data accessibility before and after each change.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return client.ParseConfigs(map[string]any{
			client.ArgConfigFilePath:     configFilePath,
			client.ArgUseUniSocketClient: useUnisocketClient,
			client.ArgOnlyScenarios:      onlyScenarios,
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the enabled scenarios against the configured grid",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the outcome names the enabled scenarios record",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := scenario.PopulateSettings(client.DefaultConfigPropertyAssigner{})
		if err != nil {
			return err
		}
		// both capabilities assumed, the backend is not connected for listing
		scenarios, err := scenario.Catalog(settings, scenario.Capabilities{SQL: true, Quorum: true, Ownership: true})
		if err != nil {
			return err
		}
		for _, s := range scenario.Filter(scenarios, onlyScenarios) {
			for _, o := range s.Outcomes {
				fmt.Fprintln(cmd.OutOrStdout(), o)
			}
		}
		return nil
	},
}

func init() {

	lp = &logging.LogProvider{ClientID: client.ID()}

	rootCmd.PersistentFlags().StringVar(&configFilePath, client.ArgConfigFilePath, "defaultConfig.yaml", "path to a config file overriding the built-in defaults")
	rootCmd.PersistentFlags().BoolVar(&useUnisocketClient, client.ArgUseUniSocketClient, false, "connect the grid client to a single member only")
	rootCmd.PersistentFlags().StringVar(&onlyScenarios, client.ArgOnlyScenarios, "", "only run scenarios recording an outcome with this name prefix")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scenariosCmd)

}

func main() {

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

}

func run(ctx context.Context) error {

	a := client.DefaultConfigPropertyAssigner{}

	if err := a.Assign("api.port", client.ValidateInt, func(v any) {
		apiPort = v.(int)
	}); err != nil {
		return err
	}
	server := api.Expose(apiPort)
	defer func() {
		if err := server.Shutdown(context.Background()); err != nil {
			lp.LogApiEvent(fmt.Sprintf("unable to shut down api server: %v", err), log.WarnLevel)
		}
	}()

	gc, err := populateGridConfig(a)
	if err != nil {
		return err
	}
	settings, err := scenario.PopulateSettings(a)
	if err != nil {
		return err
	}

	backend, controller, err := connect(ctx, gc, a)
	if err != nil {
		return err
	}
	defer func() {
		if err := controller.Close(context.Background()); err != nil {
			lp.LogClusterEvent(fmt.Sprintf("unable to release ad-hoc members: %v", err), log.WarnLevel)
		}
		if err := backend.Shutdown(context.Background()); err != nil {
			lp.LogGridEvent(fmt.Sprintf("unable to shut down grid backend: %v", err), log.WarnLevel)
		}
	}()

	caps := scenario.CapabilitiesOf(backend)
	if !caps.Ownership {
		lp.LogGridEvent("grid backend does not expose partition owners, leaving out partition distribution families", log.WarnLevel)
	}
	scenarios, err := scenario.Catalog(settings, caps)
	if err != nil {
		return err
	}
	scenarios = scenario.Filter(scenarios, onlyScenarios)

	progress := status.NewGatherer()
	outcomes := status.NewGatherer()
	api.RegisterStatusSource("progress", progress.AssembleStatusCopy)
	api.RegisterStatusSource("outcomes", outcomes.AssembleStatusCopy)

	listening := make(chan struct{})
	go func() {
		progress.Listen()
		close(listening)
	}()

	memory := &report.MemoryRecorder{}
	recorder := report.Multi(report.LoggingRecorder{}, report.NewStatusRecorder(outcomes), memory)

	api.RaiseReady()
	scenario.NewRunner(&scenario.Env{Backend: backend, Controller: controller, Settings: settings}, recorder, progress).Run(ctx, scenarios)
	progress.StopListen()
	<-listening

	recorded := memory.Outcomes()
	failed := memory.NumFailed()
	lp.LogScenarioEvent("run", fmt.Sprintf("recorded %d outcome(s), %d failed", len(recorded), failed), log.InfoLevel)
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errScenariosFailed, failed, len(recorded))
	}

	return nil

}
