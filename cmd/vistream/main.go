// Command vistream syncs locally recorded runs and TensorBoard log
// directories to configured experiment-tracking backends.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/tbsync"
	"github.com/vistream/vistream/pkg/vistream"
)

// version is stamped at build time.
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vistream",
		Short:         "Stream training runs to experiment-tracking backends",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(
		&configPath, "config", "c", "vistream.yaml",
		"path to the visualizer config file")

	root.AddCommand(newSyncCommand(&configPath))
	root.AddCommand(newTBSyncCommand(&configPath))

	return root
}

func newSyncCommand(configPath *string) *cobra.Command {
	var artifactsTo string

	cmd := &cobra.Command{
		Use:   "sync <run-dir>",
		Short: "Replay a local run directory through the network backends",
		Long: "Replay the files written by a run's local backend " +
			"(history, config, exit code) through the network backends " +
			"in the config. Use this to recover a run whose live upload " +
			"failed, or to upload a run that was recorded offline.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := vistream.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			return vistream.SyncRun(vistream.SyncParams{
				RunDir:      args[0],
				Config:      config,
				ArtifactsTo: artifactsTo,
			})
		},
	}
	cmd.Flags().StringVar(
		&artifactsTo, "artifacts", "",
		"also upload the run directory's files to this destination "+
			"(a local path, s3://, gs:// or az:// URL)")

	return cmd
}

func newTBSyncCommand(configPath *string) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "tbsync <logdir>",
		Short: "Tail a TensorBoard log directory into the backends",
		Long: "Watch a TensorBoard log directory and forward its scalar " +
			"summaries to every backend in the config, live. Stops on " +
			"interrupt, flushing all backends first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := vistream.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			v, err := vistream.Init(vistream.InitParams{
				Config: config,
				Settings: &settings.Settings{
					Project: project,

					// The trainer's own process is not ours to measure.
					DisableStats: true,
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(
				cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Watching %s; press Ctrl-C to stop.\n", args[0])
			err = tbsync.New(tbsync.Params{
				LogDir: args[0],
				Target: v,
				Logger: v.Logger(),
			}).Run(ctx)

			exitCode := int32(0)
			if err != nil {
				exitCode = 1
			}
			v.Finish(exitCode)
			return err
		},
	}
	cmd.Flags().StringVar(
		&project, "project", "", "project to log the run under")

	return cmd
}
