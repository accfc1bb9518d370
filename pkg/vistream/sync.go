package vistream

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/vistream/vistream/internal/artifacts"
	"github.com/vistream/vistream/internal/backends/local"
	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/runconfig"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/wandb/simplejsonext"
)

// maxHistoryLine bounds a single history row during sync. Rows are
// small; anything bigger is a corrupt file.
const maxHistoryLine = 16 * 1024 * 1024

// SyncParams configures a run-directory replay.
type SyncParams struct {
	// RunDir is the local run directory to replay.
	RunDir string

	// Config selects the backends to replay into.
	Config *Config

	// Settings for the replay. Nil means defaults.
	Settings *settings.Settings

	// ArtifactsTo, if set, is a local or cloud destination to upload
	// the run directory's files to after the replay. See
	// artifacts.ParsePath for the accepted formats.
	ArtifactsTo string
}

// SyncRun replays a finished run's local files through the configured
// network backends.
//
// It reads the directory the LocalVisBackend wrote and forwards the
// config, every history row, and the final exit code. The local and
// TensorBoard backends are skipped: their output already exists on
// disk.
func SyncRun(params SyncParams) error {
	runSettings := params.Settings
	if runSettings == nil {
		runSettings = &settings.Settings{}
	}
	runSettings.Ensure()
	if runSettings.Offline {
		return fmt.Errorf("vistream: cannot sync in offline mode")
	}

	run, exitCode, err := readRunMetadata(params.RunDir)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(
		slog.New(slog.NewTextHandler(os.Stderr, nil)),
		&observability.LoggerParams{
			Tags: observability.Tags{"run_id": run.ID},
		},
	)
	printer := observability.NewPrinter()

	backendParams := visbackend.Params{
		Logger:   logger,
		Printer:  printer,
		Settings: runSettings,
		FS:       afero.NewOsFs(),
	}

	var backends []visbackend.Backend
	for _, entry := range params.Config.VisBackends {
		switch entry.Type {
		case "LocalVisBackend", "TensorboardVisBackend":
			continue
		}

		backend, err := newBackend(backendParams, entry)
		if err != nil {
			return err
		}
		backends = append(backends, backend)
	}
	if len(backends) == 0 {
		return fmt.Errorf("vistream: no network backends to sync to")
	}

	for _, backend := range backends {
		if err := backend.Start(run); err != nil {
			return fmt.Errorf(
				"vistream: %s failed to start: %v", backend.Name(), err)
		}
	}

	v := &Visualizer{
		run:      run,
		backends: backends,
		logger:   logger,
		printer:  printer,
	}

	if err := syncConfig(v, params.RunDir); err != nil {
		return err
	}
	rows, err := syncHistory(v, params.RunDir)
	if err != nil {
		return err
	}

	v.Finish(exitCode)

	fmt.Printf("Synced %d history rows from %s.\n", rows, params.RunDir)

	if params.ArtifactsTo != "" {
		if err := syncArtifacts(logger, run, params); err != nil {
			return err
		}
	}

	return nil
}

// syncArtifacts uploads the run directory's files to the configured
// artifact destination, under a per-run prefix.
func syncArtifacts(
	logger *observability.Logger,
	run *visbackend.Run,
	params SyncParams,
) error {
	ctx := context.Background()

	path, err := artifacts.ParsePath(params.ArtifactsTo)
	if err != nil {
		return err
	}
	bucket, err := path.Bucket(ctx)
	if err != nil {
		return err
	}

	store, err := artifacts.NewStore(bucket, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	uploads, err := store.SaveDir(ctx, "run-"+run.ID, params.RunDir)
	if err != nil {
		return err
	}

	fmt.Printf("Uploaded %d files to %s.\n", uploads, params.ArtifactsTo)
	return nil
}

// readRunMetadata reads the run identity and exit code recorded by
// the local backend.
func readRunMetadata(runDir string) (*visbackend.Run, int32, error) {
	data, err := os.ReadFile(filepath.Join(runDir, local.MetadataFileName))
	if err != nil {
		return nil, 0, fmt.Errorf(
			"vistream: not a run directory, no metadata: %v", err)
	}

	metadata, err := simplejsonext.UnmarshalObject(data)
	if err != nil {
		return nil, 0, fmt.Errorf("vistream: bad run metadata: %v", err)
	}

	run := &visbackend.Run{
		ID:      metaString(metadata, "run_id"),
		Project: metaString(metadata, "project"),
		Name:    metaString(metadata, "name"),
	}
	if run.ID == "" {
		return nil, 0, fmt.Errorf("vistream: run metadata has no run_id")
	}

	run.StartTime, _ = time.Parse(
		time.RFC3339, metaString(metadata, "start_time"))

	exitCode := int32(0)
	switch code := metadata["exit_code"].(type) {
	case int64:
		exitCode = int32(code)
	case float64:
		exitCode = int32(code)
	}

	return run, exitCode, nil
}

func metaString(metadata map[string]any, key string) string {
	value, _ := metadata[key].(string)
	return value
}

func syncConfig(v *Visualizer, runDir string) error {
	data, err := os.ReadFile(filepath.Join(runDir, local.ConfigFileName))
	if os.IsNotExist(err) {
		// The run never logged a config.
		return nil
	}
	if err != nil {
		return fmt.Errorf("vistream: failed to read config: %v", err)
	}

	tree, err := runconfig.Deserialize(data, runconfig.FormatYaml)
	if err != nil {
		return err
	}

	return v.LogConfig(tree)
}

func syncHistory(v *Visualizer, runDir string) (int, error) {
	file, err := os.Open(filepath.Join(runDir, local.HistoryFileName))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vistream: failed to open history: %v", err)
	}
	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxHistoryLine)

	rows := 0
	for scanner.Scan() {
		tree, err := simplejsonext.UnmarshalObjectString(scanner.Text())
		if err != nil {
			v.logger.CaptureError(
				fmt.Errorf("vistream: skipping bad history row: %v", err))
			continue
		}

		if err := v.logHistory(runhistory.NewFrom(tree)); err != nil {
			return rows, err
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return rows, fmt.Errorf("vistream: failed to read history: %v", err)
	}

	return rows, nil
}
