// Package neptune streams run data to Neptune.
//
// Recognized init_kwargs: "project", "api_token", "base_url". They
// may also come from the NEPTUNE_PROJECT and NEPTUNE_API_TOKEN
// environment variables. Without credentials, or when the run itself
// is offline, the backend switches to offline mode and records
// operations under a local hidden .neptune directory, like the
// Neptune client does.
package neptune

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/vistream/vistream/internal/pathtree"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/uplink"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/vistream/vistream/internal/visvalue"
	"github.com/wandb/simplejsonext"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://app.neptune.ai"
	offlineDirName   = ".neptune"
	transmitInterval = rate.Limit(1.0 / 10)
)

// Backend records attribute operations for a Neptune run, either
// uploading them or appending them to an offline operations log.
type Backend struct {
	params visbackend.Params
	config visbackend.Config

	project  string
	apiToken string
	baseURL  string

	// offline is set when no credentials are available or the run is
	// globally offline.
	offline     bool
	offlineFile afero.File

	link *uplink.Uplink
}

func New(params visbackend.Params, config visbackend.Config) *Backend {
	project := config.KwargString("project")
	if project == "" {
		project = settings.EnvOr("NEPTUNE_PROJECT", params.Settings.Project)
	}

	apiToken := config.KwargString("api_token")
	if apiToken == "" {
		apiToken = settings.EnvOr("NEPTUNE_API_TOKEN", "")
	}

	baseURL := config.KwargString("base_url")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Backend{
		params:   params,
		config:   config,
		project:  project,
		apiToken: apiToken,
		baseURL:  baseURL,
		offline:  apiToken == "" || params.Settings.Offline,
	}
}

func (b *Backend) Name() string { return "NeptuneVisBackend" }

// IsOffline reports whether the backend records operations locally
// instead of uploading them.
func (b *Backend) IsOffline() bool { return b.offline }

func (b *Backend) Start(run *visbackend.Run) error {
	if b.offline {
		return b.startOffline(run)
	}
	return b.startOnline(run)
}

func (b *Backend) startOffline(run *visbackend.Run) error {
	dir := filepath.Join(offlineDirName, "offline", "run__"+run.ID)
	if err := b.params.FS.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("neptune: failed to create offline dir: %v", err)
	}

	file, err := b.params.FS.OpenFile(
		filepath.Join(dir, "operations.jsonl"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644,
	)
	if err != nil {
		return fmt.Errorf("neptune: failed to open operations log: %v", err)
	}
	b.offlineFile = file

	if b.params.Printer != nil {
		b.params.Printer.Writef(
			"Neptune: running in offline mode (%s)", dir)
	}

	return nil
}

func (b *Backend) startOnline(run *visbackend.Run) error {
	sender, err := newSender(
		b.baseURL, b.apiToken, b.project, run, b.params.Logger)
	if err != nil {
		return err
	}

	b.link = uplink.New(uplink.Params{
		Sender:            sender,
		Logger:            b.params.Logger,
		Printer:           b.params.Printer,
		TransmitRateLimit: rate.NewLimiter(transmitInterval, 1),
	})
	b.link.Start()

	return nil
}

func (b *Backend) LogConfig(config pathtree.TreeData) error {
	for _, item := range pathtree.NewFrom(config).Flatten() {
		op := operation{
			Attribute: "config/" + joinPath(item.Path),
			Op:        "assign",
			Value:     item.Value,
		}
		if err := b.record(op); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) LogHistory(history *runhistory.RunHistory) error {
	now := time.Now().UnixMilli()
	for tag, value := range history.Scalars() {
		op := operation{
			Attribute:   tag,
			Op:          "logFloats",
			Value:       value,
			Step:        history.Step(),
			TimestampMS: now,
		}
		if err := b.record(op); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) LogImage(
	tag string,
	img visvalue.Image,
	step int64,
) error {
	// Only metadata travels as an operation; the PNG stays local.
	return b.record(operation{
		Attribute:   tag,
		Op:          "logImages",
		Value:       map[string]any{"sha256": img.SHA256(), "size": len(img.PNG)},
		Step:        step,
		TimestampMS: time.Now().UnixMilli(),
	})
}

func (b *Backend) LogText(tag, text string, step int64) error {
	return b.record(operation{
		Attribute:   tag,
		Op:          "logStrings",
		Value:       text,
		Step:        step,
		TimestampMS: time.Now().UnixMilli(),
	})
}

func (b *Backend) Finish(exitCode int32) error {
	if b.offline {
		if b.offlineFile == nil {
			return nil
		}
		err := b.offlineFile.Close()
		b.offlineFile = nil
		return err
	}

	if b.link != nil {
		b.link.Finish(exitCode)
	}
	return nil
}

// operation is one attribute operation in a Neptune run.
type operation struct {
	Attribute   string
	Op          string
	Value       any
	Step        int64
	TimestampMS int64
}

func (b *Backend) record(op operation) error {
	line, err := simplejsonext.MarshalToString(map[string]any{
		"attribute":   op.Attribute,
		"op":          op.Op,
		"value":       op.Value,
		"step":        op.Step,
		"timestampMs": op.TimestampMS,
	})
	if err != nil {
		return fmt.Errorf("neptune: failed to serialize operation: %v", err)
	}

	if b.offline {
		if b.offlineFile == nil {
			return fmt.Errorf("neptune: backend not started")
		}
		_, err := b.offlineFile.Write([]byte(line + "\n"))
		return err
	}

	b.link.Push(&uplink.Request{Records: []string{line}})
	return nil
}

func joinPath(path pathtree.TreePath) string {
	return strings.Join(path, "/")
}
