// Package wandb streams run data to a Weights & Biases server.
//
// Recognized init_kwargs: "project", "entity", "api_key", "base_url".
// The API key may also come from the WANDB_API_KEY environment
// variable.
package wandb

import (
	"errors"
	"fmt"

	"github.com/vistream/vistream/internal/apiclient"
	"github.com/vistream/vistream/internal/pathtree"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/runsummary"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/uplink"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/vistream/vistream/internal/visvalue"
	"github.com/wandb/simplejsonext"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://api.wandb.ai"
	defaultEntity    = "default"
	transmitInterval = rate.Limit(1.0 / 15)
)

// Backend uploads history and summary data through the W&B
// filestream protocol.
type Backend struct {
	params visbackend.Params
	config visbackend.Config

	baseURL string
	apiKey  string
	entity  string
	project string

	sender *sender
	link   *uplink.Uplink

	summary *runsummary.RunSummary
}

func New(
	params visbackend.Params,
	config visbackend.Config,
) (*Backend, error) {
	apiKey := config.KwargString("api_key")
	if apiKey == "" {
		apiKey = settings.EnvOr("WANDB_API_KEY", "")
	}
	if apiKey == "" {
		return nil, errors.New(
			"wandb: no API key; set init_kwargs api_key or WANDB_API_KEY")
	}

	project := config.KwargString("project")
	if project == "" {
		project = params.Settings.Project
	}

	entity := config.KwargString("entity")
	if entity == "" {
		entity = defaultEntity
	}

	baseURL := config.KwargString("base_url")
	if baseURL == "" {
		baseURL = settings.EnvOr("WANDB_BASE_URL", defaultBaseURL)
	}

	return &Backend{
		params:  params,
		config:  config,
		baseURL: baseURL,
		apiKey:  apiKey,
		entity:  entity,
		project: project,
		summary: runsummary.New(),
	}, nil
}

func (b *Backend) Name() string { return "WandbVisBackend" }

func (b *Backend) Start(run *visbackend.Run) error {
	client, err := apiclient.New(b.baseURL, apiclient.Opts{
		Headers: map[string]string{
			"Authorization": basicAuth("api", b.apiKey),
		},
		Logger: b.params.Logger,
	})
	if err != nil {
		return err
	}

	b.sender = &sender{
		client: client,
		path: fmt.Sprintf(
			"files/%s/%s/%s/file_stream",
			b.entity, b.project, run.ID,
		),
	}

	b.link = uplink.New(uplink.Params{
		Sender:            b.sender,
		Logger:            b.params.Logger,
		Printer:           b.params.Printer,
		TransmitRateLimit: rate.NewLimiter(transmitInterval, 1),
	})
	b.link.Start()

	return nil
}

func (b *Backend) LogConfig(config pathtree.TreeData) error {
	// The filestream protocol has no config file; config rides in
	// the summary under a reserved key.
	b.summary.Set(pathtree.TreePath{"_config"}, config)
	return b.pushSummary()
}

func (b *Backend) LogHistory(history *runhistory.RunHistory) error {
	line, err := history.ToExtendedJSON()
	if err != nil {
		return fmt.Errorf("wandb: failed to serialize history: %v", err)
	}

	b.link.Push(&uplink.Request{Records: []string{string(line)}})

	b.summary.UpdateFromHistory(history)
	return b.pushSummary()
}

func (b *Backend) LogImage(
	tag string,
	img visvalue.Image,
	step int64,
) error {
	// File upload is handled by the artifact store; the history gets
	// the image metadata so the UI can reference it.
	metadataJSON, err := img.HistoryValueJSON(
		fmt.Sprintf("media/images/%s_%d.png", tag, step))
	if err != nil {
		return err
	}
	metadata, err := simplejsonext.UnmarshalString(metadataJSON)
	if err != nil {
		return fmt.Errorf("wandb: failed to parse image metadata: %v", err)
	}

	row := runhistory.New(step)
	row.SetValue(tag, metadata)
	return b.LogHistory(row)
}

func (b *Backend) LogText(tag, text string, step int64) error {
	row := runhistory.New(step)
	row.SetValue(tag, text)
	return b.LogHistory(row)
}

func (b *Backend) Finish(exitCode int32) error {
	if b.link == nil {
		return nil
	}
	b.link.Finish(exitCode)
	return nil
}

func (b *Backend) pushSummary() error {
	data, err := b.summary.ToExtendedJSON()
	if err != nil {
		return fmt.Errorf("wandb: failed to serialize summary: %v", err)
	}

	summary := string(data)
	b.link.Push(&uplink.Request{SummaryJSON: &summary})
	return nil
}
