// Package clearml streams run data to a ClearML server.
//
// Recognized init_kwargs: "api_host", "access_key", "secret_key",
// "task_name". Credentials may also come from the
// CLEARML_API_ACCESS_KEY and CLEARML_API_SECRET_KEY environment
// variables, as written by `clearml-init`.
package clearml

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/vistream/vistream/internal/apiclient"
	"github.com/vistream/vistream/internal/pathtree"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/uplink"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/vistream/vistream/internal/visvalue"
	"golang.org/x/time/rate"
)

const (
	defaultAPIHost   = "https://api.clear.ml"
	transmitInterval = rate.Limit(1.0 / 10)

	// The default metric group for tags without a slash.
	defaultMetricGroup = "metrics"
)

// Backend creates a ClearML task and batches scalar events to it.
type Backend struct {
	params visbackend.Params
	config visbackend.Config

	apiHost   string
	accessKey string
	secretKey string
	taskName  string

	client *apiclient.Client
	sender *sender
	link   *uplink.Uplink
	taskID string
}

func New(
	params visbackend.Params,
	config visbackend.Config,
) (*Backend, error) {
	accessKey := config.KwargString("access_key")
	if accessKey == "" {
		accessKey = settings.EnvOr("CLEARML_API_ACCESS_KEY", "")
	}
	secretKey := config.KwargString("secret_key")
	if secretKey == "" {
		secretKey = settings.EnvOr("CLEARML_API_SECRET_KEY", "")
	}
	if accessKey == "" || secretKey == "" {
		return nil, errors.New(
			"clearml: missing credentials; run `clearml-init` or set" +
				" init_kwargs access_key and secret_key")
	}

	apiHost := config.KwargString("api_host")
	if apiHost == "" {
		apiHost = settings.EnvOr("CLEARML_API_HOST", defaultAPIHost)
	}

	return &Backend{
		params:    params,
		config:    config,
		apiHost:   apiHost,
		accessKey: accessKey,
		secretKey: secretKey,
		taskName:  config.KwargString("task_name"),
	}, nil
}

func (b *Backend) Name() string { return "ClearMLVisBackend" }

func (b *Backend) Start(run *visbackend.Run) error {
	credentials := base64.StdEncoding.EncodeToString(
		[]byte(b.accessKey + ":" + b.secretKey))

	client, err := apiclient.New(b.apiHost, apiclient.Opts{
		Headers: map[string]string{
			"Authorization": "Basic " + credentials,
		},
		Logger: b.params.Logger,
	})
	if err != nil {
		return err
	}
	b.client = client

	taskName := b.taskName
	if taskName == "" {
		taskName = run.Name
	}
	if taskName == "" {
		taskName = "run-" + run.ID
	}

	taskID, err := b.createTask(taskName, run.Project)
	if err != nil {
		return err
	}
	b.taskID = taskID

	b.sender = &sender{client: client, taskID: taskID}
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
	// ClearML stores configuration as named task parameter sections.
	params := map[string]any{}
	for _, item := range pathtree.NewFrom(config).Flatten() {
		key := "General/" + strings.Join(item.Path, "/")
		params[key] = map[string]any{
			"section": "General",
			"name":    strings.Join(item.Path, "/"),
			"value":   fmt.Sprint(item.Value),
		}
	}

	body, err := json.Marshal(map[string]any{
		"task":                b.taskID,
		"hyperparams":         params,
		"replace_hyperparams": "section",
	})
	if err != nil {
		return fmt.Errorf("clearml: failed to serialize config: %v", err)
	}

	_, err = b.client.SendJSON(
		http.MethodPost, "v2.23/tasks.edit_hyper_params", body)
	return err
}

func (b *Backend) LogHistory(history *runhistory.RunHistory) error {
	now := time.Now().UnixMilli()

	var records []string
	for tag, value := range history.Scalars() {
		// The events API rejects non-finite values.
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}

		metric, variant := splitTag(tag)
		event, err := json.Marshal(map[string]any{
			"task":      b.taskID,
			"type":      "training_stats_scalar",
			"metric":    metric,
			"variant":   variant,
			"value":     value,
			"iter":      history.Step(),
			"timestamp": now,
		})
		if err != nil {
			return fmt.Errorf("clearml: failed to serialize event: %v", err)
		}
		records = append(records, string(event))
	}

	if len(records) > 0 {
		b.link.Push(&uplink.Request{Records: records})
	}
	return nil
}

func (b *Backend) LogImage(
	tag string,
	img visvalue.Image,
	step int64,
) error {
	// Image payload upload needs a file server; only note the event.
	b.params.Logger.Debug(
		"clearml: image logged, payload kept locally",
		"tag", tag, "step", step,
	)
	return nil
}

func (b *Backend) LogText(tag, text string, step int64) error {
	event, err := json.Marshal(map[string]any{
		"task":      b.taskID,
		"type":      "log",
		"level":     "info",
		"msg":       fmt.Sprintf("%s: %s", tag, text),
		"iter":      step,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("clearml: failed to serialize event: %v", err)
	}

	b.link.Push(&uplink.Request{Records: []string{string(event)}})
	return nil
}

func (b *Backend) Finish(exitCode int32) error {
	if b.link == nil {
		return nil
	}
	b.link.Finish(exitCode)

	status := "tasks.completed"
	if exitCode != 0 {
		status = "tasks.failed"
	}

	body, err := json.Marshal(map[string]any{
		"task":          b.taskID,
		"status_reason": fmt.Sprintf("exit code %d", exitCode),
	})
	if err != nil {
		return err
	}

	_, err = b.client.SendJSON(http.MethodPost, "v2.23/"+status, body)
	return err
}

func (b *Backend) createTask(name, project string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"name":    name,
		"project": project,
		"type":    "training",
	})
	if err != nil {
		return "", err
	}

	resp, err := b.client.SendJSON(
		http.MethodPost, "v2.23/tasks.create", body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return "", fmt.Errorf("clearml: failed to parse tasks.create: %v", err)
	}
	if parsed.Data.ID == "" {
		return "", errors.New("clearml: tasks.create returned no task id")
	}

	return parsed.Data.ID, nil
}

// splitTag maps a slash-separated tag to ClearML's metric/variant
// pair: "eval/top1/acc" becomes ("eval/top1", "acc").
func splitTag(tag string) (metric, variant string) {
	if idx := strings.LastIndex(tag, "/"); idx >= 0 {
		return tag[:idx], tag[idx+1:]
	}
	return defaultMetricGroup, tag
}
