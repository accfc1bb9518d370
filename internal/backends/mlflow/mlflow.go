// Package mlflow logs run data to an MLflow tracking server through
// its REST API.
//
// Recognized init_kwargs: "tracking_uri", "experiment_id",
// "run_name". The tracking URI may also come from the
// MLFLOW_TRACKING_URI environment variable.
package mlflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
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
	apiPrefix = "api/2.0/mlflow"

	transmitInterval = rate.Limit(1.0 / 10)

	// The log-batch endpoint accepts at most 1000 metrics per call.
	maxMetricsPerBatch = 1000

	// Param values are truncated server-side beyond this length.
	maxParamValueLen = 500
)

// Backend streams metrics, params and tags to runs/log-batch.
type Backend struct {
	params visbackend.Params
	config visbackend.Config

	trackingURI  string
	experimentID string
	runName      string

	client *apiclient.Client
	link   *uplink.Uplink
	runID  string
}

func New(
	params visbackend.Params,
	config visbackend.Config,
) (*Backend, error) {
	trackingURI := config.KwargString("tracking_uri")
	if trackingURI == "" {
		trackingURI = settings.EnvOr("MLFLOW_TRACKING_URI", "")
	}
	if trackingURI == "" {
		return nil, errors.New(
			"mlflow: no tracking URI; set init_kwargs tracking_uri or" +
				" MLFLOW_TRACKING_URI")
	}

	experimentID := config.KwargString("experiment_id")
	if experimentID == "" {
		experimentID = "0"
	}

	return &Backend{
		params:       params,
		config:       config,
		trackingURI:  trackingURI,
		experimentID: experimentID,
		runName:      config.KwargString("run_name"),
	}, nil
}

func (b *Backend) Name() string { return "MLflowVisBackend" }

// RunID returns the MLflow run ID. Empty before Start.
func (b *Backend) RunID() string { return b.runID }

func (b *Backend) Start(run *visbackend.Run) error {
	client, err := apiclient.New(b.trackingURI, apiclient.Opts{
		Logger: b.params.Logger,
	})
	if err != nil {
		return err
	}
	b.client = client

	runName := b.runName
	if runName == "" {
		runName = run.Name
	}
	if runName == "" {
		runName = "run-" + run.ID
	}

	body, err := json.Marshal(map[string]any{
		"experiment_id": b.experimentID,
		"run_name":      runName,
		"start_time":    run.StartTime.UnixMilli(),
		"tags": []map[string]string{
			{"key": "vistream.run_id", "value": run.ID},
		},
	})
	if err != nil {
		return err
	}

	resp, err := b.client.SendJSON(
		http.MethodPost, apiPrefix+"/runs/create", body)
	if err != nil {
		return err
	}

	var parsed struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return fmt.Errorf("mlflow: failed to parse runs/create: %v", err)
	}
	if parsed.Run.Info.RunID == "" {
		return errors.New("mlflow: runs/create returned no run id")
	}
	b.runID = parsed.Run.Info.RunID

	b.link = uplink.New(uplink.Params{
		Sender:               &sender{client: client, runID: b.runID},
		Logger:               b.params.Logger,
		Printer:              b.params.Printer,
		TransmitRateLimit:    rate.NewLimiter(transmitInterval, 1),
		MaxRecordsPerRequest: maxMetricsPerBatch,
	})
	b.link.Start()

	return nil
}

func (b *Backend) LogConfig(config pathtree.TreeData) error {
	var records []string
	for _, item := range pathtree.NewFrom(config).Flatten() {
		value := fmt.Sprint(item.Value)
		if len(value) > maxParamValueLen {
			value = value[:maxParamValueLen]
		}

		record, err := encodeEntry("param", map[string]string{
			"key":   joinPath(item.Path),
			"value": value,
		})
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	if len(records) > 0 {
		b.link.Push(&uplink.Request{Records: records})
	}
	return nil
}

func (b *Backend) LogHistory(history *runhistory.RunHistory) error {
	now := time.Now().UnixMilli()

	var records []string
	for tag, value := range history.Scalars() {
		// The REST API rejects non-finite values.
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}

		record, err := encodeEntry("metric", map[string]any{
			"key":       tag,
			"value":     value,
			"timestamp": now,
			"step":      history.Step(),
		})
		if err != nil {
			return err
		}
		records = append(records, record)
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
	// Artifact upload goes through the artifact store; MLflow only
	// gets a tag noting the image exists.
	b.params.Logger.Debug(
		"mlflow: image logged, payload kept locally",
		"tag", tag, "step", step,
	)
	return nil
}

func (b *Backend) LogText(tag, text string, step int64) error {
	record, err := encodeEntry("tag", map[string]string{
		"key":   tag,
		"value": text,
	})
	if err != nil {
		return err
	}

	b.link.Push(&uplink.Request{Records: []string{record}})
	return nil
}

func (b *Backend) Finish(exitCode int32) error {
	if b.link == nil {
		return nil
	}
	b.link.Finish(exitCode)

	status := "FINISHED"
	if exitCode != 0 {
		status = "FAILED"
	}

	body, err := json.Marshal(map[string]any{
		"run_id":   b.runID,
		"status":   status,
		"end_time": time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	_, err = b.client.SendJSON(
		http.MethodPost, apiPrefix+"/runs/update", body)
	return err
}

// encodeEntry wraps one log-batch element in its array name so the
// sender can group a mixed batch.
func encodeEntry(kind string, element any) (string, error) {
	data, err := json.Marshal(map[string]any{kind: element})
	if err != nil {
		return "", fmt.Errorf("mlflow: failed to serialize %s: %v", kind, err)
	}
	return string(data), nil
}

func joinPath(path pathtree.TreePath) string {
	result := path[0]
	for _, part := range path[1:] {
		result += "." + part
	}
	return result
}
