package mlflow

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vistream/vistream/internal/apiclient"
	"github.com/vistream/vistream/internal/uplink"
)

// sender posts grouped log-batch bodies and liveness updates to the
// tracking server.
type sender struct {
	client *apiclient.Client
	runID  string
}

// entry is one pre-serialized log-batch element, keyed by the array
// it belongs to: {"metric": {...}}, {"param": {...}} or {"tag": {...}}.
type entry struct {
	Metric json.RawMessage `json:"metric"`
	Param  json.RawMessage `json:"param"`
	Tag    json.RawMessage `json:"tag"`
}

func (s *sender) Send(req *uplink.Request) error {
	if len(req.Records) == 0 {
		return nil
	}

	var metrics, params, tags []json.RawMessage
	for _, record := range req.Records {
		var e entry
		if err := json.Unmarshal([]byte(record), &e); err != nil {
			return fmt.Errorf("mlflow: bad record: %v", err)
		}
		switch {
		case e.Metric != nil:
			metrics = append(metrics, e.Metric)
		case e.Param != nil:
			params = append(params, e.Param)
		case e.Tag != nil:
			tags = append(tags, e.Tag)
		}
	}

	body := map[string]any{"run_id": s.runID}
	if metrics != nil {
		body["metrics"] = metrics
	}
	if params != nil {
		body["params"] = params
	}
	if tags != nil {
		body["tags"] = tags
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mlflow: failed to serialize batch: %v", err)
	}

	_, err = s.client.SendJSON(
		http.MethodPost, apiPrefix+"/runs/log-batch", data)
	return err
}

// SendHeartbeat refreshes the run's RUNNING status.
func (s *sender) SendHeartbeat() error {
	body, err := json.Marshal(map[string]any{
		"run_id": s.runID,
		"status": "RUNNING",
	})
	if err != nil {
		return err
	}

	_, err = s.client.SendJSON(
		http.MethodPost, apiPrefix+"/runs/update", body)
	return err
}
