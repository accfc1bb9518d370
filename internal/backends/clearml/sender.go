package clearml

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vistream/vistream/internal/apiclient"
	"github.com/vistream/vistream/internal/uplink"
)

// sender posts event batches to events.add_batch and liveness pings
// to tasks.ping.
type sender struct {
	client *apiclient.Client
	taskID string
}

func (s *sender) Send(req *uplink.Request) error {
	if len(req.Records) == 0 {
		return nil
	}

	// Records are pre-serialized event objects; join them into one
	// JSON array without re-encoding.
	body := "[" + strings.Join(req.Records, ",") + "]"

	_, err := s.client.SendJSON(
		http.MethodPost, "v2.23/events.add_batch", []byte(body))
	return err
}

func (s *sender) SendHeartbeat() error {
	body, err := json.Marshal(map[string]any{"task": s.taskID})
	if err != nil {
		return err
	}

	_, err = s.client.SendJSON(http.MethodPost, "v2.23/tasks.ping", body)
	return err
}
