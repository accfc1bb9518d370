package wandb

import (
	"encoding/base64"
	"net/http"

	"github.com/vistream/vistream/internal/apiclient"
	"github.com/vistream/vistream/internal/uplink"
	"github.com/wandb/simplejsonext"
)

// sender encodes batches in the filestream request format:
//
//	{
//	  "files": {
//	    "history.jsonl": {"offset": 3, "content": ["{...}", ...]},
//	    "summary.json": {"offset": 0, "content": ["{...}"]}
//	  },
//	  "complete": true,
//	  "exitcode": 0
//	}
//
// Offsets are per-file line counts that the server uses to detect
// gaps and duplicates.
type sender struct {
	client *apiclient.Client
	path   string

	historyOffset int
}

func (s *sender) Send(req *uplink.Request) error {
	body := map[string]any{}

	files := map[string]any{}
	if len(req.Records) > 0 {
		files["history.jsonl"] = map[string]any{
			"offset":  s.historyOffset,
			"content": req.Records,
		}
	}
	if req.SummaryJSON != nil {
		files["summary.json"] = map[string]any{
			"offset":  0,
			"content": []string{*req.SummaryJSON},
		}
	}
	if len(files) > 0 {
		body["files"] = files
	}

	if req.ExitCode != nil {
		body["complete"] = true
		body["exitcode"] = *req.ExitCode
	}

	data, err := simplejsonext.Marshal(body)
	if err != nil {
		return err
	}

	if _, err := s.client.SendJSON(http.MethodPost, s.path, data); err != nil {
		return err
	}

	s.historyOffset += len(req.Records)
	return nil
}

func (s *sender) SendHeartbeat() error {
	_, err := s.client.SendJSON(http.MethodPost, s.path, []byte("{}"))
	return err
}

func basicAuth(user, password string) string {
	credentials := base64.StdEncoding.EncodeToString(
		[]byte(user + ":" + password))
	return "Basic " + credentials
}
