package neptune

import (
	"net/http"

	"github.com/vistream/vistream/internal/apiclient"
	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/uplink"
	"github.com/vistream/vistream/internal/visbackend"
)

// sender posts operation batches to the Neptune leaderboard API.
type sender struct {
	client *apiclient.Client
	path   string
	ping   string
}

func newSender(
	baseURL string,
	apiToken string,
	project string,
	run *visbackend.Run,
	logger *observability.Logger,
) (*sender, error) {
	client, err := apiclient.New(baseURL, apiclient.Opts{
		Headers: map[string]string{
			"X-Neptune-Api-Token": apiToken,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	base := "api/leaderboard/v1/experiments/" + project + "/" + run.ID
	return &sender{
		client: client,
		path:   base + "/operations",
		ping:   base + "/ping",
	}, nil
}

func (s *sender) Send(req *uplink.Request) error {
	if len(req.Records) == 0 {
		return nil
	}

	body := "[" + joinRecords(req.Records) + "]"
	_, err := s.client.SendJSON(http.MethodPost, s.path, []byte(body))
	return err
}

func (s *sender) SendHeartbeat() error {
	_, err := s.client.SendJSON(http.MethodPost, s.ping, nil)
	return err
}

func joinRecords(records []string) string {
	result := records[0]
	for _, record := range records[1:] {
		result += "," + record
	}
	return result
}
