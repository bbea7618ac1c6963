package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/nsqio/nsq/nsqd"
	"github.com/packstage/pusher/models"
	"io/ioutil"
	"net/http"
)

// NSQStats contains info about the status of NSQ and its topics
// and queues. This info comes from a GET call to the /stats endpoint.
type NSQStats struct {
	StatusCode int          `json:"status_code"`
	StatusText string       `json:"status_txt"`
	Data       NSQStatsData `json:"data"`
}

// NSQStatsData contains the important info returned by a call
// to NSQ's /stats endpoint, including the number of items in each
// topic and queue.
type NSQStatsData struct {
	Version string            `json:"version"`
	Health  string            `json:"status_code"`
	Topics  []nsqd.TopicStats `json:"topics"`
}

type NSQClient struct {
	URL string
}

// NewNSQClient returns a new NSQ client that will connect to the NSQ
// server at the specified url. The URL is typically available through
// Config.NsqdHttpAddress, and usually ends with :4151. This is the
// URL to which we post batch push messages.
//
// Note that this client provides write access to the queue, so the
// gateway and the enqueue tool can add batches. It does not provide
// read access. The listener does the reading.
func NewNSQClient(url string) *NSQClient {
	return &NSQClient{URL: url}
}

// Enqueue posts a BatchPushRequest to NSQ under the specified topic.
// The serialized request is the entire message body; workers never
// have to call back anywhere to find out what a message means.
func (client *NSQClient) Enqueue(topic string, request *models.BatchPushRequest) error {
	jsonData, err := request.ToJson()
	if err != nil {
		return fmt.Errorf("Cannot serialize BatchPushRequest for stage %s: %v",
			request.StageId, err)
	}
	return client.EnqueueBody(topic, jsonData)
}

// EnqueueBody posts a raw message body to NSQ under the specified
// topic.
func (client *NSQClient) EnqueueBody(topic string, body []byte) error {
	url := fmt.Sprintf("%s/put?topic=%s", client.URL, topic)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("Nsqd returned an error when queuing data: %v", err)
	}
	if resp == nil {
		return fmt.Errorf("No response from nsqd at '%s'. Is it running?", url)
	}

	// nsqd sends a simple OK. We have to read the response body,
	// or the connection will hang open forever.
	respBody, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != 200 {
		bodyText := "[no response body]"
		if len(respBody) > 0 {
			bodyText = string(respBody)
		}
		return fmt.Errorf("nsqd returned status code %d when attempting to queue data. "+
			"Response body: %s", resp.StatusCode, bodyText)
	}
	return nil
}

// GetStats allows us to get some basic stats from NSQ. The NSQ /stats
// endpoint returns a richer set of stats than what this function
// returns, but we only need basic queue depths for the enqueue tool
// and for shutdown diagnostics. The NSQ topic_name query param is
// unreliable in the versions we run against, so this returns stats
// for all topics.
func (client *NSQClient) GetStats() (*NSQStats, error) {
	url := fmt.Sprintf("%s/stats?format=json", client.URL)
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	body, err := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("NSQ returned status code %d, body: %s",
			resp.StatusCode, body)
	}
	stats := &NSQStats{}
	err = json.Unmarshal(body, stats)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
