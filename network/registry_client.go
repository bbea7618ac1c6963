package network

import (
	"fmt"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/op/go-logging"
	"github.com/packstage/pusher/constants"
	"github.com/packstage/pusher/models"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Don't log registry error bodies longer than this.
const MAX_ERR_MSG_SIZE = 2048

// PushResult is the classified outcome of one package push, after
// the retry policy has run its course. Callers see exactly one of
// three outcomes: Success, AlreadyExists, or Failure with the
// registry's error text.
type PushResult struct {
	Outcome      string
	Reason       string
	AttemptsMade int
	Response     *http.Response
}

func (result *PushResult) Succeeded() bool {
	return result.Outcome == constants.PushSuccess
}

func (result *PushResult) AlreadyExists() bool {
	return result.Outcome == constants.PushAlreadyExists
}

// RegistryClient pushes packages to the backing registry's publish
// endpoint. Transient failures (network errors, 5xx responses) are
// retried with bounded attempts and doubling backoff; the retry is
// invisible to the caller. The client is safe to invoke twice for
// the same package: it just reports AlreadyExists and leaves the
// idempotency decision to the caller.
type RegistryClient struct {
	HostUrl      string
	APIVersion   string
	PushAttempts int
	RetryDelay   time.Duration

	logger     *logging.Logger
	httpClient *http.Client
	transport  *http.Transport
}

// NewRegistryClient creates a new registry push client. Param
// pushAttempts bounds how many times a single Push call will hit
// the network; retryDelay is the delay before the first retry and
// doubles on each attempt after that.
func NewRegistryClient(hostUrl, apiVersion string, pushAttempts int, retryDelay time.Duration, logger *logging.Logger) *RegistryClient {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 8,
		DisableKeepAlives:   false,
		Dial: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).Dial,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	httpClient := &http.Client{Transport: transport}
	for strings.HasSuffix(hostUrl, "/") {
		hostUrl = hostUrl[:len(hostUrl)-1]
	}
	if pushAttempts < 1 {
		pushAttempts = 1
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &RegistryClient{
		HostUrl:      hostUrl,
		APIVersion:   apiVersion,
		PushAttempts: pushAttempts,
		RetryDelay:   retryDelay,
		logger:       logger,
		httpClient:   httpClient,
		transport:    transport,
	}
}

// pushUrl returns the publish endpoint for one package.
func (client *RegistryClient) pushUrl(pkg *models.PackagePushRequest) string {
	return fmt.Sprintf("%s/%s/packages/%s/%s", client.HostUrl, client.APIVersion,
		url.PathEscape(pkg.Id), url.PathEscape(pkg.Version))
}

// Push streams one package's content to the registry's publish
// endpoint and classifies the outcome. Param open must return a
// fresh reader over the package content; it is called once per
// attempt, since a half-consumed stream can't be replayed after a
// network failure. Returns a terminal transport error only when
// every attempt failed without an HTTP response; otherwise the
// classified PushResult tells the whole story.
func (client *RegistryClient) Push(pkg *models.PackagePushRequest, creds *models.Credentials, open func() (io.ReadCloser, error)) (*PushResult, error) {
	var result *PushResult
	attempts := 0
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			// Clear any classification from an earlier attempt, so a
			// final attempt that dies in transport doesn't surface a
			// stale result.
			result = nil
			res, err := client.pushOnce(pkg, creds, open)
			if res != nil {
				result = res
				result.AttemptsMade = attempts
			}
			return err
		},
		NotifyFunc: func(lastError error, attempt int) {
			client.logger.Warning("Push of %s attempt %d failed: %v",
				pkg.Key(), attempt, lastError)
		},
		Attempts:    client.PushAttempts,
		Delay:       client.RetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clock.WallClock,
	})
	if err != nil {
		if result != nil {
			// The last attempt got an HTTP response (a 5xx). Retries
			// are exhausted, so surface the classified Failure rather
			// than an error.
			return result, nil
		}
		return nil, fmt.Errorf("Push of %s failed after %d attempts: %v",
			pkg.Key(), attempts, retry.LastError(err))
	}
	return result, nil
}

// pushOnce performs a single HTTP publish attempt. A non-nil error
// return means the attempt should be retried; 4xx classifications
// come back with a nil error because retrying a conflict or a
// validation rejection can never change the answer.
func (client *RegistryClient) pushOnce(pkg *models.PackagePushRequest, creds *models.Credentials, open func() (io.ReadCloser, error)) (*PushResult, error) {
	reader, err := open()
	if err != nil {
		return nil, fmt.Errorf("Cannot open content for %s: %v", pkg.Key(), err)
	}
	defer reader.Close()

	request, err := http.NewRequest("PUT", client.pushUrl(pkg), reader)
	if err != nil {
		return nil, err
	}
	request.Header.Add("Content-Type", "application/octet-stream")
	request.Header.Add("X-Registry-ApiKey", creds.ApiKey)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	body, _ := ioutil.ReadAll(response.Body)
	response.Body.Close()

	result := &PushResult{Response: response}
	switch {
	case response.StatusCode == http.StatusCreated:
		result.Outcome = constants.PushSuccess
	case response.StatusCode == http.StatusConflict:
		result.Outcome = constants.PushAlreadyExists
	case response.StatusCode >= 500:
		result.Outcome = constants.PushFailure
		result.Reason = registryErrorText(response.StatusCode, body)
		return result, fmt.Errorf("Registry returned %d for %s",
			response.StatusCode, pkg.Key())
	default:
		result.Outcome = constants.PushFailure
		result.Reason = registryErrorText(response.StatusCode, body)
	}
	return result, nil
}

func registryErrorText(statusCode int, body []byte) string {
	text := "[no response body]"
	if len(body) > 0 {
		if len(body) > MAX_ERR_MSG_SIZE {
			body = body[:MAX_ERR_MSG_SIZE]
		}
		text = string(body)
	}
	return fmt.Sprintf("Registry returned status %d: %s", statusCode, text)
}
