package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/packstage/pusher/models"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// GatewayClient talks to the staging gateway: the web service that
// owns staging areas, commit records and publisher credentials. The
// pipeline reaches it for exactly three things: loading the active
// commit for a stage, saving progress, and resolving publish
// credentials. The gateway is the system of record; this client
// never caches.
type GatewayClient struct {
	HostUrl    string
	APIVersion string
	apiKey     string
	httpClient *http.Client
	transport  *http.Transport
}

// NewGatewayClient creates a new client for the staging gateway's
// REST API. Param hostUrl should come from the config file; apiKey
// usually comes from the GATEWAY_API_KEY env var.
func NewGatewayClient(hostUrl, apiVersion, apiKey string) (*GatewayClient, error) {
	// see security warning on nil PublicSuffixList here:
	// http://gotour.golang.org/src/pkg/net/http/cookiejar/jar.go?s=1011:1492#L24
	cookieJar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("Can't create cookie jar for gateway client: %v", err)
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 8,
		DisableKeepAlives:   false,
		Dial: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).Dial,
		ResponseHeaderTimeout: 10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
	}
	httpClient := &http.Client{Jar: cookieJar, Transport: transport}
	for strings.HasSuffix(hostUrl, "/") {
		hostUrl = hostUrl[:len(hostUrl)-1]
	}
	return &GatewayClient{
		HostUrl:    hostUrl,
		APIVersion: apiVersion,
		apiKey:     apiKey,
		httpClient: httpClient,
		transport:  transport,
	}, nil
}

// BuildUrl combines the host and protocol in client.HostUrl with
// relativeUrl to create an absolute URL.
func (client *GatewayClient) BuildUrl(relativeUrl string, queryParams *url.Values) string {
	fullUrl := client.HostUrl + relativeUrl
	if queryParams != nil {
		fullUrl = fmt.Sprintf("%s?%s", fullUrl, queryParams.Encode())
	}
	return fullUrl
}

// NewJsonRequest returns a new request with headers indicating JSON
// request and response formats.
func (client *GatewayClient) NewJsonRequest(method, targetUrl string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, targetUrl, body)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Authorization", fmt.Sprintf("Token token=%s", client.apiKey))
	req.Header.Add("Connection", "Keep-Alive")
	return req, nil
}

// CommitGet returns the most recently requested commit record for
// the specified staging area. If the gateway has no commit for that
// stage (404), the response carries no error and Commit() returns
// nil: a missing commit is a benign condition the caller handles as
// a no-op.
func (client *GatewayClient) CommitGet(stageId string) *GatewayResponse {
	resp := NewGatewayResponse(GatewayTypeCommit)
	resp.commits = make([]*models.CommitRecord, 1)

	relativeUrl := fmt.Sprintf("/%s/stages/%s/commit", client.APIVersion, url.PathEscape(stageId))
	absUrl := client.BuildUrl(relativeUrl, nil)

	client.doRequest(resp, "GET", absUrl, nil)
	if resp.Error != nil {
		return resp
	}
	if resp.Response.StatusCode == http.StatusNotFound {
		resp.commits = nil
		return resp
	}
	if resp.Response.StatusCode != http.StatusOK {
		resp.Error = fmt.Errorf("Gateway returned status %d for commit of stage %s",
			resp.Response.StatusCode, stageId)
		return resp
	}

	commit := &models.CommitRecord{}
	resp.Error = json.Unmarshal(resp.data, commit)
	if resp.Error == nil {
		resp.commits[0] = commit
	}
	return resp
}

// CommitSave overwrites the commit record's progress blob, status,
// failure details and last-updated timestamp in a single write. The
// gateway applies the update atomically; partial writes are never
// visible to status queries.
func (client *GatewayClient) CommitSave(commit *models.CommitRecord) *GatewayResponse {
	resp := NewGatewayResponse(GatewayTypeCommit)
	resp.commits = make([]*models.CommitRecord, 1)

	relativeUrl := fmt.Sprintf("/%s/commits/%s", client.APIVersion, url.PathEscape(commit.TrackId))
	absUrl := client.BuildUrl(relativeUrl, nil)

	postData, err := json.Marshal(commit)
	if err != nil {
		resp.Error = err
		return resp
	}

	client.doRequest(resp, "PUT", absUrl, bytes.NewBuffer(postData))
	if resp.Error != nil {
		return resp
	}
	if resp.Response.StatusCode != http.StatusOK {
		body := "[no response body]"
		if len(resp.data) > 0 {
			body = string(resp.data)
		}
		resp.Error = fmt.Errorf("Gateway returned status %d saving commit %s: %s",
			resp.Response.StatusCode, commit.TrackId, body)
		return resp
	}

	savedCommit := &models.CommitRecord{}
	resp.Error = json.Unmarshal(resp.data, savedCommit)
	if resp.Error == nil {
		resp.commits[0] = savedCommit
	}
	return resp
}

// PublishCredentialsGet resolves the registry publish credentials
// for the specified package owner.
func (client *GatewayClient) PublishCredentialsGet(ownerKey string) *GatewayResponse {
	resp := NewGatewayResponse(GatewayTypeCredentials)
	resp.credentials = make([]*models.Credentials, 1)

	relativeUrl := fmt.Sprintf("/%s/credentials/%s", client.APIVersion, url.PathEscape(ownerKey))
	absUrl := client.BuildUrl(relativeUrl, nil)

	client.doRequest(resp, "GET", absUrl, nil)
	if resp.Error != nil {
		return resp
	}
	if resp.Response.StatusCode != http.StatusOK {
		resp.Error = fmt.Errorf("Gateway returned status %d for credentials of owner %s",
			resp.Response.StatusCode, ownerKey)
		return resp
	}

	creds := &models.Credentials{}
	resp.Error = json.Unmarshal(resp.data, creds)
	if resp.Error == nil {
		resp.credentials[0] = creds
	}
	return resp
}

// GetActiveCommit implements storage.CommitStatusStore. Returns nil
// with no error if the staging area has no commit record.
func (client *GatewayClient) GetActiveCommit(stageId string) (*models.CommitRecord, error) {
	resp := client.CommitGet(stageId)
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Commit(), nil
}

// SaveProgress implements storage.CommitStatusStore. It serializes
// the report into the commit and pushes the whole record to the
// gateway in one write. A failure here must reach the caller, so the
// message gets abandoned and redelivered rather than losing a state
// transition.
func (client *GatewayClient) SaveProgress(commit *models.CommitRecord, report *models.ProgressReport) error {
	err := commit.SetProgressReport(report)
	if err != nil {
		return err
	}
	commit.LastUpdatedAt = time.Now().UTC()
	resp := client.CommitSave(commit)
	return resp.Error
}

// GetCredentials implements the credential resolver used by the
// batch pusher.
func (client *GatewayClient) GetCredentials(ownerKey string) (*models.Credentials, error) {
	resp := client.PublishCredentialsGet(ownerKey)
	if resp.Error != nil {
		return nil, resp.Error
	}
	creds := resp.Credentials()
	if creds == nil {
		return nil, fmt.Errorf("Gateway returned no credentials for owner %s", ownerKey)
	}
	return creds, nil
}

// doRequest builds the request, issues it, and reads and closes the
// response body. Any failure along the way lands in resp.Error.
func (client *GatewayClient) doRequest(resp *GatewayResponse, method, absoluteUrl string, requestData io.Reader) {
	request, err := client.NewJsonRequest(method, absoluteUrl, requestData)
	resp.Request = request
	resp.Error = err
	if resp.Error != nil {
		return
	}
	resp.Response, resp.Error = client.httpClient.Do(request)
	if resp.Error != nil {
		return
	}
	resp.readResponse()
}
