package network_test

import (
	"encoding/json"
	"fmt"
	"github.com/packstage/pusher/constants"
	"github.com/packstage/pusher/models"
	"github.com/packstage/pusher/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestGatewayClient(t *testing.T, url string) *network.GatewayClient {
	client, err := network.NewGatewayClient(url, "v1", "api-key-123")
	require.Nil(t, err)
	return client
}

func TestGatewayBuildUrl(t *testing.T) {
	client := newTestGatewayClient(t, "http://example.com/")
	assert.Equal(t, "http://example.com/v1/stages/abc/commit",
		client.BuildUrl("/v1/stages/abc/commit", nil))
}

func TestGatewayCommitGet(t *testing.T) {
	var gotAuth string
	testServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			assert.Equal(t, "/v1/stages/stage-1/commit", r.URL.Path)
			commit := models.NewCommitRecord("track-1", "stage-1")
			data, _ := json.Marshal(commit)
			w.Write(data)
		}))
	defer testServer.Close()

	client := newTestGatewayClient(t, testServer.URL)
	resp := client.CommitGet("stage-1")
	require.Nil(t, resp.Error)
	commit := resp.Commit()
	require.NotNil(t, commit)
	assert.Equal(t, "track-1", commit.TrackId)
	assert.Equal(t, "stage-1", commit.StageId)
	assert.Equal(t, "Token token=api-key-123", gotAuth)
}

func TestGatewayCommitGetMissing(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
	defer testServer.Close()

	client := newTestGatewayClient(t, testServer.URL)
	resp := client.CommitGet("no-such-stage")
	assert.Nil(t, resp.Error)
	assert.Nil(t, resp.Commit())

	commit, err := client.GetActiveCommit("no-such-stage")
	assert.Nil(t, err)
	assert.Nil(t, commit)
}

func TestGatewayCommitGetServerError(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
	defer testServer.Close()

	client := newTestGatewayClient(t, testServer.URL)
	resp := client.CommitGet("stage-1")
	assert.NotNil(t, resp.Error)
}

func TestGatewayCommitSave(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "PUT", r.Method)
			assert.Equal(t, "/v1/commits/track-1", r.URL.Path)
			body, _ := ioutil.ReadAll(r.Body)
			// Echo the saved record back, as the gateway does.
			w.Write(body)
		}))
	defer testServer.Close()

	client := newTestGatewayClient(t, testServer.URL)
	commit := models.NewCommitRecord("track-1", "stage-1")
	commit.Status = constants.StatusInProgress
	resp := client.CommitSave(commit)
	require.Nil(t, resp.Error)
	saved := resp.Commit()
	require.NotNil(t, saved)
	assert.Equal(t, "track-1", saved.TrackId)
	assert.Equal(t, constants.StatusInProgress, saved.Status)
}

func TestGatewaySaveProgress(t *testing.T) {
	var savedCommit *models.CommitRecord
	testServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			body, _ := ioutil.ReadAll(r.Body)
			savedCommit = &models.CommitRecord{}
			json.Unmarshal(body, savedCommit)
			w.Write(body)
		}))
	defer testServer.Close()

	client := newTestGatewayClient(t, testServer.URL)
	commit := models.NewCommitRecord("track-1", "stage-1")
	batch := &models.BatchPushRequest{
		StageId:  "stage-1",
		Packages: []*models.PackagePushRequest{{Id: "PkgA", Version: "1.0.0"}},
	}
	report := models.NewProgressReportForBatch(batch)
	report.SetPackageStatus(batch.Packages[0], constants.StatusCompleted)

	err := client.SaveProgress(commit, report)
	require.Nil(t, err)
	require.NotNil(t, savedCommit)
	assert.Equal(t, constants.StatusCompleted, savedCommit.Status)
	assert.False(t, savedCommit.LastUpdatedAt.IsZero())
	restored, err := savedCommit.ProgressReport()
	require.Nil(t, err)
	assert.Equal(t, constants.StatusCompleted, restored.PackageStatus("PkgA/1.0.0"))
}

func TestGatewayGetCredentials(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/credentials/owner-1", r.URL.Path)
			fmt.Fprint(w, `{"api_key": "push-key-456"}`)
		}))
	defer testServer.Close()

	client := newTestGatewayClient(t, testServer.URL)
	creds, err := client.GetCredentials("owner-1")
	require.Nil(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "push-key-456", creds.ApiKey)
}

func TestGatewayGetCredentialsUnknownOwner(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
	defer testServer.Close()

	client := newTestGatewayClient(t, testServer.URL)
	creds, err := client.GetCredentials("nobody")
	assert.Nil(t, creds)
	assert.NotNil(t, err)
}
