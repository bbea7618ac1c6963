package network

import (
	"github.com/packstage/pusher/models"
	"io/ioutil"
	"net/http"
)

type GatewayObjectType string

const (
	GatewayTypeCommit      GatewayObjectType = "CommitRecord"
	GatewayTypeCredentials GatewayObjectType = "Credentials"
)

// GatewayResponse wraps a response from the staging gateway's REST
// API. Callers check Error first, then pull the typed object out
// with Commit() or Credentials().
type GatewayResponse struct {
	Request  *http.Request
	Response *http.Response
	Error    error

	commits     []*models.CommitRecord
	credentials []*models.Credentials

	objectType  GatewayObjectType
	hasBeenRead bool
	data        []byte
}

// NewGatewayResponse returns a pointer to a new response object.
func NewGatewayResponse(objType GatewayObjectType) *GatewayResponse {
	return &GatewayResponse{
		objectType:  objType,
		hasBeenRead: false,
	}
}

// RawResponseData returns the raw body of the HTTP response as a
// byte slice. The return value may be nil.
func (resp *GatewayResponse) RawResponseData() ([]byte, error) {
	if !resp.hasBeenRead {
		resp.readResponse()
	}
	return resp.data, resp.Error
}

// readResponse reads the body of an HTTP response object, closes the
// stream, and stores the bytes. The body MUST be closed, or we wind
// up with a lot of open network connections.
func (resp *GatewayResponse) readResponse() {
	if !resp.hasBeenRead && resp.Response != nil && resp.Response.Body != nil {
		resp.data, resp.Error = ioutil.ReadAll(resp.Response.Body)
		resp.Response.Body.Close()
		resp.hasBeenRead = true
	}
}

// ObjectType returns the type of object contained in this response.
func (resp *GatewayResponse) ObjectType() GatewayObjectType {
	return resp.objectType
}

// Commit returns the CommitRecord parsed from the HTTP response
// body, or nil.
func (resp *GatewayResponse) Commit() *models.CommitRecord {
	if len(resp.commits) > 0 {
		return resp.commits[0]
	}
	return nil
}

// Credentials returns the Credentials parsed from the HTTP response
// body, or nil.
func (resp *GatewayResponse) Credentials() *models.Credentials {
	if len(resp.credentials) > 0 {
		return resp.credentials[0]
	}
	return nil
}
