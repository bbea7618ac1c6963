package models

import (
	"encoding/json"
	"fmt"
)

// PackagePushRequest describes one package to be published as part
// of a batch. It is immutable: everything the pipeline needs to know
// about the package travels in the message, so a redelivered message
// can always be processed from scratch.
type PackagePushRequest struct {
	// Id is the package identifier, e.g. "Newtonsoft.Json".
	Id string `json:"id"`

	// Version is the package version string, e.g. "9.0.1".
	Version string `json:"version"`

	// ContentLocator points to the package's binary content,
	// typically an s3:// URL in the staging content bucket.
	ContentLocator string `json:"content_locator"`

	// ManifestLocator points to the package manifest, which is
	// where we read the package's declared dependencies.
	ManifestLocator string `json:"manifest_locator"`

	// OwnerKey identifies the publishing user, so we can resolve
	// their registry credentials at push time.
	OwnerKey string `json:"owner_key"`
}

// Key returns the string that identifies this package within its
// batch: id + "/" + version. This is the key used in the per-package
// progress map.
func (pkg *PackagePushRequest) Key() string {
	return fmt.Sprintf("%s/%s", pkg.Id, pkg.Version)
}

// BatchPushRequest is the payload of a batch push message: the id of
// the staging area being committed, plus every package in that staging
// area. This is the one wire contract that must remain backward
// compatible, since a message body we cannot deserialize shuts down
// the subscription (see workers.Listener).
type BatchPushRequest struct {
	// StageId identifies the staging area being committed.
	StageId string `json:"stage_id"`

	// Packages lists every package in the batch, in the order the
	// web service assembled them. The resolver treats this order as
	// the tie-break when topologically sorting.
	Packages []*PackagePushRequest `json:"packages"`
}

// NewBatchPushRequestFromJson deserializes a message body into a
// BatchPushRequest. An error here means the message's schema is
// incompatible with ours, which is a contract break, not a transient
// failure.
func NewBatchPushRequestFromJson(data []byte) (*BatchPushRequest, error) {
	request := &BatchPushRequest{}
	err := json.Unmarshal(data, request)
	if err != nil {
		return nil, fmt.Errorf("Could not parse BatchPushRequest from message body: %v", err)
	}
	if request.StageId == "" {
		return nil, fmt.Errorf("BatchPushRequest is missing stage_id")
	}
	return request, nil
}

// ToJson serializes this request for enqueuing.
func (request *BatchPushRequest) ToJson() ([]byte, error) {
	return json.Marshal(request)
}

// PackageKeys returns the keys of all packages in this batch,
// in batch order.
func (request *BatchPushRequest) PackageKeys() []string {
	keys := make([]string, len(request.Packages))
	for i, pkg := range request.Packages {
		keys[i] = pkg.Key()
	}
	return keys
}

// DependencyRef is one dependency declared in a package manifest:
// the id of the package depended on, plus the declared version range.
// Only the id matters for intra-batch ordering; the range is carried
// for logging and diagnostics.
type DependencyRef struct {
	Id           string `json:"id"`
	VersionRange string `json:"version_range"`
}

// Credentials holds the registry publish credentials for one
// package owner, resolved through the gateway at push time.
type Credentials struct {
	ApiKey string `json:"api_key"`
}
