// Package testutil provides helpers for unit tests.
package testutil

import (
	"github.com/nsqio/go-nsq"
	"github.com/packstage/pusher/models"
)

// MakeNsqMessage creates an NSQ Message with the specified body.
// The message id is fixed, so tests can assert against it.
func MakeNsqMessage(body string) *nsq.Message {
	messageId := [nsq.MsgIDLength]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'A', 'B', 'C', 'D', 'E', 'F'}
	return nsq.NewMessage(messageId, []byte(body))
}

// MakeBatchPushRequest returns a batch push request with the
// specified number of packages, with ids APkg, BPkg and so on.
func MakeBatchPushRequest(stageId string, packageCount int) *models.BatchPushRequest {
	packages := make([]*models.PackagePushRequest, packageCount)
	for i := 0; i < packageCount; i++ {
		packages[i] = &models.PackagePushRequest{
			Id:              string(rune('A'+i)) + "Pkg",
			Version:         "1.0.0",
			ContentLocator:  "s3://staging-content/" + stageId + "/pkg.nupkg",
			ManifestLocator: "s3://staging-manifests/" + stageId + "/pkg.json",
			OwnerKey:        "owner-1",
		}
	}
	return &models.BatchPushRequest{StageId: stageId, Packages: packages}
}
