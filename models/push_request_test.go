package models_test

import (
	"github.com/packstage/pusher/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestPackageKey(t *testing.T) {
	pkg := &models.PackagePushRequest{
		Id:      "Newtonsoft.Json",
		Version: "9.0.1",
	}
	assert.Equal(t, "Newtonsoft.Json/9.0.1", pkg.Key())
}

func TestNewBatchPushRequestFromJson(t *testing.T) {
	data := []byte(`{
		"stage_id": "stage-1",
		"packages": [
			{
				"id": "PkgA",
				"version": "1.0.0",
				"content_locator": "s3://content/stage-1/a.pkg",
				"manifest_locator": "s3://manifests/stage-1/a.json",
				"owner_key": "owner-1"
			}
		]
	}`)
	request, err := models.NewBatchPushRequestFromJson(data)
	require.Nil(t, err)
	require.NotNil(t, request)
	assert.Equal(t, "stage-1", request.StageId)
	require.Equal(t, 1, len(request.Packages))
	assert.Equal(t, "PkgA", request.Packages[0].Id)
	assert.Equal(t, "1.0.0", request.Packages[0].Version)
	assert.Equal(t, "s3://content/stage-1/a.pkg", request.Packages[0].ContentLocator)
	assert.Equal(t, "owner-1", request.Packages[0].OwnerKey)
}

func TestNewBatchPushRequestFromJsonBadData(t *testing.T) {
	request, err := models.NewBatchPushRequestFromJson([]byte("this is not json"))
	assert.NotNil(t, err)
	assert.Nil(t, request)
}

func TestNewBatchPushRequestFromJsonMissingStageId(t *testing.T) {
	request, err := models.NewBatchPushRequestFromJson([]byte(`{"packages": []}`))
	assert.NotNil(t, err)
	assert.Nil(t, request)
}

func TestBatchPushRequestToJson(t *testing.T) {
	request := &models.BatchPushRequest{
		StageId: "stage-1",
		Packages: []*models.PackagePushRequest{
			{Id: "PkgA", Version: "1.0.0"},
		},
	}
	data, err := request.ToJson()
	require.Nil(t, err)
	restored, err := models.NewBatchPushRequestFromJson(data)
	require.Nil(t, err)
	assert.Equal(t, request.StageId, restored.StageId)
	require.Equal(t, 1, len(restored.Packages))
	assert.Equal(t, "PkgA", restored.Packages[0].Id)
}

func TestPackageKeys(t *testing.T) {
	request := &models.BatchPushRequest{
		StageId: "stage-1",
		Packages: []*models.PackagePushRequest{
			{Id: "PkgA", Version: "1.0.0"},
			{Id: "PkgB", Version: "2.0.0"},
		},
	}
	assert.Equal(t, []string{"PkgA/1.0.0", "PkgB/2.0.0"}, request.PackageKeys())
}
