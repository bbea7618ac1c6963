package models_test

import (
	"github.com/packstage/pusher/constants"
	"github.com/packstage/pusher/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func batchOfTwo() *models.BatchPushRequest {
	return &models.BatchPushRequest{
		StageId: "stage-1",
		Packages: []*models.PackagePushRequest{
			{Id: "PkgA", Version: "1.0.0"},
			{Id: "PkgB", Version: "2.0.0"},
		},
	}
}

func TestNewProgressReport(t *testing.T) {
	report := models.NewProgressReport()
	assert.Equal(t, constants.StatusPending, report.Status)
	assert.NotNil(t, report.PerPackage)
	assert.Empty(t, report.FailureDetails)
}

func TestNewProgressReportForBatch(t *testing.T) {
	report := models.NewProgressReportForBatch(batchOfTwo())
	assert.Equal(t, constants.StatusPending, report.Status)
	require.Equal(t, 2, len(report.PerPackage))
	assert.Equal(t, constants.StatusPending, report.PackageStatus("PkgA/1.0.0"))
	assert.Equal(t, constants.StatusPending, report.PackageStatus("PkgB/2.0.0"))
}

func TestProgressReportJson(t *testing.T) {
	report := models.NewProgressReportForBatch(batchOfTwo())
	report.SetPackageStatus(batchOfTwo().Packages[0], constants.StatusCompleted)
	jsonString, err := report.ToJson()
	require.Nil(t, err)
	restored, err := models.NewProgressReportFromJson([]byte(jsonString))
	require.Nil(t, err)
	assert.Equal(t, report.Status, restored.Status)
	assert.Equal(t, constants.StatusCompleted, restored.PackageStatus("PkgA/1.0.0"))
	assert.Equal(t, constants.StatusPending, restored.PackageStatus("PkgB/2.0.0"))
}

func TestNewProgressReportFromJsonBadData(t *testing.T) {
	report, err := models.NewProgressReportFromJson([]byte("not json at all"))
	assert.NotNil(t, err)
	assert.Nil(t, report)
}

func TestPackageStatusUnknownKey(t *testing.T) {
	report := models.NewProgressReport()
	assert.Equal(t, constants.StatusPending, report.PackageStatus("Never/1.0.0"))
}

func TestSetPackageStatusDerivesBatchStatus(t *testing.T) {
	batch := batchOfTwo()
	report := models.NewProgressReportForBatch(batch)

	report.SetPackageStatus(batch.Packages[0], constants.StatusInProgress)
	assert.Equal(t, constants.StatusInProgress, report.Status)

	report.SetPackageStatus(batch.Packages[0], constants.StatusCompleted)
	assert.Equal(t, constants.StatusInProgress, report.Status)

	report.SetPackageStatus(batch.Packages[1], constants.StatusCompleted)
	assert.Equal(t, constants.StatusCompleted, report.Status)
}

func TestHasFailure(t *testing.T) {
	batch := batchOfTwo()
	report := models.NewProgressReportForBatch(batch)
	assert.False(t, report.HasFailure())
	report.SetPackageStatus(batch.Packages[0], constants.StatusFailed)
	assert.True(t, report.HasFailure())
}

func TestDeriveBatchStatusFailedWins(t *testing.T) {
	perPackage := map[string]*models.PackageProgress{
		"PkgA/1.0.0": {Status: constants.StatusCompleted},
		"PkgB/2.0.0": {Status: constants.StatusFailed},
		"PkgC/3.0.0": {Status: constants.StatusPending},
	}
	assert.Equal(t, constants.StatusFailed, models.DeriveBatchStatus(perPackage))
}

func TestDeriveBatchStatusAllCompleted(t *testing.T) {
	perPackage := map[string]*models.PackageProgress{
		"PkgA/1.0.0": {Status: constants.StatusCompleted},
		"PkgB/2.0.0": {Status: constants.StatusCompleted},
	}
	assert.Equal(t, constants.StatusCompleted, models.DeriveBatchStatus(perPackage))
}

func TestDeriveBatchStatusMixed(t *testing.T) {
	perPackage := map[string]*models.PackageProgress{
		"PkgA/1.0.0": {Status: constants.StatusCompleted},
		"PkgB/2.0.0": {Status: constants.StatusPending},
	}
	assert.Equal(t, constants.StatusInProgress, models.DeriveBatchStatus(perPackage))
}

func TestDeriveBatchStatusEmpty(t *testing.T) {
	assert.Equal(t, constants.StatusCompleted,
		models.DeriveBatchStatus(map[string]*models.PackageProgress{}))
}
