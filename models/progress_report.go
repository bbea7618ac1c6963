package models

import (
	"encoding/json"
	"fmt"
	"github.com/packstage/pusher/constants"
)

// PackageProgress records the push state of a single package
// within a batch.
type PackageProgress struct {
	Id      string `json:"id"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// ProgressReport is the decoded form of CommitRecord.ProgressBlob.
// It records where each package in a batch stands, so a worker that
// picks up a redelivered message can resume exactly where the prior
// attempt left off.
type ProgressReport struct {
	// Status is the batch-level push status, always derived from
	// the per-package statuses.
	Status string `json:"status"`

	// PerPackage maps package key (id + "/" + version) to that
	// package's progress.
	PerPackage map[string]*PackageProgress `json:"per_package"`

	// FailureDetails describes what went wrong, if Status is Failed.
	FailureDetails string `json:"failure_details,omitempty"`
}

// NewProgressReport returns an empty report with batch status Pending.
func NewProgressReport() *ProgressReport {
	return &ProgressReport{
		Status:     constants.StatusPending,
		PerPackage: make(map[string]*PackageProgress),
	}
}

// NewProgressReportForBatch returns a report covering every package
// in the batch, each marked Pending. The batch status stays Pending
// until the first per-package transition is recorded.
func NewProgressReportForBatch(request *BatchPushRequest) *ProgressReport {
	report := NewProgressReport()
	for _, pkg := range request.Packages {
		report.PerPackage[pkg.Key()] = &PackageProgress{
			Id:      pkg.Id,
			Version: pkg.Version,
			Status:  constants.StatusPending,
		}
	}
	return report
}

// NewProgressReportFromJson decodes a serialized report, typically
// from CommitRecord.ProgressBlob.
func NewProgressReportFromJson(data []byte) (*ProgressReport, error) {
	report := NewProgressReport()
	err := json.Unmarshal(data, report)
	if err != nil {
		return nil, fmt.Errorf("Could not parse ProgressReport: %v", err)
	}
	if report.PerPackage == nil {
		report.PerPackage = make(map[string]*PackageProgress)
	}
	return report, nil
}

// ToJson serializes this report for storage in a CommitRecord.
func (report *ProgressReport) ToJson() (string, error) {
	jsonData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

// PackageStatus returns the recorded status of the package with the
// given key, or Pending if the report has never seen that package.
func (report *ProgressReport) PackageStatus(key string) string {
	if progress, exists := report.PerPackage[key]; exists {
		return progress.Status
	}
	return constants.StatusPending
}

// SetPackageStatus records a new status for one package and
// recomputes the batch-level status. The caller persists the report
// after every call; transitions are never batched.
func (report *ProgressReport) SetPackageStatus(pkg *PackagePushRequest, status string) {
	report.PerPackage[pkg.Key()] = &PackageProgress{
		Id:      pkg.Id,
		Version: pkg.Version,
		Status:  status,
	}
	report.Status = DeriveBatchStatus(report.PerPackage)
}

// HasFailure returns true if the batch-level status is Failed.
func (report *ProgressReport) HasFailure() bool {
	return report.Status == constants.StatusFailed
}

// DeriveBatchStatus computes the batch-level status from per-package
// statuses. Failed wins over everything; Completed requires every
// package to be Completed; any other mix is InProgress. An empty
// map derives to Completed, since there is nothing left to push.
func DeriveBatchStatus(perPackage map[string]*PackageProgress) string {
	allCompleted := true
	for _, progress := range perPackage {
		if progress.Status == constants.StatusFailed {
			return constants.StatusFailed
		}
		if progress.Status != constants.StatusCompleted {
			allCompleted = false
		}
	}
	if allCompleted {
		return constants.StatusCompleted
	}
	return constants.StatusInProgress
}
