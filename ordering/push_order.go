// Package ordering computes the order in which a batch's packages
// must be pushed to the registry: dependencies before dependents.
package ordering

import (
	"fmt"
	"github.com/packstage/pusher/models"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle inside a batch. This is a
// fatal input error: redelivering the same batch can never break the
// cycle, so the handler records a terminal failure instead of leaving
// the message retryable.
type CycleError struct {
	// Keys lists the package keys still waiting on each other.
	Keys []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("Batch contains a dependency cycle among packages: %s",
		strings.Join(e.Keys, ", "))
}

// IsCycle returns true if err is a CycleError.
func IsCycle(err error) bool {
	_, ok := err.(*CycleError)
	return ok
}

// ManifestDependencyReader reads a package's manifest and extracts
// its declared dependencies. The manifest package provides the
// S3-backed implementation; tests use plain fixtures.
type ManifestDependencyReader interface {
	GetDependencies(pkg *models.PackagePushRequest) ([]models.DependencyRef, error)
}

// ResolvePushOrder topologically sorts the batch's packages using
// intra-batch dependency edges only. Dependencies on packages outside
// the batch (already published, or in someone else's batch) are
// irrelevant to ordering and are dropped. The sort is deterministic:
// among packages whose dependencies are all satisfied, the one that
// appeared first in the batch is emitted first, so every redelivery
// of the same message walks the packages in the same order.
//
// A dependency cycle inside the batch is a fatal input error: no
// partial order is returned.
func ResolvePushOrder(packages []*models.PackagePushRequest, reader ManifestDependencyReader) ([]*models.PackagePushRequest, error) {
	// Ids present in this batch. A batch can contain several
	// versions of the same id; an intra-batch dependency edge
	// points at all of them.
	idsInBatch := make(map[string][]*models.PackagePushRequest)
	batchPosition := make(map[string]int)
	for i, pkg := range packages {
		idsInBatch[pkg.Id] = append(idsInBatch[pkg.Id], pkg)
		batchPosition[pkg.Key()] = i
	}

	// remaining[key] holds the keys of the in-batch packages that
	// key still waits on. dependents is the reverse adjacency.
	remaining := make(map[string]map[string]bool)
	dependents := make(map[string][]string)
	byKey := make(map[string]*models.PackagePushRequest)
	for _, pkg := range packages {
		deps, err := reader.GetDependencies(pkg)
		if err != nil {
			return nil, fmt.Errorf("Cannot read dependencies of %s: %v", pkg.Key(), err)
		}
		key := pkg.Key()
		byKey[key] = pkg
		remaining[key] = make(map[string]bool)
		for _, dep := range deps {
			for _, depPkg := range idsInBatch[dep.Id] {
				depKey := depPkg.Key()
				if depKey == key {
					continue
				}
				if !remaining[key][depKey] {
					remaining[key][depKey] = true
					dependents[depKey] = append(dependents[depKey], key)
				}
			}
		}
	}

	// Stable Kahn's algorithm: the ready set is kept in batch order.
	ready := make([]string, 0, len(packages))
	for _, pkg := range packages {
		if len(remaining[pkg.Key()]) == 0 {
			ready = append(ready, pkg.Key())
		}
	}

	ordered := make([]*models.PackagePushRequest, 0, len(packages))
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byKey[key])
		for _, depKey := range dependents[key] {
			delete(remaining[depKey], key)
			if len(remaining[depKey]) == 0 {
				ready = insertInBatchOrder(ready, depKey, batchPosition)
			}
		}
	}

	if len(ordered) != len(packages) {
		stuck := make([]string, 0)
		for key, waits := range remaining {
			if len(waits) > 0 {
				stuck = append(stuck, key)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Keys: stuck}
	}
	return ordered, nil
}

// insertInBatchOrder inserts key into the ready list, keeping the
// list sorted by original batch position.
func insertInBatchOrder(ready []string, key string, batchPosition map[string]int) []string {
	i := sort.Search(len(ready), func(i int) bool {
		return batchPosition[ready[i]] > batchPosition[key]
	})
	ready = append(ready, "")
	copy(ready[i+1:], ready[i:])
	ready[i] = key
	return ready
}
