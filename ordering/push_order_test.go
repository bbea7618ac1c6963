package ordering_test

import (
	"fmt"
	"github.com/packstage/pusher/models"
	"github.com/packstage/pusher/ordering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

// fixtureReader serves dependencies from a map of package key to
// dependency ids.
type fixtureReader struct {
	deps map[string][]string
	errs map[string]error
}

func (reader *fixtureReader) GetDependencies(pkg *models.PackagePushRequest) ([]models.DependencyRef, error) {
	if err, exists := reader.errs[pkg.Key()]; exists {
		return nil, err
	}
	refs := make([]models.DependencyRef, 0)
	for _, id := range reader.deps[pkg.Key()] {
		refs = append(refs, models.DependencyRef{Id: id, VersionRange: "[1.0.0, )"})
	}
	return refs, nil
}

func makePackages(ids ...string) []*models.PackagePushRequest {
	packages := make([]*models.PackagePushRequest, len(ids))
	for i, id := range ids {
		packages[i] = &models.PackagePushRequest{Id: id, Version: "1.0.0"}
	}
	return packages
}

func orderedKeys(packages []*models.PackagePushRequest) []string {
	keys := make([]string, len(packages))
	for i, pkg := range packages {
		keys[i] = pkg.Key()
	}
	return keys
}

func TestResolvePushOrderDependenciesFirst(t *testing.T) {
	packages := makePackages("PkgA", "PkgB", "PkgC")
	reader := &fixtureReader{deps: map[string][]string{
		"PkgA/1.0.0": {"PkgB"},
		"PkgB/1.0.0": {"PkgC"},
	}}
	ordered, err := ordering.ResolvePushOrder(packages, reader)
	require.Nil(t, err)
	assert.Equal(t, []string{"PkgC/1.0.0", "PkgB/1.0.0", "PkgA/1.0.0"}, orderedKeys(ordered))
}

func TestResolvePushOrderBatchOrderTieBreak(t *testing.T) {
	// A depends on B; B and C have no dependencies. C precedes A in
	// the result because C appeared earlier in the batch, even
	// though both are unblocked once B is emitted.
	packages := makePackages("PkgA", "PkgB", "PkgC")
	reader := &fixtureReader{deps: map[string][]string{
		"PkgA/1.0.0": {"PkgB"},
	}}
	ordered, err := ordering.ResolvePushOrder(packages, reader)
	require.Nil(t, err)
	assert.Equal(t, []string{"PkgB/1.0.0", "PkgC/1.0.0", "PkgA/1.0.0"}, orderedKeys(ordered))
}

func TestResolvePushOrderIsDeterministic(t *testing.T) {
	packages := makePackages("PkgA", "PkgB", "PkgC", "PkgD", "PkgE")
	reader := &fixtureReader{deps: map[string][]string{
		"PkgA/1.0.0": {"PkgC", "PkgE"},
		"PkgB/1.0.0": {"PkgC"},
	}}
	first, err := ordering.ResolvePushOrder(packages, reader)
	require.Nil(t, err)
	for i := 0; i < 10; i++ {
		again, err := ordering.ResolvePushOrder(packages, reader)
		require.Nil(t, err)
		assert.Equal(t, orderedKeys(first), orderedKeys(again))
	}
}

func TestResolvePushOrderIgnoresExternalDependencies(t *testing.T) {
	// Dependencies on packages outside the batch don't constrain
	// the order at all.
	packages := makePackages("PkgA", "PkgB")
	reader := &fixtureReader{deps: map[string][]string{
		"PkgA/1.0.0": {"AlreadyPublished", "SomeFrameworkLib"},
		"PkgB/1.0.0": {"AnotherExternal"},
	}}
	ordered, err := ordering.ResolvePushOrder(packages, reader)
	require.Nil(t, err)
	assert.Equal(t, []string{"PkgA/1.0.0", "PkgB/1.0.0"}, orderedKeys(ordered))
}

func TestResolvePushOrderMultipleVersionsOfDependency(t *testing.T) {
	// PkgA depends on PkgB by id. The batch holds two versions of
	// PkgB; both must precede PkgA.
	packages := []*models.PackagePushRequest{
		{Id: "PkgA", Version: "1.0.0"},
		{Id: "PkgB", Version: "1.0.0"},
		{Id: "PkgB", Version: "2.0.0"},
	}
	reader := &fixtureReader{deps: map[string][]string{
		"PkgA/1.0.0": {"PkgB"},
	}}
	ordered, err := ordering.ResolvePushOrder(packages, reader)
	require.Nil(t, err)
	assert.Equal(t, []string{"PkgB/1.0.0", "PkgB/2.0.0", "PkgA/1.0.0"}, orderedKeys(ordered))
}

func TestResolvePushOrderCycle(t *testing.T) {
	packages := makePackages("PkgA", "PkgB", "PkgC")
	reader := &fixtureReader{deps: map[string][]string{
		"PkgA/1.0.0": {"PkgB"},
		"PkgB/1.0.0": {"PkgA"},
	}}
	ordered, err := ordering.ResolvePushOrder(packages, reader)
	assert.Nil(t, ordered)
	require.NotNil(t, err)
	assert.True(t, ordering.IsCycle(err))
	cycleErr := err.(*ordering.CycleError)
	assert.Equal(t, []string{"PkgA/1.0.0", "PkgB/1.0.0"}, cycleErr.Keys)
}

func TestResolvePushOrderManifestError(t *testing.T) {
	packages := makePackages("PkgA", "PkgB")
	reader := &fixtureReader{
		deps: map[string][]string{},
		errs: map[string]error{"PkgB/1.0.0": fmt.Errorf("connection reset")},
	}
	ordered, err := ordering.ResolvePushOrder(packages, reader)
	assert.Nil(t, ordered)
	require.NotNil(t, err)
	assert.False(t, ordering.IsCycle(err))
	assert.Contains(t, err.Error(), "PkgB/1.0.0")
}

func TestResolvePushOrderEmptyBatch(t *testing.T) {
	ordered, err := ordering.ResolvePushOrder([]*models.PackagePushRequest{}, &fixtureReader{})
	require.Nil(t, err)
	assert.Equal(t, 0, len(ordered))
}

func TestIsCycle(t *testing.T) {
	assert.True(t, ordering.IsCycle(&ordering.CycleError{Keys: []string{"PkgA/1.0.0"}}))
	assert.False(t, ordering.IsCycle(fmt.Errorf("plain error")))
}
