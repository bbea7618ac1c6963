// Package manifest reads package manifests and extracts declared
// dependencies for the push-order resolver.
package manifest

import (
	"encoding/json"
	"fmt"
	"github.com/packstage/pusher/models"
	"github.com/packstage/pusher/util"
	"io"
	"io/ioutil"
)

// ObjectStore is a byte-addressable read interface over wherever
// manifests live. The S3ObjectStore implementation covers the
// staging buckets; tests supply in-memory stores.
type ObjectStore interface {
	GetObject(bucket, key string) (io.ReadCloser, error)
}

// PackageManifest is the part of a package manifest this pipeline
// cares about: identity plus declared dependencies. Registries store
// far more metadata in manifests; everything else passes through
// untouched.
type PackageManifest struct {
	Id           string                 `json:"id"`
	Version      string                 `json:"version"`
	Dependencies []models.DependencyRef `json:"dependencies"`
}

// Reader reads manifests from an ObjectStore and implements
// ordering.ManifestDependencyReader.
type Reader struct {
	Objects ObjectStore
}

func NewReader(objects ObjectStore) *Reader {
	return &Reader{Objects: objects}
}

// GetManifest fetches and parses the manifest at the package's
// manifest locator.
func (reader *Reader) GetManifest(pkg *models.PackagePushRequest) (*PackageManifest, error) {
	bucket, key, err := util.BucketNameAndKey(pkg.ManifestLocator)
	if err != nil {
		return nil, fmt.Errorf("Bad manifest locator for %s: %v", pkg.Key(), err)
	}
	object, err := reader.Objects.GetObject(bucket, key)
	if err != nil {
		return nil, fmt.Errorf("Cannot fetch manifest for %s from %s: %v",
			pkg.Key(), pkg.ManifestLocator, err)
	}
	defer object.Close()
	data, err := ioutil.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("Cannot read manifest for %s: %v", pkg.Key(), err)
	}
	parsed := &PackageManifest{}
	err = json.Unmarshal(data, parsed)
	if err != nil {
		return nil, fmt.Errorf("Cannot parse manifest for %s: %v", pkg.Key(), err)
	}
	return parsed, nil
}

// GetDependencies returns the dependencies declared in the package's
// manifest.
func (reader *Reader) GetDependencies(pkg *models.PackagePushRequest) ([]models.DependencyRef, error) {
	parsed, err := reader.GetManifest(pkg)
	if err != nil {
		return nil, err
	}
	if parsed.Dependencies == nil {
		return make([]models.DependencyRef, 0), nil
	}
	return parsed.Dependencies, nil
}
