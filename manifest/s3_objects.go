package manifest

import (
	"github.com/minio/minio-go"
	"io"
)

// S3ObjectStore reads manifest objects from an S3-compatible
// endpoint through a Minio client. For the endpoint param, do not
// include protocol: use "s3.amazonaws.com", not
// "https://s3.amazonaws.com". The Minio client uses https by
// default.
type S3ObjectStore struct {
	client *minio.Client
}

func NewS3ObjectStore(endpoint, accessKeyId, secretAccessKey string) (*S3ObjectStore, error) {
	client, err := minio.New(endpoint, accessKeyId, secretAccessKey, true)
	if err != nil {
		return nil, err
	}
	return &S3ObjectStore{client: client}, nil
}

// GetObject returns a streaming reader over the object. Manifests
// are small, but there's no reason to buffer them twice.
func (store *S3ObjectStore) GetObject(bucket, key string) (io.ReadCloser, error) {
	return store.client.GetObject(bucket, key, minio.GetObjectOptions{})
}
