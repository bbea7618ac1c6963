package network

import (
	"fmt"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/packstage/pusher/models"
	"github.com/packstage/pusher/util"
	"os"
	"path/filepath"
	"strings"
)

// GetS3Session returns an S3 session for the specified region,
// with credentials from the environment.
func GetS3Session(awsRegion string) (*session.Session, error) {
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" || os.Getenv("AWS_SECRET_ACCESS_KEY") == "" {
		return nil, fmt.Errorf("AWS_ACCESS_KEY_ID and/or " +
			"AWS_SECRET_ACCESS_KEY not set in environment")
	}
	creds := credentials.NewEnvCredentials()
	_session := session.New(&aws.Config{
		Region:      aws.String(awsRegion),
		Credentials: creds,
	})
	if _session == nil {
		return nil, fmt.Errorf("AWS Session returned nil")
	}
	return _session, nil
}

// S3ContentFetcher stages package content from the content bucket
// into the local staging directory, so the registry client can
// re-open and re-stream it on each push attempt. A half-sent HTTP
// body can't be rewound, but a local file can.
type S3ContentFetcher struct {
	AWSRegion        string
	StagingDirectory string
	session          *session.Session
}

func NewS3ContentFetcher(awsRegion, stagingDirectory string) *S3ContentFetcher {
	return &S3ContentFetcher{
		AWSRegion:        awsRegion,
		StagingDirectory: stagingDirectory,
	}
}

// getSession returns a cached S3 session for this fetcher.
func (fetcher *S3ContentFetcher) getSession() (*session.Session, error) {
	if fetcher.session == nil {
		var err error
		fetcher.session, err = GetS3Session(fetcher.AWSRegion)
		if err != nil {
			return nil, err
		}
	}
	return fetcher.session, nil
}

// LocalPath returns the staging file path for one package. Files are
// staged under a per-stage subdirectory: concurrent handlers can be
// working on the same id/version for different stages, and they must
// never share a scratch file.
func (fetcher *S3ContentFetcher) LocalPath(stageId string, pkg *models.PackagePushRequest) string {
	fileName := fmt.Sprintf("%s__%s.pkg", pkg.Id, pkg.Version)
	fileName = strings.Replace(fileName, string(os.PathSeparator), "_", -1)
	stageDir := strings.Replace(stageId, string(os.PathSeparator), "_", -1)
	return filepath.Join(fetcher.StagingDirectory, stageDir, fileName)
}

// Fetch downloads the package's content from its s3:// locator into
// the stage's staging directory and returns the local path. The
// caller is responsible for cleaning the file up after the push.
func (fetcher *S3ContentFetcher) Fetch(stageId string, pkg *models.PackagePushRequest) (string, error) {
	bucket, key, err := util.BucketNameAndKey(pkg.ContentLocator)
	if err != nil {
		return "", err
	}
	_session, err := fetcher.getSession()
	if err != nil {
		return "", err
	}
	localPath := fetcher.LocalPath(stageId, pkg)
	err = os.MkdirAll(filepath.Dir(localPath), 0755)
	if err != nil {
		return "", fmt.Errorf("Cannot create staging directory for stage %s: %v", stageId, err)
	}
	file, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("Cannot create staging file %s: %v", localPath, err)
	}
	defer file.Close()

	downloader := s3manager.NewDownloader(_session)
	_, err = downloader.Download(file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("Cannot download content for %s from %s: %v",
			pkg.Key(), pkg.ContentLocator, err)
	}
	return localPath, nil
}

// Cleanup removes a staged content file. Failure to delete is not
// fatal; the staging directory is scratch space.
func (fetcher *S3ContentFetcher) Cleanup(localPath string) error {
	if localPath == "" {
		return nil
	}
	return os.Remove(localPath)
}
