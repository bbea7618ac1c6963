package models

import (
	"encoding/json"
	"flag"
	"fmt"
	"github.com/op/go-logging"
	"github.com/packstage/pusher/constants"
	"github.com/packstage/pusher/util"
	"io/ioutil"
	"os"
	"path/filepath"
)

type WorkerConfig struct {
	// This describes how often the NSQ client should ping
	// the NSQ server to let it know it's still there. The
	// setting must be formatted like so:
	//
	// "800ms" for 800 milliseconds
	// "10s" for ten seconds
	// "1m" for one minute
	HeartbeatInterval string

	// The maximum number of times the queue will deliver a
	// message to this worker. When message.Attempts reaches
	// this number, the delivery is the final one: the worker
	// must leave the commit in a terminal state, because no
	// redelivery will follow.
	MaxAttempts uint16

	// Maximum number of messages the worker will accept from
	// the queue at one time. This is the concurrency bound on
	// batch processing: each in-flight message gets its own
	// handler goroutine.
	MaxInFlight int

	// If the NSQ server does not hear from a client that a
	// message is complete in this amount of time, the server
	// considers the message to have timed out and redelivers
	// it. The batch pusher touches the message between package
	// pushes, so only a single very slow push can hit this.
	MessageTimeout string

	// The name of the NSQ channel the worker reads from.
	NsqChannel string

	// The name of the NSQ topic the worker listens to.
	NsqTopic string

	// This describes how long the NSQ client will wait for
	// a read from the NSQ server before timing out. The format
	// is the same as for HeartbeatInterval.
	ReadTimeout string

	// This describes how long the NSQ client will wait for
	// a write to the NSQ server to complete before timing out.
	// The format is the same as for HeartbeatInterval.
	WriteTimeout string
}

type Config struct {
	// ActiveConfig is the configuration currently in use.
	ActiveConfig string

	// ContentBucketRegion is the AWS region that hosts the staging
	// content bucket we download package binaries from.
	ContentBucketRegion string

	// CommitDBPath is the path to the bolt database file used as
	// the commit status store when UseLocalCommitDB is true.
	CommitDBPath string

	// DrainPollInterval is how often the listener re-checks the
	// in-flight registry while draining on shutdown. Duration
	// string, e.g. "500ms".
	DrainPollInterval string

	// DrainTimeout is how long the listener waits for in-flight
	// messages to finish on shutdown before closing the
	// subscription anyway. Duration string, e.g. "2m".
	DrainTimeout string

	// GatewayAPIVersion is the version segment of the staging
	// gateway's REST API, e.g. "api/v1".
	GatewayAPIVersion string

	// GatewayURL is the base URL of the staging gateway, the web
	// service that owns commit records and publish credentials.
	GatewayURL string

	// LogDirectory is where we'll write our log files.
	LogDirectory string

	// LogLevel is defined in github.com/op/go-logging
	// and should be one of the following:
	// 1 - CRITICAL
	// 2 - ERROR
	// 3 - WARNING
	// 4 - NOTICE
	// 5 - INFO
	// 6 - DEBUG
	LogLevel logging.Level

	// If true, processes will log to STDERR in addition
	// to their standard log files.
	LogToStderr bool

	// ManifestBucketEndpoint is the S3-compatible endpoint that
	// hosts package manifests, without protocol. E.g.
	// "s3.amazonaws.com".
	ManifestBucketEndpoint string

	// NsqdHttpAddress is the address of the nsqd HTTP API we
	// publish batch messages to. Usually ends with :4151.
	NsqdHttpAddress string

	// NsqLookupd is the hostname:port of the nsqlookupd instance
	// our consumers discover nsqd through.
	NsqLookupd string

	// PushWorker holds the NSQ settings for the batch push worker.
	PushWorker WorkerConfig

	// RegistryAPIVersion is the version segment of the registry's
	// publish API, e.g. "api/v2".
	RegistryAPIVersion string

	// RegistryPushAttempts is the number of times the registry
	// client will attempt a single package push before giving up.
	// Only network errors and 5xx responses are retried.
	RegistryPushAttempts int

	// RegistryRetryDelay is the delay before the first push retry.
	// The delay doubles on each subsequent attempt. Duration
	// string, e.g. "2s".
	RegistryRetryDelay string

	// RegistryURL is the base URL of the backing package registry
	// we publish to.
	RegistryURL string

	// StagingDirectory is the local directory where package
	// content is staged before being streamed to the registry.
	StagingDirectory string

	// UseLocalCommitDB selects the bolt-backed commit status store
	// instead of the gateway. Used in standalone and test setups.
	UseLocalCommitDB bool
}

// LoadConfigFile loads the JSON config file at the specified path,
// expands relative paths, and creates the directories the process
// needs to run. This returns an error if the file doesn't exist, or
// if its contents are not valid JSON.
func LoadConfigFile(pathToConfigFile string) (*Config, error) {
	data, err := ioutil.ReadFile(pathToConfigFile)
	if err != nil {
		return nil, fmt.Errorf("Cannot read config file at %s: %v", pathToConfigFile, err)
	}
	config := &Config{}
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("Cannot parse config file at %s: %v", pathToConfigFile, err)
	}
	config.ExpandFilePaths()
	config.applyDefaults()
	err = config.createDirectories()
	if err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults fills in the settings almost no deployment overrides.
func (config *Config) applyDefaults() {
	if config.PushWorker.NsqTopic == "" {
		config.PushWorker.NsqTopic = constants.TopicBatchPush
	}
	if config.PushWorker.NsqChannel == "" {
		config.PushWorker.NsqChannel = constants.ChannelBatchPush
	}
	if config.ContentBucketRegion == "" {
		config.ContentBucketRegion = constants.AWSVirginia
	}
}

// AbsLogDirectory returns the absolute path of the log directory.
func (config *Config) AbsLogDirectory() string {
	absPath, _ := filepath.Abs(config.LogDirectory)
	return absPath
}

// ExpandFilePaths expands ~ and relative paths in the config to
// absolute paths.
func (config *Config) ExpandFilePaths() {
	config.LogDirectory = expandPath(config.LogDirectory)
	config.StagingDirectory = expandPath(config.StagingDirectory)
	config.CommitDBPath = expandPath(config.CommitDBPath)
}

func expandPath(path string) string {
	if path == "" {
		return path
	}
	expanded, err := util.ExpandTilde(path)
	if err == nil {
		path = expanded
	}
	if absPath, err := filepath.Abs(path); err == nil {
		path = absPath
	}
	return path
}

func (config *Config) createDirectories() error {
	if config.LogDirectory == "" {
		return fmt.Errorf("You must define config.LogDirectory")
	}
	if config.StagingDirectory == "" {
		return fmt.Errorf("You must define config.StagingDirectory")
	}
	err := os.MkdirAll(config.LogDirectory, 0755)
	if err != nil {
		return err
	}
	err = os.MkdirAll(config.StagingDirectory, 0755)
	if err != nil {
		return err
	}
	if config.UseLocalCommitDB {
		if config.CommitDBPath == "" {
			return fmt.Errorf("You must define config.CommitDBPath when UseLocalCommitDB is true")
		}
		err = os.MkdirAll(filepath.Dir(config.CommitDBPath), 0755)
		if err != nil {
			return err
		}
	}
	return nil
}

// TestsAreRunning returns true if we're running unit or integration
// tests; false otherwise.
func (config *Config) TestsAreRunning() bool {
	return flag.Lookup("test.v") != nil
}

// GetAWSAccessKeyId returns the AWS Access Key ID from the
// environment, or an empty string if the ENV var isn't set. In test
// context, this returns a dummy key so the config doesn't blow up
// in CI environments with no AWS credentials.
func (config *Config) GetAWSAccessKeyId() string {
	keyId := os.Getenv("AWS_ACCESS_KEY_ID")
	if keyId == "" && config.TestsAreRunning() {
		keyId = "TestKeyId"
	}
	return keyId
}

// GetAWSSecretAccessKey returns the AWS Secret Access Key from the
// environment, or an empty string if the ENV var isn't set. In test
// context, this returns a dummy key.
func (config *Config) GetAWSSecretAccessKey() string {
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if secretKey == "" && config.TestsAreRunning() {
		secretKey = "TestSecretKey"
	}
	return secretKey
}
