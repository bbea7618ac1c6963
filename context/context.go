package context

import (
	"fmt"
	"github.com/op/go-logging"
	"github.com/packstage/pusher/manifest"
	"github.com/packstage/pusher/models"
	"github.com/packstage/pusher/network"
	"github.com/packstage/pusher/util/logger"
	stdlog "log"
	"os"
	"sync/atomic"
	"time"
)

/*
Context sets up the items common to the pusher services (the batch
push worker, the enqueue tool, etc.). It also encapsulates some
functions common to all of those services.
*/
type Context struct {
	Config         *models.Config
	MessageLog     *logging.Logger
	JsonLog        *stdlog.Logger
	NSQClient      *network.NSQClient
	GatewayClient  *network.GatewayClient
	RegistryClient *network.RegistryClient
	manifestReader *manifest.Reader
	pathToLogFile  string
	pathToJsonLog  string
	succeeded      int64
	failed         int64
}

/*
NewContext creates and returns a new Context object. Because some
items are absolutely required by this object and the processes that
use it, this method will exit if it gets an invalid config param, or
if it cannot set up some essential services, such as logging.

This object is meant to be used as a singleton within any of the
stand-alone services.
*/
func NewContext(config *models.Config) (context *Context) {
	context = &Context{
		succeeded: int64(0),
		failed:    int64(0),
	}
	context.Config = config
	context.MessageLog, context.pathToLogFile = logger.InitLogger(config)
	context.JsonLog, context.pathToJsonLog = logger.InitJsonLogger(config)
	context.NSQClient = network.NewNSQClient(config.NsqdHttpAddress)
	context.initGatewayClient()
	context.initRegistryClient()
	context.initManifestReader()
	return context
}

// Initializes a reusable gateway client.
func (context *Context) initGatewayClient() {
	gatewayClient, err := network.NewGatewayClient(
		context.Config.GatewayURL,
		context.Config.GatewayAPIVersion,
		os.Getenv("GATEWAY_API_KEY"))
	if err != nil {
		message := fmt.Sprintf("Exiting. Cannot initialize gateway client: %v", err)
		fmt.Fprintln(os.Stderr, message)
		context.MessageLog.Fatal(message)
	}
	context.GatewayClient = gatewayClient
}

// Initializes a reusable registry push client.
func (context *Context) initRegistryClient() {
	retryDelay, err := time.ParseDuration(context.Config.RegistryRetryDelay)
	if err != nil || retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	context.RegistryClient = network.NewRegistryClient(
		context.Config.RegistryURL,
		context.Config.RegistryAPIVersion,
		context.Config.RegistryPushAttempts,
		retryDelay,
		context.MessageLog)
}

// Initializes a reusable reader for package manifests in the
// manifest bucket.
func (context *Context) initManifestReader() {
	objects, err := manifest.NewS3ObjectStore(
		context.Config.ManifestBucketEndpoint,
		context.Config.GetAWSAccessKeyId(),
		context.Config.GetAWSSecretAccessKey())
	if err != nil {
		message := fmt.Sprintf("Exiting. Cannot initialize manifest store: %v", err)
		fmt.Fprintln(os.Stderr, message)
		context.MessageLog.Fatal(message)
	}
	context.manifestReader = manifest.NewReader(objects)
}

// ManifestReader returns the shared reader for package manifests.
func (context *Context) ManifestReader() *manifest.Reader {
	return context.manifestReader
}

// Succeeded returns the number of batch messages that succeeded.
func (context *Context) Succeeded() int64 {
	return atomic.LoadInt64(&context.succeeded)
}

// Failed returns the number of batch messages that failed.
func (context *Context) Failed() int64 {
	return atomic.LoadInt64(&context.failed)
}

// IncrementSucceeded increases the count of successfully processed
// messages by one.
func (context *Context) IncrementSucceeded() int64 {
	return atomic.AddInt64(&context.succeeded, 1)
}

// IncrementFailed increases the count of unsuccessfully processed
// messages by one.
func (context *Context) IncrementFailed() int64 {
	return atomic.AddInt64(&context.failed, 1)
}

// PathToLogFile returns the path to this process' log file.
func (context *Context) PathToLogFile() string {
	return context.pathToLogFile
}

// PathToJsonLog returns the path to this process' JSON log file.
func (context *Context) PathToJsonLog() string {
	return context.pathToJsonLog
}

// LogStats logs info about the number of messages that have
// succeeded and failed.
func (context *Context) LogStats() {
	context.MessageLog.Info("**STATS** Succeeded: %d, Failed: %d",
		context.Succeeded(), context.Failed())
}
