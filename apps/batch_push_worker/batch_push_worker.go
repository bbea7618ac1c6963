package main

import (
	"flag"
	"fmt"
	"github.com/packstage/pusher/context"
	"github.com/packstage/pusher/models"
	"github.com/packstage/pusher/util/storage"
	"github.com/packstage/pusher/workers"
	"os"
	"os/signal"
	"syscall"
)

// batch_push_worker receives messages from nsqd describing staged
// batches of packages to publish. It resolves the dependency order of
// each batch, pushes the packages to the registry one at a time, and
// records per-package progress so an interrupted batch resumes where
// it left off.
func main() {
	pathToConfigFile := parseCommandLine()
	config, err := models.LoadConfigFile(pathToConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, err.Error())
		os.Exit(1)
	}
	_context := context.NewContext(config)
	_context.MessageLog.Info("Connecting to NSQLookupd at %s", _context.Config.NsqLookupd)
	_context.MessageLog.Info("NSQDHttpAddress is %s", _context.Config.NsqdHttpAddress)

	store, cleanup := openCommitStore(_context)
	defer cleanup()

	listener := workers.NewListener(_context, store)
	err = listener.Subscribe()
	if err != nil {
		_context.MessageLog.Fatalf(err.Error())
	}
	_context.MessageLog.Info("batch_push_worker started")

	// Block until we get an interrupt, then drain in-flight batches
	// before exiting.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	_context.MessageLog.Info("Received signal %s, shutting down", sig)
	err = listener.Stop()
	if err != nil {
		_context.MessageLog.Error(err.Error())
	}
}

// openCommitStore returns the commit status store this worker should
// use: the local BoltDB file for single-node deployments, or the
// gateway's commit API otherwise.
func openCommitStore(_context *context.Context) (storage.CommitStatusStore, func()) {
	if _context.Config.UseLocalCommitDB {
		boltStore, err := storage.NewBoltStore(_context.Config.CommitDBPath)
		if err != nil {
			_context.MessageLog.Fatalf("Cannot open commit db at %s: %v",
				_context.Config.CommitDBPath, err)
		}
		_context.MessageLog.Info("Using local commit db at %s", boltStore.FilePath())
		return boltStore, boltStore.Close
	}
	_context.MessageLog.Info("Using gateway commit store at %s", _context.Config.GatewayURL)
	return _context.GatewayClient, func() {}
}

func parseCommandLine() (configFile string) {
	var pathToConfigFile string
	flag.StringVar(&pathToConfigFile, "config", "", "Path to pusher config file")
	flag.Parse()
	if pathToConfigFile == "" {
		printUsage()
		os.Exit(1)
	}
	return pathToConfigFile
}

// Tell the user about the program.
func printUsage() {
	message := `
batch_push_worker: Reads from NSQ to find which staged batches are
waiting to be committed to the registry. It pushes each batch's
packages in dependency order, recording progress after every package
so that interrupted batches resume instead of starting over.

Usage: batch_push_worker -config=<absolute path to pusher config file>

Param -config is required.
`
	fmt.Println(message)
}
