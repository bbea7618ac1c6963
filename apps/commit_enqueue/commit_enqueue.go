package main

import (
	"flag"
	"fmt"
	"github.com/packstage/pusher/context"
	"github.com/packstage/pusher/models"
	"github.com/packstage/pusher/util/storage"
	"github.com/satori/go.uuid"
	"io/ioutil"
	"os"
	"time"
)

// commit_enqueue kicks off the commit of one staged batch. It reads a
// batch push request from a JSON file, records a pending commit for
// the batch's stage, and puts the request into the batch push topic
// for the workers to pick up.
func main() {
	pathToConfigFile, pathToRequestFile := parseCommandLine()
	config, err := models.LoadConfigFile(pathToConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, err.Error())
		os.Exit(1)
	}
	_context := context.NewContext(config)

	data, err := ioutil.ReadFile(pathToRequestFile)
	if err != nil {
		_context.MessageLog.Fatalf("Cannot read request file %s: %v", pathToRequestFile, err)
	}
	request, err := models.NewBatchPushRequestFromJson(data)
	if err != nil {
		_context.MessageLog.Fatalf("Request file %s is not valid: %v", pathToRequestFile, err)
	}

	commit, err := recordCommit(_context, request)
	if err != nil {
		_context.MessageLog.Fatalf(err.Error())
	}
	_context.MessageLog.Info("Commit %s recorded for stage %s (%d packages)",
		commit.TrackId, request.StageId, len(request.Packages))

	err = _context.NSQClient.Enqueue(_context.Config.PushWorker.NsqTopic, request)
	if err != nil {
		_context.MessageLog.Fatalf("Cannot enqueue stage %s: %v", request.StageId, err)
	}
	message := fmt.Sprintf("Stage %s queued on topic %s as commit %s",
		request.StageId, _context.Config.PushWorker.NsqTopic, commit.TrackId)
	_context.MessageLog.Info(message)
	fmt.Println(message)
	printQueueDepth(_context)
}

// printQueueDepth reports the batch push topic's depth, so an
// operator can see at a glance whether workers are keeping up.
// Best effort: an unreachable stats endpoint doesn't fail the
// enqueue, which already succeeded.
func printQueueDepth(_context *context.Context) {
	stats, err := _context.NSQClient.GetStats()
	if err != nil {
		_context.MessageLog.Warning("Cannot fetch NSQ stats: %v", err)
		return
	}
	for _, topic := range stats.Data.Topics {
		if topic.TopicName == _context.Config.PushWorker.NsqTopic {
			fmt.Printf("Topic %s now holds %d messages\n", topic.TopicName, topic.Depth)
		}
	}
}

// recordCommit creates the pending commit record that the workers
// will update as the batch progresses. If the stage already has an
// active commit, we reuse it instead of creating a duplicate, so
// running this tool twice enqueues the same commit rather than
// forking its history.
func recordCommit(_context *context.Context, request *models.BatchPushRequest) (*models.CommitRecord, error) {
	if _context.Config.UseLocalCommitDB {
		boltStore, err := storage.NewBoltStore(_context.Config.CommitDBPath)
		if err != nil {
			return nil, fmt.Errorf("Cannot open commit db at %s: %v",
				_context.Config.CommitDBPath, err)
		}
		defer boltStore.Close()
		existing, err := boltStore.GetActiveCommit(request.StageId)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			_context.MessageLog.Info("Stage %s already has active commit %s",
				request.StageId, existing.TrackId)
			return existing, nil
		}
		return boltStore.CreateCommit(request.StageId)
	}

	existing, err := _context.GatewayClient.GetActiveCommit(request.StageId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		_context.MessageLog.Info("Stage %s already has active commit %s",
			request.StageId, existing.TrackId)
		return existing, nil
	}
	commit := models.NewCommitRecord(uuid.NewV4().String(), request.StageId)
	commit.LastUpdatedAt = time.Now().UTC()
	resp := _context.GatewayClient.CommitSave(commit)
	if resp.Error != nil {
		return nil, fmt.Errorf("Cannot save commit for stage %s: %v",
			request.StageId, resp.Error)
	}
	saved := resp.Commit()
	if saved == nil {
		return commit, nil
	}
	return saved, nil
}

func parseCommandLine() (configFile string, requestFile string) {
	var pathToConfigFile string
	var pathToRequestFile string
	flag.StringVar(&pathToConfigFile, "config", "", "Path to pusher config file")
	flag.StringVar(&pathToRequestFile, "request", "", "Path to JSON batch push request file")
	flag.Parse()
	if pathToConfigFile == "" || pathToRequestFile == "" {
		printUsage()
		os.Exit(1)
	}
	return pathToConfigFile, pathToRequestFile
}

// Tell the user about the program.
func printUsage() {
	message := `
commit_enqueue: Starts the commit of a staged batch. Records a
pending commit for the stage named in the request file, then queues
the batch push request in NSQ for the batch_push_worker processes.

The request file is JSON in this form:

  {
    "stage_id": "57bfee9a-4d02-4bd2-a4b0-685bc4454e1f",
    "packages": [
      {
        "id": "Newtonsoft.Json",
        "version": "12.0.1",
        "content_locator": "s3://staging-content/stage/pkg1.nupkg",
        "manifest_locator": "s3://staging-manifests/stage/pkg1.json",
        "owner_key": "owner-123"
      }
    ]
  }

Usage: commit_enqueue -config=<path to pusher config file> -request=<path to request file>

Both params are required.
`
	fmt.Println(message)
}
