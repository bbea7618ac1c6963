package storage

import (
	"encoding/json"
	"fmt"
	"github.com/boltdb/bolt"
	"github.com/packstage/pusher/models"
	uuid "github.com/satori/go.uuid"
	"time"
)

const ACTIVE_BUCKET = "active_commits"
const COMMITS_BUCKET = "commits"

// BoltStore is a CommitStatusStore backed by a bolt database: a
// key-value store that resides in a single file on disk. The
// standalone worker and the enqueue tool use this when there is no
// staging gateway to talk to. The active commit for each stage lives
// in one bucket keyed by stage id; every commit ever created lives
// in a second bucket keyed by track id, since a stage can accumulate
// several commit attempts over time.
type BoltStore struct {
	db       *bolt.DB
	filePath string
}

// NewBoltStore opens a bolt database, creating the DB file if it
// doesn't already exist.
func NewBoltStore(filePath string) (store *BoltStore, err error) {
	db, err := bolt.Open(filePath, 0644, nil)
	if err == nil {
		store = &BoltStore{
			db:       db,
			filePath: filePath,
		}
		err = store.initBuckets()
	}
	return store, err
}

func (store *BoltStore) initBuckets() error {
	return store.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ACTIVE_BUCKET))
		if err != nil {
			return fmt.Errorf("Error creating active commits bucket: %s", err)
		}
		_, err = tx.CreateBucketIfNotExists([]byte(COMMITS_BUCKET))
		if err != nil {
			return fmt.Errorf("Error creating commits bucket: %s", err)
		}
		return nil
	})
}

// FilePath returns the path to the bolt DB file.
func (store *BoltStore) FilePath() string {
	return store.filePath
}

// Close closes the bolt database.
func (store *BoltStore) Close() {
	store.db.Close()
}

// CreateCommit creates a new Pending commit record for the staging
// area and makes it the stage's active commit. The web layer
// guarantees no other commit for the stage is still active; this
// store trusts that invariant.
func (store *BoltStore) CreateCommit(stageId string) (*models.CommitRecord, error) {
	commit := models.NewCommitRecord(uuid.NewV4().String(), stageId)
	err := store.put(commit)
	if err != nil {
		return nil, err
	}
	return commit, nil
}

// GetActiveCommit returns the most recently requested commit for the
// staging area. If the stage has no commit record, this returns nil
// and no error.
func (store *BoltStore) GetActiveCommit(stageId string) (*models.CommitRecord, error) {
	var commit *models.CommitRecord
	err := store.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(ACTIVE_BUCKET)).Get([]byte(stageId))
		if len(value) == 0 {
			return nil
		}
		commit = &models.CommitRecord{}
		return json.Unmarshal(value, commit)
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

// GetCommit returns the commit with the specified track id, or nil
// if there is no such commit.
func (store *BoltStore) GetCommit(trackId string) (*models.CommitRecord, error) {
	var commit *models.CommitRecord
	err := store.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(COMMITS_BUCKET)).Get([]byte(trackId))
		if len(value) == 0 {
			return nil
		}
		commit = &models.CommitRecord{}
		return json.Unmarshal(value, commit)
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

// SaveProgress serializes the report into the commit and overwrites
// the stored record in a single transaction. Bolt transactions are
// atomic, so a reader never sees the blob and the status out of sync.
func (store *BoltStore) SaveProgress(commit *models.CommitRecord, report *models.ProgressReport) error {
	err := commit.SetProgressReport(report)
	if err != nil {
		return err
	}
	commit.LastUpdatedAt = time.Now().UTC()
	return store.put(commit)
}

// put writes the commit to both buckets in one transaction.
func (store *BoltStore) put(commit *models.CommitRecord) error {
	value, err := json.Marshal(commit)
	if err != nil {
		return fmt.Errorf("Cannot serialize commit %s: %v", commit.TrackId, err)
	}
	return store.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket([]byte(ACTIVE_BUCKET)).Put([]byte(commit.StageId), value)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(COMMITS_BUCKET)).Put([]byte(commit.TrackId), value)
	})
}
