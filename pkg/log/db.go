// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const dbAPIversion = "1"

const defaultMaxKeys = 100000

// NewDB new log database.
func NewDB(dbPath string, wg *sync.WaitGroup) *DB {
	return &DB{
		dbPath:  dbPath,
		maxKeys: defaultMaxKeys,

		wg:     wg,
		saveWG: &sync.WaitGroup{},
	}
}

// DB log database.
type DB struct {
	dbPath  string
	maxKeys int

	db *bolt.DB
	wg *sync.WaitGroup

	// Wait for the last log to be saved before closing the db.
	saveWG *sync.WaitGroup

	// Previous entry time, ensures keys are unique and ordered.
	prevTime UnixMicro
}

// Init opens the database and keeps it open until the context is canceled.
func (logDB *DB) Init(ctx context.Context) error {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(logDB.dbPath, 0o600, dbOpts)
	if err != nil {
		return fmt.Errorf("open database: %w: %v", err, logDB.dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dbAPIversion))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create bucket: %v, %w", dbAPIversion, err)
	}

	logDB.db = db

	logDB.wg.Add(1)
	go func() {
		<-ctx.Done()
		logDB.saveWG.Wait()
		db.Close()
		logDB.wg.Done()
	}()

	return nil
}

// SaveLogs saves logs from the logger into the database.
func (logDB *DB) SaveLogs(ctx context.Context, l *Logger) {
	feed, cancel := l.Subscribe()
	defer cancel()

	logDB.saveWG.Add(1)
	for {
		select {
		case <-ctx.Done():
			logDB.saveWG.Done()
			return
		case entry := <-feed:
			if err := logDB.saveLog(entry); err != nil {
				fmt.Fprintf(os.Stderr, "could not save log: %v %v\n", entry.Msg, err)
			}
		}
	}
}

func (logDB *DB) saveLog(entry Entry) error {
	if entry.Time <= logDB.prevTime {
		entry.Time = logDB.prevTime + 1
	}
	logDB.prevTime = entry.Time

	key := encodeKey(uint64(entry.Time))
	value, _ := json.Marshal(entry)

	return logDB.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))

		if b.Stats().KeyN >= logDB.maxKeys {
			if err := deleteFirstKey(b); err != nil {
				return fmt.Errorf("delete first key: %w", err)
			}
		}
		return b.Put(key, value)
	})
}

func deleteFirstKey(b *bolt.Bucket) error {
	k, _ := b.Cursor().First()
	return b.Delete(k)
}

// Query database query.
type Query struct {
	Levels  []Level
	Time    UnixMicro
	Sources []string
	Cameras []string
	Limit   int
}

// Query returns matching logs, newest first.
func (logDB *DB) Query(q Query) ([]Entry, error) {
	var entries []Entry

	err := logDB.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))
		c := b.Cursor()

		filterEntry := func(rawEntry []byte) error {
			var entry Entry
			if err := json.Unmarshal(rawEntry, &entry); err != nil {
				return fmt.Errorf("unmarshal log: %w", err)
			}

			if !levelInLevels(entry.Level, q.Levels) {
				return nil
			}
			if !stringInStrings(entry.Src, q.Sources) {
				return nil
			}
			if !stringInStrings(entry.CameraID, q.Cameras) {
				return nil
			}

			entries = append(entries, entry)
			return nil
		}

		if q.Time == 0 {
			_, value := c.Last()
			if value == nil {
				return nil
			}
			if err := filterEntry(value); err != nil {
				return err
			}
		} else {
			c.Seek(encodeKey(uint64(q.Time)))
		}

		limit := q.Limit
		if limit == 0 {
			limit = defaultMaxKeys
		}

		for len(entries) < limit {
			key, value := c.Prev()
			if key == nil {
				return nil
			}
			if err := filterEntry(value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func levelInLevels(level Level, levels []Level) bool {
	if levels == nil {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func stringInStrings(source string, sources []string) bool {
	if sources == nil {
		return true
	}
	for _, src := range sources {
		if src == source {
			return true
		}
	}
	return false
}

func encodeKey(key uint64) []byte {
	output := make([]byte, 8)
	binary.BigEndian.PutUint64(output, key)
	return output
}
