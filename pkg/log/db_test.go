// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "logs.db")
	logDB := NewDB(dbPath, &sync.WaitGroup{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, logDB.Init(ctx))
	return logDB
}

func TestQuery(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		msg1 := Entry{
			Level:    LevelDebug,
			Time:     1000,
			Src:      "extractor",
			CameraID: "cam2",
			Msg:      "msg1",
		}
		msg2 := Entry{
			Level:    LevelInfo,
			Time:     2000,
			Src:      "recorder",
			CameraID: "cam2",
			Msg:      "msg2",
		}
		msg3 := Entry{
			Level: LevelWarning,
			Time:  3000,
			Src:   "recorder",
			Msg:   "msg3",
		}
		msg4 := Entry{
			Level:    LevelError,
			Time:     4000,
			Src:      "app",
			CameraID: "cam1",
			Msg:      "msg4",
		}

		logDB := newTestDB(t)

		// Populate database.
		require.NoError(t, logDB.saveLog(msg1))
		require.NoError(t, logDB.saveLog(msg2))
		require.NoError(t, logDB.saveLog(msg3))
		require.NoError(t, logDB.saveLog(msg4))

		cases := []struct {
			name     string
			input    Query
			expected []Entry
		}{
			{
				name: "singleLevel",
				input: Query{
					Levels: []Level{LevelWarning},
				},
				expected: []Entry{msg3},
			},
			{
				name: "multipleLevels",
				input: Query{
					Levels: []Level{LevelError, LevelWarning},
				},
				expected: []Entry{msg4, msg3},
			},
			{
				name: "singleSource",
				input: Query{
					Sources: []string{"app"},
				},
				expected: []Entry{msg4},
			},
			{
				name: "multipleSources",
				input: Query{
					Sources: []string{"app", "extractor"},
				},
				expected: []Entry{msg4, msg1},
			},
			{
				name: "singleCamera",
				input: Query{
					Cameras: []string{"cam2"},
				},
				expected: []Entry{msg2, msg1},
			},
			{
				name: "multipleCameras",
				input: Query{
					Cameras: []string{"cam1", "cam2"},
				},
				expected: []Entry{msg4, msg2, msg1},
			},
			{
				name:     "all",
				input:    Query{},
				expected: []Entry{msg4, msg3, msg2, msg1},
			},
			{
				name: "limit",
				input: Query{
					Limit: 2,
				},
				expected: []Entry{msg4, msg3},
			},
			{
				name: "beforeTime",
				input: Query{
					Time: 4000,
				},
				expected: []Entry{msg3, msg2, msg1},
			},
			{
				name: "time",
				input: Query{
					Time: 3500,
				},
				expected: []Entry{msg3, msg2, msg1},
			},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				entries, err := logDB.Query(tc.input)
				require.NoError(t, err)
				require.Equal(t, tc.expected, entries)
			})
		}
	})
	t.Run("emptyDB", func(t *testing.T) {
		logDB := newTestDB(t)

		entries, err := logDB.Query(Query{})
		require.NoError(t, err)
		require.Empty(t, entries)
	})
	t.Run("unmarshalErr", func(t *testing.T) {
		logDB := newTestDB(t)

		err := logDB.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(dbAPIversion))
			return b.Put([]byte("invalid"), []byte("nil"))
		})
		require.NoError(t, err)

		_, err = logDB.Query(Query{})
		require.Error(t, err)
	})
}

func TestDB(t *testing.T) {
	t.Run("saveLogs", func(t *testing.T) {
		logDB := newTestDB(t)

		saveCtx, cancelSave := context.WithCancel(context.Background())

		_, logger := newTestLogger(t)
		done := make(chan struct{})
		go func() {
			logDB.SaveLogs(saveCtx, logger)
			close(done)
		}()

		logger.Log(Entry{Time: 100, Msg: "a"})
		logger.Log(Entry{Time: 200, Msg: "b"})

		// Second log has been saved once the third is accepted.
		logger.Log(Entry{Time: 300, Msg: "c"})

		cancelSave()
		<-done

		entries, err := logDB.Query(Query{Time: 300})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "b", entries[0].Msg)
		require.Equal(t, "a", entries[1].Msg)
	})
	t.Run("maxKeys", func(t *testing.T) {
		logDB := newTestDB(t)
		logDB.maxKeys = 3

		logDB.saveLog(Entry{Time: 1})
		logDB.saveLog(Entry{Time: 2})
		logDB.saveLog(Entry{Time: 3})
		logDB.saveLog(Entry{Time: 4})
		logDB.saveLog(Entry{Time: 5})

		logDB.db.View(func(tx *bolt.Tx) error {
			keyN := tx.Bucket([]byte(dbAPIversion)).Stats().KeyN
			require.Equal(t, 3, keyN)
			return nil
		})
	})
	t.Run("timeCollision", func(t *testing.T) {
		logDB := newTestDB(t)

		logDB.saveLog(Entry{Time: 1, Msg: "a"})
		logDB.saveLog(Entry{Time: 1, Msg: "b"})

		entries, err := logDB.Query(Query{})
		require.NoError(t, err)
		require.Len(t, entries, 2)
	})
	t.Run("openDBerr", func(t *testing.T) {
		logDB := &DB{
			dbPath: "/dev/null",
		}
		err := logDB.Init(context.Background())
		require.Error(t, err)
	})
}
