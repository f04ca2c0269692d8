package database

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	bolt "go.etcd.io/bbolt"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

const BucketHistory = "history"

const DefaultHistoryLimit = 25

// Sources of a history entry.
const (
	SourceSession = "session"
	SourceRead    = "read"
	SourceWrite   = "write"
)

func DbFile(dir string) string {
	return filepath.Join(dir, config.DbFilename)
}

// Check if the db exists on disk.
func DbExists(dir string) bool {
	_, err := os.Stat(DbFile(dir))
	return err == nil
}

type Database struct {
	bdb *bolt.DB
}

// Open the db in dir. If the database does not exist it will be created and
// the buckets will be initialized.
func Open(dir string) (*Database, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	db, err := bolt.Open(DbFile(dir), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists([]byte(BucketHistory))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Database{bdb: db}, nil
}

func (d *Database) Close() error {
	return d.bdb.Close()
}

type HistoryEntry struct {
	Id      uint64    `json:"id" csv:"id"`
	Time    time.Time `json:"time" csv:"time"`
	Source  string    `json:"source" csv:"source"`
	Reader  string    `json:"reader" csv:"reader"`
	UID     string    `json:"uid" csv:"uid"`
	Text    string    `json:"text" csv:"text"`
	Data    string    `json:"data" csv:"data"`
	Success bool      `json:"success" csv:"success"`
}

// EntryFromToken builds a successful history entry for a detected token.
func EntryFromToken(source string, t tokens.Token) HistoryEntry {
	ts := t.ScanTime
	if ts.IsZero() {
		ts = time.Now()
	}
	return HistoryEntry{
		Time:    ts,
		Source:  source,
		Reader:  t.Reader,
		UID:     t.UID,
		Text:    t.Text,
		Data:    t.Data,
		Success: true,
	}
}

func historyKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// AddHistory stores entry under the next sequence number so cursor order
// matches insertion order.
func (d *Database) AddHistory(entry HistoryEntry) (HistoryEntry, error) {
	err := d.bdb.Update(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(BucketHistory))

		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.Id = id

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return b.Put(historyKey(id), data)
	})
	return entry, err
}

// GetHistory returns up to limit entries, newest first. A limit of 0 or
// less returns everything.
func (d *Database) GetHistory(limit int) ([]HistoryEntry, error) {
	entries := make([]HistoryEntry, 0)

	err := d.bdb.View(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(BucketHistory))

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}

			var entry HistoryEntry
			err := json.Unmarshal(v, &entry)
			if err != nil {
				return err
			}

			entries = append(entries, entry)
		}

		return nil
	})

	return entries, err
}

func (d *Database) ClearHistory() error {
	return d.bdb.Update(func(txn *bolt.Tx) error {
		err := txn.DeleteBucket([]byte(BucketHistory))
		if err != nil {
			return err
		}
		_, err = txn.CreateBucket([]byte(BucketHistory))
		return err
	})
}

// ExportHistoryCSV writes the full history to w in insertion order.
func (d *Database) ExportHistoryCSV(w io.Writer) error {
	entries, err := d.GetHistory(0)
	if err != nil {
		return err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return gocsv.Marshal(&entries, w)
}

func (e HistoryEntry) WithSuccess(ok bool) HistoryEntry {
	e.Success = ok
	return e
}
