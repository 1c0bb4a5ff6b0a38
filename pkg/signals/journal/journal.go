// Package journal persists confirmed signal commands in a bbolt database so
// a signal tree can be rebuilt after a restart.
package journal

import (
	"encoding/binary"
	"time"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/pkg/signals"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Journal is an append-only command log with one bucket per tree name.
type Journal struct {
	db     *bolt.DB
	logger *logrus.Entry
}

// Entry is one journaled command.
type Entry struct {
	Seq     uint64
	Command signals.Command
}

// Open opens or creates the journal database at path.
func Open(path string, logger *logrus.Entry) (*Journal, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeJournal, "failed to open journal").
			WithDetail("path", path)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "journal")
	}
	return &Journal{db: db, logger: logger}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores cmd at the end of tree's log and returns its sequence number.
func (j *Journal) Append(tree string, cmd signals.Command) (uint64, error) {
	data, err := signals.MarshalCommand(cmd)
	if err != nil {
		return 0, err
	}

	var seq uint64
	err = j.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(tree))
		if err != nil {
			return err
		}
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(marshalSeq(seq), data)
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeJournal, "failed to append command").
			WithDetail("tree", tree)
	}
	return seq, nil
}

// Replay calls fn for every command of tree in append order.
func (j *Journal) Replay(tree string, fn func(Entry) error) error {
	return j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(tree))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			cmd, err := signals.UnmarshalCommand(v)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeJournal, "corrupt journal entry").
					WithDetail("tree", tree).
					WithDetail("seq", unmarshalSeq(k))
			}
			return fn(Entry{Seq: unmarshalSeq(k), Command: cmd})
		})
	})
}

// Len returns the number of commands stored for tree.
func (j *Journal) Len(tree string) (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(tree)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Trees lists the tree names with a log.
func (j *Journal) Trees() ([]string, error) {
	var names []string
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// Drop deletes tree's log.
func (j *Journal) Drop(tree string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(tree))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Restore replays tree's log into target. Call it before Attach so the
// replayed commands are not journaled again.
func (j *Journal) Restore(tree string, target signals.Confirmer) (int, error) {
	var commands []signals.Command
	err := j.Replay(tree, func(e Entry) error {
		commands = append(commands, e.Command)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(commands) > 0 {
		target.Confirm(commands)
	}
	j.logger.WithFields(logrus.Fields{
		"tree":     tree,
		"commands": len(commands),
	}).Debug("Restored signal tree from journal")
	return len(commands), nil
}

// Attach journals every command the signal tree accepts. The returned
// function detaches the journal.
func (j *Journal) Attach(tree string, st signals.SignalTree) func() {
	return st.SubscribeToProcessed(func(cmd signals.Command, result signals.CommandResult) {
		if !result.Accepted() {
			return
		}
		if _, err := j.Append(tree, cmd); err != nil {
			j.logger.WithError(err).WithField("tree", tree).Error("Failed to journal command")
		}
	})
}

func marshalSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func unmarshalSeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
