package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.etcd.io/bbolt"
)

var pointsBucket = []byte("points")

const dbOpenTimeout = 100 * time.Millisecond

// BoltPointWriter is a durable point log backed by a single bbolt file:
// every written point becomes one key/value pair, keyed by an
// append-only monotonic sequence so iteration order is insertion order.
type BoltPointWriter struct {
	db *bbolt.DB
}

// OpenBoltPointWriter opens (creating if absent) a bbolt database at path
// and ensures its single bucket exists.
func OpenBoltPointWriter(path string) (*BoltPointWriter, error) {
	db, err := bbolt.Open(path, 0640, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pointsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltPointWriter{db: db}, nil
}

// WritePoint appends one point, keyed by the bucket's next sequence
// number so points are durable and in write order.
func (w *BoltPointWriter) WritePoint(structureID uint16, parameter string, value float64, t time.Time) error {
	return w.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(pointsBucket)
		if bkt == nil {
			return fmt.Errorf("telemetry: points bucket missing")
		}
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bkt.Put(key, encodePoint(structureID, parameter, value, t))
	})
}

// Close flushes and closes the underlying database file.
func (w *BoltPointWriter) Close() error {
	return w.db.Close()
}

// Count returns the number of points currently stored, for tests and
// diagnostics.
func (w *BoltPointWriter) Count() int {
	var n int
	w.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(pointsBucket)
		if bkt != nil {
			n = bkt.Stats().KeyN
		}
		return nil
	})
	return n
}

// encodePoint serializes one point as: unixNano(i64) || structureId(u16)
// || paramLen(u16) || parameter || value(f64 bits).
func encodePoint(structureID uint16, parameter string, value float64, t time.Time) []byte {
	buf := make([]byte, 8+2+2+len(parameter)+8)
	binary.BigEndian.PutUint64(buf[0:8], uint64(t.UnixNano()))
	binary.BigEndian.PutUint16(buf[8:10], structureID)
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(parameter)))
	copy(buf[12:12+len(parameter)], parameter)
	binary.BigEndian.PutUint64(buf[12+len(parameter):], math.Float64bits(value))
	return buf
}
