// Package journal provides persistent storage for the prediction service. It
// uses BoltDB as the underlying engine to store telemetry observations and
// served predictions, and resolves past predictions against realized prices
// once the horizon has elapsed.
//
// Keys are "asset_timestamp" so range scans over a time window are cursor
// walks over a contiguous key span.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"stackcast/internal/ensemble"
	"stackcast/internal/features"
)

const (
	observationsBucket = "observations"
	predictionsBucket  = "predictions"

	dbFileName = "stackcast.db"
)

// Store provides persistent storage for telemetry and prediction history.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the journal under dataPath and ensures both buckets
// exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(observationsBucket)); err != nil {
			return fmt.Errorf("create observations bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// AppendObservation stores one telemetry observation.
func (s *Store) AppendObservation(asset string, o features.Observation) error {
	return s.AppendObservations(asset, []features.Observation{o})
}

// AppendObservations stores a batch in a single transaction.
func (s *Store) AppendObservations(asset string, obs []features.Observation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(observationsBucket))
		for _, o := range obs {
			data, err := json.Marshal(o)
			if err != nil {
				return fmt.Errorf("marshal observation: %w", err)
			}
			key := fmt.Sprintf("%s_%d", asset, o.Ts.UnixNano())
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Observations returns the stored observations for an asset within the
// inclusive time range, in timestamp order.
func (s *Store) Observations(asset string, start, end time.Time) ([]features.Observation, error) {
	var out []features.Observation
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(observationsBucket))
		c := b.Cursor()

		prefix := []byte(asset + "_")
		startKey := []byte(fmt.Sprintf("%s_%d", asset, start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%s_%d", asset, end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}
			var o features.Observation
			if err := json.Unmarshal(v, &o); err != nil {
				continue // skip malformed records
			}
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

// RecentObservations returns up to n most recent observations for an asset,
// oldest first. It is what warm boots feed into training.
func (s *Store) RecentObservations(asset string, n int) ([]features.Observation, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []features.Observation
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(observationsBucket))
		c := b.Cursor()
		prefix := []byte(asset + "_")

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var o features.Observation
			if err := json.Unmarshal(v, &o); err != nil {
				continue
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// PruneObservations deletes observations recorded before the cutoff and
// returns the number removed.
func (s *Store) PruneObservations(asset string, before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(observationsBucket))
		c := b.Cursor()

		prefix := []byte(asset + "_")
		cutoff := []byte(fmt.Sprintf("%s_%d", asset, before.UnixNano()))

		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix) && bytes.Compare(k, cutoff) < 0; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Entry is one journaled prediction awaiting (or holding) its outcome.
type Entry struct {
	ID           string         `json:"id"`
	Asset        string         `json:"asset"`
	Ts           time.Time      `json:"ts"`
	BasePrice    float64        `json:"base_price"`
	InputsDigest string         `json:"inputs_digest,omitempty"`
	Label        features.Label `json:"label"`
	Confidence   float64        `json:"confidence"`
	Score        float64        `json:"score"`
	Resolved     bool           `json:"resolved"`
	Outcome      *Outcome       `json:"outcome,omitempty"`
}

// Outcome records how a prediction fared once the horizon elapsed.
type Outcome struct {
	Price      float64        `json:"price"`
	Change     float64        `json:"change"`
	Actual     features.Label `json:"actual"`
	Correct    bool           `json:"correct"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// RecordPrediction journals one served prediction against the price it was
// made at, returning the stored entry with its assigned ID. supplied is the
// request's raw feature map; its digest ties the entry back to the inputs
// without storing them verbatim.
func (s *Store) RecordPrediction(asset string, basePrice float64, supplied map[string]float64, p *ensemble.Prediction) (Entry, error) {
	e := Entry{
		ID:           uuid.NewString(),
		Asset:        asset,
		Ts:           p.GeneratedAt,
		BasePrice:    basePrice,
		InputsDigest: digestInputs(supplied),
		Label:        p.Label,
		Confidence:   p.Confidence,
		Score:        p.Score,
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		// unique suffix: two predictions can land in the same nanosecond
		key := fmt.Sprintf("%s_%d_%s", asset, e.Ts.UnixNano(), e.ID[:8])
		return b.Put([]byte(key), data)
	})
	return e, err
}

// digestInputs hashes the supplied feature map in sorted key order, so equal
// inputs always produce the same digest.
func digestInputs(supplied map[string]float64) string {
	if len(supplied) == 0 {
		return ""
	}
	keys := make([]string, 0, len(supplied))
	for k := range supplied {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(strconv.FormatFloat(supplied[k], 'g', -1, 64)))
		h.Write([]byte{';'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// ResolveStats summarizes one ResolveOutcomes pass.
type ResolveStats struct {
	Resolved int `json:"resolved"`
	Correct  int `json:"correct"`
	Pending  int `json:"pending"`
}

// ResolveOutcomes finds unresolved predictions whose horizon has elapsed,
// looks up the first observation at or after prediction time plus horizon,
// and grades the predicted label against the realized move using the same
// threshold band the trainer labels with. Predictions with no observation
// past the horizon yet stay pending.
func (s *Store) ResolveOutcomes(asset string, horizon time.Duration, threshold float64, now time.Time) (ResolveStats, error) {
	var stats ResolveStats
	err := s.db.Update(func(tx *bbolt.Tx) error {
		predictions := tx.Bucket([]byte(predictionsBucket))
		observations := tx.Bucket([]byte(observationsBucket))
		c := predictions.Cursor()
		prefix := []byte(asset + "_")

		// collect first, write after: puts during cursor iteration can
		// invalidate the cursor
		updates := make(map[string][]byte)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if e.Resolved {
				continue
			}
			due := e.Ts.Add(horizon)
			if due.After(now) {
				stats.Pending++
				continue
			}

			realized, ok := firstObservationAt(observations, asset, due)
			if !ok {
				stats.Pending++
				continue
			}

			change := 0.0
			if e.BasePrice > 0 {
				change = (realized.Price - e.BasePrice) / e.BasePrice
			}
			actual := features.LabelFromChange(change, threshold)
			e.Resolved = true
			e.Outcome = &Outcome{
				Price:      realized.Price,
				Change:     change,
				Actual:     actual,
				Correct:    actual == e.Label,
				ResolvedAt: now,
			}

			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal resolved entry: %w", err)
			}
			updates[string(k)] = data
			stats.Resolved++
			if e.Outcome.Correct {
				stats.Correct++
			}
		}

		for k, data := range updates {
			if err := predictions.Put([]byte(k), data); err != nil {
				return err
			}
		}
		return nil
	})
	return stats, err
}

// firstObservationAt returns the earliest stored observation at or after the
// given time.
func firstObservationAt(b *bbolt.Bucket, asset string, at time.Time) (features.Observation, bool) {
	c := b.Cursor()
	prefix := []byte(asset + "_")
	startKey := []byte(fmt.Sprintf("%s_%d", asset, at.UnixNano()))

	for k, v := c.Seek(startKey); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var o features.Observation
		if err := json.Unmarshal(v, &o); err != nil {
			continue
		}
		return o, true
	}
	return features.Observation{}, false
}

// Stats describes the journal contents for one asset.
type Stats struct {
	Observations int     `json:"observations"`
	Predictions  int     `json:"predictions"`
	Resolved     int     `json:"resolved"`
	Correct      int     `json:"correct"`
	Accuracy     float64 `json:"accuracy"`
}

// Stats scans the journal and reports entry counts and live directional
// accuracy over resolved predictions.
func (s *Store) Stats(asset string) (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := []byte(asset + "_")

		oc := tx.Bucket([]byte(observationsBucket)).Cursor()
		for k, _ := oc.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = oc.Next() {
			st.Observations++
		}

		pc := tx.Bucket([]byte(predictionsBucket)).Cursor()
		for k, v := pc.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = pc.Next() {
			st.Predictions++
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if e.Resolved {
				st.Resolved++
				if e.Outcome != nil && e.Outcome.Correct {
					st.Correct++
				}
			}
		}
		return nil
	})
	if st.Resolved > 0 {
		st.Accuracy = float64(st.Correct) / float64(st.Resolved)
	}
	return st, err
}
