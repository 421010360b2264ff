package ensemble

import (
	"encoding/json"
	"fmt"
	"time"

	"stackcast/internal/features"
)

// snapshotVersion guards the on-disk layout. Bump it when the encoded shape
// changes in a way old readers cannot handle.
const snapshotVersion = 1

// snapshot is the serialized form of a trained Model. The schema itself is
// not stored: it is rebuilt deterministically from Params.Features, so a
// decoded model always agrees with its own defaulting rules.
type snapshot struct {
	Version   int                        `json:"version"`
	CreatedAt time.Time                  `json:"created_at"`
	Classes   [features.NumLabels]string `json:"classes"`
	Params    Params                     `json:"params"`
	Scaler    *Scaler                    `json:"scaler"`
	Learners  []learnerSnapshot          `json:"learners"`
	Meta      *MetaCombiner              `json:"meta"`
	Monitor   *RangeMonitor              `json:"monitor"`
	Report    TrainReport                `json:"report"`
}

// learnerSnapshot stores one slot. Exactly one weight pointer is set for an
// active learner; all are nil for a degraded slot, which decodes back into a
// uniform stand-in.
type learnerSnapshot struct {
	Name   string        `json:"name"`
	Status string        `json:"status"`
	Reason string        `json:"reason,omitempty"`
	Boost  *BoostedTrees `json:"boosted_trees,omitempty"`
	Net    *NeuralNet    `json:"feed_forward,omitempty"`
	Seq    *SequenceHead `json:"sequence,omitempty"`
}

// EncodeSnapshot serializes a trained model to versioned JSON. A saved then
// loaded snapshot reproduces identical predictions for identical inputs.
func EncodeSnapshot(m *Model) ([]byte, error) {
	if m == nil {
		return nil, ErrNotTrained
	}
	s := snapshot{
		Version:   snapshotVersion,
		CreatedAt: time.Now().UTC(),
		Params:    m.params,
		Scaler:    m.scaler,
		Meta:      m.meta,
		Monitor:   m.monitor,
		Report:    m.report,
	}
	for i := range s.Classes {
		s.Classes[i] = features.Label(i).String()
	}
	for _, slot := range m.slots {
		ls := learnerSnapshot{Name: slot.name, Status: slot.status, Reason: slot.reason}
		switch l := slot.learner.(type) {
		case *BoostedTrees:
			ls.Boost = l
		case *NeuralNet:
			ls.Net = l
		case *SequenceHead:
			ls.Seq = l
		case *uniformLearner:
			// degraded stand-in, no weights to store
		default:
			return nil, fmt.Errorf("snapshot: unsupported learner type %T", slot.learner)
		}
		s.Learners = append(s.Learners, ls)
	}
	return json.MarshalIndent(s, "", "  ")
}

// DecodeSnapshot rebuilds a Model from EncodeSnapshot output.
func DecodeSnapshot(data []byte) (*Model, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot: unsupported version %d (want %d)", s.Version, snapshotVersion)
	}
	for i, class := range s.Classes {
		if class != features.Label(i).String() {
			return nil, fmt.Errorf("snapshot: class order mismatch at %d: %q", i, class)
		}
	}
	if err := s.Params.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot: params: %w", err)
	}
	if s.Scaler == nil || s.Meta == nil {
		return nil, fmt.Errorf("snapshot: missing scaler or meta-combiner")
	}

	schema := features.BuildSchema(s.Params.Features)
	if s.Scaler.Width() != schema.Len() {
		return nil, &features.SchemaMismatchError{Want: schema.Len(), Got: s.Scaler.Width()}
	}

	slots := make([]learnerSlot, 0, len(s.Learners))
	for _, ls := range s.Learners {
		slot := learnerSlot{name: ls.Name, status: ls.Status, reason: ls.Reason}
		switch {
		case ls.Boost != nil:
			slot.learner = ls.Boost
		case ls.Net != nil:
			slot.learner = ls.Net
		case ls.Seq != nil:
			slot.learner = ls.Seq
		default:
			slot.learner = &uniformLearner{name: ls.Name}
		}
		slots = append(slots, slot)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("snapshot: no learners")
	}
	if len(s.Meta.LearnerOrder) != len(slots) {
		return nil, fmt.Errorf("snapshot: meta order has %d learners, snapshot has %d",
			len(s.Meta.LearnerOrder), len(slots))
	}
	for i, name := range s.Meta.LearnerOrder {
		if slots[i].name != name {
			return nil, fmt.Errorf("snapshot: learner %d is %q, meta expects %q", i, slots[i].name, name)
		}
	}

	return &Model{
		params:  s.Params,
		schema:  schema,
		scaler:  s.Scaler,
		slots:   slots,
		meta:    s.Meta,
		monitor: s.Monitor,
		report:  s.Report,
	}, nil
}

// Snapshot serializes the engine's live model.
func (e *Engine) Snapshot() ([]byte, error) {
	model := e.snapshot()
	if model == nil {
		return nil, ErrNotTrained
	}
	return EncodeSnapshot(model)
}

// RestoreSnapshot decodes data and installs the model.
func (e *Engine) RestoreSnapshot(data []byte) error {
	model, err := DecodeSnapshot(data)
	if err != nil {
		return err
	}
	return e.Restore(model)
}
