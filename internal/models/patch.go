package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Field is an optional patch value. Set distinguishes an absent key from an
// explicit null, which clears the target field.
type Field[T any] struct {
	Set   bool
	Value *T
}

// SetTo returns a Field that assigns v.
func SetTo[T any](v T) Field[T] { return Field[T]{Set: true, Value: &v} }

// Clear returns a Field that unsets the target.
func Clear[T any]() Field[T] { return Field[T]{Set: true} }

func (f Field[T]) apply(dst **T) {
	if !f.Set {
		return
	}
	*dst = clonePtr(f.Value)
}

// JobPatch is a partial update to a Job carried by progress and status events.
type JobPatch struct {
	Status          *JobStatus
	ProgressPercent Field[int]
	Step            Field[string]
	StepIndex       Field[int]
	StepTotal       Field[int]
	ETASeconds      Field[int]
	Note            Field[string]
	UpdatedAt       *time.Time
}

// Empty reports whether the patch changes nothing.
func (p JobPatch) Empty() bool {
	return p.Status == nil && p.UpdatedAt == nil &&
		!p.ProgressPercent.Set && !p.Step.Set && !p.StepIndex.Set &&
		!p.StepTotal.Set && !p.ETASeconds.Set && !p.Note.Set
}

// ApplyTo shallow-merges the patch into j.
func (p JobPatch) ApplyTo(j *Job) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	p.ProgressPercent.apply(&j.ProgressPercent)
	p.Step.apply(&j.Step)
	p.StepIndex.apply(&j.StepIndex)
	p.StepTotal.apply(&j.StepTotal)
	p.ETASeconds.apply(&j.ETASeconds)
	p.Note.apply(&j.Note)
	if p.UpdatedAt != nil {
		j.UpdatedAt = *p.UpdatedAt
	}
}

// AppendFields writes the patch into a flat wire object. Cleared fields are
// written as null.
func (p JobPatch) AppendFields(m map[string]any) {
	if p.Status != nil {
		m["status"] = *p.Status
	}
	putField(m, "progress_percent", p.ProgressPercent)
	putField(m, "step", p.Step)
	putField(m, "step_index", p.StepIndex)
	putField(m, "step_total", p.StepTotal)
	putField(m, "eta_seconds", p.ETASeconds)
	putField(m, "note", p.Note)
	if p.UpdatedAt != nil {
		m["updated_at"] = p.UpdatedAt.UTC()
	}
}

func putField[T any](m map[string]any, key string, f Field[T]) {
	if !f.Set {
		return
	}
	if f.Value == nil {
		m[key] = nil
		return
	}
	m[key] = *f.Value
}

// DecodePatch reads the patch keys out of a flat wire object. Keys that are
// not patchable are ignored.
func DecodePatch(raw map[string]json.RawMessage) (JobPatch, error) {
	var p JobPatch
	if v, ok := raw["status"]; ok {
		var s JobStatus
		if err := json.Unmarshal(v, &s); err != nil {
			return p, fmt.Errorf("status: %w", err)
		}
		if !s.Valid() {
			return p, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
		}
		p.Status = &s
	}
	if v, ok := raw["progress_percent"]; ok {
		var f *float64
		if err := json.Unmarshal(v, &f); err != nil {
			return p, fmt.Errorf("progress_percent: %w", err)
		}
		p.ProgressPercent = Field[int]{Set: true}
		if f != nil {
			p.ProgressPercent.Value = Ptr(roundPercent(*f))
		}
	}
	var err error
	if p.Step, err = decodeField[string](raw, "step"); err != nil {
		return p, err
	}
	if p.StepIndex, err = decodeField[int](raw, "step_index"); err != nil {
		return p, err
	}
	if p.StepTotal, err = decodeField[int](raw, "step_total"); err != nil {
		return p, err
	}
	if p.ETASeconds, err = decodeField[int](raw, "eta_seconds"); err != nil {
		return p, err
	}
	if p.Note, err = decodeField[string](raw, "note"); err != nil {
		return p, err
	}
	if v, ok := raw["updated_at"]; ok && string(v) != "null" {
		var t time.Time
		if err := json.Unmarshal(v, &t); err != nil {
			return p, fmt.Errorf("updated_at: %w", err)
		}
		p.UpdatedAt = &t
	}
	return p, nil
}

func decodeField[T any](raw map[string]json.RawMessage, key string) (Field[T], error) {
	v, ok := raw[key]
	if !ok {
		return Field[T]{}, nil
	}
	var out *T
	if err := json.Unmarshal(v, &out); err != nil {
		return Field[T]{}, fmt.Errorf("%s: %w", key, err)
	}
	return Field[T]{Set: true, Value: out}, nil
}
