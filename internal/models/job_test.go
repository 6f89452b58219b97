package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobValidate(t *testing.T) {
	base := Job{ID: 1, ProjectID: 2, Type: JobTypeRender, Status: StatusRunning}

	testCases := []struct {
		name    string
		mutate  func(j *Job)
		wantErr error
	}{
		{"valid", func(j *Job) {}, nil},
		{"missing id", func(j *Job) { j.ID = 0 }, ErrMissingJobID},
		{"unknown status", func(j *Job) { j.Status = "pending" }, ErrUnknownStatus},
		{"unknown type", func(j *Job) { j.Type = "rendering" }, ErrUnknownJobType},
		{"step beyond total", func(j *Job) { j.StepIndex, j.StepTotal = Ptr(4), Ptr(3) }, ErrStepOutOfRange},
		{"step equal total", func(j *Job) { j.StepIndex, j.StepTotal = Ptr(3), Ptr(3) }, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			j := base.Clone()
			tc.mutate(&j)
			err := j.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestJobUnmarshalRoundsProgress(t *testing.T) {
	var j Job
	err := json.Unmarshal([]byte(`{"id":7,"project_id":1,"type":"analysis","status":"running","progress_percent":42.6,"step":"Detecting walls"}`), &j)
	require.NoError(t, err)
	require.NotNil(t, j.ProgressPercent)
	assert.Equal(t, 43, *j.ProgressPercent)
	assert.Equal(t, "Detecting walls", *j.Step)
	assert.Nil(t, j.StepTotal)

	err = json.Unmarshal([]byte(`{"id":7,"project_id":1,"type":"analysis","status":"running","progress_percent":null}`), &j)
	require.NoError(t, err)
	assert.Nil(t, j.ProgressPercent)
}

func TestJobClone(t *testing.T) {
	j := Job{ID: 1, Step: Ptr("a"), ProgressPercent: Ptr(10)}
	c := j.Clone()
	*c.Step = "b"
	*c.ProgressPercent = 20
	assert.Equal(t, "a", *j.Step)
	assert.Equal(t, 10, *j.ProgressPercent)
}

func TestDecodePatch(t *testing.T) {
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"status","job_id":3,"status":"queued","progress_percent":null,"step":null,"step_index":null,"step_total":null,"eta_seconds":12}`), &raw))

	p, err := DecodePatch(raw)
	require.NoError(t, err)
	require.NotNil(t, p.Status)
	assert.Equal(t, StatusQueued, *p.Status)
	assert.True(t, p.ProgressPercent.Set)
	assert.Nil(t, p.ProgressPercent.Value)
	assert.True(t, p.StepTotal.Set)
	assert.False(t, p.Note.Set)
	require.NotNil(t, p.ETASeconds.Value)
	assert.Equal(t, 12, *p.ETASeconds.Value)

	j := Job{ID: 3, Status: StatusFailed, ProgressPercent: Ptr(70), Step: Ptr("Rendering"), StepIndex: Ptr(2), StepTotal: Ptr(3), Note: Ptr("gpu lost")}
	p.ApplyTo(&j)
	assert.Equal(t, StatusQueued, j.Status)
	assert.Nil(t, j.ProgressPercent)
	assert.Nil(t, j.Step)
	assert.Nil(t, j.StepIndex)
	assert.Nil(t, j.StepTotal)
	assert.Equal(t, "gpu lost", *j.Note)
}

func TestDecodePatchRejectsBadValues(t *testing.T) {
	cases := []string{
		`{"status":"pending"}`,
		`{"status":null}`,
		`{"progress_percent":"fifty"}`,
		`{"step_index":"two"}`,
		`{"updated_at":"yesterday"}`,
	}
	for _, c := range cases {
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(c), &raw))
		_, err := DecodePatch(raw)
		assert.Error(t, err, c)
	}
}

func TestPatchAppendFields(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := JobPatch{
		Status:          Ptr(StatusRunning),
		ProgressPercent: SetTo(30),
		Step:            Clear[string](),
		UpdatedAt:       &now,
	}
	m := map[string]any{}
	p.AppendFields(m)

	assert.Equal(t, StatusRunning, m["status"])
	assert.Equal(t, 30, m["progress_percent"])
	v, ok := m["step"]
	assert.True(t, ok)
	assert.Nil(t, v)
	_, ok = m["note"]
	assert.False(t, ok)
	assert.Equal(t, now, m["updated_at"])
	assert.False(t, p.Empty())
	assert.True(t, JobPatch{}.Empty())
}
