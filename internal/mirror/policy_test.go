package mirror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloadable struct{ id string }

func (f fakeDownloadable) Identifier() string { return f.id }

type recordingDelegate struct {
	failedToGenerate []string
	exhausted        []string
}

func (d *recordingDelegate) FailedToGenerateDownloadable(resourceID string, m Mirror, err error) {
	d.failedToGenerate = append(d.failedToGenerate, m.ID)
}

func (d *recordingDelegate) ExhaustedAllMirrors(resourceID string) {
	d.exhausted = append(d.exhausted, resourceID)
}

func alwaysSucceedFactory(m Mirror) (Downloadable, error) {
	return fakeDownloadable{id: m.ID}, nil
}

func testResource() Resource {
	return Resource{
		ID:   "res-1",
		Main: Mirror{ID: "main", Location: "https://a.example/f", Info: map[string]interface{}{"weight": 10}},
		Mirrors: []Mirror{
			{ID: "alt-high", Location: "https://b.example/f", Info: map[string]interface{}{"weight": 20}},
			{ID: "alt-low", Location: "https://c.example/f", Info: map[string]interface{}{"weight": 5}},
		},
	}
}

func TestCandidatesSortedByWeightDescending(t *testing.T) {
	r := testResource()
	cs := candidates(r)
	require.Len(t, cs, 3)
	assert.Equal(t, "alt-high", cs[0].ID)
	assert.Equal(t, "main", cs[1].ID)
	assert.Equal(t, "alt-low", cs[2].ID)
}

func TestCandidatesMissingWeightDefaultsToZero(t *testing.T) {
	r := Resource{
		ID:   "res-2",
		Main: Mirror{ID: "main", Info: nil},
		Mirrors: []Mirror{
			{ID: "alt", Info: map[string]interface{}{"weight": -1}},
		},
	}
	cs := candidates(r)
	assert.Equal(t, "main", cs[0].ID)
	assert.Equal(t, "alt", cs[1].ID)
}

func TestNextSelectsHighestWeightFirst(t *testing.T) {
	delegate := &recordingDelegate{}
	p := New(DefaultRetryBudget, alwaysSucceedFactory, delegate, nil)

	dl, m, ok := p.Next(testResource(), "", nil)
	require.True(t, ok)
	assert.Equal(t, "alt-high", m.ID)
	assert.Equal(t, "alt-high", dl.Identifier())
}

func TestNextExcludesMirrorAtRetryBudget(t *testing.T) {
	delegate := &recordingDelegate{}
	p := New(2, alwaysSucceedFactory, delegate, nil)
	r := testResource()

	_, m1, ok := p.Next(r, "", nil)
	require.True(t, ok)
	assert.Equal(t, "alt-high", m1.ID)

	_, m2, ok := p.Next(r, m1.ID, errors.New("boom"))
	require.True(t, ok)
	assert.Equal(t, "alt-high", m2.ID, "still below budget after 1 failure")

	_, m3, ok := p.Next(r, m2.ID, errors.New("boom again"))
	require.True(t, ok)
	assert.Equal(t, "main", m3.ID, "alt-high excluded after reaching the budget")
}

func TestNextNotifiesExhaustionWhenAllMirrorsReachBudget(t *testing.T) {
	delegate := &recordingDelegate{}
	p := New(1, alwaysSucceedFactory, delegate, nil)
	r := Resource{ID: "res-solo", Main: Mirror{ID: "only"}}

	_, m, ok := p.Next(r, "", nil)
	require.True(t, ok)
	assert.Equal(t, "only", m.ID)

	_, _, ok = p.Next(r, m.ID, errors.New("fail"))
	assert.False(t, ok)
	assert.Equal(t, []string{"res-solo"}, delegate.exhausted)
}

func TestNextNotifiesFailedToGenerateDownloadableOnBadScheme(t *testing.T) {
	delegate := &recordingDelegate{}
	badFactory := func(m Mirror) (Downloadable, error) {
		if m.ID == "alt-high" {
			return nil, errors.New("unsupported scheme")
		}
		return fakeDownloadable{id: m.ID}, nil
	}
	p := New(DefaultRetryBudget, badFactory, delegate, nil)

	dl, m, ok := p.Next(testResource(), "", nil)
	require.True(t, ok)
	assert.Equal(t, "main", m.ID, "falls through to next candidate after instantiation failure")
	assert.Equal(t, "main", dl.Identifier())
	assert.Equal(t, []string{"alt-high"}, delegate.failedToGenerate)
}

func TestDownloadCompleteClearsCounters(t *testing.T) {
	delegate := &recordingDelegate{}
	p := New(1, alwaysSucceedFactory, delegate, nil)
	r := Resource{ID: "res-reset", Main: Mirror{ID: "only"}}

	_, m, _ := p.Next(r, "", nil)
	p.Next(r, m.ID, errors.New("fail"))
	p.DownloadComplete(r.ID)

	_, m2, ok := p.Next(r, "", nil)
	require.True(t, ok, "mirror available again after DownloadComplete resets counters")
	assert.Equal(t, "only", m2.ID)
}
