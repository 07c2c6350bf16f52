package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Mail2Ledger/internal/config"
)

func newPollerFixture(t *testing.T) (*orchFixture, *Poller) {
	f := newOrchFixture(t, 2)
	f.mail.labels["Statements"] = "L1"
	return f, NewPoller(testConfig(), f.mail, f.orch)
}

func TestRunOnce_NoSources(t *testing.T) {
	_, p := newPollerFixture(t)
	_, err := p.RunOnce(context.Background(), nil)
	assert.ErrorIs(t, err, config.ErrNoSources)
}

func TestRunOnce_OldestFirst(t *testing.T) {
	f, p := newPollerFixture(t)
	for _, id := range []string{"m1", "m2", "m3"} {
		f.addMessage(id, "", attachment(id+".xlsx", []byte(id)))
	}
	f.mail.lists["L1"] = []string{"m3", "m2", "m1"}

	stats, err := p.RunOnce(context.Background(), []config.SourceConfig{f.src})

	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 3, Inserted: 6}, stats)
	var ingested []string
	for _, e := range f.ev.log {
		if len(e) > 7 && e[:7] == "ingest " {
			ingested = append(ingested, e[7:])
		}
	}
	assert.Equal(t, []string{"m1.xlsx", "m2.xlsx", "m3.xlsx"}, ingested)
}

func TestRunOnce_FailureIsolatedPerMessage(t *testing.T) {
	f, p := newPollerFixture(t)
	for _, id := range []string{"m1", "m2", "m3"} {
		f.addMessage(id, "", attachment(id+".xlsx", []byte(id)))
	}
	f.mail.lists["L1"] = []string{"m3", "m2", "m1"}
	f.files.fn = func(job Job) (FileResult, error) {
		if job.FileName == "m2.xlsx" {
			panic("corrupt sheet")
		}
		return FileResult{Inserted: 2}, nil
	}

	stats, err := p.RunOnce(context.Background(), []config.SourceConfig{f.src})

	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 2, Inserted: 4, Failed: 1}, stats)
	assert.True(t, f.mail.read["m1"])
	assert.False(t, f.mail.read["m2"])
	assert.True(t, f.mail.read["m3"])
}

func TestRunOnce_MessageSeenOncePerRun(t *testing.T) {
	f, p := newPollerFixture(t)
	f.mail.labels["Also"] = "L2"
	f.addMessage("m1", "", attachment("a.xlsx", []byte("a")))
	f.mail.lists["L1"] = []string{"m1"}
	f.mail.lists["L2"] = []string{"m1"}
	// keep it unread so the second source would list it again
	f.files.fn = func(job Job) (FileResult, error) { return FileResult{}, nil }

	stats, err := p.RunOnce(context.Background(), []config.SourceConfig{
		f.src,
		{Label: "Also", ClientID: 9},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, f.files.calls)
}

func TestRunOnce_MissingLabelSkipsSource(t *testing.T) {
	f, p := newPollerFixture(t)
	f.addMessage("m1", "", attachment("a.xlsx", []byte("a")))
	f.mail.lists["L1"] = []string{"m1"}

	stats, err := p.RunOnce(context.Background(), []config.SourceConfig{
		{Label: "Nope", ClientID: 1},
		f.src,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
}

func TestRunOnce_ListErrorReturnedAfterOtherSources(t *testing.T) {
	f, p := newPollerFixture(t)
	f.mail.labels["Broken"] = "L9"
	f.mail.listErr["L9"] = errors.New("quota exceeded")
	f.addMessage("m1", "", attachment("a.xlsx", []byte("a")))
	f.mail.lists["L1"] = []string{"m1"}

	stats, err := p.RunOnce(context.Background(), []config.SourceConfig{
		{Label: "Broken", ClientID: 1},
		f.src,
	})

	require.Error(t, err)
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Equal(t, 1, stats.Processed)
}

func TestRunOnce_CancelledContext(t *testing.T) {
	f, p := newPollerFixture(t)
	f.addMessage("m1", "", attachment("a.xlsx", []byte("a")))
	f.mail.lists["L1"] = []string{"m1"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.RunOnce(ctx, []config.SourceConfig{f.src})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.files.calls)
}

func TestStats_Idle(t *testing.T) {
	assert.True(t, Stats{}.Idle())
	assert.False(t, Stats{Skipped: 1}.Idle())
	assert.False(t, Stats{Failed: 1}.Idle())
}
