package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/meetai/meeting-server-go/internal/model"
)

const testTranscript = `{"type":"speech","speaker_id":"user-1","text":"Let's start.","start_ts":0,"stop_ts":900}
{"type":"speech","speaker_id":"agent-1","text":"Noted.","start_ts":1000,"stop_ts":1400}

{"type":"speech","speaker_id":"ghost","text":"Hello?","start_ts":1500,"stop_ts":1800}
`

type summaryFixture struct {
	svc        *SummaryService
	meetings   *fakeMeetingRepo
	fetcher    *mockFetcher
	summarizer *mockSummarizer
	events     *fakePublisher
}

func newSummaryFixture(t *testing.T, status model.MeetingStatus) *summaryFixture {
	t.Helper()

	meetings := newFakeMeetingRepo(model.Meeting{
		ID:      testMeetingID,
		UserID:  testOwnerID,
		AgentID: testAgentID,
		Status:  status,
	})
	users := &fakeUserRepo{users: map[string]model.User{testOwnerID: {ID: testOwnerID, Name: "Ada"}}}
	agents := newFakeAgentRepo(model.Agent{ID: testAgentID, Name: "Scribe", UserID: testOwnerID})
	fetcher := new(mockFetcher)
	summarizer := new(mockSummarizer)
	events := &fakePublisher{}

	svc := NewSummaryService(meetings, users, agents, fetcher, summarizer, events)
	return &summaryFixture{svc: svc, meetings: meetings, fetcher: fetcher, summarizer: summarizer, events: events}
}

func TestSummaryService_Process(t *testing.T) {
	ctx := context.Background()
	job := model.SummaryJob{ID: "job-1", MeetingID: testMeetingID, TranscriptURL: "https://cdn.example.com/t.jsonl"}

	t.Run("saves summary with resolved speakers", func(t *testing.T) {
		f := newSummaryFixture(t, model.MeetingStatusCompleted)
		f.fetcher.On("Fetch", mock.Anything, job.TranscriptURL).Return([]byte(testTranscript), nil)
		f.summarizer.On("Summarize", mock.Anything, mock.MatchedBy(func(payload string) bool {
			return strings.Contains(payload, `"name":"Ada","kind":"user"`) &&
				strings.Contains(payload, `"name":"Scribe","kind":"agent"`) &&
				strings.Contains(payload, `"name":"Unknown","kind":"unknown"`)
		})).Return("### Overview\nA short sync.", nil)

		require.NoError(t, f.svc.Process(ctx, job))

		stored := f.meetings.get(testMeetingID)
		require.NotNil(t, stored.Summary)
		assert.Equal(t, "### Overview\nA short sync.", *stored.Summary)
		assert.Equal(t, model.MeetingStatusCompleted, stored.Status)
		assert.Equal(t, []string{EventTypeSummaryReady}, f.events.types())
		f.summarizer.AssertExpectations(t)
	})

	t.Run("cancelled meeting drops the job", func(t *testing.T) {
		f := newSummaryFixture(t, model.MeetingStatusCancelled)
		f.fetcher.On("Fetch", mock.Anything, job.TranscriptURL).Return([]byte(testTranscript), nil)
		f.summarizer.On("Summarize", mock.Anything, mock.Anything).Return("summary", nil)

		require.NoError(t, f.svc.Process(ctx, job))

		assert.Nil(t, f.meetings.get(testMeetingID).Summary)
		assert.Empty(t, f.events.types())
	})

	t.Run("fetch failure is returned", func(t *testing.T) {
		f := newSummaryFixture(t, model.MeetingStatusCompleted)
		f.fetcher.On("Fetch", mock.Anything, job.TranscriptURL).Return(nil, assert.AnError)

		err := f.svc.Process(ctx, job)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "summary fetch")
		f.summarizer.AssertNotCalled(t, "Summarize", mock.Anything, mock.Anything)
	})

	t.Run("malformed transcript is returned", func(t *testing.T) {
		f := newSummaryFixture(t, model.MeetingStatusCompleted)
		f.fetcher.On("Fetch", mock.Anything, job.TranscriptURL).Return([]byte("{not json}\n"), nil)

		err := f.svc.Process(ctx, job)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "summary parse")
	})

	t.Run("summarizer failure leaves meeting untouched", func(t *testing.T) {
		f := newSummaryFixture(t, model.MeetingStatusCompleted)
		f.fetcher.On("Fetch", mock.Anything, job.TranscriptURL).Return([]byte(testTranscript), nil)
		f.summarizer.On("Summarize", mock.Anything, mock.Anything).Return("", assert.AnError)

		err := f.svc.Process(ctx, job)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Nil(t, f.meetings.get(testMeetingID).Summary)
	})
}
