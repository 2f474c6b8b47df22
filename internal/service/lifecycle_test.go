package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/meetai/meeting-server-go/internal/errors"
	"github.com/meetai/meeting-server-go/internal/lock"
	"github.com/meetai/meeting-server-go/internal/model"
	"github.com/meetai/meeting-server-go/internal/platform"
)

const (
	testMeetingID = "meeting-1"
	testOwnerID   = "user-1"
	testAgentID   = "agent-1"
)

type lifecycleFixture struct {
	svc        *LifecycleService
	meetings   *fakeMeetingRepo
	platform   *fakePlatform
	dispatcher *mockDispatcher
	events     *fakePublisher
	now        time.Time
}

func newLifecycleFixture(t *testing.T, status model.MeetingStatus, openAIKey string) *lifecycleFixture {
	t.Helper()

	meetings := newFakeMeetingRepo(model.Meeting{
		ID:      testMeetingID,
		Name:    "Weekly sync",
		UserID:  testOwnerID,
		AgentID: testAgentID,
		Status:  status,
	})
	agents := newFakeAgentRepo(model.Agent{
		ID:           testAgentID,
		Name:         "Scribe",
		UserID:       testOwnerID,
		Instructions: "Take notes.",
	})
	p := newFakePlatform()
	dispatcher := new(mockDispatcher)
	events := &fakePublisher{}

	attacher := NewAgentAttacher(p, lock.NewLocalLocker(), AgentAttacherConfig{
		OpenAIAPIKey: openAIKey,
		LockWait:     2 * time.Second,
	})
	svc := NewLifecycleService(meetings, agents, p, attacher, NewRecordingService(p), dispatcher, events)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	return &lifecycleFixture{
		svc:        svc,
		meetings:   meetings,
		platform:   p,
		dispatcher: dispatcher,
		events:     events,
		now:        now,
	}
}

func TestLifecycleService_StartSession(t *testing.T) {
	ctx := context.Background()

	t.Run("activates meeting and runs side effects", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusUpcoming, "sk-test")

		res, err := f.svc.StartSession(ctx, testMeetingID)
		require.NoError(t, err)

		assert.Equal(t, model.MeetingStatusActive, res.Meeting.Status)
		require.NotNil(t, res.Meeting.StartedAt)
		assert.Equal(t, f.now, *res.Meeting.StartedAt)

		require.NoError(t, res.AttachErr)
		require.NotNil(t, res.Attach)
		assert.True(t, res.Attach.Success)
		assert.False(t, res.Attach.AlreadyConnected)
		assert.Equal(t, "Scribe", res.Attach.AgentName)
		assert.NoError(t, res.RecordingErr)
		assert.NoError(t, res.TranscriptionErr)

		assert.Equal(t, 1, f.platform.connects())
		params := f.platform.connectParams[0]
		assert.Equal(t, testMeetingID, params.CallID)
		assert.Equal(t, testAgentID, params.AgentUserID)
		assert.Equal(t, "sk-test", params.OpenAIAPIKey)
		assert.Equal(t, "Take notes.", params.Session.Instructions)
		assert.True(t, f.platform.recording[testMeetingID])
		assert.True(t, f.platform.transcribing[testMeetingID])

		assert.Equal(t, []string{EventTypeStatus}, f.events.types())
	})

	t.Run("duplicate delivery writes once", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusUpcoming, "sk-test")

		_, err := f.svc.StartSession(ctx, testMeetingID)
		require.NoError(t, err)

		_, err = f.svc.StartSession(ctx, testMeetingID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransitionRejected))

		assert.Equal(t, 1, f.meetings.writeCount(model.MeetingStatusActive))
		assert.Equal(t, 1, f.platform.connects())

		res, err := f.svc.AttachAgent(ctx, testMeetingID, testOwnerID)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.True(t, res.AlreadyConnected)
		assert.Equal(t, 1, f.platform.connects())
	})

	t.Run("unknown meeting is not found", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusUpcoming, "sk-test")

		_, err := f.svc.StartSession(ctx, "missing")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
		assert.Equal(t, 0, f.platform.connects())
	})

	t.Run("missing openai key keeps status committed", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusUpcoming, "")

		res, err := f.svc.StartSession(ctx, testMeetingID)
		require.NoError(t, err)

		assert.True(t, apperrors.HasCode(res.AttachErr, apperrors.ErrCodeMissingCredential))
		assert.Nil(t, res.Attach)
		assert.Equal(t, 0, f.platform.connects())
		assert.Equal(t, model.MeetingStatusActive, f.meetings.get(testMeetingID).Status)
		assert.True(t, f.platform.recording[testMeetingID])
	})

	t.Run("recording failure does not block transcription", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusUpcoming, "sk-test")
		f.platform.recordingErr = errPlatformDown

		res, err := f.svc.StartSession(ctx, testMeetingID)
		require.NoError(t, err)

		assert.ErrorIs(t, res.RecordingErr, errPlatformDown)
		assert.NoError(t, res.TranscriptionErr)
		assert.True(t, f.platform.transcribing[testMeetingID])
		assert.Equal(t, model.MeetingStatusActive, f.meetings.get(testMeetingID).Status)
	})

	t.Run("capture already running counts as started", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusUpcoming, "sk-test")
		f.platform.recordingErr = platform.ErrAlreadyRunning
		f.platform.transcribeErr = platform.ErrAlreadyRunning

		res, err := f.svc.StartSession(ctx, testMeetingID)
		require.NoError(t, err)

		assert.NoError(t, res.RecordingErr)
		assert.NoError(t, res.TranscriptionErr)
	})
}

func TestLifecycleService_ConcurrentAttach(t *testing.T) {
	ctx := context.Background()

	t.Run("manual attaches connect once", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")
		f.platform.connectDelay = 20 * time.Millisecond

		const callers = 8
		results := make([]*AttachResult, callers)
		errs := make([]error, callers)

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.svc.AttachAgent(ctx, testMeetingID, testOwnerID)
			}(i)
		}
		wg.Wait()

		already := 0
		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			assert.True(t, results[i].Success)
			if results[i].AlreadyConnected {
				already++
			}
		}
		assert.Equal(t, 1, f.platform.connects())
		assert.Equal(t, callers-1, already)
	})

	t.Run("webhook and manual attach race connect once", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusUpcoming, "sk-test")
		f.platform.connectDelay = 20 * time.Millisecond

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.StartSession(ctx, testMeetingID)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.AttachAgent(ctx, testMeetingID, testOwnerID)
		}()
		wg.Wait()

		assert.Equal(t, 1, f.platform.connects())
	})
}

func TestLifecycleService_AttachAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects meetings owned by someone else", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")

		_, err := f.svc.AttachAgent(ctx, testMeetingID, "someone-else")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
		assert.Equal(t, 0, f.platform.connects())
	})

	t.Run("platform read failure is external", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")
		f.platform.getCallErr = errPlatformDown

		_, err := f.svc.AttachAgent(ctx, testMeetingID, testOwnerID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeExternal))
	})
}

func TestLifecycleService_CallEnded(t *testing.T) {
	ctx := context.Background()

	t.Run("moves active to processing and stamps endedAt once", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")

		m, err := f.svc.CallEnded(ctx, testMeetingID)
		require.NoError(t, err)
		assert.Equal(t, model.MeetingStatusProcessing, m.Status)
		require.NotNil(t, m.EndedAt)
		firstEnd := *m.EndedAt

		f.svc.now = func() time.Time { return firstEnd.Add(time.Hour) }
		_, err = f.svc.CallEnded(ctx, testMeetingID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransitionRejected))

		stored := f.meetings.get(testMeetingID)
		assert.Equal(t, firstEnd, *stored.EndedAt)
		assert.Equal(t, 1, f.meetings.writeCount(model.MeetingStatusProcessing))
	})

	t.Run("upcoming meeting is rejected", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusUpcoming, "sk-test")

		_, err := f.svc.CallEnded(ctx, testMeetingID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransitionRejected))
		assert.Nil(t, f.meetings.get(testMeetingID).EndedAt)
	})
}

func TestLifecycleService_TranscriptionReady(t *testing.T) {
	ctx := context.Background()
	const url = "https://cdn.example.com/transcripts/meeting-1.jsonl"

	t.Run("completes meeting and dispatches one job", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusProcessing, "sk-test")
		f.dispatcher.On("Dispatch", mock.Anything, testMeetingID, url).Return(nil)

		m, err := f.svc.TranscriptionReady(ctx, testMeetingID, url)
		require.NoError(t, err)
		assert.Equal(t, model.MeetingStatusCompleted, m.Status)
		require.NotNil(t, m.TranscriptURL)
		assert.Equal(t, url, *m.TranscriptURL)

		_, err = f.svc.TranscriptionReady(ctx, testMeetingID, url)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransitionRejected))

		f.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
	})

	t.Run("dispatch failure still reports completion", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusProcessing, "sk-test")
		f.dispatcher.On("Dispatch", mock.Anything, testMeetingID, url).Return(assert.AnError)

		m, err := f.svc.TranscriptionReady(ctx, testMeetingID, url)
		require.NoError(t, err)
		assert.Equal(t, model.MeetingStatusCompleted, m.Status)
		f.dispatcher.AssertExpectations(t)
	})

	t.Run("active meeting is rejected without dispatch", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")

		_, err := f.svc.TranscriptionReady(ctx, testMeetingID, url)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransitionRejected))
		assert.Nil(t, f.meetings.get(testMeetingID).TranscriptURL)
		f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestLifecycleService_RecordingReady(t *testing.T) {
	ctx := context.Background()
	const url = "https://cdn.example.com/recordings/meeting-1.mp4"

	for _, status := range model.NonTerminalStatuses {
		t.Run("stores url while "+string(status), func(t *testing.T) {
			f := newLifecycleFixture(t, status, "sk-test")

			m, err := f.svc.RecordingReady(ctx, testMeetingID, url)
			require.NoError(t, err)
			require.NotNil(t, m.RecordingURL)
			assert.Equal(t, url, *m.RecordingURL)
			assert.Equal(t, status, m.Status)
		})
	}

	t.Run("terminal meeting is rejected", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusCancelled, "sk-test")

		_, err := f.svc.RecordingReady(ctx, testMeetingID, url)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransitionRejected))
	})

	t.Run("unknown meeting is not found", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")

		_, err := f.svc.RecordingReady(ctx, "missing", url)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestLifecycleService_ParticipantLeft(t *testing.T) {
	ctx := context.Background()

	t.Run("ends call when only the agent remains", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")
		f.platform.join(testMeetingID, testOwnerID, testAgentID)

		ended, err := f.svc.ParticipantLeft(ctx, testMeetingID, testOwnerID)
		require.NoError(t, err)
		assert.True(t, ended)
		assert.Equal(t, []string{testMeetingID}, f.platform.endCalls)
	})

	t.Run("keeps call while others remain", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")
		f.platform.join(testMeetingID, testOwnerID, "guest-1", testAgentID)

		ended, err := f.svc.ParticipantLeft(ctx, testMeetingID, testOwnerID)
		require.NoError(t, err)
		assert.False(t, ended)
		assert.Empty(t, f.platform.endCalls)
	})

	t.Run("ignores meetings that are not active", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusProcessing, "sk-test")

		ended, err := f.svc.ParticipantLeft(ctx, testMeetingID, testOwnerID)
		require.NoError(t, err)
		assert.False(t, ended)
		assert.Empty(t, f.platform.endCalls)
	})

	t.Run("platform failure is swallowed", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")
		f.platform.getCallErr = errPlatformDown

		ended, err := f.svc.ParticipantLeft(ctx, testMeetingID, testOwnerID)
		require.NoError(t, err)
		assert.False(t, ended)
	})

	t.Run("unknown meeting is not found", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")

		_, err := f.svc.ParticipantLeft(ctx, "missing", testOwnerID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestLifecycleService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels upcoming meeting without ending a call", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusUpcoming, "sk-test")

		m, err := f.svc.Cancel(ctx, testMeetingID, testOwnerID)
		require.NoError(t, err)
		assert.Equal(t, model.MeetingStatusCancelled, m.Status)
		assert.Nil(t, m.EndedAt)
		assert.Empty(t, f.platform.endCalls)
	})

	t.Run("cancels active meeting and ends the call", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")

		m, err := f.svc.Cancel(ctx, testMeetingID, testOwnerID)
		require.NoError(t, err)
		assert.Equal(t, model.MeetingStatusCancelled, m.Status)
		require.NotNil(t, m.EndedAt)
		assert.Equal(t, f.now, *m.EndedAt)
		assert.Equal(t, []string{testMeetingID}, f.platform.endCalls)
	})

	t.Run("completed meeting cannot be cancelled", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusCompleted, "sk-test")

		_, err := f.svc.Cancel(ctx, testMeetingID, testOwnerID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransitionRejected))
		assert.Equal(t, model.MeetingStatusCompleted, f.meetings.get(testMeetingID).Status)
	})

	t.Run("other users cannot cancel", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusUpcoming, "sk-test")

		_, err := f.svc.Cancel(ctx, testMeetingID, "someone-else")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
		assert.Equal(t, model.MeetingStatusUpcoming, f.meetings.get(testMeetingID).Status)
	})
}

func TestLifecycleService_StartCapture(t *testing.T) {
	ctx := context.Background()

	t.Run("starts only what is missing", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")
		f.platform.recording[testMeetingID] = true

		res, err := f.svc.StartCapture(ctx, testMeetingID, testOwnerID)
		require.NoError(t, err)

		assert.True(t, res.Recording.Started)
		assert.Nil(t, res.Recording.Error)
		assert.True(t, res.Transcription.Started)
		assert.Equal(t, CaptureState{Recording: true, Transcribing: true}, res.CallState)
		assert.Equal(t, 0, f.platform.startRecCalls)
		assert.Equal(t, 1, f.platform.startTransCall)
	})

	t.Run("reports per-feature errors", func(t *testing.T) {
		f := newLifecycleFixture(t, model.MeetingStatusActive, "sk-test")
		f.platform.transcribeErr = errPlatformDown

		res, err := f.svc.StartCapture(ctx, testMeetingID, testOwnerID)
		require.NoError(t, err)

		assert.True(t, res.Recording.Started)
		assert.False(t, res.Transcription.Started)
		require.NotNil(t, res.Transcription.Error)
		assert.Contains(t, *res.Transcription.Error, "platform unavailable")
		assert.Equal(t, CaptureState{Recording: true, Transcribing: false}, res.CallState)
	})
}
