package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/meetai/meeting-server-go/internal/database"
	"github.com/meetai/meeting-server-go/internal/model"
	"github.com/meetai/meeting-server-go/internal/platform"
	"github.com/meetai/meeting-server-go/internal/repository"
	"github.com/meetai/meeting-server-go/internal/sse"
)

// fakeMeetingRepo honors the guarded-update contract of the SQL repository.
type fakeMeetingRepo struct {
	mu       sync.Mutex
	meetings map[string]*model.Meeting
	writes   map[model.MeetingStatus]int
	created  []model.CreateMeetingParams
}

func newFakeMeetingRepo(meetings ...model.Meeting) *fakeMeetingRepo {
	r := &fakeMeetingRepo{
		meetings: make(map[string]*model.Meeting),
		writes:   make(map[model.MeetingStatus]int),
	}
	for i := range meetings {
		m := meetings[i]
		r.meetings[m.ID] = &m
	}
	return r
}

func (r *fakeMeetingRepo) get(id string) model.Meeting {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.meetings[id]
}

func (r *fakeMeetingRepo) writeCount(to model.MeetingStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes[to]
}

func (r *fakeMeetingRepo) FindByID(ctx context.Context, id string) (*model.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMeetingRepo) FindByIDForUser(ctx context.Context, id, userID string) (*model.Meeting, error) {
	m, err := r.FindByID(ctx, id)
	if m == nil || err != nil || m.UserID != userID {
		return nil, err
	}
	return m, nil
}

func (r *fakeMeetingRepo) Create(ctx context.Context, params model.CreateMeetingParams) (*model.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	m := &model.Meeting{
		ID:        params.ID,
		Name:      params.Name,
		UserID:    params.UserID,
		AgentID:   params.AgentID,
		Status:    model.MeetingStatusUpcoming,
		IsPrivate: params.IsPrivate,
		PinHash:   params.PinHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.meetings[m.ID] = m
	r.created = append(r.created, params)
	cp := *m
	return &cp, nil
}

func (r *fakeMeetingRepo) Transition(ctx context.Context, params model.TransitionParams) (*model.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meetings[params.MeetingID]
	if !ok || !statusIn(m.Status, params.From) {
		return nil, repository.ErrTransitionRejected
	}

	at := params.At
	if params.SetStartedAt && m.Status == model.MeetingStatusUpcoming {
		m.StartedAt = &at
	}
	if params.SetEndedAt && m.Status == model.MeetingStatusActive {
		m.EndedAt = &at
	}
	if params.TranscriptURL != nil {
		url := *params.TranscriptURL
		m.TranscriptURL = &url
	}
	m.Status = params.To
	m.UpdatedAt = at
	r.writes[params.To]++

	cp := *m
	return &cp, nil
}

func (r *fakeMeetingRepo) SetRecordingURL(ctx context.Context, id, url string) (*model.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[id]
	if !ok || m.Status.IsTerminal() {
		return nil, repository.ErrTransitionRejected
	}
	m.RecordingURL = &url
	cp := *m
	return &cp, nil
}

func (r *fakeMeetingRepo) SaveSummary(ctx context.Context, id, summary string) (*model.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[id]
	if !ok || (m.Status != model.MeetingStatusProcessing && m.Status != model.MeetingStatusCompleted) {
		return nil, repository.ErrTransitionRejected
	}
	m.Summary = &summary
	m.Status = model.MeetingStatusCompleted
	cp := *m
	return &cp, nil
}

func (r *fakeMeetingRepo) UpdateDetails(ctx context.Context, id, userID string, params model.UpdateMeetingDetailsParams) (*model.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[id]
	if !ok || m.UserID != userID || m.Status != model.MeetingStatusUpcoming {
		return nil, repository.ErrTransitionRejected
	}
	if params.Name != nil {
		m.Name = *params.Name
	}
	if params.AgentID != nil {
		m.AgentID = *params.AgentID
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMeetingRepo) ClaimUnsummarized(ctx context.Context, now time.Time, updatedBefore time.Time, maxAttempts, limit int) ([]model.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []*model.Meeting
	for _, m := range r.meetings {
		if m.Status == model.MeetingStatusCompleted && m.Summary == nil && m.TranscriptURL != nil &&
			m.UpdatedAt.Before(updatedBefore) && m.SummaryAttempts < maxAttempts {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]model.Meeting, 0, len(candidates))
	for _, m := range candidates {
		m.UpdatedAt = now
		m.SummaryAttempts++
		out = append(out, *m)
	}
	return out, nil
}

func (r *fakeMeetingRepo) WithTx(tx *sqlx.Tx) repository.MeetingRepository {
	return r
}

func statusIn(s model.MeetingStatus, set []model.MeetingStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

type fakeAgentRepo struct {
	agents map[string]model.Agent
}

func newFakeAgentRepo(agents ...model.Agent) *fakeAgentRepo {
	r := &fakeAgentRepo{agents: make(map[string]model.Agent)}
	for _, a := range agents {
		r.agents[a.ID] = a
	}
	return r
}

func (r *fakeAgentRepo) FindByID(ctx context.Context, id string) (*model.Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *fakeAgentRepo) FindByIDs(ctx context.Context, ids []string) ([]model.Agent, error) {
	var out []model.Agent
	for _, id := range ids {
		if a, ok := r.agents[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	users map[string]model.User
	err   error
}

func (r *fakeUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, r.err
	}
	return &u, r.err
}

func (r *fakeUserRepo) FindByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []model.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// fakePlatform keeps per-call participants and capture flags. ConnectAgent
// adds the agent as a participant, like the real platform does once the
// agent joins.
type fakePlatform struct {
	mu           sync.Mutex
	participants map[string][]string
	recording    map[string]bool
	transcribing map[string]bool

	connectCalls   int
	connectDelay   time.Duration
	connectErr     error
	getCallErr     error
	recordingErr   error
	transcribeErr  error
	endCalls       []string
	createdCalls   []platform.CreateCallParams
	createCallErr  error
	upsertedUsers  []platform.User
	connectParams  []platform.ConnectAgentParams
	startRecCalls  int
	startTransCall int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		participants: make(map[string][]string),
		recording:    make(map[string]bool),
		transcribing: make(map[string]bool),
	}
}

func (p *fakePlatform) join(callID string, userIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participants[callID] = append(p.participants[callID], userIDs...)
}

func (p *fakePlatform) connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCalls
}

func (p *fakePlatform) GetCall(ctx context.Context, callID string) (*platform.Call, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getCallErr != nil {
		return nil, p.getCallErr
	}
	call := &platform.Call{
		CID:          platform.CallCID("default", callID),
		ID:           callID,
		Recording:    p.recording[callID],
		Transcribing: p.transcribing[callID],
		Session:      &platform.CallSession{},
	}
	for _, id := range p.participants[callID] {
		call.Session.Participants = append(call.Session.Participants, platform.Participant{User: platform.User{ID: id}})
	}
	return call, nil
}

func (p *fakePlatform) CreateCall(ctx context.Context, params platform.CreateCallParams) (*platform.Call, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createCallErr != nil {
		return nil, p.createCallErr
	}
	p.createdCalls = append(p.createdCalls, params)
	return &platform.Call{ID: params.CallID}, nil
}

func (p *fakePlatform) UpsertUsers(ctx context.Context, users ...platform.User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upsertedUsers = append(p.upsertedUsers, users...)
	return nil
}

func (p *fakePlatform) ConnectAgent(ctx context.Context, params platform.ConnectAgentParams) error {
	if p.connectDelay > 0 {
		time.Sleep(p.connectDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectCalls++
	p.connectParams = append(p.connectParams, params)
	if p.connectErr != nil {
		return p.connectErr
	}
	p.participants[params.CallID] = append(p.participants[params.CallID], params.AgentUserID)
	return nil
}

func (p *fakePlatform) StartRecording(ctx context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startRecCalls++
	if p.recordingErr != nil {
		return p.recordingErr
	}
	p.recording[callID] = true
	return nil
}

func (p *fakePlatform) StartTranscription(ctx context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTransCall++
	if p.transcribeErr != nil {
		return p.transcribeErr
	}
	p.transcribing[callID] = true
	return nil
}

func (p *fakePlatform) EndCall(ctx context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endCalls = append(p.endCalls, callID)
	return nil
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, meetingID, transcriptURL string) error {
	args := m.Called(ctx, meetingID, transcriptURL)
	return args.Error(0)
}

type mockSummarizer struct {
	mock.Mock
}

func (m *mockSummarizer) Summarize(ctx context.Context, transcriptJSON string) (string, error) {
	args := m.Called(ctx, transcriptJSON)
	return args.String(0), args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type publishedEvent struct {
	MeetingID string
	Event     sse.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(ctx context.Context, meetingID string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{MeetingID: meetingID, Event: event})
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Event.Type
	}
	return out
}

type fakeTx struct {
	calls      int
	rolledBack bool
}

func (f *fakeTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	f.calls++
	err := fn(nil)
	f.rolledBack = err != nil
	return err
}

type fakeLimiter struct {
	allowed bool
	keys    []string
}

func (l *fakeLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) RateLimitResult {
	l.keys = append(l.keys, key)
	return RateLimitResult{Allowed: l.allowed, Remaining: 1, ResetAt: time.Now().Add(window)}
}

var errPlatformDown = errors.New("platform unavailable")
