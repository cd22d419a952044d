package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sanamente-ai/sanamente-platform/internal/crypto"
	"github.com/sanamente-ai/sanamente-platform/internal/policy"
	"github.com/sanamente-ai/sanamente-platform/internal/store"
)

func newTestCrypto(t *testing.T) *crypto.Service {
	t.Helper()
	kek := make([]byte, crypto.KeySize)
	for i := range kek {
		kek[i] = byte(i + 1)
	}
	svc, err := crypto.NewService(base64.StdEncoding.EncodeToString(kek))
	require.NoError(t, err)
	return svc
}

type fakePatients struct {
	byID      map[uuid.UUID]store.Patient
	byAddress map[string]store.Patient
}

func newFakePatients() *fakePatients {
	return &fakePatients{
		byID:      make(map[uuid.UUID]store.Patient),
		byAddress: make(map[string]store.Patient),
	}
}

func (f *fakePatients) add(p store.Patient) {
	f.byID[p.ID] = p
	f.byAddress[p.ChannelAddress] = p
}

func (f *fakePatients) FindByChannelAddress(_ context.Context, _ uuid.UUID, address string) (store.Patient, error) {
	p, ok := f.byAddress[address]
	if !ok {
		return store.Patient{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakePatients) Get(_ context.Context, _ uuid.UUID, patientID uuid.UUID) (store.Patient, error) {
	p, ok := f.byID[patientID]
	if !ok {
		return store.Patient{}, store.ErrNotFound
	}
	return p, nil
}

type fakeConversations struct {
	byID map[uuid.UUID]store.Conversation
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{byID: make(map[uuid.UUID]store.Conversation)}
}

func (f *fakeConversations) add(c store.Conversation) {
	f.byID[c.ID] = c
}

func (f *fakeConversations) Get(_ context.Context, _ uuid.UUID, conversationID uuid.UUID) (store.Conversation, error) {
	c, ok := f.byID[conversationID]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeConversations) FindOpenByPatient(_ context.Context, _ uuid.UUID, patientID uuid.UUID) (store.Conversation, error) {
	for _, c := range f.byID {
		if c.PatientID == patientID && c.Status == store.ConversationOpen {
			return c, nil
		}
	}
	return store.Conversation{}, store.ErrNotFound
}

type fakeMessages struct {
	mu       sync.Mutex
	messages []store.Message
	external map[string]bool
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{external: make(map[string]bool)}
}

func (f *fakeMessages) Insert(_ context.Context, _ uuid.UUID, m store.Message) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ExternalMessageID != "" {
		if f.external[m.ExternalMessageID] {
			return store.Message{}, store.ErrDuplicateDelivery
		}
		f.external[m.ExternalMessageID] = true
	}
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	f.messages = append(f.messages, m)
	return m, nil
}

func (f *fakeMessages) Recent(_ context.Context, _ uuid.UUID, conversationID uuid.UUID, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessages) Get(_ context.Context, _ uuid.UUID, messageID uuid.UUID) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == messageID {
			return m, nil
		}
	}
	return store.Message{}, store.ErrNotFound
}

type fakePolicies struct {
	policies []policy.Policy
}

func (f *fakePolicies) ForReply(_ context.Context, _, _, _ uuid.UUID) ([]policy.Policy, error) {
	return f.policies, nil
}

// fakeEpisodes implements both the opener and updater sides with in-memory
// state, including the one-open-episode rule.
type fakeEpisodes struct {
	mu       sync.Mutex
	episodes []store.Episode
}

func (f *fakeEpisodes) EnsureOpen(_ context.Context, tenantID, conversationID uuid.UUID) (store.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	maxNumber := 0
	for _, ep := range f.episodes {
		if ep.ConversationID != conversationID {
			continue
		}
		if ep.IsOpen {
			return ep, nil
		}
		if ep.EpisodeNumber > maxNumber {
			maxNumber = ep.EpisodeNumber
		}
	}
	ep := store.Episode{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		EpisodeNumber:  maxNumber + 1,
		IsOpen:         true,
		CreatedAt:      time.Now(),
	}
	f.episodes = append(f.episodes, ep)
	return ep, nil
}

func (f *fakeEpisodes) RecordTurn(_ context.Context, _ uuid.UUID, episodeID uuid.UUID, closeNow bool, closeReason string) (store.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ep := range f.episodes {
		if ep.ID != episodeID {
			continue
		}
		if !ep.IsOpen {
			return store.Episode{}, store.ErrNotFound
		}
		ep.AITurnsUsed++
		if closeNow {
			ep.IsOpen = false
			ep.CloseReason = closeReason
			now := time.Now()
			ep.ClosedAt = &now
		}
		f.episodes[i] = ep
		return ep, nil
	}
	return store.Episode{}, store.ErrNotFound
}

func (f *fakeEpisodes) Close(_ context.Context, _ uuid.UUID, episodeID uuid.UUID, closeReason string) (store.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ep := range f.episodes {
		if ep.ID != episodeID {
			continue
		}
		if !ep.IsOpen {
			return store.Episode{}, store.ErrNotFound
		}
		ep.IsOpen = false
		ep.CloseReason = closeReason
		now := time.Now()
		ep.ClosedAt = &now
		f.episodes[i] = ep
		return ep, nil
	}
	return store.Episode{}, store.ErrNotFound
}

func (f *fakeEpisodes) last(t *testing.T) store.Episode {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.episodes)
	return f.episodes[len(f.episodes)-1]
}

// fakeAudit records event names for assertion across all three processors.
type fakeAudit struct {
	mu      sync.Mutex
	ignored []string
	events  []string
	signals [][]string
}

func (f *fakeAudit) RecordInboundIgnored(_ context.Context, _ uuid.UUID, _, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ignored = append(f.ignored, reason)
	f.events = append(f.events, "inbound_ignored")
	return nil
}

func (f *fakeAudit) RecordInboundAccepted(_ context.Context, _, _, _ uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "inbound_accepted")
	return nil
}

func (f *fakeAudit) RecordReplyGenerated(_ context.Context, _, _, _ uuid.UUID, signals []string, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "reply_generated:"+action)
	f.signals = append(f.signals, signals)
	return nil
}

func (f *fakeAudit) RecordEpisodeClosed(_ context.Context, _, _ uuid.UUID, _ int, closeReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "episode_closed:"+closeReason)
	return nil
}

func (f *fakeAudit) RecordOutboundSent(_ context.Context, _, _, _ uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "outbound_sent")
	return nil
}

func (f *fakeAudit) has(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeEnqueuer struct {
	mu          sync.Mutex
	aiJobs      []AIReplyJob
	outJobs     []OutboundJob
	aiErr       error
	outboundErr error
}

func (f *fakeEnqueuer) EnqueueAIReply(_ context.Context, job AIReplyJob) error {
	if f.aiErr != nil {
		return f.aiErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aiJobs = append(f.aiJobs, job)
	return nil
}

func (f *fakeEnqueuer) EnqueueOutbound(_ context.Context, job OutboundJob) error {
	if f.outboundErr != nil {
		return f.outboundErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outJobs = append(f.outJobs, job)
	return nil
}

type fakeLLM struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	last  LLMRequest
}

func (f *fakeLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return LLMResponse{}, f.err
	}
	return LLMResponse{Text: f.text}, nil
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

type sentMessage struct {
	To   string
	Text string
}

func (f *fakeChannel) Send(_ context.Context, to, text string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{To: to, Text: text})
	return nil
}

type fakeAlerter struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeAlerter) NotifyHighRisk(_ context.Context, _, _, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

var errProviderDown = errors.New("provider unavailable")
