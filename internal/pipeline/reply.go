package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sanamente-ai/sanamente-platform/internal/crypto"
	"github.com/sanamente-ai/sanamente-platform/internal/episode"
	"github.com/sanamente-ai/sanamente-platform/internal/observability/metrics"
	"github.com/sanamente-ai/sanamente-platform/internal/policy"
	"github.com/sanamente-ai/sanamente-platform/internal/signals"
	"github.com/sanamente-ai/sanamente-platform/internal/snapshot"
	"github.com/sanamente-ai/sanamente-platform/internal/store"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

// Fixed patient-facing replies. These never come from the model: the safety
// reply in particular must be deterministic.
const (
	safetyReply = "Gracias por contarme cómo te sientes. Lo que describes es importante y merece atención inmediata. " +
		"Tu psicólogo ha sido notificado. Si estás en peligro, comunícate ahora con la línea de emergencias de tu país. " +
		"No estás solo."
	limitCloseReply = "Hemos llegado al límite de respuestas automáticas por ahora. Tu psicólogo revisará la conversación " +
		"y te responderá personalmente."
	closingAddendum = "\n\nEsta es la última respuesta automática por ahora; tu psicólogo continuará la conversación."
	unavailableReply = "En este momento no puedo generar una respuesta. Tu psicólogo revisará tu mensaje y te responderá " +
		"personalmente."
)

const defaultContextWindow = 20

type replyConversationStore interface {
	Get(ctx context.Context, tenantID, conversationID uuid.UUID) (store.Conversation, error)
}

type replyPatientStore interface {
	Get(ctx context.Context, tenantID, patientID uuid.UUID) (store.Patient, error)
}

type replyMessageStore interface {
	Recent(ctx context.Context, tenantID, conversationID uuid.UUID, limit int) ([]store.Message, error)
	Insert(ctx context.Context, tenantID uuid.UUID, m store.Message) (store.Message, error)
}

type replyPolicyStore interface {
	ForReply(ctx context.Context, tenantID, psychologistID, conversationID uuid.UUID) ([]policy.Policy, error)
}

type episodeOpener interface {
	EnsureOpen(ctx context.Context, tenantID, conversationID uuid.UUID) (store.Episode, error)
}

type episodeUpdater interface {
	RecordTurn(ctx context.Context, tenantID, episodeID uuid.UUID, closeNow bool, closeReason string) (store.Episode, error)
	Close(ctx context.Context, tenantID, episodeID uuid.UUID, closeReason string) (store.Episode, error)
}

type replyAuditor interface {
	RecordReplyGenerated(ctx context.Context, tenantID, conversationID, messageID uuid.UUID, signals []string, action string) error
	RecordEpisodeClosed(ctx context.Context, tenantID, conversationID uuid.UUID, episodeNumber int, closeReason string) error
}

type outboundEnqueuer interface {
	EnqueueOutbound(ctx context.Context, job OutboundJob) error
}

// highRiskAlerter notifies the owning psychologist out of band. It must never
// block the reply.
type highRiskAlerter interface {
	NotifyHighRisk(ctx context.Context, tenantID, conversationID, psychologistID uuid.UUID) error
}

// Reply generates AI responses for conversations with AI enabled.
type Reply struct {
	conversations replyConversationStore
	patients      replyPatientStore
	messages      replyMessageStore
	policies      replyPolicyStore
	opener        episodeOpener
	episodes      episodeUpdater
	crypto        *crypto.Service
	llm           LLMClient
	model         string
	audit         replyAuditor
	publisher     outboundEnqueuer
	snapshots     *snapshot.Store
	alerter       highRiskAlerter
	metrics       *metrics.PipelineMetrics
	contextWindow int
	logger        *logging.Logger
}

// ReplyParams bundles the constructor dependencies.
type ReplyParams struct {
	Conversations replyConversationStore
	Patients      replyPatientStore
	Messages      replyMessageStore
	Policies      replyPolicyStore
	Opener        episodeOpener
	Episodes      episodeUpdater
	Crypto        *crypto.Service
	LLM           LLMClient
	Model         string
	Audit         replyAuditor
	Publisher     outboundEnqueuer
	Snapshots     *snapshot.Store          // optional
	Alerter       highRiskAlerter          // optional
	Metrics       *metrics.PipelineMetrics // optional
	ContextWindow int
	Logger        *logging.Logger
}

func NewReply(p ReplyParams) *Reply {
	if p.Conversations == nil || p.Patients == nil || p.Messages == nil || p.Policies == nil {
		panic("pipeline: reply stores are required")
	}
	if p.Opener == nil || p.Episodes == nil {
		panic("pipeline: episode orchestration is required")
	}
	if p.Crypto == nil {
		panic("pipeline: crypto service is required")
	}
	if p.LLM == nil {
		panic("pipeline: llm client is required")
	}
	if p.Audit == nil {
		panic("pipeline: audit service is required")
	}
	if p.Publisher == nil {
		panic("pipeline: publisher is required")
	}
	if p.ContextWindow <= 0 {
		p.ContextWindow = defaultContextWindow
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	return &Reply{
		conversations: p.Conversations,
		patients:      p.Patients,
		messages:      p.Messages,
		policies:      p.Policies,
		opener:        p.Opener,
		episodes:      p.Episodes,
		crypto:        p.Crypto,
		llm:           p.LLM,
		model:         p.Model,
		audit:         p.Audit,
		publisher:     p.Publisher,
		snapshots:     p.Snapshots,
		alerter:       p.Alerter,
		metrics:       p.Metrics,
		contextWindow: p.ContextWindow,
		logger:        p.Logger,
	}
}

// Handle decodes and processes one AI reply queue job.
func (r *Reply) Handle(ctx context.Context, body string) error {
	var job AIReplyJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return fmt.Errorf("pipeline: decode ai reply job: %w", err)
	}
	return r.GenerateReply(ctx, job)
}

// GenerateReply answers one patient turn. The patient always gets a reply in
// the same job, even when the provider fails.
func (r *Reply) GenerateReply(ctx context.Context, job AIReplyJob) error {
	conv, err := r.conversations.Get(ctx, job.TenantID, job.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Info("ai reply skipped: conversation missing", "conversation_id", job.ConversationID.String())
			return nil
		}
		return fmt.Errorf("pipeline: load conversation: %w", err)
	}
	if !conv.AIEnabled {
		r.logger.Debug("ai reply skipped: ai disabled", "conversation_id", conv.ID.String())
		return nil
	}

	dek, err := r.crypto.UnwrapKey(conv.EncryptedDEK)
	if err != nil {
		return fmt.Errorf("pipeline: unwrap conversation key: %w", err)
	}

	history, latestPatientText, err := r.loadContext(ctx, job.TenantID, conv.ID, dek)
	if err != nil {
		return err
	}

	patient, err := r.patients.Get(ctx, job.TenantID, conv.PatientID)
	if err != nil {
		return fmt.Errorf("pipeline: load patient: %w", err)
	}

	policies, err := r.policies.ForReply(ctx, job.TenantID, conv.PsychologistID, conv.ID)
	if err != nil {
		return fmt.Errorf("pipeline: load policies: %w", err)
	}
	tuning := policy.EffectiveTuning(policies)
	signalCfg := policy.EffectiveSignalConfig(policies)
	flags := signals.Detect(latestPatientText, signalCfg)

	ep, err := r.opener.EnsureOpen(ctx, job.TenantID, conv.ID)
	if err != nil {
		return err
	}

	remaining := tuning.MaxTurns - ep.AITurnsUsed
	action := episode.Decide(remaining, flags, tuning.TurnLimitDisabled)

	var replyText string
	switch action {
	case episode.ActionSafetyClose:
		replyText = safetyReply
		if err := r.closeEpisode(ctx, job.TenantID, conv, ep, store.CloseReasonSafety); err != nil {
			return err
		}
		r.alertHighRisk(ctx, job.TenantID, conv)

	case episode.ActionLimitClose:
		replyText = limitCloseReply
		if err := r.closeEpisode(ctx, job.TenantID, conv, ep, store.CloseReasonTurnLimit); err != nil {
			return err
		}

	default:
		replyText, err = r.callModel(ctx, job.TenantID, conv, ep, promptInput{
			PolicyText: policy.MergeText(policies),
			Language:   patient.PreferredLanguage,
			Flags:      flags,
			Signals:    signalCfg,
			History:    history,
		}, tuning, action)
		if err != nil {
			return err
		}
	}

	ciphertext, nonce, tag, err := r.crypto.Encrypt([]byte(replyText), dek)
	if err != nil {
		return fmt.Errorf("pipeline: encrypt reply: %w", err)
	}
	msg, err := r.messages.Insert(ctx, job.TenantID, store.Message{
		TenantID:       job.TenantID,
		ConversationID: conv.ID,
		Direction:      store.DirectionOut,
		Author:         store.AuthorAI,
		Ciphertext:     ciphertext,
		Nonce:          nonce,
		Tag:            tag,
	})
	if err != nil {
		return fmt.Errorf("pipeline: persist reply: %w", err)
	}

	if err := r.publisher.EnqueueOutbound(ctx, OutboundJob{
		TenantID:       job.TenantID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
	}); err != nil {
		return fmt.Errorf("pipeline: enqueue outbound: %w", err)
	}

	fired := make([]string, 0, 4)
	for _, key := range flags.Fired() {
		fired = append(fired, string(key))
	}
	if auditErr := r.audit.RecordReplyGenerated(ctx, job.TenantID, conv.ID, msg.ID, fired, action.String()); auditErr != nil {
		r.logger.Warn("failed to audit generated reply", "error", auditErr, "message_id", msg.ID.String())
	}
	return nil
}

// loadContext decrypts the recent window in chronological order and extracts
// the most recent patient message for signal detection.
func (r *Reply) loadContext(ctx context.Context, tenantID, conversationID uuid.UUID, dek []byte) ([]transcriptEntry, string, error) {
	msgs, err := r.messages.Recent(ctx, tenantID, conversationID, r.contextWindow)
	if err != nil {
		return nil, "", fmt.Errorf("pipeline: load context: %w", err)
	}

	history := make([]transcriptEntry, 0, len(msgs))
	var latestPatientText string
	for _, m := range msgs {
		plaintext, err := r.crypto.Decrypt(m.Ciphertext, m.Nonce, m.Tag, dek)
		if err != nil {
			// An authentication failure is data corruption or a key mix-up,
			// never "empty content".
			return nil, "", fmt.Errorf("pipeline: decrypt message %s: %w", m.ID, err)
		}
		history = append(history, transcriptEntry{Author: m.Author, Text: string(plaintext)})
		if m.Author == store.AuthorPatient {
			latestPatientText = string(plaintext)
		}
	}
	return history, latestPatientText, nil
}

// callModel runs the provider call path: snapshot, complete, degrade on
// failure, and record the consumed turn.
func (r *Reply) callModel(ctx context.Context, tenantID uuid.UUID, conv store.Conversation, ep store.Episode, in promptInput, tuning policy.Tuning, action episode.Action) (string, error) {
	system, chat := buildPrompt(in)

	r.saveSnapshot(ctx, tenantID, conv.ID, system, chat)

	started := time.Now()
	resp, err := r.llm.Complete(ctx, LLMRequest{
		Model:       r.model,
		System:      system,
		Messages:    chat,
		MaxTokens:   tuning.MaxTokens,
		Temperature: tuning.Temperature,
	})
	r.metrics.ObserveModelLatency(r.model, time.Since(started).Seconds())
	if err != nil || resp.Text == "" {
		if err != nil {
			r.logger.Error("model call failed", "error", err, "conversation_id", conv.ID.String())
		} else {
			r.logger.Error("model returned empty completion", "conversation_id", conv.ID.String())
		}
		if closeErr := r.closeEpisode(ctx, tenantID, conv, ep, store.CloseReasonProvider); closeErr != nil {
			return "", closeErr
		}
		return unavailableReply, nil
	}

	replyText := resp.Text
	closeNow := action == episode.ActionFinalReply
	closeReason := ""
	if closeNow {
		replyText += closingAddendum
		closeReason = store.CloseReasonTurnLimit
	}

	updated, err := r.episodes.RecordTurn(ctx, tenantID, ep.ID, closeNow, closeReason)
	if err != nil {
		return "", fmt.Errorf("pipeline: record turn: %w", err)
	}
	if closeNow {
		r.metrics.ObserveEpisodeClosed(closeReason)
		r.auditEpisodeClosed(ctx, tenantID, conv.ID, updated.EpisodeNumber, closeReason)
	}
	return replyText, nil
}

func (r *Reply) closeEpisode(ctx context.Context, tenantID uuid.UUID, conv store.Conversation, ep store.Episode, reason string) error {
	closed, err := r.episodes.Close(ctx, tenantID, ep.ID, reason)
	if err != nil {
		return fmt.Errorf("pipeline: close episode: %w", err)
	}
	r.metrics.ObserveEpisodeClosed(reason)
	r.auditEpisodeClosed(ctx, tenantID, conv.ID, closed.EpisodeNumber, reason)
	return nil
}

func (r *Reply) auditEpisodeClosed(ctx context.Context, tenantID, conversationID uuid.UUID, episodeNumber int, reason string) {
	if err := r.audit.RecordEpisodeClosed(ctx, tenantID, conversationID, episodeNumber, reason); err != nil {
		r.logger.Warn("failed to audit episode close", "error", err, "conversation_id", conversationID.String())
	}
}

func (r *Reply) saveSnapshot(ctx context.Context, tenantID, conversationID uuid.UUID, system []string, chat []ChatMessage) {
	if r.snapshots == nil {
		return
	}
	snap := snapshot.PromptSnapshot{
		TenantID:       tenantID.String(),
		ConversationID: conversationID.String(),
		Model:          r.model,
		System:         system,
	}
	for _, m := range chat {
		snap.Messages = append(snap.Messages, snapshot.PromptMessage{Role: m.Role, Content: m.Content})
	}
	if err := r.snapshots.Save(ctx, snap); err != nil {
		r.logger.Warn("failed to save prompt snapshot", "error", err, "conversation_id", conversationID.String())
	}
}

func (r *Reply) alertHighRisk(ctx context.Context, tenantID uuid.UUID, conv store.Conversation) {
	if r.alerter == nil {
		return
	}
	if err := r.alerter.NotifyHighRisk(ctx, tenantID, conv.ID, conv.PsychologistID); err != nil {
		r.logger.Error("failed to send high-risk alert", "error", err, "conversation_id", conv.ID.String())
	}
}
