package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

const (
	assistContextCaptions = 40
	assistContextRunes    = 8000
	assistTimeout         = 45 * time.Second
)

// Assist actions
const (
	AssistRecap    = "recap"
	AssistNextLine = "assist"
	AssistQuestion = "question"
	AssistAction   = "action"
)

var (
	// ErrEmptyQuery is returned when an assist request has no query
	ErrEmptyQuery = errors.New("query is empty")
	// ErrAssistUnavailable is returned when no language model is configured
	ErrAssistUnavailable = errors.New("assistant is not configured")
)

// AssistBroadcaster delivers assistant replies to an audience
type AssistBroadcaster interface {
	BroadcastAssist(sessionID string, entry entities.AILogEntry)
}

type assistTask struct {
	instruction string
	logType     string
}

var assistTasks = map[string]assistTask{
	AssistRecap: {
		instruction: "Summarize the conversation so far as a short recap. Focus on decisions, progress, blockers, and open points.",
		logType:     "recap",
	},
	AssistNextLine: {
		instruction: "Suggest what the speaker should say next in 1-3 concise bullet points.",
		logType:     "next-speak",
	},
	AssistQuestion: {
		instruction: "Propose follow-up questions the speaker should ask next. Prioritize gaps and risks.",
		logType:     "questions",
	},
	AssistAction: {
		instruction: "List concrete action items with owner (if inferable) and due timing (if inferable).",
		logType:     "followup",
	},
}

var freeformTask = assistTask{
	instruction: "Answer the query directly based on the conversation context. Keep it concise.",
	logType:     "freeform",
}

func taskFor(action string) assistTask {
	if task, ok := assistTasks[strings.ToLower(strings.TrimSpace(action))]; ok {
		return task
	}
	return freeformTask
}

// AssistService answers questions about a session using its recent captions
// as context. Replies are logged on the session.
type AssistService struct {
	sessions     repositories.SessionRepository
	captions     *CaptionService
	assistant    repositories.Assistant
	language     string
	broadcasters []AssistBroadcaster
	logger       *zap.Logger
	now          func() time.Time
}

// NewAssistService creates a new assist service. assistant may be nil, in
// which case every request fails with ErrAssistUnavailable.
func NewAssistService(
	sessions repositories.SessionRepository,
	captions *CaptionService,
	assistant repositories.Assistant,
	language string,
	logger *zap.Logger,
	broadcasters ...AssistBroadcaster,
) *AssistService {
	if language == "" {
		language = "en"
	}
	return &AssistService{
		sessions:     sessions,
		captions:     captions,
		assistant:    assistant,
		language:     language,
		broadcasters: broadcasters,
		logger:       logger,
		now:          time.Now,
	}
}

// Assist runs one request against the session. action picks the canned
// instruction; anything unknown is answered as a free-form question.
func (s *AssistService) Assist(ctx context.Context, sessionID, query, action string) (entities.AILogEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return entities.AILogEntry{}, ErrEmptyQuery
	}
	if s.assistant == nil {
		return entities.AILogEntry{}, ErrAssistUnavailable
	}

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return entities.AILogEntry{}, err
	}

	task := taskFor(action)
	ctx, cancel := context.WithTimeout(ctx, assistTimeout)
	defer cancel()

	reply, err := s.assistant.Reply(ctx, s.systemPrompt(), userPrompt(task, query, session))
	if err != nil {
		s.logger.Warn("Assist request failed",
			zap.String("sessionID", sessionID),
			zap.String("type", task.logType),
			zap.Error(err))
		return entities.AILogEntry{}, fmt.Errorf("assistant failed: %w", err)
	}

	entry := entities.AILogEntry{
		Time: s.now(),
		Type: task.logType,
		Role: entities.AIRoleAssistant,
		Text: reply,
	}
	if err := s.record(ctx, sessionID, entry); err != nil {
		s.logger.Warn("Failed to store assist reply",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	}

	for _, b := range s.broadcasters {
		b.BroadcastAssist(sessionID, entry)
	}
	s.logger.Info("Assist reply generated",
		zap.String("sessionID", sessionID),
		zap.String("type", task.logType))
	return entry, nil
}

func (s *AssistService) load(ctx context.Context, sessionID string) (*entities.Session, error) {
	if s.captions != nil {
		if live := s.captions.Snapshot(); live != nil && live.ID == sessionID {
			return live, nil
		}
	}
	return s.sessions.GetByID(ctx, sessionID)
}

func (s *AssistService) record(ctx context.Context, sessionID string, entry entities.AILogEntry) error {
	if s.captions != nil {
		live, err := s.captions.Amend(ctx, sessionID, func(session *entities.Session) {
			session.RecordAssist(entry)
		})
		if live {
			return err
		}
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	session.RecordAssist(entry)
	return s.sessions.Update(ctx, session)
}

func (s *AssistService) systemPrompt() string {
	return fmt.Sprintf("You are a real-time meeting assistant. Always respond in language code '%s'. "+
		"Keep answers concise and practical. If the request is unclear, ask one short clarifying question.", s.language)
}

func userPrompt(task assistTask, query string, session *entities.Session) string {
	return fmt.Sprintf("Task:\n%s\n\nUser query:\n%s\n\nRecent conversation context:\n%s\n",
		task.instruction, query, conversationContext(session))
}

// conversationContext renders the most recent captions, one per line, cut
// at the rune limit
func conversationContext(session *entities.Session) string {
	recent := session.RecentCaptions(assistContextCaptions)
	if len(recent) == 0 {
		return "No captions available yet."
	}

	var b strings.Builder
	for _, c := range recent {
		fmt.Fprintf(&b, "[%s][%s][%s] %s\n", c.Time.Format("15:04:05"), c.Source, c.Status, c.Text)
	}

	runes := []rune(b.String())
	if len(runes) > assistContextRunes {
		runes = runes[:assistContextRunes]
	}
	return string(runes)
}
