package impl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kbchat/config"
	"github.com/kbchat/logger"
	"github.com/kbchat/models"
	"github.com/kbchat/services"
)

const (
	titleWordLimit = 8
	titleCharLimit = 8
	cjkRatioCutoff = 0.3
)

const titlePrompt = `Generate a short title for a conversation that starts with the given message.
At most 8 words (or 8 characters for Chinese/Japanese/Korean). Respond with the title only, no quotes.`

const summaryPrompt = `Summarize the following conversation in 2-3 sentences.
Focus on what the user wanted and what was found. Respond with the summary only.`

// sessionService owns the chat session lifecycle. All transitions into
// the active state funnel through ensureSingleActive, keeping the
// single-active invariant under concurrent creates and resumes.
type sessionService struct {
	db     *gorm.DB
	llm    services.LLMService
	cfg    config.SessionConfig
	logger *logger.Logger

	// activeMu serializes transitions into the active state.
	activeMu sync.Mutex

	// appendMu serializes appends per process; message_order must stay
	// dense per session.
	appendMu sync.Mutex
}

func NewSessionService(db *gorm.DB, llm services.LLMService, cfg config.SessionConfig, log *logger.Logger) services.SessionService {
	return &sessionService{
		db:     db,
		llm:    llm,
		cfg:    cfg,
		logger: log,
	}
}

func (s *sessionService) CreateSession(ctx context.Context) (*models.ChatSession, error) {
	session := &models.ChatSession{
		ID:     uuid.New(),
		Status: models.SessionStatusActive,
	}

	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if err := s.concludeCurrentActive(ctx, session.ID); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (s *sessionService) GetSession(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, services.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

func (s *sessionService) ListSessions(ctx context.Context, limit, offset int) ([]models.ChatSession, int64, error) {
	if limit <= 0 {
		limit = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.ChatSession{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	var sessions []models.ChatSession
	err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *sessionService) DeleteSession(ctx context.Context, id uuid.UUID) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.ChatMessage{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Delete(session).Error; err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

func (s *sessionService) AppendMessage(ctx context.Context, sessionID uuid.UUID, msg *models.ChatMessage) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status == models.SessionStatusConcluded {
		if err := s.ResumeSession(ctx, sessionID); err != nil {
			return err
		}
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxOrder sql.NullInt64
		row := tx.Model(&models.ChatMessage{}).
			Select("MAX(message_order)").
			Where("session_id = ?", sessionID).
			Row()
		if err := row.Scan(&maxOrder); err != nil {
			return fmt.Errorf("failed to read message order: %w", err)
		}

		order := 0
		if maxOrder.Valid {
			order = int(maxOrder.Int64) + 1
		}

		if msg.ID == uuid.Nil {
			msg.ID = uuid.New()
		}
		msg.SessionID = sessionID
		msg.MessageOrder = order

		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		now := time.Now()
		return tx.Model(&models.ChatSession{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"message_count":   gorm.Expr("message_count + 1"),
				"last_message_at": now,
				"updated_at":      now,
			}).Error
	})
}

func (s *sessionService) GetMessages(ctx context.Context, sessionID uuid.UUID) ([]models.ChatMessage, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	var messages []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("message_order ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}

func (s *sessionService) ResumeSession(ctx context.Context, id uuid.UUID) error {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if err := s.concludeCurrentActive(ctx, id); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.SessionStatusActive,
			"concluded_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to resume session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return services.ErrSessionNotFound
	}
	return nil
}

func (s *sessionService) ConcludeSession(ctx context.Context, id uuid.UUID, reason string) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.MessageCount < 2 {
		return fmt.Errorf("session %s has too few messages to conclude", id)
	}

	messages, err := s.GetMessages(ctx, id)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status":       models.SessionStatusConcluded,
		"concluded_at": time.Now(),
	}

	if title := s.generateTitle(ctx, messages); title != "" && title != session.Title {
		updates["title"] = title
	}
	if session.Summary == "" {
		if summary := s.generateSummary(ctx, messages); summary != "" {
			updates["summary"] = summary
		}
	}

	if err := s.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to conclude session: %w", err)
	}

	s.logger.Info("session concluded", "session_id", id, "reason", reason)
	return nil
}

// concludeCurrentActive demotes whatever session is currently active,
// other than target. Sessions too short for a proper conclusion are
// closed without title or summary.
func (s *sessionService) concludeCurrentActive(ctx context.Context, target uuid.UUID) error {
	var active models.ChatSession
	err := s.db.WithContext(ctx).
		Where("status = ? AND id <> ?", models.SessionStatusActive, target).
		First(&active).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up active session: %w", err)
	}

	if active.MessageCount >= 2 {
		if err := s.ConcludeSession(ctx, active.ID, "superseded"); err == nil {
			return nil
		}
		// Fall through to the plain status flip on conclusion failure
		// so the invariant holds regardless.
	}

	return s.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ?", active.ID).
		Updates(map[string]interface{}{
			"status":       models.SessionStatusConcluded,
			"concluded_at": time.Now(),
		}).Error
}

// generateTitle derives a session title from the first user message.
// Short messages are used verbatim; longer ones go through the LLM
// with a deterministic truncation fallback.
func (s *sessionService) generateTitle(ctx context.Context, messages []models.ChatMessage) string {
	var first string
	for _, m := range messages {
		if m.Role == models.MessageRoleUser {
			first = strings.TrimSpace(m.Content)
			break
		}
	}
	if first == "" {
		return ""
	}

	cjk := isCJKHeavy(first)
	if cjk {
		if len([]rune(first)) <= titleCharLimit {
			return first
		}
	} else if len(strings.Fields(first)) <= titleWordLimit {
		return first
	}

	title, err := s.llm.Complete(ctx, titlePrompt, first)
	if err != nil || strings.TrimSpace(title) == "" {
		s.logger.Warn("title generation failed, truncating", "error", err)
		return truncateTitle(first, cjk)
	}
	return truncateTitle(strings.TrimSpace(title), isCJKHeavy(title))
}

func (s *sessionService) generateSummary(ctx context.Context, messages []models.ChatMessage) string {
	limit := s.cfg.SummaryMessageLimit
	if limit <= 0 {
		limit = 12
	}
	if len(messages) > limit {
		messages = messages[:limit]
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	summary, err := s.llm.Complete(ctx, summaryPrompt, sb.String())
	if err != nil {
		s.logger.Warn("summary generation failed", "error", err)
		return ""
	}
	return summary
}

// StartIdleMonitor runs the periodic idle sweep until ctx is canceled.
// A crashed loop restarts after the configured delay.
func (s *sessionService) StartIdleMonitor(ctx context.Context) {
	interval := time.Duration(s.cfg.MonitorIntervalSeconds) * time.Second
	restart := time.Duration(s.cfg.MonitorRestartSeconds) * time.Second

	go func() {
		for {
			err := s.runMonitorLoop(ctx, interval)
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("idle monitor crashed, restarting", "error", err, "restart_after", restart)
			select {
			case <-time.After(restart):
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *sessionService) runMonitorLoop(ctx context.Context, interval time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.concludeIdleSessions(ctx)
		}
	}
}

func (s *sessionService) concludeIdleSessions(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.IdleTimeoutSeconds) * time.Second)

	var idle []models.ChatSession
	err := s.db.WithContext(ctx).
		Where("status = ? AND message_count >= ? AND last_message_at < ?",
			models.SessionStatusActive, 2, cutoff).
		Find(&idle).Error
	if err != nil {
		s.logger.Error("idle sweep query failed", "error", err)
		return
	}

	for _, session := range idle {
		if err := s.ConcludeSession(ctx, session.ID, "idle"); err != nil {
			s.logger.Error("failed to conclude idle session", "session_id", session.ID, "error", err)
		}
	}
}

// isCJKHeavy reports whether more than 30% of a string's letters are
// CJK code points, which switches the title rules to character counts.
func isCJKHeavy(s string) bool {
	total := 0
	cjk := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		}
	}
	if total == 0 {
		return false
	}
	return float64(cjk)/float64(total) > cjkRatioCutoff
}

// truncateTitle bounds a title to 8 words, or 8 characters for
// CJK-heavy text.
func truncateTitle(s string, cjk bool) string {
	if cjk {
		runes := []rune(s)
		if len(runes) > titleCharLimit {
			return string(runes[:titleCharLimit])
		}
		return s
	}
	words := strings.Fields(s)
	if len(words) > titleWordLimit {
		return strings.Join(words[:titleWordLimit], " ")
	}
	return s
}
