// Package notify posts kept incidents to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

const (
	maxTitleRunes    = 300
	maxSummaryRunes  = 600
	sentKeyPrefix    = "notify:sent:"
	defaultSentTTL   = 90 * 24 * time.Hour
	defaultPerSecond = 1
)

// sender is the part of the bot API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var _ sender = (*tgbotapi.BotAPI)(nil)

// Deduper claims a key once; later claims of the same key return false.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// Config configures the notifier.
type Config struct {
	ChatID int64
	// MinIncidentScore skips kept records scoring lower.
	MinIncidentScore int
	// PerSecond bounds messages sent per second.
	PerSecond float64
}

// TelegramNotifier announces kept records, each at most once.
type TelegramNotifier struct {
	cfg     Config
	api     sender
	dedup   Deduper
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// NewTelegramNotifier connects to the bot API with token. A nil deduper
// remembers sent records in memory only.
func NewTelegramNotifier(token string, cfg Config, dedup Deduper, logger *zerolog.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}

	return newNotifier(api, cfg, dedup, logger), nil
}

func newNotifier(api sender, cfg Config, dedup Deduper, logger *zerolog.Logger) *TelegramNotifier {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = defaultPerSecond
	}

	if dedup == nil {
		dedup = NewMemoryDeduper()
	}

	return &TelegramNotifier{
		cfg:     cfg,
		api:     api,
		dedup:   dedup,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), 1),
		logger:  logger,
	}
}

// Keep sends item to the chat unless it was announced before.
func (n *TelegramNotifier) Keep(ctx context.Context, category domain.Category, normKey string, item *domain.CanonicalItem) error {
	if item.Incident != nil && item.Incident.Score < n.cfg.MinIncidentScore {
		return nil
	}

	fresh, err := n.dedup.Claim(ctx, sentKeyPrefix+string(category)+":"+normKey)
	if err != nil {
		n.logger.Warn().Err(err).Msg("notification dedup failed, sending anyway")
	} else if !fresh {
		return nil
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify rate limit: %w", err)
	}

	msg := tgbotapi.NewMessage(n.cfg.ChatID, FormatItem(category, item))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}

	n.logger.Debug().Str("norm_key", normKey).Msg("incident announced")

	return nil
}

// FormatItem renders item as a Telegram HTML message.
func FormatItem(category domain.Category, item *domain.CanonicalItem) string {
	var sb strings.Builder

	sb.WriteString("<b>")
	sb.WriteString(html.EscapeString(truncateRunes(item.Title, maxTitleRunes)))
	sb.WriteString("</b>\n")

	meta := []string{string(category)}
	if item.Date != "" {
		meta = append(meta, item.Date)
	}

	if item.Incident != nil && item.Incident.Category != "" {
		meta = append(meta, fmt.Sprintf("%s (%d)", item.Incident.Category, item.Incident.Score))
	}

	sb.WriteString("<i>")
	sb.WriteString(html.EscapeString(strings.Join(meta, " · ")))
	sb.WriteString("</i>\n")

	if !domain.IsPlaceholderSummary(item.Summary) {
		sb.WriteString("\n")
		sb.WriteString(html.EscapeString(truncateRunes(item.Summary, maxSummaryRunes)))
		sb.WriteString("\n")
	}

	if len(item.Decision.Reasons) > 0 {
		sb.WriteString("\n")

		for _, r := range item.Decision.Reasons {
			sb.WriteString("• ")
			sb.WriteString(html.EscapeString(r))
			sb.WriteString("\n")
		}
	}

	if names := item.SourceNames(); len(names) > 0 {
		sb.WriteString("\nSources: ")
		sb.WriteString(html.EscapeString(strings.Join(names, ", ")))
		sb.WriteString("\n")
	}

	if item.URL != "" {
		sb.WriteString(`<a href="`)
		sb.WriteString(html.EscapeString(item.URL))
		sb.WriteString(`">Read more</a>`)
	}

	return sb.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	r := []rune(s)

	return strings.TrimSpace(string(r[:n])) + "…"
}

// MemoryDeduper remembers claimed keys for the life of the process.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (m *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[key]; ok {
		return false, nil
	}

	m.seen[key] = struct{}{}

	return true, nil
}

// RedisDeduper remembers claimed keys in Redis so resumed and repeated runs
// do not announce the same record twice.
type RedisDeduper struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisDeduper uses rdb; a non-positive ttl uses the default.
func NewRedisDeduper(rdb redis.Cmdable, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = defaultSentTTL
	}

	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (r *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}

	return ok, nil
}
