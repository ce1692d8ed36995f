package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"recruiter-inbox/internal/domain"
	rediscache "recruiter-inbox/internal/infra/cache"
	"recruiter-inbox/internal/infra/metrics"
)

// promptVersionKey хранит версию промпта, под которой наполнялся кэш.
const promptVersionKey = "oracle:prompt_version"

// CachedOracle мемоизирует детерминированные вызовы оракула. Ключ включает
// версию промпта: при смене промпта старые результаты игнорируются.
type CachedOracle struct {
	inner         domain.Oracle
	cache         domain.Cache
	ttl           time.Duration
	promptVersion string
	log           zerolog.Logger
}

// NewCached оборачивает оракула кэшем.
func NewCached(inner domain.Oracle, cache domain.Cache, ttl time.Duration, promptVersion string, log zerolog.Logger) *CachedOracle {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if promptVersion == "" {
		promptVersion = "v1"
	}
	return &CachedOracle{inner: inner, cache: cache, ttl: ttl, promptVersion: promptVersion, log: log}
}

var _ domain.Oracle = (*CachedOracle)(nil)

// EnsureVersion сверяет версию промпта с той, под которой наполнялся кэш.
// При смене версии старые записи удаляются целиком: ключи включают версию,
// так что это очистка, а не условие корректности.
func (c *CachedOracle) EnsureVersion(ctx context.Context) error {
	stored, err := c.cache.Get(ctx, promptVersionKey)
	switch {
	case err == nil && string(stored) == c.promptVersion:
		return nil
	case err != nil && !rediscache.IsMiss(err):
		return err
	case err == nil:
		c.log.Info().Str("from", string(stored)).Str("to", c.promptVersion).
			Msg("oracle: версия промпта сменилась, кэш сбрасывается")
		if err := c.cache.Invalidate(ctx, "oracle:*"); err != nil {
			return err
		}
	}
	return c.cache.Set(ctx, promptVersionKey, []byte(c.promptVersion), 0)
}

// ExtractOpportunity возвращает мемоизированное извлечение по транскрипту.
func (c *CachedOracle) ExtractOpportunity(ctx context.Context, transcript string) (domain.Extraction, error) {
	key := c.key("extract", transcript)
	buf, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var cached domain.Extraction
		if err := json.Unmarshal(buf, &cached); err == nil {
			metrics.OracleCacheHits.WithLabelValues("hit").Inc()
			return cached, nil
		}
	case !rediscache.IsMiss(err):
		c.log.Warn().Err(err).Str("key", key).Msg("oracle: не удалось прочитать кэш")
	}
	metrics.OracleCacheHits.WithLabelValues("miss").Inc()

	extraction, err := c.inner.ExtractOpportunity(ctx, transcript)
	if err != nil {
		return domain.Extraction{}, err
	}
	c.store(ctx, key, extraction)
	return extraction, nil
}

// AnalyzeFollowUp возвращает мемоизированный анализ follow-up.
func (c *CachedOracle) AnalyzeFollowUp(ctx context.Context, transcript string) (domain.FollowUpAnalysis, error) {
	key := c.key("followup", transcript)
	buf, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var cached domain.FollowUpAnalysis
		if err := json.Unmarshal(buf, &cached); err == nil {
			metrics.OracleCacheHits.WithLabelValues("hit").Inc()
			return cached, nil
		}
	case !rediscache.IsMiss(err):
		c.log.Warn().Err(err).Str("key", key).Msg("oracle: не удалось прочитать кэш")
	}
	metrics.OracleCacheHits.WithLabelValues("miss").Inc()

	analysis, err := c.inner.AnalyzeFollowUp(ctx, transcript)
	if err != nil {
		return domain.FollowUpAnalysis{}, err
	}
	c.store(ctx, key, analysis)
	return analysis, nil
}

// DraftReply не кэшируется: черновики генерируются на каждый запрос.
func (c *CachedOracle) DraftReply(ctx context.Context, opp domain.Opportunity, transcript string) (string, error) {
	return c.inner.DraftReply(ctx, opp, transcript)
}

func (c *CachedOracle) key(op, transcript string) string {
	sum := sha256.Sum256([]byte(c.promptVersion + "\x00" + transcript))
	return "oracle:" + op + ":" + c.promptVersion + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedOracle) store(ctx context.Context, key string, value any) {
	buf, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, buf, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("oracle: не удалось записать кэш")
	}
}
