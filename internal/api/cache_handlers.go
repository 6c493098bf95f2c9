package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/document"
)

const cacheAdminTimeout = 10 * time.Second

// CacheAdmin is the administrative surface of the content cache.
// *cache.Cache satisfies it.
type CacheAdmin interface {
	Stats(ctx context.Context) (document.CacheStats, error)
	Clear(ctx context.Context) (int, error)
	ClearRow(ctx context.Context, sheet string, row int) (int, error)
}

// CacheHandler exposes cache statistics and clearing.
type CacheHandler struct {
	cache   CacheAdmin
	timeout time.Duration
	logger  *zap.Logger
}

// NewCacheHandler wires the cache and logger.
func NewCacheHandler(cache CacheAdmin, logger *zap.Logger) *CacheHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheHandler{
		cache:   cache,
		timeout: cacheAdminTimeout,
		logger:  logger.Named("cache_api"),
	}
}

// Stats handles GET /v1/cache/stats. It returns {count,total_bytes,max_bytes},
// 503 when no cache is configured, or 500 if the backend fails.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.cache.Stats(ctx)
	if err != nil {
		h.logger.Error("cache stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load cache stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Clear handles DELETE /v1/cache and reports how many entries were removed.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	removed, err := h.cache.Clear(ctx)
	if err != nil {
		h.logger.Error("cache clear failed", zap.Int("removed", removed), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// ClearRow handles DELETE /v1/cache/rows/{sheet}/{row}. The sheet segment is
// path-escaped; 400 is returned for an empty sheet or a malformed row.
func (h *CacheHandler) ClearRow(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	sheet, row, err := parseRowParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	removed, err := h.cache.ClearRow(ctx, sheet, row)
	if err != nil {
		h.logger.Error("cache row clear failed", zap.String("sheet", sheet), zap.Int("row", row), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear cache row")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sheet": sheet, "row": row, "removed": removed})
}

func parseRowParams(r *http.Request) (string, int, error) {
	sheet, err := url.PathUnescape(chi.URLParam(r, "sheet"))
	if err != nil || strings.TrimSpace(sheet) == "" {
		return "", 0, errors.New("invalid sheet")
	}
	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil || row < 0 {
		return "", 0, errors.New("invalid row")
	}
	return sheet, row, nil
}
