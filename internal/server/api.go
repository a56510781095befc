package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/rssmonitor/internal/database"
	monerrs "github.com/bryan-buckman/rssmonitor/internal/errors"
	"github.com/bryan-buckman/rssmonitor/internal/model"
	"github.com/bryan-buckman/rssmonitor/internal/morph"
	"github.com/bryan-buckman/rssmonitor/internal/opml"
	"github.com/bryan-buckman/rssmonitor/internal/rss"
)

type addFeedRequest struct {
	URL string `json:"url"`
}

func (req addFeedRequest) Validate() error {
	if err := validateFeedURL(req.URL); err != nil {
		return monerrs.E(http.StatusBadRequest, "invalid feed", monerrs.Detail{Field: "url", Error: err.Error()})
	}
	return nil
}

type addKeywordRequest struct {
	Keyword string `json:"keyword"`
}

func (req addKeywordRequest) Validate() error {
	if err := validateKeyword(req.Keyword); err != nil {
		return monerrs.E(http.StatusBadRequest, "invalid keyword", monerrs.Detail{Field: "keyword", Error: err.Error()})
	}
	return nil
}

type settingsRequest struct {
	PollingInterval int `json:"polling_interval"`
}

func (req settingsRequest) Validate() error {
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, monerrs.E(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// storeError maps store sentinels onto HTTP statuses.
func storeError(err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return monerrs.E(http.StatusNotFound, err)
	case errors.Is(err, model.ErrDuplicate):
		return monerrs.E(http.StatusConflict, err)
	default:
		return err
	}
}

// --- Feeds ---

func (s *Server) apiListFeeds(w http.ResponseWriter, r *http.Request) error {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, feeds)
}

func (s *Server) apiAddFeed(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeValid[addFeedRequest](r.Body)
	if err != nil {
		return err
	}
	feed, err := s.store.AddFeed(r.Context(), req.URL)
	if err != nil {
		return storeError(err)
	}
	slog.InfoContext(r.Context(), "feed added", "id", feed.ID, "url", feed.URL)
	return writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) apiDeleteFeed(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFeed(r.Context(), id); err != nil {
		return storeError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- Keywords ---

func (s *Server) apiListKeywords(w http.ResponseWriter, r *http.Request) error {
	keywords, err := s.store.ListKeywords(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, keywords)
}

func (s *Server) apiAddKeyword(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeValid[addKeywordRequest](r.Body)
	if err != nil {
		return err
	}
	warnMultiWord(r, req.Keyword)
	kw, err := s.store.AddKeyword(r.Context(), req.Keyword)
	if err != nil {
		return storeError(err)
	}
	slog.InfoContext(r.Context(), "keyword added", "id", kw.ID, "keyword", kw.Text)
	return writeJSON(w, http.StatusCreated, kw)
}

func (s *Server) apiDeleteKeyword(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if err := s.store.DeleteKeyword(r.Context(), id); err != nil {
		return storeError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- News ---

func (s *Server) apiListNews(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	var filter database.NewsFilter
	var details []monerrs.Detail
	if v := q.Get("keyword"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			details = append(details, monerrs.Detail{Field: "keyword", Error: "must be an integer"})
		}
		filter.KeywordID = id
	}
	if v := q.Get("feed"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			details = append(details, monerrs.Detail{Field: "feed", Error: "must be an integer"})
		}
		filter.FeedID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			details = append(details, monerrs.Detail{Field: "limit", Error: "must be a positive integer"})
		}
		filter.Limit = n
	}
	if len(details) > 0 {
		return monerrs.E(http.StatusBadRequest, "invalid query", details)
	}

	news, err := s.store.ListNews(r.Context(), filter)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, news)
}

// --- Passes ---

func (s *Server) apiRefresh(w http.ResponseWriter, r *http.Request) error {
	summary, err := s.poller.Trigger(r.Context())
	if err != nil {
		return monerrs.E(http.StatusInternalServerError, err)
	}
	return writeJSON(w, http.StatusOK, summary)
}

type statusResponse struct {
	Database        string            `json:"database"`
	News            int               `json:"news"`
	PollingInterval int               `json:"polling_interval"`
	LastRun         *model.RunSummary `json:"last_run"`
	LastError       string            `json:"last_error,omitempty"`
	LemmaCache      *morph.CacheStats `json:"lemma_cache,omitempty"`
}

func (s *Server) apiStatus(w http.ResponseWriter, r *http.Request) error {
	count, err := s.store.CountNews(r.Context())
	if err != nil {
		return err
	}
	interval, err := s.store.GetPollingInterval(r.Context())
	if err != nil {
		return err
	}

	resp := statusResponse{
		Database:        s.store.DatabaseType(),
		News:            count,
		PollingInterval: interval,
	}
	if last, ok := s.poller.Last(); ok {
		resp.LastRun = &last.Summary
		if last.Err != nil {
			resp.LastError = last.Err.Error()
		}
	}
	if s.lemmaStats != nil {
		stats := s.lemmaStats()
		resp.LemmaCache = &stats
	}
	return writeJSON(w, http.StatusOK, resp)
}

// --- Settings ---

func (s *Server) apiGetSettings(w http.ResponseWriter, r *http.Request) error {
	interval, err := s.store.GetPollingInterval(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"polling_interval": interval,
	})
}

func (s *Server) apiSaveSettings(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeValid[settingsRequest](r.Body)
	if err != nil {
		return err
	}
	// Enforce minimum.
	if req.PollingInterval < rss.MinPollingIntervalMinutes {
		req.PollingInterval = rss.MinPollingIntervalMinutes
	}
	if err := s.store.SetSetting(r.Context(), model.SettingPollingInterval, strconv.Itoa(req.PollingInterval)); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"polling_interval": req.PollingInterval,
	})
}

// --- OPML ---

func (s *Server) apiImportOPML(w http.ResponseWriter, r *http.Request) error {
	file, _, err := r.FormFile("opml")
	if err != nil {
		return monerrs.E(http.StatusBadRequest, "no file provided", monerrs.Detail{Field: "opml", Error: err.Error()})
	}
	defer file.Close()

	urls, err := opml.Parse(file)
	if err != nil {
		return monerrs.E(http.StatusBadRequest, err)
	}

	imported := 0
	for _, u := range urls {
		if err := validateFeedURL(u); err != nil {
			slog.WarnContext(r.Context(), "skipping opml entry", "url", u, "error", err)
			continue
		}
		_, err := s.store.AddFeed(r.Context(), u)
		if errors.Is(err, model.ErrDuplicate) {
			continue
		}
		if err != nil {
			return err
		}
		imported++
	}
	slog.InfoContext(r.Context(), "opml imported", "imported", imported, "total", len(urls))

	return writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"imported": imported,
		"total":    len(urls),
	})
}

func (s *Server) apiExportOPML(w http.ResponseWriter, r *http.Request) error {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		return err
	}
	data, err := opml.Export("RSS Monitor Feeds", feeds, time.Now())
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=rssmonitor-feeds.opml")
	_, err = w.Write(data)
	return err
}
