package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/rssmonitor/internal/database"
	"github.com/bryan-buckman/rssmonitor/internal/model"
)

type homePage struct {
	News            []model.NewsView
	Keywords        []model.Keyword
	ActiveKeyword   int64
	Total           int
	LastRun         *model.RunSummary
	LastError       string
	PollingInterval int
	DatabaseType    string
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := database.NewsFilter{}
	if kw, err := strconv.ParseInt(r.URL.Query().Get("keyword"), 10, 64); err == nil {
		filter.KeywordID = kw
	}

	news, err := s.store.ListNews(ctx, filter)
	if err != nil {
		slog.ErrorContext(ctx, "list news", "error", err)
		http.Error(w, "Failed to load news", http.StatusInternalServerError)
		return
	}
	// The news list is the page; the sidebar degrades to empty values.
	keywords, err := s.store.ListKeywords(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "list keywords", "error", err)
	}
	total, err := s.store.CountNews(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "count news", "error", err)
	}
	interval, err := s.store.GetPollingInterval(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "get polling interval", "error", err)
	}

	data := homePage{
		News:            news,
		Keywords:        keywords,
		ActiveKeyword:   filter.KeywordID,
		Total:           total,
		PollingInterval: interval,
		DatabaseType:    s.store.DatabaseType(),
	}
	if last, ok := s.poller.Last(); ok {
		data.LastRun = &last.Summary
		if last.Err != nil {
			data.LastError = last.Err.Error()
		}
	}
	s.render(w, r, "index.html", data)
}

type managePage struct {
	Feeds           []model.Feed
	Keywords        []model.Keyword
	PollingInterval int
}

func (s *Server) handleManage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "list feeds", "error", err)
		http.Error(w, "Failed to load feeds", http.StatusInternalServerError)
		return
	}
	keywords, err := s.store.ListKeywords(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "list keywords", "error", err)
		http.Error(w, "Failed to load keywords", http.StatusInternalServerError)
		return
	}
	interval, _ := s.store.GetPollingInterval(ctx)

	s.render(w, r, "manage.html", managePage{
		Feeds:           feeds,
		Keywords:        keywords,
		PollingInterval: interval,
	})
}

// handleCheck runs a pass (or joins the running one) and returns to the news list.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "manual check requested")
	summary, err := s.poller.Trigger(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "manual check failed", "error", err)
	} else {
		slog.InfoContext(ctx, "manual check finished", "run_id", summary.ID, "matched", summary.EntriesMatched)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleAddFeedForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := strings.TrimSpace(r.FormValue("url"))
	if err := validateFeedURL(raw); err != nil {
		slog.WarnContext(ctx, "rejected feed", "url", raw, "error", err)
		http.Redirect(w, r, "/manage", http.StatusSeeOther)
		return
	}

	feed, err := s.store.AddFeed(ctx, raw)
	switch {
	case errors.Is(err, model.ErrDuplicate):
		slog.WarnContext(ctx, "feed already registered", "url", raw)
	case err != nil:
		slog.ErrorContext(ctx, "add feed", "url", raw, "error", err)
	default:
		slog.InfoContext(ctx, "feed added", "id", feed.ID, "url", feed.URL)
	}
	http.Redirect(w, r, "/manage", http.StatusSeeOther)
}

func (s *Server) handleDeleteFeedForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid feed id", http.StatusBadRequest)
		return
	}
	if err := s.store.DeleteFeed(ctx, id); err != nil {
		slog.WarnContext(ctx, "delete feed", "id", id, "error", err)
	} else {
		slog.InfoContext(ctx, "feed deleted", "id", id)
	}
	http.Redirect(w, r, "/manage", http.StatusSeeOther)
}

func (s *Server) handleAddKeywordForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	text := r.FormValue("keyword")
	if err := validateKeyword(text); err != nil {
		slog.WarnContext(ctx, "rejected keyword", "keyword", text, "error", err)
		http.Redirect(w, r, "/manage", http.StatusSeeOther)
		return
	}

	warnMultiWord(r, text)
	kw, err := s.store.AddKeyword(ctx, text)
	switch {
	case errors.Is(err, model.ErrDuplicate):
		slog.WarnContext(ctx, "keyword already registered", "keyword", text)
	case err != nil:
		slog.ErrorContext(ctx, "add keyword", "keyword", text, "error", err)
	default:
		slog.InfoContext(ctx, "keyword added", "id", kw.ID, "keyword", kw.Text)
	}
	http.Redirect(w, r, "/manage", http.StatusSeeOther)
}

func (s *Server) handleDeleteKeywordForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid keyword id", http.StatusBadRequest)
		return
	}
	if err := s.store.DeleteKeyword(ctx, id); err != nil {
		slog.WarnContext(ctx, "delete keyword", "id", id, "error", err)
	} else {
		slog.InfoContext(ctx, "keyword deleted", "id", id)
	}
	http.Redirect(w, r, "/manage", http.StatusSeeOther)
}

func validateFeedURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must be http or https")
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}

func validateKeyword(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("keyword is required")
	}
	return nil
}

// warnMultiWord flags keywords that the matcher can never find, since text is
// compared one token at a time.
func warnMultiWord(r *http.Request, text string) {
	if strings.ContainsAny(strings.TrimSpace(text), " \t\n") {
		slog.WarnContext(r.Context(), "multi-word keyword will not match", "keyword", text)
	}
}
