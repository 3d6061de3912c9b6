package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blogreach/blogreach/internal/bot"
)

type createBotRequest struct {
	Username    string `json:"username" validate:"required"`
	Password    string `json:"password" validate:"required"`
	Keyword     string `json:"keyword" validate:"required"`
	ThreadCount int    `json:"thread_count" validate:"gte=0,lte=16"`
	MaxAccounts int    `json:"max_accounts" validate:"gt=0"`
	MaxMessages int    `json:"max_messages" validate:"gte=0"`
}

type botResponse struct {
	ID              int64  `json:"id"`
	Username        string `json:"username"`
	Keyword         string `json:"keyword"`
	ThreadCount     int    `json:"thread_count"`
	MaxAccounts     int    `json:"max_accounts"`
	MaxMessages     int    `json:"max_messages"`
	Status          string `json:"status"`
	AccountCount    int    `json:"account_count"`
	UnsentCount     int    `json:"unsent_count"`
	MessagingActive bool   `json:"messaging_active"`
}

type accountResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CollectedAt time.Time `json:"collected_at"`
	MessageSent bool      `json:"message_sent"`
}

type logResponse struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}

func (s *Server) createBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b := &bot.Bot{
		Username:    req.Username,
		Password:    req.Password,
		Keyword:     req.Keyword,
		ThreadCount: req.ThreadCount,
		MaxAccounts: req.MaxAccounts,
		MaxMessages: req.MaxMessages,
	}
	if err := s.manager.Add(r.Context(), b); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, s.toBotResponse(r, *b))
}

func (s *Server) listBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.manager.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list bots")
		return
	}
	out := make([]botResponse, 0, len(bots))
	for _, b := range bots {
		out = append(out, s.toBotResponse(r, b))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bots": out})
}

func (s *Server) getBot(w http.ResponseWriter, r *http.Request) {
	b, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.toBotResponse(r, b))
}

func (s *Server) deleteBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Delete(r.Context(), id); err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) startBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Start(r.Context(), id); err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) stopBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Stop(r.Context(), id); err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) pauseBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Pause(r.Context(), id); err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) startMessaging(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}
	if err := s.manager.StartMessaging(r.Context(), id); err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "messaging"})
}

func (s *Server) stopMessaging(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}
	s.manager.StopMessaging(id)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "messaging stopped"})
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	accounts, err := s.accounts.ListForBot(r.Context(), id, page, pageSize)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{
			ID:          a.ID,
			Name:        a.Name,
			CollectedAt: a.CollectedAt,
			MessageSent: a.MessageSent,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"accounts":  out,
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}
	entries, err := s.logs.ListForBot(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	out := make([]logResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, logResponse{ID: e.ID, Message: e.Message, Timestamp: e.Timestamp, Success: e.Success})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"logs": out})
}

func (s *Server) clearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.logs.DeleteAll(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to clear logs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) toBotResponse(r *http.Request, b bot.Bot) botResponse {
	resp := botResponse{
		ID:              b.ID,
		Username:        b.Username,
		Keyword:         b.Keyword,
		ThreadCount:     b.ThreadCount,
		MaxAccounts:     b.MaxAccounts,
		MaxMessages:     b.MaxMessages,
		Status:          string(b.Status),
		MessagingActive: s.manager.MessagingActive(b.ID),
	}
	if count, err := s.accounts.CountForBot(r.Context(), b.ID); err == nil {
		resp.AccountCount = count
	}
	if unsent, err := s.accounts.ListUnsent(r.Context(), b.ID); err == nil {
		resp.UnsentCount = len(unsent)
	}
	return resp
}

func (s *Server) loadBot(w http.ResponseWriter, r *http.Request) (bot.Bot, bool) {
	id, ok := s.botID(w, r)
	if !ok {
		return bot.Bot{}, false
	}
	b, err := s.manager.Get(r.Context(), id)
	if err != nil {
		s.writeManagerError(w, err)
		return bot.Bot{}, false
	}
	return b, true
}

func (s *Server) botID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "bot_id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid bot id")
		return 0, false
	}
	return id, true
}

func (s *Server) writeManagerError(w http.ResponseWriter, err error) {
	if errors.Is(err, bot.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
