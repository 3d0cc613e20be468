// Package api exposes the ticket workflow over HTTP for the chat adapter.
//
// Every mutating request names the acting chat user in the X-Actor-ID header.
// Owner-only actions reject any other actor; staff actions record it as the
// decision maker.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"trading-desk/internal/domain"
	"trading-desk/internal/matcher"
	"trading-desk/internal/observability"
	"trading-desk/internal/storage"
	"trading-desk/internal/ticket"
)

// ActorHeader names the acting chat user.
const ActorHeader = "X-Actor-ID"

// HTTPHandler serves the ticket routes.
type HTTPHandler struct {
	Tickets *ticket.Service
	Matcher *matcher.Matcher
	Logger  *logrus.Logger
	Now     func() time.Time
}

// Routes mounts the ticket and match routes on r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Route("/tickets", func(r chi.Router) {
		r.Post("/", h.Open)
		r.Route("/{channel}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Group(func(r chi.Router) {
				r.Use(requireActor)
				r.Delete("/", h.Close)
				r.Post("/selling", h.StartSelling)
				r.Post("/items", h.AddItem)
				r.Delete("/items", h.RemoveItem)
				r.Post("/payment", h.ProceedToPayment)
				r.Post("/information", h.ShowInformation)
				r.Post("/back", h.Back)
				r.Post("/account", h.SubmitUsername)
				r.Post("/account/confirm", h.ConfirmAccount)
				r.Post("/accept", h.Accept)
				r.Post("/refuse", h.Refuse)
			})
		})
	})
	r.Get("/match", h.Match)
}

// NewRouter returns a chi router with the request middleware stack and the
// ticket routes mounted.
func NewRouter(h *HTTPHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	h.Routes(r)
	return r
}

func (h *HTTPHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger().WithContext(r.Context()).WithFields(logrus.Fields{
			"object":     "http",
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request served")
	})
}

func (h *HTTPHandler) logger() *logrus.Logger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}

func (h *HTTPHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

// requireActor rejects a mutating request that does not name its actor.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor(r) == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing " + ActorHeader + " header"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func channel(r *http.Request) string {
	return chi.URLParam(r, "channel")
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func (h *HTTPHandler) respond(w http.ResponseWriter, r *http.Request, status int, t *domain.Ticket, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, TicketResponse{Ticket: t, View: ticket.Render(t, h.now())})
}

// fail maps service errors onto status codes. User errors carry the exact
// title and message for the chat adapter.
func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if ue, ok := domain.AsUserError(err); ok {
		writeJSON(w, userErrorStatus(ue), ErrorResponse{Error: ue.Kind.Error(), Title: ue.Title, Message: ue.Message})
		return
	}

	switch {
	case errors.Is(err, ticket.ErrTicketNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.logger().WithContext(r.Context()).WithError(err).WithFields(logrus.Fields{
			"object": "http",
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func userErrorStatus(ue *domain.UserError) int {
	switch {
	case errors.Is(ue, domain.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(ue, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(ue, domain.ErrNotFound), errors.Is(ue, domain.ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *HTTPHandler) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

// Open creates a ticket.
func (h *HTTPHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	t, err := h.Tickets.Open(r.Context(), req.ChannelID, req.OwnerID)
	h.respond(w, r, http.StatusCreated, t, err)
}

// Get returns a ticket and its rendered view.
func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tickets.Get(r.Context(), channel(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.Tickets.View(r.Context(), channel(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TicketResponse{Ticket: t, View: view})
}

// Close deletes a ticket and cancels its poll.
func (h *HTTPHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.Tickets.Close(r.Context(), channel(r), actor(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) StartSelling(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tickets.StartSelling(r.Context(), channel(r), actor(r))
	h.respond(w, r, http.StatusOK, t, err)
}

// AddItem adds a stack to the basket.
func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req ticket.ItemRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	t, err := h.Tickets.AddItem(r.Context(), channel(r), actor(r), req)
	h.respond(w, r, http.StatusOK, t, err)
}

// RemoveItem removes quantity from a stack of the basket.
func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	var req ticket.ItemRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	t, err := h.Tickets.RemoveItem(r.Context(), channel(r), actor(r), req)
	h.respond(w, r, http.StatusOK, t, err)
}

func (h *HTTPHandler) ProceedToPayment(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tickets.ProceedToPayment(r.Context(), channel(r), actor(r))
	h.respond(w, r, http.StatusOK, t, err)
}

func (h *HTTPHandler) ShowInformation(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tickets.ShowInformation(r.Context(), channel(r), actor(r))
	h.respond(w, r, http.StatusOK, t, err)
}

func (h *HTTPHandler) Back(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tickets.Back(r.Context(), channel(r), actor(r))
	h.respond(w, r, http.StatusOK, t, err)
}

// SubmitUsername looks up the platform account for the chosen payout method.
func (h *HTTPHandler) SubmitUsername(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	t, err := h.Tickets.SubmitUsername(r.Context(), channel(r), actor(r), req.Method, req.Username)
	h.respond(w, r, http.StatusOK, t, err)
}

func (h *HTTPHandler) ConfirmAccount(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tickets.ConfirmAccount(r.Context(), channel(r), actor(r))
	h.respond(w, r, http.StatusOK, t, err)
}

// Accept finalizes a pending transaction.
func (h *HTTPHandler) Accept(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tickets.Accept(r.Context(), channel(r), actor(r))
	h.respond(w, r, http.StatusOK, t, err)
}

// Refuse rejects a pending transaction with a reason.
func (h *HTTPHandler) Refuse(w http.ResponseWriter, r *http.Request) {
	var req RefuseRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	t, err := h.Tickets.Refuse(r.Context(), channel(r), actor(r), req.Reason)
	h.respond(w, r, http.StatusOK, t, err)
}

// Match resolves free text against the catalog without touching any ticket.
func (h *HTTPHandler) Match(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, dups, err := h.Matcher.Match(q.Get("q"), q.Get("type"))
	if err != nil {
		observability.RecordMatch("not_found")
		h.fail(w, r, err)
		return
	}

	resp := MatchResponse{
		Key:       res.Key,
		Name:      res.DisplayName,
		Type:      res.Type,
		Score:     res.Score,
		Special:   res.Special,
		Ambiguous: matcher.Ambiguous(dups),
	}
	if res.Entry != nil {
		resp.CashValue = res.Entry.CashValue
		resp.DupedValue = res.Entry.DupedValue
	}
	if resp.Ambiguous {
		for _, c := range dups {
			resp.Candidates = append(resp.Candidates, MatchCandidate{Key: c.Name, Type: c.Entry.ItemType(), Score: c.Score})
		}
	}
	observability.RecordMatch(matchOutcome(resp))
	writeJSON(w, http.StatusOK, resp)
}

func matchOutcome(m MatchResponse) string {
	switch {
	case m.Special:
		return "leveled"
	case m.Ambiguous:
		return "ambiguous"
	default:
		return "matched"
	}
}
