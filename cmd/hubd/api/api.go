// Package api implements a few simple HTTP endpoints for discovery and control
// of objects connected to the hub, and a websocket stream of their changes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/bartekpacia/homehub/api"
	"github.com/bartekpacia/homehub/cmd/hubd/history"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

// Controller is the subset of [api.Client] the endpoints use.
type Controller interface {
	ToggleStatus(ctx context.Context, id string, on bool) error
	SetTemperature(ctx context.Context, id string, celsius float64) error
}

// BlindMover moves blinds, estimating the position of those that don't report
// it.
type BlindMover interface {
	MoveBlind(ctx context.Context, id string, position int) error
}

// History looks up recorded changes of objects.
type History interface {
	Query(ctx context.Context, id string, limit int) ([]history.Event, error)
}

const defaultHistoryLimit = 50

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func New(client Controller, blinds BlindMover, home *api.HomeIndex, passphraseHash string) *API {
	return &API{
		client:         client,
		blinds:         blinds,
		home:           home,
		passphraseHash: passphraseHash,
		listeners:      make(map[chan event]struct{}),
	}
}

type API struct {
	client         Controller
	blinds         BlindMover
	home           *api.HomeIndex
	passphraseHash string
	history        History

	mu        sync.Mutex
	listeners map[chan event]struct{}
}

// UseHistory enables the history endpoint. Without it, the endpoint responds
// with 404.
func (a *API) UseHistory(h History) {
	a.history = h
}

type event struct {
	ID     string          `json:"id"`
	Type   api.ObjectType  `json:"type"`
	Fields json.RawMessage `json:"fields"`
}

type device struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   api.ObjectType `json:"type"`
	Status string         `json:"status"`
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logRequests)
	r.Use(a.withPassphrase)

	r.Get("/api/devices", a.getDevices)
	r.Get("/api/devices/{id}", a.getDevice)
	r.Get("/api/devices/{id}/history", a.getHistory)
	r.Post("/api/devices/{id}/toggle", a.toggleDevice)
	r.Post("/api/blinds/{id}/position", a.setBlindPosition)
	r.Post("/api/thermostats/{id}/temperature", a.setTemperature)
	r.Get("/api/events", a.events)

	return r
}

func (a *API) Run(ctx context.Context, port int) error {
	addr := fmt.Sprint("0.0.0.0:", port)
	httpServer := http.Server{Addr: addr, Handler: a.Routes()}

	errs := make(chan error, 2)
	go func() {
		slog.Info("server will listen and serve", "addr", fmt.Sprint("http://", addr))
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errs <- nil
		} else {
			slog.Warn("http server's 'listen and serve' failed", slog.Any("error", err))
			errs <- err
		}
	}()

	go func() {
		<-ctx.Done()
		errs <- httpServer.Shutdown(context.Background())
	}()

	return <-errs
}

// Publish sends a change of an object to all connected event streams. Slow
// streams miss events rather than block the caller.
func (a *API) Publish(id string, d api.Device) {
	fields, err := json.Marshal(d.Base().Fields())
	if err != nil {
		slog.Error("failed to marshal event", slog.String("object_id", id), slog.Any("error", err))
		return
	}

	e := event{ID: id, Type: d.Base().Type, Fields: fields}

	a.mu.Lock()
	defer a.mu.Unlock()

	for listener := range a.listeners {
		select {
		case listener <- e:
		default:
			slog.Warn("event stream is full, dropping event", slog.String("object_id", id))
		}
	}
}

func (a *API) getDevices(w http.ResponseWriter, r *http.Request) {
	response := make([]device, 0)
	for id, d := range a.home.All() {
		if _, ok := d.(*api.Room); ok {
			continue
		}

		response = append(response, device{
			ID:     id,
			Name:   d.Base().Description,
			Type:   d.Base().Type,
			Status: d.Base().Status,
		})
	}

	writeJSON(w, response)
}

func (a *API) getDevice(w http.ResponseWriter, r *http.Request) {
	id := objectID(r)
	d, ok := a.home.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, d.Base().Fields())
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		http.Error(w, "history is disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive number", http.StatusBadRequest)
			return
		}
		limit = n
	}

	id := objectID(r)
	events, err := a.history.Query(r.Context(), id, limit)
	if err != nil {
		msg := fmt.Sprintf("failed to query history of %s: %v\n", id, err)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}

	writeJSON(w, events)
}

func (a *API) toggleDevice(w http.ResponseWriter, r *http.Request) {
	id := objectID(r)
	d, ok := a.home.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	on := !d.Base().IsOn()
	err := a.client.ToggleStatus(r.Context(), id, on)
	if err != nil {
		msg := fmt.Sprintf("failed to toggle object with id %s: %v\n", id, err)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setBlindPosition(w http.ResponseWriter, r *http.Request) {
	id := objectID(r)
	if _, ok := a.home.Blinds()[id]; !ok {
		http.NotFound(w, r)
		return
	}

	var body struct {
		Position int `json:"position"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil || body.Position < 0 || body.Position > 100 {
		http.Error(w, "position must be a number between 0 and 100", http.StatusBadRequest)
		return
	}

	err = a.blinds.MoveBlind(r.Context(), id, body.Position)
	if err != nil {
		msg := fmt.Sprintf("failed to move blind with id %s: %v\n", id, err)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setTemperature(w http.ResponseWriter, r *http.Request) {
	id := objectID(r)
	if _, ok := a.home.Thermostats()[id]; !ok {
		http.NotFound(w, r)
		return
	}

	var body struct {
		Temperature float64 `json:"temperature"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = a.client.SetTemperature(r.Context(), id, body.Temperature)
	if err != nil {
		msg := fmt.Sprintf("failed to set temperature of %s: %v\n", id, err)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade connection", slog.Any("error", err))
		return
	}
	defer conn.Close()

	listener := make(chan event, 64)
	a.mu.Lock()
	a.listeners[listener] = struct{}{}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.listeners, listener)
		a.mu.Unlock()
	}()

	// Detect the client going away. Anything it sends is ignored.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	slog.Info("event stream connected", slog.String("remote_addr", r.RemoteAddr))

	for {
		select {
		case e := <-listener:
			err := conn.WriteJSON(e)
			if err != nil {
				slog.Warn("failed to write event", slog.Any("error", err))
				return
			}
		case <-closed:
			slog.Info("event stream disconnected", slog.String("remote_addr", r.RemoteAddr))
			return
		case <-r.Context().Done():
			return
		}
	}
}

// withPassphrase rejects requests whose passphrase doesn't match the
// configured bcrypt hash. If no hash is configured, all requests pass.
func (a *API) withPassphrase(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.passphraseHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		passphrase, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Passphrase: ")
		if !ok {
			passphrase = r.URL.Query().Get("passphrase")
		}

		err := bcrypt.CompareHashAndPassword([]byte(a.passphraseHash), []byte(passphrase))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("new request", "method", r.Method, "url", r.URL.String(), "remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// objectID returns the id path parameter. Ids contain '#', so clients send
// them escaped.
func objectID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}

	return id
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, "failed to encode response: "+err.Error(), http.StatusInternalServerError)
	}
}
