// Package api exposes the HTTP surface: account endpoints, friend and
// history queries, and the websocket upgrade that hands connections to
// the session loop.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ghhufue/chatrelay/pkg/auth"
	"github.com/ghhufue/chatrelay/pkg/config"
	"github.com/ghhufue/chatrelay/pkg/logger"
	"github.com/ghhufue/chatrelay/pkg/models"
	"github.com/ghhufue/chatrelay/pkg/presence"
	"github.com/ghhufue/chatrelay/pkg/relay"
	"github.com/ghhufue/chatrelay/pkg/security"
	"github.com/ghhufue/chatrelay/pkg/session"
	"github.com/ghhufue/chatrelay/pkg/store"
)

// ObjectSigner produces short-lived signed URLs for stored media keys,
// for the given HTTP method (and content type on uploads). Nil disables
// the fetchUrl endpoint.
type ObjectSigner interface {
	SignURL(key, method, contentType string) (string, error)
}

// jsonError writes a JSON error body; the message goes through the
// encoder so arbitrary error text stays valid JSON.
func jsonError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
}

// API wires the HTTP handlers to the relay services.
type API struct {
	Registry  *presence.Registry
	Directory *auth.Directory
	Engine    *relay.Engine
	Friends   *relay.Friends
	Signer    ObjectSigner
	TokenTTL  time.Duration
	Limits    session.Limits
}

// Register attaches all endpoints to the router.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)

	r.HandleFunc("/api/register", a.register).Methods(http.MethodPost)
	r.HandleFunc("/api/login", a.login).Methods(http.MethodPost)
	r.HandleFunc("/api/delete", a.deleteAccount).Methods(http.MethodDelete)
	r.HandleFunc("/api/getfriends", a.getFriends).Methods(http.MethodGet)
	r.HandleFunc("/api/fetchChatHistory", a.fetchChatHistory).Methods(http.MethodPost)
	r.HandleFunc("/api/updateFriendRequest", a.updateFriendRequest).Methods(http.MethodPost)
	r.HandleFunc("/api/fetchUrl", a.fetchURL).Methods(http.MethodPost)

	r.HandleFunc("/api/getuser", a.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/getfriendlist", a.listFriendEdges).Methods(http.MethodGet)

	r.HandleFunc("/ws", a.serveWS).Methods(http.MethodGet)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Nickname string `json:"nickname"`
		Avatar   string `json:"avatar"`
		Phone    string `json:"phone_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Username == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "hash failed")
		return
	}
	var phone string
	if req.Phone != "" {
		if key := config.PhoneKey(); key != nil {
			phone, err = security.EncryptPhone(key, req.Phone)
			if err != nil {
				jsonError(w, http.StatusInternalServerError, "phone encryption failed")
				return
			}
		}
	}
	p, err := store.CreatePrincipal(models.Principal{
		Username:       req.Username,
		Nickname:       req.Nickname,
		Avatar:         req.Avatar,
		Kind:           models.KindHuman,
		PasswordHash:   hash,
		EncryptedPhone: phone,
	})
	if errors.Is(err, store.ErrUsernameTaken) {
		jsonError(w, http.StatusConflict, "username already exists")
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("principal_registered", "id", p.ID, "username", p.Username)
	_ = json.NewEncoder(w).Encode(struct {
		Success bool  `json:"success"`
		UserID  int64 `json:"userId"`
	}{Success: true, UserID: p.ID})
}

// deleteAccount removes the authenticated caller's principal record.
func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id, ok := a.authQuery(w, r)
	if !ok {
		return
	}
	if err := store.DeletePrincipal(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "user not found")
			return
		}
		jsonError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		Success bool `json:"success"`
	}{Success: true})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Username == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	p, err := store.FindPrincipalByUsername(req.Username)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !auth.CheckPassword(p.PasswordHash, req.Password) {
		jsonError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	ttl := a.TokenTTL
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}
	token, err := auth.MintToken(config.TokenSecret(), p.ID, p.Username, ttl)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "token mint failed")
		return
	}
	logger.Info("principal_login", "id", p.ID, "username", p.Username)
	_ = json.NewEncoder(w).Encode(struct {
		Success  bool   `json:"success"`
		Message  string `json:"message"`
		Token    string `json:"token"`
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
	}{Success: true, Message: "Login successful", Token: token, UserID: p.ID, Nickname: p.Nickname})
}

func (a *API) getFriends(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id, ok := a.authQuery(w, r)
	if !ok {
		return
	}
	ids, err := store.ListFriendIDs(id, models.FriendAccepted)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Profile, 0, len(ids))
	for _, fid := range ids {
		p, err := store.GetPrincipal(fid)
		if err != nil {
			logger.Warn("friend_profile_missing", "id", fid, "error", err)
			continue
		}
		out = append(out, p.Profile())
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (a *API) fetchChatHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Token    string `json:"token"`
		FriendID int64  `json:"friendId"`
		AfterID  int64  `json:"afterId"`
		Limit    int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := a.Directory.Authenticate(req.Token)
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	msgs, err := a.Engine.History(id, req.FriendID, req.AfterID, req.Limit)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = json.NewEncoder(w).Encode(msgs)
}

func (a *API) updateFriendRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Token    string `json:"token"`
		FriendID int64  `json:"friendId"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := a.Directory.Authenticate(req.Token)
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	writeResult := func(status int, outcome, msg string) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(struct {
			RequestStatus string `json:"requestStatus"`
			Message       string `json:"message"`
		}{RequestStatus: outcome, Message: msg})
	}
	err = a.Friends.Resolve(id, req.FriendID, req.Status)
	switch {
	case errors.Is(err, relay.ErrInvalidStatus):
		writeResult(http.StatusBadRequest, "fail", "invalid status")
	case errors.Is(err, relay.ErrNotFound):
		writeResult(http.StatusNotFound, "fail", "no pending request")
	case err != nil:
		writeResult(http.StatusInternalServerError, "fail", err.Error())
	default:
		writeResult(http.StatusOK, "success", "friend request updated")
	}
}

// fetchURL signs an object-storage URL for the key named in the
// Object-Key header, using the Method and Content-Type headers as the
// signing parameters. The signed URL is returned as the plain body.
func (a *API) fetchURL(w http.ResponseWriter, r *http.Request) {
	if a.Signer == nil {
		w.Header().Set("Content-Type", "application/json")
		jsonError(w, http.StatusServiceUnavailable, "object storage not configured")
		return
	}
	key := r.Header.Get("Object-Key")
	method := r.Header.Get("Method")
	contentType := r.Header.Get("Content-Type")
	if key == "" || method == "" {
		w.Header().Set("Content-Type", "application/json")
		jsonError(w, http.StatusBadRequest, "missing Object-Key or Method header")
		return
	}
	url, err := a.Signer.SignURL(key, method, contentType)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(url))
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, ok := a.authQuery(w, r); !ok {
		return
	}
	ps, err := store.ListPrincipals()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Profile, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Profile())
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (a *API) listFriendEdges(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, ok := a.authQuery(w, r); !ok {
		return
	}
	edges, err := store.ListFriendEdges()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = json.NewEncoder(w).Encode(edges)
}

// authQuery authenticates the token query parameter, writing the error
// response itself when the token is absent or invalid.
func (a *API) authQuery(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := a.Directory.Authenticate(r.URL.Query().Get("token"))
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "invalid token")
		return 0, false
	}
	return id, true
}
