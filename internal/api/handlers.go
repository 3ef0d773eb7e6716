package api

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"codehive/internal/auth"
	"codehive/internal/db"
	"codehive/internal/exec"
	"codehive/internal/ws"
)

const (
	roleUser  = "user"
	roleAdmin = "admin"
)

type API struct {
	hub    *ws.Hub
	store  *db.Store
	tokens *auth.Tokens
	runner *exec.Client
}

func New(hub *ws.Hub, store *db.Store, tokens *auth.Tokens, runner *exec.Client) *API {
	return &API{
		hub:    hub,
		store:  store,
		tokens: tokens,
		runner: runner,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("encode JSON response")
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"message": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.RoomCount(),
		"active_clients": a.hub.ClientCount(),
		"occupancy":      a.hub.ActiveRooms(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		dbStats, err := a.store.Stats()
		if err == nil {
			for k, v := range dbStats {
				stats[k] = v
			}
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Account handlers

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignupHandler registers a regular account; AdminSignupHandler an
// admin one. Both share signup.
func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	a.signup(w, r, roleUser)
}

func (a *API) AdminSignupHandler(w http.ResponseWriter, r *http.Request) {
	a.signup(w, r, roleAdmin)
}

func (a *API) signup(w http.ResponseWriter, r *http.Request, role string) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		errorResponse(w, http.StatusBadRequest, "Missing username or password")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	created, err := a.store.CreateUser(req.Username, hash, role)
	if err != nil {
		logrus.WithError(err).Error("create user")
		errorResponse(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !created {
		errorResponse(w, http.StatusBadRequest, "User already exists")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "User created successfully"})
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	a.login(w, r, roleUser)
}

func (a *API) AdminLoginHandler(w http.ResponseWriter, r *http.Request) {
	a.login(w, r, roleAdmin)
}

func (a *API) login(w http.ResponseWriter, r *http.Request, role string) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := a.store.GetUser(req.Username)
	if err != nil {
		logrus.WithError(err).Error("get user")
		errorResponse(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if user == nil || user.Role != role {
		errorResponse(w, http.StatusBadRequest, "User not found")
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		errorResponse(w, http.StatusBadRequest, "Incorrect password")
		return
	}

	token, err := a.tokens.Sign(user.Username, user.Role)
	if err != nil {
		logrus.WithError(err).Error("sign token")
		errorResponse(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{
		"message":  "Login successful",
		"token":    token,
		"username": user.Username,
	})
}

// Room handlers

type createRoomRequest struct {
	ProjectName string `json:"projectName"`
	Password    string `json:"password"`
}

type joinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	Password string `json:"password"`
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProjectName == "" || req.Password == "" {
		errorResponse(w, http.StatusBadRequest, "Missing project name or password")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	// Codes can collide; retry a few times before giving up.
	for attempt := 0; attempt < 5; attempt++ {
		code, err := generateRoomCode()
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		created, err := a.store.CreateRoomMeta(code, req.ProjectName, hash)
		if err != nil {
			logrus.WithError(err).Error("create room")
			errorResponse(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if created {
			jsonResponse(w, http.StatusCreated, map[string]string{"roomCode": code})
			return
		}
	}

	errorResponse(w, http.StatusInternalServerError, "Could not allocate room code")
}

func (a *API) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RoomCode == "" || req.Password == "" {
		errorResponse(w, http.StatusBadRequest, "Missing room code or password")
		return
	}

	room, err := a.store.GetRoomMeta(req.RoomCode)
	if err != nil {
		logrus.WithError(err).Error("get room")
		errorResponse(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if room == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	if !auth.CheckPassword(room.PasswordHash, req.Password) {
		errorResponse(w, http.StatusUnauthorized, "Incorrect password")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{
		"message":  "Joined successfully",
		"roomCode": room.Code,
	})
}

const roomCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const roomCodeLength = 6

func generateRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("room code: %w", err)
	}
	for i, b := range buf {
		buf[i] = roomCodeCharset[int(b)%len(roomCodeCharset)]
	}
	return string(buf), nil
}

// Execution handler

type executeRequest struct {
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin"`
}

// ExecuteHandler forwards a snippet to the sandboxed execution service.
func (a *API) ExecuteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SourceCode == "" {
		errorResponse(w, http.StatusBadRequest, "Missing source code")
		return
	}

	result, err := a.runner.Run(r.Context(), exec.Submission{
		LanguageID: req.LanguageID,
		SourceCode: req.SourceCode,
		Stdin:      req.Stdin,
	})
	if err != nil {
		logrus.WithError(err).Error("execute snippet")
		errorResponse(w, http.StatusBadGateway, "Execution service unavailable")
		return
	}

	jsonResponse(w, http.StatusOK, result)
}
