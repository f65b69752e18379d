package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"todo-client/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// backend is an in-memory stand-in for the real API server, close enough in
// envelope shapes and error bodies to exercise the client end to end.
type backend struct {
	mu            sync.Mutex
	secret        []byte
	users         map[string]*account
	nextUserID    int64
	tasks         map[int64]models.Task
	nextTaskID    int64
	conversations map[int64]int64 // conversation id -> owner user id
	nextConvID    int64
}

type account struct {
	id       int64
	username string
	email    string
	hash     []byte
}

func newBackend() *backend {
	return &backend{
		secret:        []byte("e2e-test-secret"),
		users:         make(map[string]*account),
		tasks:         make(map[int64]models.Task),
		conversations: make(map[int64]int64),
	}
}

func (b *backend) handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/auth/sign-up/email", b.signUp).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/sign-in/email", b.signIn).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", b.logout).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/get-session", b.session).Methods(http.MethodGet)
	r.HandleFunc("/api/todos/tasks", b.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/todos/tasks", b.createTask).Methods(http.MethodPost)
	r.HandleFunc("/api/todos/tasks/{id}", b.getTask).Methods(http.MethodGet)
	r.HandleFunc("/api/todos/tasks/{id}", b.updateTask).Methods(http.MethodPut)
	r.HandleFunc("/api/todos/tasks/{id}", b.deleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/api/todos/tasks/{id}/complete", b.toggleTask).Methods(http.MethodPatch)
	r.HandleFunc("/api/{userId}/chat", b.chat).Methods(http.MethodPost)
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeValidation(w http.ResponseWriter, msgs ...string) {
	items := make([]map[string]string, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, map[string]string{"msg": msg})
	}
	writeJSON(w, http.StatusUnprocessableEntity, items)
}

func (b *backend) mintToken(a *account) (string, error) {
	claims := jwt.MapClaims{
		"sub":     a.username,
		"user_id": a.id,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

// authenticate resolves the bearer token to an account. Callers hold no lock.
func (b *backend) authenticate(r *http.Request) (*account, bool) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, false
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return b.secret, nil
	})
	if err != nil {
		return nil, false
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.users[sub]
	return a, ok
}

func (b *backend) authEnvelope(a *account, message string) (map[string]any, error) {
	token, err := b.mintToken(a)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return map[string]any{
		"success": true,
		"data": map[string]any{
			"token": map[string]any{"access_token": token, "token_type": "bearer"},
			"user": models.User{
				ID:        a.id,
				Username:  a.username,
				Email:     a.email,
				IsActive:  true,
				CreatedAt: now,
				UpdatedAt: now,
			},
		},
		"message": message,
	}, nil
}

func (b *backend) signUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	var msgs []string
	if req.Username == "" {
		msgs = append(msgs, "Username is required")
	}
	if req.Email == "" {
		msgs = append(msgs, "Email is required")
	}
	if req.Password == "" {
		msgs = append(msgs, "Password is required")
	}
	if len(msgs) > 0 {
		writeValidation(w, msgs...)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "hashing failed")
		return
	}

	b.mu.Lock()
	if _, exists := b.users[req.Username]; exists {
		b.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Username already registered")
		return
	}
	b.nextUserID++
	a := &account{id: b.nextUserID, username: req.Username, email: req.Email, hash: hash}
	b.users[req.Username] = a
	b.mu.Unlock()

	body, err := b.authEnvelope(a, "User registered successfully")
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "token minting failed")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *backend) signIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	b.mu.Lock()
	a, ok := b.users[req.Username]
	b.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(a.hash, []byte(req.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	body, err := b.authEnvelope(a, "Login successful")
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "token minting failed")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *backend) logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logout successful"})
}

func (b *backend) session(w http.ResponseWriter, r *http.Request) {
	a, ok := b.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Invalid session token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"username": a.username, "user_id": a.id},
		"message": "Session info",
	})
}

func (b *backend) requireAuth(w http.ResponseWriter, r *http.Request) (*account, bool) {
	a, ok := b.authenticate(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return nil, false
	}
	return a, true
}

func taskEnvelope(task models.Task, message string) map[string]any {
	return map[string]any{
		"success": true,
		"data":    map[string]any{"task": task},
		"message": message,
	}
}

func (b *backend) listTasks(w http.ResponseWriter, r *http.Request) {
	a, ok := b.requireAuth(w, r)
	if !ok {
		return
	}

	b.mu.Lock()
	list := make([]models.Task, 0)
	for _, task := range b.tasks {
		if task.UserID == a.id {
			list = append(list, task)
		}
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"tasks": list, "total": len(list)})
}

func (b *backend) createTask(w http.ResponseWriter, r *http.Request) {
	a, ok := b.requireAuth(w, r)
	if !ok {
		return
	}

	var data models.CreateTask
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(data.Title) == "" {
		writeValidation(w, "Title is required")
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	b.mu.Lock()
	b.nextTaskID++
	task := models.Task{
		ID:          b.nextTaskID,
		Title:       data.Title,
		Description: data.Description,
		UserID:      a.id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if data.Completed != nil {
		task.Completed = *data.Completed
	}
	b.tasks[task.ID] = task
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, taskEnvelope(task, "Task created"))
}

// ownedTask looks the task up under the lock and checks ownership.
func (b *backend) ownedTask(w http.ResponseWriter, r *http.Request, a *account) (models.Task, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Task not found")
		return models.Task{}, false
	}

	b.mu.Lock()
	task, ok := b.tasks[id]
	b.mu.Unlock()
	if !ok || task.UserID != a.id {
		writeDetail(w, http.StatusNotFound, "Task not found")
		return models.Task{}, false
	}
	return task, true
}

func (b *backend) getTask(w http.ResponseWriter, r *http.Request) {
	a, ok := b.requireAuth(w, r)
	if !ok {
		return
	}
	task, ok := b.ownedTask(w, r, a)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, taskEnvelope(task, "Task found"))
}

func (b *backend) updateTask(w http.ResponseWriter, r *http.Request) {
	a, ok := b.requireAuth(w, r)
	if !ok {
		return
	}
	task, ok := b.ownedTask(w, r, a)
	if !ok {
		return
	}

	var data models.UpdateTask
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if data.Title != nil {
		if strings.TrimSpace(*data.Title) == "" {
			writeValidation(w, "Title is required")
			return
		}
		task.Title = *data.Title
	}
	if data.Description != nil {
		task.Description = *data.Description
	}
	if data.Completed != nil {
		task.Completed = *data.Completed
	}
	task.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	b.mu.Lock()
	b.tasks[task.ID] = task
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, taskEnvelope(task, "Task updated"))
}

func (b *backend) deleteTask(w http.ResponseWriter, r *http.Request) {
	a, ok := b.requireAuth(w, r)
	if !ok {
		return
	}
	task, ok := b.ownedTask(w, r, a)
	if !ok {
		return
	}

	b.mu.Lock()
	delete(b.tasks, task.ID)
	b.mu.Unlock()

	// Deletes answer with an empty body, like the real backend.
	w.WriteHeader(http.StatusNoContent)
}

func (b *backend) toggleTask(w http.ResponseWriter, r *http.Request) {
	a, ok := b.requireAuth(w, r)
	if !ok {
		return
	}
	task, ok := b.ownedTask(w, r, a)
	if !ok {
		return
	}

	var data struct {
		Completed bool `json:"completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	task.Completed = data.Completed
	task.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	b.mu.Lock()
	b.tasks[task.ID] = task
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, taskEnvelope(task, "Task updated"))
}

func (b *backend) chat(w http.ResponseWriter, r *http.Request) {
	a, ok := b.requireAuth(w, r)
	if !ok {
		return
	}

	pathUserID, err := strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)
	if err != nil || pathUserID != a.id {
		writeDetail(w, http.StatusForbidden, "You can only access your own conversations")
		return
	}

	var req struct {
		Message        string `json:"message"`
		ConversationID *int64 `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	b.mu.Lock()
	var convID int64
	if req.ConversationID != nil {
		owner, ok := b.conversations[*req.ConversationID]
		if !ok || owner != a.id {
			b.mu.Unlock()
			writeDetail(w, http.StatusNotFound, fmt.Sprintf("Conversation %d not found", *req.ConversationID))
			return
		}
		convID = *req.ConversationID
	} else {
		b.nextConvID++
		convID = b.nextConvID
		b.conversations[convID] = a.id
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "I heard: " + req.Message,
		"conversation_id": convID,
	})
}
