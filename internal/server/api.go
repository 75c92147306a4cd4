package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iambrandonn/planact/internal/recorder"
	"github.com/iambrandonn/planact/internal/session"
)

// TaskRequest is the body of POST /task
type TaskRequest struct {
	Task            string  `json:"task"`
	APIKey          string  `json:"apiKey,omitempty"`
	APIProvider     string  `json:"apiProvider,omitempty"`
	WaitSeconds     float64 `json:"waitSeconds,omitempty"`
	ResultsFilename string  `json:"resultsFilename,omitempty"`
}

// TaskResponse is the success body of POST /task
type TaskResponse struct {
	Success     bool   `json:"success"`
	Completed   bool   `json:"completed"`
	Timeout     bool   `json:"timeout,omitempty"`
	TaskID      string `json:"taskId,omitempty"`
	ResultsPath string `json:"resultsPath"`
}

// ShutdownResponse is the body of POST /shutdown
type ShutdownResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ServeHTTP routes the two operations. Every response carries open CORS headers.
func (r *Runtime) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type")

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch {
	case req.Method == http.MethodPost && req.URL.Path == "/task":
		r.handleTask(w, req)
	case req.Method == http.MethodPost && req.URL.Path == "/shutdown":
		r.handleShutdown(w, req)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (r *Runtime) handleTask(w http.ResponseWriter, req *http.Request) {
	var body TaskRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(body.Task) == "" {
		writeError(w, http.StatusBadRequest, "Missing task parameter")
		return
	}

	r.logger.Info("task requested", "task", body.Task, "results_filename", body.ResultsFilename)

	outcome, err := r.runner.Start(req.Context(), session.Request{
		Task:            body.Task,
		APIKey:          body.APIKey,
		APIProvider:     body.APIProvider,
		BlindInterval:   time.Duration(body.WaitSeconds * float64(time.Second)),
		ResultsFilename: body.ResultsFilename,
	})
	if err != nil {
		status := statusFor(err)
		r.logger.Error("task failed to start", "error", err, "status", status)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, TaskResponse{
		Success:     true,
		Completed:   outcome.Completed,
		Timeout:     outcome.TimedOut,
		TaskID:      outcome.TaskID,
		ResultsPath: outcome.ResultsPath,
	})
}

func (r *Runtime) handleShutdown(w http.ResponseWriter, req *http.Request) {
	if !r.requestShutdown() {
		writeJSON(w, http.StatusOK, ShutdownResponse{Success: true, Message: "Server already shut down"})
		return
	}
	r.logger.Info("shutdown accepted", "grace", r.opts.ShutdownGrace)
	writeJSON(w, http.StatusOK, ShutdownResponse{Success: true, Message: "Server shutting down"})
}

// statusFor maps run start failures onto response codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, recorder.ErrInvalidFilename):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(req *http.Request, out any) error {
	if req.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer req.Body.Close()

	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
