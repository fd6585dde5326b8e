package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/nevindra/chatrt/actormesh"
)

const maxRequestBodyBytes = 32 << 20 // 32MB

// executeRequest is the parsed body of POST /execute: one batched-
// continuation round, same shape actormesh.PythonActor builds internally
// for an in-process SandboxRunner.
type executeRequest struct {
	Code           []string                           `json:"code"`
	Context        *actormesh.ExecutionContext        `json:"context"`
	ToolResults    map[string]actormesh.InnerCallResult `json:"tool_results"`
	AvailableTools []actormesh.SandboxToolInfo         `json:"available_tools"`
}

// executeResponse mirrors actormesh.SandboxResult.
type executeResponse struct {
	Status        actormesh.ExecutionStatus `json:"status"`
	ErrorMessage  string                    `json:"error_message,omitempty"`
	Stdout        string                    `json:"stdout"`
	Stderr        string                    `json:"stderr"`
	Result        json.RawMessage           `json:"result,omitempty"`
	ToolCallsMade int                       `json:"tool_calls_made"`
	PendingCalls  []actormesh.PendingCall   `json:"pending_calls,omitempty"`
}

func handleExecute(sem chan struct{}, runner actormesh.SandboxRunner, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Code) == 0 {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	default:
		writeError(w, http.StatusServiceUnavailable, "server busy: execution capacity reached")
		return
	}

	result := runner.Run(r.Context(), actormesh.ExecutionRequest{
		Code:           req.Code,
		Context:        req.Context,
		ToolResults:    req.ToolResults,
		AvailableTools: req.AvailableTools,
	})

	writeJSON(w, http.StatusOK, executeResponse{
		Status:        result.Status,
		ErrorMessage:  result.ErrorMessage,
		Stdout:        result.Stdout,
		Stderr:        result.Stderr,
		Result:        result.Result,
		ToolCallsMade: result.ToolCallsMade,
		PendingCalls:  result.PendingCalls,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
