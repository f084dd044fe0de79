package types

import "encoding/json"

// ChatMessage is a single OpenAI-style chat message.
type ChatMessage struct {
	// Role of the author: system, user or assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// Message text.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// ChatRequest is the body of POST /chat. It mirrors the OpenAI chat
// completion request; fields the proxy does not know are forwarded untouched.
type ChatRequest struct {
	// Model id served by the inference service.
	// example: Qwen/Qwen2.5-7B-Instruct
	Model string `json:"model" example:"Qwen/Qwen2.5-7B-Instruct"`
	// Conversation so far.
	Messages []ChatMessage `json:"messages"`
	// Sampling temperature in [0, 2].
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability in [0, 1].
	// example: 0.9
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
	// Maximum number of tokens to generate.
	// example: 256
	MaxTokens *int `json:"max_tokens,omitempty" example:"256"`
	// Stop sequence or list of sequences.
	Stop json.RawMessage `json:"stop,omitempty" swaggertype:"array,string"`
	// If true the response is an SSE stream, otherwise one JSON object.
	// example: true
	Stream bool `json:"stream" example:"true"`
	// Number of choices to generate.
	// example: 1
	N *int `json:"n,omitempty" example:"1"`
	// Presence penalty in [-2, 2].
	PresencePenalty *float64 `json:"presence_penalty,omitempty"`
	// Frequency penalty in [-2, 2].
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ModelStatusResponse is returned by GET /model-status.
type ModelStatusResponse struct {
	ModelsAvailable  bool          `json:"models_available"`
	ModelsDirExists  bool          `json:"models_dir_exists"`
	DownloadedModels []string      `json:"downloaded_models"`
	Models           []ModelRecord `json:"models"`
	// Model reported by the inference service, if any.
	// example: Qwen/Qwen2.5-7B-Instruct
	CurrentModel *string `json:"current_model"`
	// Model persisted as the selection in the configuration store.
	SelectedModel *string `json:"selected_model"`
	VLLMHealthy   bool    `json:"vllm_healthy"`
	// Free bytes on the filesystem holding the model cache (0 when unknown).
	DiskFreeBytes uint64 `json:"disk_free_bytes"`
	Message       string `json:"message"`
}

// DownloadResponse is returned by POST /download-model.
type DownloadResponse struct {
	// downloading or manual
	// example: downloading
	Status       string   `json:"status" example:"downloading"`
	Message      string   `json:"message"`
	ModelID      string   `json:"model_id"`
	OperationID  string   `json:"operation_id,omitempty"`
	Info         string   `json:"info,omitempty"`
	Command      string   `json:"command,omitempty"`
	Instructions []string `json:"instructions,omitempty"`
}

// DownloadProgress is returned by GET /download-progress.
type DownloadProgress struct {
	// idle, downloading, complete or error
	// example: downloading
	Status string `json:"status" example:"downloading"`
	// Coarse progress percentage.
	// example: 50
	Progress    int     `json:"progress" example:"50"`
	Model       *string `json:"model"`
	OperationID string  `json:"operation_id,omitempty"`
	Error       *string `json:"error"`
	StartedAt   *int64  `json:"started_at"`
	CompletedAt *int64  `json:"completed_at"`
}

// SwitchResponse is returned by POST /switch-model once the switch is accepted.
type SwitchResponse struct {
	// example: switching
	Status      string `json:"status" example:"switching"`
	Message     string `json:"message"`
	ModelID     string `json:"model_id"`
	OperationID string `json:"operation_id"`
	Info        string `json:"info"`
	// example: 60
	EstimatedSeconds int `json:"estimated_time_seconds" example:"60"`
}

// SwitchStatus is returned by GET /switch-status.
type SwitchStatus struct {
	OperationID string `json:"operation_id,omitempty"`
	ModelID     string `json:"model_id,omitempty"`
	// idle, validating, persisting_config, recreating_service, awaiting_ready, ready or failed
	// example: awaiting_ready
	Phase            string `json:"phase" example:"awaiting_ready"`
	EstimatedSeconds int    `json:"estimated_seconds"`
	Message          string `json:"message"`
	StartedAt        *int64 `json:"started_at"`
	UpdatedAt        *int64 `json:"updated_at"`
}

// LoadingStatus is returned by GET /model-loading-status.
type LoadingStatus struct {
	// starting, loading or ready
	// example: ready
	Status       string  `json:"status" example:"ready"`
	ModelLoaded  bool    `json:"model_loaded"`
	CurrentModel *string `json:"current_model"`
	Message      string  `json:"message"`
	Error        string  `json:"error,omitempty"`
}

// DeleteResponse is returned by DELETE /delete-model.
type DeleteResponse struct {
	// example: deleted
	Status  string `json:"status" example:"deleted"`
	Message string `json:"message"`
	ModelID string `json:"model_id"`
}

// RestartResponse is returned by POST /restart-api.
type RestartResponse struct {
	// example: restarting
	Status  string `json:"status" example:"restarting"`
	Message string `json:"message"`
	Info    string `json:"info"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	// healthy, degraded or unhealthy
	// example: healthy
	Status          string        `json:"status" example:"healthy"`
	GPUAvailable    bool          `json:"gpu_available"`
	ModelLoaded     bool          `json:"model_loaded"`
	UpstreamHealthy bool          `json:"upstream_healthy"`
	QueueSize       *int          `json:"queue_size"`
	Details         HealthDetails `json:"details"`
}

// HealthDetails carries diagnostics for HealthResponse.
type HealthDetails struct {
	Models []string `json:"models,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// UpstreamModelList is the subset of the inference service's GET /models
// payload the proxy reads.
type UpstreamModelList struct {
	Object string          `json:"object,omitempty"`
	Data   []UpstreamModel `json:"data"`
}

// UpstreamModel is one entry of UpstreamModelList.
type UpstreamModel struct {
	ID     string `json:"id"`
	Object string `json:"object,omitempty"`
}
