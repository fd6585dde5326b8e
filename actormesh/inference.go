package actormesh

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	oasis "github.com/nevindra/chatrt"
)

// DefaultFallbackModel is used when LoadModel is called with an empty model
// ID, matching the small instruct model a local runtime auto-provisions on
// first launch.
const DefaultFallbackModel = "phi-4-mini-instruct"

// ModelInfo is one entry from the local inference service's /v1/models
// listing.
type ModelInfo struct {
	ID   string
	Tags []string
}

// LocalServiceConfig describes an optional local model-serving binary this
// actor manages the lifecycle of (start on LoadModel, stop on UnloadModel),
// in addition to talking to whatever OpenAI-compatible endpoint it exposes.
// Leave Binary empty to skip local lifecycle management entirely and just
// use Provider/EmbedProvider against an already-running endpoint.
type LocalServiceConfig struct {
	Binary string   // e.g. "foundry"; resolved via PATH, then fixed bin dirs, then $HOME/.<name>/bin
	Args   []string // appended with the model ID for "load"
}

type inferenceMsg struct {
	kind string

	chatReq oasis.ChatRequest
	tools   []oasis.ToolDefinition
	texts   []string
	modelID string

	replyChat   reply[chatResult]
	replyModels reply[modelsResult]
	replyEmbed  reply[embedResult]
	replyErr    reply[error]
}

type chatResult struct {
	resp oasis.ChatResponse
	err  error
}

type modelsResult struct {
	models []ModelInfo
	err    error
}

type embedResult struct {
	vectors [][]float32
	err     error
}

// InferenceActor wraps an oasis.Provider (and optionally an
// oasis.EmbeddingProvider) behind a mailbox, and manages the lifecycle of an
// optional local model-serving subprocess, grounded in the Foundry-local
// service manager's find-binary/load/unload shape, generalized to any
// locally-run OpenAI-compatible server rather than one specific CLI.
type InferenceActor struct {
	mailbox chan inferenceMsg

	provider      oasis.Provider
	embedProvider oasis.EmbeddingProvider
	modelsURL     string // base URL + "/models", empty disables GetModels
	httpClient    *http.Client

	local    LocalServiceConfig
	loadedMu sync.Mutex
	loaded   map[string]*exec.Cmd

	logger *slog.Logger

	stopOnce sync.Once
	done     chan struct{}

	statusMu sync.Mutex
	status   Status
}

// NewInferenceActor starts the actor. modelsURL may be empty if the backend
// exposes no /v1/models endpoint.
func NewInferenceActor(provider oasis.Provider, embedProvider oasis.EmbeddingProvider, modelsURL string, local LocalServiceConfig, logger *slog.Logger) *InferenceActor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &InferenceActor{
		mailbox:       make(chan inferenceMsg, DefaultMailboxSize),
		provider:      provider,
		embedProvider: embedProvider,
		modelsURL:     modelsURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		local:         local,
		loaded:        map[string]*exec.Cmd{},
		logger:        logger,
		done:          make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *InferenceActor) run() {
	for msg := range a.mailbox {
		a.handle(msg)
	}
	close(a.done)
}

func (a *InferenceActor) handle(msg inferenceMsg) {
	var err error
	defer recoverToError("inference", &err)

	switch msg.kind {
	case "chat":
		resp, cErr := a.provider.Chat(context.Background(), msg.chatReq)
		a.reportOutcome(cErr)
		sendReply(context.Background(), msg.replyChat, chatResult{resp: resp, err: cErr})

	case "chat_with_tools":
		resp, cErr := a.provider.ChatWithTools(context.Background(), msg.chatReq, msg.tools)
		a.reportOutcome(cErr)
		sendReply(context.Background(), msg.replyChat, chatResult{resp: resp, err: cErr})

	case "models":
		models, cErr := a.getModels(context.Background())
		a.reportOutcome(cErr)
		sendReply(context.Background(), msg.replyModels, modelsResult{models: models, err: cErr})

	case "embed":
		if a.embedProvider == nil {
			sendReply(context.Background(), msg.replyEmbed, embedResult{err: fmt.Errorf("inference: no embedding provider configured")})
			return
		}
		vecs, cErr := a.embedProvider.Embed(context.Background(), msg.texts)
		a.reportOutcome(cErr)
		sendReply(context.Background(), msg.replyEmbed, embedResult{vectors: vecs, err: cErr})

	case "load":
		cErr := a.loadModel(msg.modelID)
		sendReply(context.Background(), msg.replyErr, cErr)

	case "unload":
		cErr := a.unloadModel(msg.modelID)
		sendReply(context.Background(), msg.replyErr, cErr)
	}
}

func (a *InferenceActor) reportOutcome(err error) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status = Status{Name: "inference", Healthy: err == nil, Degraded: err != nil, LastError: err}
}

// Chat sends a non-streaming request through the mailbox.
func (a *InferenceActor) Chat(ctx context.Context, req oasis.ChatRequest) (oasis.ChatResponse, error) {
	r := make(reply[chatResult], 1)
	select {
	case a.mailbox <- inferenceMsg{kind: "chat", chatReq: req, replyChat: r}:
	case <-ctx.Done():
		return oasis.ChatResponse{}, ctx.Err()
	}
	select {
	case res := <-r:
		return res.resp, res.err
	case <-ctx.Done():
		return oasis.ChatResponse{}, ctx.Err()
	}
}

// ChatWithTools sends a non-streaming request with a native tool manifest
// through the mailbox, for providers whose model natively emits structured
// tool calls rather than requiring a text-format parser cascade over plain
// Content. Mirrors Chat's request/reply shape exactly; the two are kept as
// separate mailbox message kinds rather than one with an optional tools
// slice so a provider that panics on a nil-vs-empty distinction can't leak
// that ambiguity into the actor boundary.
func (a *InferenceActor) ChatWithTools(ctx context.Context, req oasis.ChatRequest, tools []oasis.ToolDefinition) (oasis.ChatResponse, error) {
	r := make(reply[chatResult], 1)
	select {
	case a.mailbox <- inferenceMsg{kind: "chat_with_tools", chatReq: req, tools: tools, replyChat: r}:
	case <-ctx.Done():
		return oasis.ChatResponse{}, ctx.Err()
	}
	select {
	case res := <-r:
		return res.resp, res.err
	case <-ctx.Done():
		return oasis.ChatResponse{}, ctx.Err()
	}
}

// Stream dispatches a streaming chat request in a short-lived goroutine
// (mirroring the vector actors' "never block the mailbox on a slow read"
// rule) rather than routing token-by-token output through the mailbox
// itself, since the mailbox only brokers discrete request/reply pairs.
func (a *InferenceActor) Stream(ctx context.Context, req oasis.ChatRequest, ch chan<- oasis.StreamEvent) (oasis.ChatResponse, error) {
	type streaming interface {
		ChatStream(ctx context.Context, req oasis.ChatRequest, ch chan<- oasis.StreamEvent) (oasis.ChatResponse, error)
	}
	s, ok := a.provider.(streaming)
	if !ok {
		close(ch)
		return oasis.ChatResponse{}, fmt.Errorf("inference: provider %q does not support streaming", a.provider.Name())
	}
	return s.ChatStream(ctx, req, ch)
}

// Embed requests embedding vectors for the given texts.
func (a *InferenceActor) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r := make(reply[embedResult], 1)
	select {
	case a.mailbox <- inferenceMsg{kind: "embed", texts: texts, replyEmbed: r}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-r:
		return res.vectors, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetModels lists models from the backend's discovery endpoint.
func (a *InferenceActor) GetModels(ctx context.Context) ([]ModelInfo, error) {
	r := make(reply[modelsResult], 1)
	select {
	case a.mailbox <- inferenceMsg{kind: "models", replyModels: r}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-r:
		return res.models, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoadModel starts (or confirms running) the local serving subprocess for
// modelID, falling back to DefaultFallbackModel when empty.
func (a *InferenceActor) LoadModel(ctx context.Context, modelID string) error {
	if modelID == "" {
		modelID = DefaultFallbackModel
	}
	r := make(reply[error], 1)
	select {
	case a.mailbox <- inferenceMsg{kind: "load", modelID: modelID, replyErr: r}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnloadModel stops a previously loaded local model subprocess.
func (a *InferenceActor) UnloadModel(ctx context.Context, modelID string) error {
	r := make(reply[error], 1)
	select {
	case a.mailbox <- inferenceMsg{kind: "unload", modelID: modelID, replyErr: r}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *InferenceActor) getModels(ctx context.Context) ([]ModelInfo, error) {
	if a.modelsURL == "" {
		return nil, fmt.Errorf("inference: no models endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.modelsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference: models endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		Data []struct {
			ID   string   `json:"id"`
			Tags []string `json:"tags"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("inference: decode models response: %w", err)
	}
	out := make([]ModelInfo, len(body.Data))
	for i, m := range body.Data {
		out[i] = ModelInfo{ID: m.ID, Tags: m.Tags}
	}
	return out, nil
}

func (a *InferenceActor) loadModel(modelID string) error {
	if a.local.Binary == "" {
		return nil // no local lifecycle management configured; assume remote endpoint
	}
	a.loadedMu.Lock()
	defer a.loadedMu.Unlock()
	if _, ok := a.loaded[modelID]; ok {
		return nil
	}

	binary := resolveServiceBinary(a.local.Binary)
	args := append(append([]string{}, a.local.Args...), modelID)
	cmd := exec.Command(binary, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("inference: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("inference: start %q: %w", binary, err)
	}

	go drainReadySignal(stderr, a.logger)

	a.loaded[modelID] = cmd
	return nil
}

func (a *InferenceActor) unloadModel(modelID string) error {
	a.loadedMu.Lock()
	defer a.loadedMu.Unlock()
	cmd, ok := a.loaded[modelID]
	if !ok {
		return nil
	}
	delete(a.loaded, modelID)
	if cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}

// drainReadySignal scans a local serving subprocess's stderr so the pipe
// never backs up; any "listening"/"ready" style line is logged at debug
// level.
func drainReadySignal(stderr io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), "listening") || strings.Contains(strings.ToLower(line), "ready") {
			logger.Debug("inference: local service ready signal", "line", line)
		}
	}
}

func (a *InferenceActor) Status() Status {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	return a.status
}

func (a *InferenceActor) Stop() {
	a.stopOnce.Do(func() {
		close(a.mailbox)
	})
	<-a.done
	a.loadedMu.Lock()
	defer a.loadedMu.Unlock()
	for id, cmd := range a.loaded {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		delete(a.loaded, id)
	}
}

// resolveServiceBinary checks PATH first, then common per-OS install
// locations, then $HOME-relative locations, mirroring
// find_foundry_binary's search order but parameterized by binary name.
func resolveServiceBinary(name string) string {
	if path, err := exec.LookPath(name); err == nil {
		return path
	}

	for _, dir := range []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin"} {
		if candidate := filepath.Join(dir, name); fileExists(candidate) {
			return candidate
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		homePath := filepath.Join(home, "."+name, "bin", name)
		if fileExists(homePath) {
			return homePath
		}
	}

	return name
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
