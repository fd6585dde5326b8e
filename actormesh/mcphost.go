package actormesh

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nevindra/chatrt/toolregistry"
)

// --- JSON-RPC 2.0 client types, mirroring mcp/protocol.go's server-side
// shapes but from the calling side: we send requests and read responses
// instead of the reverse. ---

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcClientError `json:"error,omitempty"`
}

type rpcClientError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MCPToolInfo is one tool as advertised by a connected server's tools/list.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPContent is one content block of a tools/call result.
type MCPContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// MCPToolResult is the outcome of a tools/call invocation.
type MCPToolResult struct {
	Content []MCPContent
	IsError bool
}

// ServerConfig describes how to launch and manage one MCP server connection.
type ServerConfig struct {
	ServerID string
	Command  string
	Args     []string
	Env      []string
}

const mcpRequestTimeout = 30 * time.Second

// mcpConnection owns one subprocess MCP server's stdio, request id counter,
// and cached tool list, exclusively — never touched from outside its own
// goroutine.
type mcpConnection struct {
	config ServerConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string // one line per scanner read, fed by a reader goroutine
	tools  []MCPToolInfo
	nextID atomic.Int64

	mu sync.Mutex // serializes writes to stdin
}

func (c *mcpConnection) nextRequestID() int64 {
	return c.nextID.Add(1)
}

// sendRequest writes a newline-terminated JSON-RPC request and waits for the
// matching response (skipping any stray non-response lines), bounded by
// mcpRequestTimeout.
func (c *mcpConnection) sendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.nextRequestID()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("mcphost: marshal params: %w", err)
	}
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcphost: marshal request: %w", err)
	}

	c.mu.Lock()
	_, werr := c.stdin.Write(append(line, '\n'))
	c.mu.Unlock()
	if werr != nil {
		return nil, fmt.Errorf("mcphost: write request: %w", werr)
	}

	timeout := time.NewTimer(mcpRequestTimeout)
	defer timeout.Stop()

	for {
		select {
		case raw, ok := <-c.lines:
			if !ok {
				return nil, fmt.Errorf("mcphost: server closed connection (EOF)")
			}
			var resp rpcResponse
			if json.Unmarshal([]byte(raw), &resp) != nil {
				continue // not a response line, keep reading
			}
			if resp.ID != id {
				continue
			}
			if resp.Error != nil {
				return nil, fmt.Errorf("mcphost: %s", resp.Error.Message)
			}
			return resp.Result, nil
		case <-timeout.C:
			return nil, fmt.Errorf("mcphost: request %q timed out after %s", method, mcpRequestTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *mcpConnection) sendNotification(method string, params interface{}) error {
	paramsJSON, _ := json.Marshal(params)
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: paramsJSON}
	line, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.stdin.Write(append(line, '\n'))
	return err
}

// --- MCP Host actor ---

type mcpMsg struct {
	kind string

	connect    ServerConfig
	serverID   string
	toolServer string
	toolName   string
	args       json.RawMessage
	enabled    []ServerConfig

	replyErr    reply[error]
	replyTools  reply[[]MCPToolInfo]
	replyResult reply[MCPToolResult]
	replyAll    reply[map[string][]MCPToolInfo]
}

// MCPHost is the actor owning every external MCP server subprocess
// connection. All state (the connections map) is touched only from the
// single goroutine running run().
type MCPHost struct {
	mailbox chan mcpMsg
	logger  *slog.Logger

	stopOnce sync.Once
	done     chan struct{}

	mu         sync.Mutex // guards lastStatus only, for Status()/external reads
	lastStatus Status
}

// NewMCPHost starts the actor's processing goroutine and returns a handle.
func NewMCPHost(logger *slog.Logger) *MCPHost {
	if logger == nil {
		logger = slog.Default()
	}
	h := &MCPHost{
		mailbox: make(chan mcpMsg, DefaultMailboxSize),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *MCPHost) run() {
	connections := map[string]*mcpConnection{}
	defer func() {
		for _, c := range connections {
			if c.cmd != nil && c.cmd.Process != nil {
				_ = c.cmd.Process.Kill()
			}
		}
	}()

	for msg := range h.mailbox {
		h.handle(connections, msg)
	}
	close(h.done)
}

func (h *MCPHost) handle(connections map[string]*mcpConnection, msg mcpMsg) {
	var err error
	defer recoverToError("mcphost", &err)

	switch msg.kind {
	case "connect":
		conn, cErr := connectStdioServer(context.Background(), msg.connect)
		if cErr != nil {
			h.setStatus(false, true, cErr)
			sendReply(context.Background(), msg.replyErr, cErr)
			return
		}
		connections[msg.connect.ServerID] = conn
		h.setStatus(true, false, nil)
		sendReply(context.Background(), msg.replyErr, nil)

	case "disconnect":
		if conn, ok := connections[msg.serverID]; ok {
			if conn.cmd != nil && conn.cmd.Process != nil {
				_ = conn.cmd.Process.Kill()
			}
			delete(connections, msg.serverID)
		}
		sendReply(context.Background(), msg.replyErr, nil)

	case "list_tools":
		if conn, ok := connections[msg.serverID]; ok {
			sendReply(context.Background(), msg.replyTools, conn.tools)
		} else {
			sendReply(context.Background(), msg.replyTools, nil)
		}

	case "execute_tool":
		conn, ok := connections[msg.toolServer]
		if !ok {
			sendReply(context.Background(), msg.replyResult, MCPToolResult{
				Content: []MCPContent{{Type: "text", Text: fmt.Sprintf("server %q not connected", msg.toolServer)}},
				IsError: true,
			})
			return
		}
		result, cErr := executeTool(conn, msg.toolName, msg.args)
		if cErr != nil {
			result = MCPToolResult{Content: []MCPContent{{Type: "text", Text: cErr.Error()}}, IsError: true}
		}
		sendReply(context.Background(), msg.replyResult, result)

	case "get_all_descriptions":
		out := map[string][]MCPToolInfo{}
		for id, conn := range connections {
			out[id] = conn.tools
		}
		sendReply(context.Background(), msg.replyAll, out)

	case "sync_enabled":
		h.syncEnabledServers(connections, msg.enabled)
		sendReply(context.Background(), msg.replyErr, nil)
	}
}

func (h *MCPHost) syncEnabledServers(connections map[string]*mcpConnection, enabled []ServerConfig) {
	want := map[string]ServerConfig{}
	for _, cfg := range enabled {
		want[cfg.ServerID] = cfg
	}
	for id, conn := range connections {
		if _, ok := want[id]; !ok {
			if conn.cmd != nil && conn.cmd.Process != nil {
				_ = conn.cmd.Process.Kill()
			}
			delete(connections, id)
		}
	}
	for id, cfg := range want {
		if _, ok := connections[id]; ok {
			continue
		}
		conn, err := connectStdioServer(context.Background(), cfg)
		if err != nil {
			h.logger.Warn("mcphost: failed to connect newly-enabled server", "server", id, "err", err)
			continue
		}
		connections[id] = conn
	}
}

func (h *MCPHost) setStatus(healthy, degraded bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastStatus = Status{Name: "mcphost", Healthy: healthy, Degraded: degraded, LastError: err}
}

func (h *MCPHost) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastStatus
}

func (h *MCPHost) Stop() {
	h.stopOnce.Do(func() {
		close(h.mailbox)
	})
	<-h.done
}

// Connect launches a new MCP server subprocess and performs the
// initialize/initialized handshake plus an initial tools/list fetch.
func (h *MCPHost) Connect(ctx context.Context, cfg ServerConfig) error {
	r := make(reply[error], 1)
	select {
	case h.mailbox <- mcpMsg{kind: "connect", connect: cfg, replyErr: r}:
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

// ExecuteTool calls tools/call on the given server and returns its result.
func (h *MCPHost) ExecuteTool(ctx context.Context, key toolregistry.Key, args json.RawMessage) (MCPToolResult, error) {
	r := make(reply[MCPToolResult], 1)
	select {
	case h.mailbox <- mcpMsg{kind: "execute_tool", toolServer: key.ServerID, toolName: key.ToolName, args: args, replyResult: r}:
	case <-ctx.Done():
		return MCPToolResult{}, ctx.Err()
	}
	select {
	case result := <-r:
		return result, nil
	case <-ctx.Done():
		return MCPToolResult{}, ctx.Err()
	}
}

// ListTools returns the cached tool list for one connected server.
func (h *MCPHost) ListTools(ctx context.Context, serverID string) ([]MCPToolInfo, error) {
	r := make(reply[[]MCPToolInfo], 1)
	select {
	case h.mailbox <- mcpMsg{kind: "list_tools", serverID: serverID, replyTools: r}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case tools := <-r:
		return tools, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetAllToolDescriptions returns every connected server's cached tool list,
// keyed by server id — used by the dispatcher to resolve a "server=unknown"
// tool call (the parser cascade left it undistinguished) against whichever
// connected server actually has a tool by that name.
func (h *MCPHost) GetAllToolDescriptions(ctx context.Context) (map[string][]MCPToolInfo, error) {
	r := make(reply[map[string][]MCPToolInfo], 1)
	select {
	case h.mailbox <- mcpMsg{kind: "get_all_descriptions", replyAll: r}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-r:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SyncEnabledServers connects any newly enabled server and disconnects any
// server no longer in the enabled set.
func (h *MCPHost) SyncEnabledServers(ctx context.Context, enabled []ServerConfig) error {
	r := make(reply[error], 1)
	select {
	case h.mailbox <- mcpMsg{kind: "sync_enabled", enabled: enabled, replyErr: r}:
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

func executeTool(conn *mcpConnection, toolName string, args json.RawMessage) (MCPToolResult, error) {
	params := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{Name: toolName, Arguments: args}

	raw, err := conn.sendRequest(context.Background(), "tools/call", params)
	if err != nil {
		return MCPToolResult{}, err
	}
	var result struct {
		Content []MCPContent `json:"content"`
		IsError bool         `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return MCPToolResult{}, fmt.Errorf("mcphost: decode tools/call result: %w", err)
	}
	return MCPToolResult{Content: result.Content, IsError: result.IsError}, nil
}

// connectStdioServer spawns the server subprocess with piped stdio, starts
// a background line reader, performs the initialize/initialized handshake,
// and fetches the initial tool list.
func connectStdioServer(ctx context.Context, cfg ServerConfig) (*mcpConnection, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcphost: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcphost: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("mcphost: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcphost: start %q: %w", cfg.Command, err)
	}

	conn := &mcpConnection{config: cfg, cmd: cmd, stdin: stdin, lines: make(chan string, 64)}

	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 1<<20), 10<<20)
		for scanner.Scan() {
			conn.lines <- scanner.Text()
		}
		close(conn.lines)
	}()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			// stderr is diagnostic noise from the server process (e.g. "cargo
			// run" build output); drained so the pipe never backs up and
			// blocks the subprocess, not surfaced as an actor error.
			_ = scanner.Text()
		}
	}()

	if _, err := conn.sendRequest(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]string{"name": "chatrt", "version": "0.1.0"},
	}); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("mcphost: initialize %q: %w", cfg.ServerID, err)
	}

	if err := conn.sendNotification("notifications/initialized", map[string]interface{}{}); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("mcphost: initialized notification %q: %w", cfg.ServerID, err)
	}

	raw, err := conn.sendRequest(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("mcphost: tools/list %q: %w", cfg.ServerID, err)
	}
	var toolsResult struct {
		Tools []MCPToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &toolsResult); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("mcphost: decode tools/list %q: %w", cfg.ServerID, err)
	}
	conn.tools = toolsResult.Tools

	return conn, nil
}
