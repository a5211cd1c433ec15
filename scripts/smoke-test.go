// Manual end-to-end check. Spawns a worklog-mcp binary with the
// in-memory driver, drives a session lifecycle over MCP stdio, and
// prints what came back. Build the binary first:
//
//	go build -o worklog-mcp ./cmd/worklog-mcp
//	go run scripts/smoke-test.go ./worklog-mcp
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"time"
)

const overallTimeout = 30 * time.Second

func main() {
	binPath := "./worklog-mcp"
	if len(os.Args) > 1 {
		binPath = os.Args[1]
	}

	log.Println("🧪 Worklog MCP Smoke Test")
	log.Println("=========================")

	cmd := exec.Command(binPath, "serve")
	cmd.Env = append(os.Environ(),
		"WORKLOG_STORAGE_DRIVER=memory",
		"WORKLOG_WATCH_ENABLED=false",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Fatalf("Failed to open stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Fatalf("Failed to open stdout pipe: %v", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start %s: %v", binPath, err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	watchdog := time.AfterFunc(overallTimeout, func() {
		log.Println("⏰ Timed out, killing server")
		_ = cmd.Process.Kill()
	})
	defer watchdog.Stop()

	c := newClient(stdin, stdout)

	// Phase 1: MCP handshake
	log.Println("\n📋 Phase 1: Initialize")
	raw := c.call("initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "smoke-test", "version": "0.0.1"},
	})
	var initResult struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	mustUnmarshal(raw, &initResult)
	if initResult.ServerInfo.Name != "worklog-mcp" {
		log.Fatalf("Unexpected server name %q", initResult.ServerInfo.Name)
	}
	c.notify("notifications/initialized", nil)
	log.Printf("✅ Connected to %s v%s", initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	// Phase 2: tool inventory
	log.Println("\n📋 Phase 2: Tool inventory")
	raw = c.call("tools/list", map[string]any{})
	var toolsResult struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	mustUnmarshal(raw, &toolsResult)
	if len(toolsResult.Tools) == 0 {
		log.Fatal("Server exposes no tools")
	}
	log.Printf("✅ Server exposes %d tools", len(toolsResult.Tools))

	// Phase 3: session lifecycle
	log.Println("\n📋 Phase 3: Session lifecycle")

	out := c.callTool("switch_force", map[string]any{"project_path": "/tmp/smoke-project"})
	var eval struct {
		Decision        string `json:"decision"`
		TargetSessionID string `json:"target_session_id"`
	}
	mustUnmarshal([]byte(out), &eval)
	if eval.Decision != "create_new" {
		log.Fatalf("Expected create_new from a fresh path, got %q", eval.Decision)
	}
	sessionID := eval.TargetSessionID
	log.Printf("✅ Forced switch created session %s", sessionID)

	out = c.callTool("session_current", nil)
	var current struct {
		Active  bool `json:"active"`
		Session struct {
			ID          string `json:"id"`
			ProjectName string `json:"project_name"`
		} `json:"session"`
	}
	mustUnmarshal([]byte(out), &current)
	if !current.Active || current.Session.ID != sessionID {
		log.Fatalf("Expected %s to hold the lease, got %s", sessionID, out)
	}
	log.Printf("✅ Session %s (%s) holds the lease", current.Session.ID, current.Session.ProjectName)

	out = c.callTool("memory_store", map[string]any{
		"content":    "smoke test memory",
		"importance": 60,
	})
	var stored struct {
		Linked bool `json:"linked"`
		Memory struct {
			ID        string `json:"id"`
			SessionID string `json:"session_id"`
		} `json:"memory"`
	}
	mustUnmarshal([]byte(out), &stored)
	if !stored.Linked || stored.Memory.SessionID != sessionID {
		log.Fatalf("Expected the memory linked to %s, got %s", sessionID, out)
	}
	log.Printf("✅ Stored memory %s on the active session", stored.Memory.ID)

	// Phase 4: termination
	log.Println("\n📋 Phase 4: Termination")
	out = c.callTool("session_terminate", map[string]any{"session_id": sessionID})
	var report struct {
		FinalStatus string `json:"final_status"`
		Success     bool   `json:"success"`
		BackupID    string `json:"backup_id"`
	}
	mustUnmarshal([]byte(out), &report)
	if !report.Success || report.FinalStatus != "completed" {
		log.Fatalf("Expected a completed termination, got %s", out)
	}
	log.Printf("✅ Terminated %s (backup %s)", sessionID, report.BackupID)

	out = c.callTool("session_current", nil)
	mustUnmarshal([]byte(out), &current)
	if current.Active {
		log.Fatalf("Expected no active session after termination, got %s", out)
	}

	log.Println("\n🎉 All phases passed")
}

// client speaks newline-delimited JSON-RPC 2.0 over the server pipes.
type client struct {
	w       io.Writer
	scanner *bufio.Scanner
	nextID  int
}

func newClient(w io.Writer, r io.Reader) *client {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &client{w: w, scanner: scanner}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call sends a request and blocks until the response with the matching
// id arrives, skipping any notifications in between.
func (c *client) call(method string, params any) json.RawMessage {
	c.nextID++
	id := c.nextID
	c.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})

	for c.scanner.Scan() {
		var resp struct {
			ID     *int            `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
			log.Fatalf("Bad response line %q: %v", c.scanner.Text(), err)
		}
		if resp.ID == nil || *resp.ID != id {
			continue
		}
		if resp.Error != nil {
			log.Fatalf("%s failed: %d %s", method, resp.Error.Code, resp.Error.Message)
		}
		return resp.Result
	}
	log.Fatalf("Server closed the stream waiting for %s: %v", method, c.scanner.Err())
	return nil
}

func (c *client) notify(method string, params any) {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	c.send(msg)
}

func (c *client) send(msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Fatalf("Failed to marshal request: %v", err)
	}
	if _, err := fmt.Fprintf(c.w, "%s\n", data); err != nil {
		log.Fatalf("Failed to write request: %v", err)
	}
}

// callTool invokes an MCP tool and returns the text payload of its
// result, failing the run on a tool error.
func (c *client) callTool(name string, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	raw := c.call("tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	mustUnmarshal(raw, &result)
	if len(result.Content) == 0 {
		log.Fatalf("%s returned no content", name)
	}
	text := result.Content[0].Text
	if result.IsError {
		log.Fatalf("%s returned an error: %s", name, text)
	}
	return text
}

func mustUnmarshal(data []byte, v any) {
	if err := json.Unmarshal(data, v); err != nil {
		log.Fatalf("Failed to decode %q: %v", data, err)
	}
}
