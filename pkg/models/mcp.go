// Package models — MCP wire protocol envelopes.
//
// The tool-invocation protocol is JSON-RPC-style over HTTP POST. Every
// request wraps an envelope with a protocol version, a correlation id,
// a method name, and a params object. Responses carry either a result
// or an error, never both.
package models

import (
	"encoding/json"
	"fmt"
)

// MCPVersion is the protocol version carried in every envelope.
const MCPVersion = "2.0"

// Protocol methods.
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "initialized"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
	MethodPromptsGet    = "prompts/get"
)

// Standard JSON-RPC error codes plus domain codes.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeResourceNotFound = -32002
	CodeToolNotFound     = -32003
	CodePromptNotFound   = -32004
)

// Context propagation headers attached to every outbound request.
const (
	HeaderUserID    = "X-User-Id"
	HeaderScopes    = "X-User-Scopes"
	HeaderRequestID = "X-Request-Id"
	HeaderUTCOffset = "X-UTC-Offset"
)

// MCPRequest is the request envelope.
type MCPRequest struct {
	Version string          `json:"version"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse is the response envelope. Exactly one of Result or Error
// is set.
type MCPResponse struct {
	Version string          `json:"version"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

// MCPError is a protocol-level error. A well-formed error envelope is
// terminal: the request was understood and rejected, so retrying it
// cannot succeed.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// Resource is one entry from resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// Prompt is one entry from prompts/list.
type Prompt struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Arguments   []ParameterSpec `json:"arguments,omitempty"`
}

// ServerInfo identifies a remote tool provider after the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities declares what a provider supports, negotiated
// during initialize.
type ServerCapabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
}

// ConnectionState is the transport client's view of one provider session.
type ConnectionState struct {
	Connected    bool               `json:"connected"`
	Initialized  bool               `json:"initialized"`
	ServerInfo   *ServerInfo        `json:"server_info,omitempty"`
	Capabilities ServerCapabilities `json:"capabilities"`
	Error        string             `json:"error,omitempty"`
}

// ChatMessage is one turn passed to the completion collaborator.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
