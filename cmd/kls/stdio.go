// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"kotlinls/pkg/validation"
	"kotlinls/service/kls/cache"
	"kotlinls/service/kls/definition"
	"kotlinls/service/kls/executor"
	"kotlinls/service/kls/protocol"
)

// rpcMessage is the minimal JSON-RPC 2.0 envelope this shim understands.
// Method dispatch stays a thin shim over the component APIs this core
// actually implements: initialize/shutdown/exit plus textDocument/definition,
// everything else answered with "method not supported by this core".
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// stdioLoop reads Content-Length-framed JSON-RPC messages from r and writes
// framed responses to w, until EOF or an "exit" notification.
type stdioLoop struct {
	r   *bufio.Reader
	w   io.Writer
	wMu sync.Mutex
	log *slog.Logger

	orchestrator *definition.Orchestrator
	cacheMgr     *cache.Manager
	pool         *executor.Pool
	fileVersion  func(uri string) int

	shutdownRequested bool
}

func newStdioLoop(r io.Reader, w io.Writer, log *slog.Logger) *stdioLoop {
	if log == nil {
		log = slog.Default()
	}
	return &stdioLoop{r: bufio.NewReader(r), w: w, log: log}
}

// lspClient adapts a stdioLoop into a diagnostics.Client, publishing
// textDocument/publishDiagnostics notifications for whatever the lint cycle
// produces.
type lspClient struct{ loop *stdioLoop }

func (c lspClient) PublishDiagnostics(ctx context.Context, params protocol.PublishDiagnosticsParams) {
	c.loop.notify("textDocument/publishDiagnostics", params)
}

// Run blocks until the stream closes or an exit notification arrives.
func (s *stdioLoop) Run() error {
	for {
		msg, err := s.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read lsp message: %w", err)
		}

		switch msg.Method {
		case "initialize":
			s.respond(msg.ID, protocol.InitializeResult{
				ServerInfo: &protocol.ServerInfo{Name: "kls", Version: "0.1.0"},
				Capabilities: protocol.ServerCapabilities{
					TextDocumentSync:   1,
					DefinitionProvider: true,
				},
			})
		case "shutdown":
			s.shutdownRequested = true
			s.respond(msg.ID, nil)
		case "exit":
			return nil
		case "textDocument/definition":
			s.handleDefinition(msg)
		case "":
			// a response to a request this shim never sent; ignore.
		default:
			s.log.Debug("unhandled lsp method", "method", msg.Method)
			if len(msg.ID) > 0 {
				s.respondError(msg.ID, -32601, "method not supported by this core")
			}
		}
	}
}

// handleDefinition serves textDocument/definition off the cache when
// possible, falling back to the orchestrator and populating the cache on a
// miss. Wired only when orchestrator/cacheMgr are non-nil.
func (s *stdioLoop) handleDefinition(msg rpcMessage) {
	if s.orchestrator == nil {
		s.respondError(msg.ID, -32601, "goto-definition unavailable")
		return
	}

	var params protocol.TextDocumentPositionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.respondError(msg.ID, -32602, "invalid params: "+err.Error())
		return
	}
	if err := validation.ValidateURI(params.TextDocument.URI); err != nil {
		s.respondError(msg.ID, -32602, "invalid params: "+err.Error())
		return
	}

	version := 0
	if s.fileVersion != nil {
		version = s.fileVersion(params.TextDocument.URI)
	}
	key := cache.Key{
		URI:         params.TextDocument.URI,
		Line:        params.Position.Line,
		Character:   params.Position.Character,
		FileVersion: version,
	}

	if s.cacheMgr != nil {
		if cached, ok := s.cacheMgr.Get(cache.KindDefinition, key); ok {
			s.respond(msg.ID, cached)
			return
		}
	}

	run := func(ctx context.Context) (any, error) {
		return s.orchestrator.GoToDefinition(ctx, params.TextDocument.URI, params.Position)
	}

	var result executor.Result
	if s.pool != nil {
		resultCh, err := s.pool.Submit(context.Background(), executor.KindDefinition, run)
		if err != nil {
			s.respondError(msg.ID, -32603, "goto-definition failed: "+err.Error())
			return
		}
		result = <-resultCh
	} else {
		v, err := run(context.Background())
		result = executor.Result{Value: v, Err: err}
	}
	if result.Err != nil {
		s.respondError(msg.ID, -32603, "goto-definition failed: "+result.Err.Error())
		return
	}

	locs, _ := result.Value.([]protocol.Location)
	if s.cacheMgr != nil {
		s.cacheMgr.Put(cache.KindDefinition, key, locs)
	}
	s.respond(msg.ID, locs)
}

func (s *stdioLoop) readMessage() (rpcMessage, error) {
	var contentLength int
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return rpcMessage{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return rpcMessage{}, fmt.Errorf("bad Content-Length header %q: %w", value, err)
			}
			contentLength = n
		}
	}
	if contentLength <= 0 {
		return rpcMessage{}, fmt.Errorf("missing or zero Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return rpcMessage{}, err
	}

	var msg rpcMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return rpcMessage{}, fmt.Errorf("decode lsp message: %w", err)
	}
	return msg, nil
}

func (s *stdioLoop) respond(id json.RawMessage, result interface{}) {
	s.write(rpcMessage{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *stdioLoop) respondError(id json.RawMessage, code int, message string) {
	s.write(rpcMessage{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

// notify sends a server-to-client notification: no id, just method+params.
func (s *stdioLoop) notify(method string, params interface{}) {
	raw, err := json.Marshal(params)
	if err != nil {
		s.log.Warn("encode lsp notification params", "method", method, "error", err)
		return
	}
	s.write(rpcMessage{JSONRPC: "2.0", Method: method, Params: raw})
}

func (s *stdioLoop) write(msg rpcMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn("encode lsp response", "error", err)
		return
	}

	s.wMu.Lock()
	defer s.wMu.Unlock()
	fmt.Fprintf(s.w, "Content-Length: %d\r\n\r\n", len(body))
	s.w.Write(body)
}
