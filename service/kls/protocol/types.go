// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol defines the LSP wire types consumed by the kls core. The
// transport that frames these as JSON-RPC is out of scope; this package only
// carries the shapes the core reads and writes.
package protocol

// =============================================================================
// POSITION & RANGE TYPES
// =============================================================================

// Position is a 0-indexed line/character position in a text document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Less reports whether p sorts before o in document order.
func (p Position) Less(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Range is an inclusive-start, exclusive-end span in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a range within a specific document.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// LocationLink links a source selection to a target location, used when the
// target lives in a different, possibly decompiled, document.
type LocationLink struct {
	OriginSelectionRange *Range `json:"originSelectionRange,omitempty"`
	TargetURI            string `json:"targetUri"`
	TargetRange          Range  `json:"targetRange"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

// =============================================================================
// DOCUMENT IDENTIFIERS
// =============================================================================

// TextDocumentIdentifier identifies a document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentItem is a document together with its full content.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// VersionedTextDocumentIdentifier identifies a document at a specific edit version.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version *int `json:"version"`
}

// =============================================================================
// REQUEST PARAMETER TYPES
// =============================================================================

// TextDocumentPositionParams is shared by all positional queries.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// ReferenceParams extends TextDocumentPositionParams for find-references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// ReferenceContext controls whether the declaration itself is included.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// RenameParams carries the new name requested for a rename operation.
type RenameParams struct {
	TextDocumentPositionParams
	NewName string `json:"newName"`
}

// PrepareRenameParams requests the renameable range under the cursor.
type PrepareRenameParams struct {
	TextDocumentPositionParams
}

// WorkspaceSymbolParams carries a workspace/symbol query string.
type WorkspaceSymbolParams struct {
	Query string `json:"query"`
}

// DocumentSymbolParams requests the outline of a single document.
type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// CompletionParams carries a completion request, optionally with a trigger.
type CompletionParams struct {
	TextDocumentPositionParams
	Context *CompletionContext `json:"context,omitempty"`
}

// CompletionContext describes how completion was triggered.
type CompletionContext struct {
	TriggerKind      int     `json:"triggerKind"`
	TriggerCharacter *string `json:"triggerCharacter,omitempty"`
}

// DidOpenTextDocumentParams carries textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseTextDocumentParams carries textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidSaveTextDocumentParams carries textDocument/didSave.
type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         *string                `json:"text,omitempty"`
}

// DidChangeTextDocumentParams carries textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// TextDocumentContentChangeEvent is one incremental or full-document edit.
type TextDocumentContentChangeEvent struct {
	Range       *Range `json:"range,omitempty"`
	RangeLength *int   `json:"rangeLength,omitempty"`
	Text        string `json:"text"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// HoverResult is the response to textDocument/hover.
type HoverResult struct {
	Contents MarkupContent `json:"contents"`
	Range    *Range        `json:"range,omitempty"`
}

// MarkupContent is documentation content in plain text or Markdown.
type MarkupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// WorkspaceEdit describes changes to be applied across one or more documents.
type WorkspaceEdit struct {
	Changes        map[string][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []TextDocumentEdit   `json:"documentChanges,omitempty"`
}

// TextEdit replaces Range with NewText.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// TextDocumentEdit is a set of edits against one versioned document.
type TextDocumentEdit struct {
	TextDocument VersionedTextDocumentIdentifier `json:"textDocument"`
	Edits        []TextEdit                      `json:"edits"`
}

// SymbolInformation is a flat workspace/symbol or textDocument/symbol result.
type SymbolInformation struct {
	Name          string      `json:"name"`
	Kind          SymbolKind  `json:"kind"`
	Tags          []SymbolTag `json:"tags,omitempty"`
	Location      Location    `json:"location"`
	ContainerName string      `json:"containerName,omitempty"`
}

// DocumentSymbol is a hierarchical textDocument/documentSymbol result.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Tags           []SymbolTag      `json:"tags,omitempty"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolKind enumerates declaration kinds per the LSP specification.
type SymbolKind int

const (
	SymbolKindFile          SymbolKind = 1
	SymbolKindModule        SymbolKind = 2
	SymbolKindNamespace     SymbolKind = 3
	SymbolKindPackage       SymbolKind = 4
	SymbolKindClass         SymbolKind = 5
	SymbolKindMethod        SymbolKind = 6
	SymbolKindProperty      SymbolKind = 7
	SymbolKindField         SymbolKind = 8
	SymbolKindConstructor   SymbolKind = 9
	SymbolKindEnum          SymbolKind = 10
	SymbolKindInterface     SymbolKind = 11
	SymbolKindFunction      SymbolKind = 12
	SymbolKindVariable      SymbolKind = 13
	SymbolKindConstant      SymbolKind = 14
	SymbolKindString        SymbolKind = 15
	SymbolKindNumber        SymbolKind = 16
	SymbolKindBoolean       SymbolKind = 17
	SymbolKindArray         SymbolKind = 18
	SymbolKindObject        SymbolKind = 19
	SymbolKindKey           SymbolKind = 20
	SymbolKindNull          SymbolKind = 21
	SymbolKindEnumMember    SymbolKind = 22
	SymbolKindStruct        SymbolKind = 23
	SymbolKindEvent         SymbolKind = 24
	SymbolKindOperator      SymbolKind = 25
	SymbolKindTypeParameter SymbolKind = 26
)

// SymbolTag marks additional properties of a symbol (e.g. deprecated).
type SymbolTag int

const (
	SymbolTagDeprecated SymbolTag = 1
)

// PrepareRenameResult is the response to textDocument/prepareRename.
type PrepareRenameResult struct {
	Range       Range  `json:"range"`
	Placeholder string `json:"placeholder"`
}

// CompletionItem is a single completion candidate.
type CompletionItem struct {
	Label         string     `json:"label"`
	Kind          SymbolKind `json:"kind,omitempty"`
	Detail        string     `json:"detail,omitempty"`
	Documentation string     `json:"documentation,omitempty"`
	InsertText    string     `json:"insertText,omitempty"`
	SortText      string     `json:"sortText,omitempty"`
}

// CompletionList is the response to textDocument/completion.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// DiagnosticSeverity orders diagnostics from most to least severe.
type DiagnosticSeverity int

const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

// Diagnostic is a single compiler- or linter-reported issue.
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     string             `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
}

// PublishDiagnosticsParams is the textDocument/publishDiagnostics notification.
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     *int         `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// =============================================================================
// INITIALIZE
// =============================================================================

// InitializeParams carries the client's initialize request.
type InitializeParams struct {
	ProcessID             int                    `json:"processId"`
	RootURI               string                 `json:"rootUri"`
	RootPath              string                 `json:"rootPath,omitempty"`
	Capabilities          ClientCapabilities     `json:"capabilities"`
	InitializationOptions interface{}            `json:"initializationOptions,omitempty"`
	Trace                 string                 `json:"trace,omitempty"`
	WorkspaceFolders      []WorkspaceFolder      `json:"workspaceFolders,omitempty"`
}

// WorkspaceFolder is one root of a multi-root workspace.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ClientCapabilities describes what the connecting editor supports.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument,omitempty"`
	Workspace    WorkspaceClientCapabilities    `json:"workspace,omitempty"`
}

// TextDocumentClientCapabilities describes per-feature document capabilities.
type TextDocumentClientCapabilities struct {
	Synchronization *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`
	Definition      *DefinitionCapabilities              `json:"definition,omitempty"`
	References      *ReferencesCapabilities              `json:"references,omitempty"`
	Hover           *HoverCapabilities                   `json:"hover,omitempty"`
	Rename          *RenameCapabilities                  `json:"rename,omitempty"`
}

// TextDocumentSyncClientCapabilities describes document-sync support.
type TextDocumentSyncClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
	WillSave            bool `json:"willSave,omitempty"`
	WillSaveWaitUntil   bool `json:"willSaveWaitUntil,omitempty"`
	DidSave             bool `json:"didSave,omitempty"`
}

// WorkspaceClientCapabilities describes workspace-level client support.
type WorkspaceClientCapabilities struct {
	ApplyEdit     bool                               `json:"applyEdit,omitempty"`
	WorkspaceEdit *WorkspaceEditClientCapabilities    `json:"workspaceEdit,omitempty"`
	Symbol        *WorkspaceSymbolClientCapabilities  `json:"symbol,omitempty"`
}

// WorkspaceEditClientCapabilities describes workspace-edit support.
type WorkspaceEditClientCapabilities struct {
	DocumentChanges bool `json:"documentChanges,omitempty"`
}

// WorkspaceSymbolClientCapabilities describes workspace/symbol support.
type WorkspaceSymbolClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
}

// DefinitionCapabilities describes go-to-definition support.
type DefinitionCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
	LinkSupport         bool `json:"linkSupport,omitempty"`
}

// ReferencesCapabilities describes find-references support.
type ReferencesCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
}

// HoverCapabilities describes hover support.
type HoverCapabilities struct {
	DynamicRegistration bool     `json:"dynamicRegistration,omitempty"`
	ContentFormat       []string `json:"contentFormat,omitempty"`
}

// RenameCapabilities describes rename support.
type RenameCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
	PrepareSupport      bool `json:"prepareSupport,omitempty"`
}

// InitializeResult is the server's response to initialize.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo identifies this server implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerCapabilities advertises which operations this core supports.
type ServerCapabilities struct {
	TextDocumentSync        interface{} `json:"textDocumentSync,omitempty"`
	DefinitionProvider      interface{} `json:"definitionProvider,omitempty"`
	ReferencesProvider      interface{} `json:"referencesProvider,omitempty"`
	HoverProvider           interface{} `json:"hoverProvider,omitempty"`
	RenameProvider          interface{} `json:"renameProvider,omitempty"`
	CompletionProvider      interface{} `json:"completionProvider,omitempty"`
	DocumentSymbolProvider  interface{} `json:"documentSymbolProvider,omitempty"`
	WorkspaceSymbolProvider interface{} `json:"workspaceSymbolProvider,omitempty"`
}

// HasDefinitionProvider reports whether definition is advertised.
func (c *ServerCapabilities) HasDefinitionProvider() bool {
	return c.DefinitionProvider != nil && c.DefinitionProvider != false
}

// HasReferencesProvider reports whether references is advertised.
func (c *ServerCapabilities) HasReferencesProvider() bool {
	return c.ReferencesProvider != nil && c.ReferencesProvider != false
}

// HasHoverProvider reports whether hover is advertised.
func (c *ServerCapabilities) HasHoverProvider() bool {
	return c.HoverProvider != nil && c.HoverProvider != false
}

// HasRenameProvider reports whether rename is advertised.
func (c *ServerCapabilities) HasRenameProvider() bool {
	return c.RenameProvider != nil && c.RenameProvider != false
}

// HasWorkspaceSymbolProvider reports whether workspace/symbol is advertised.
func (c *ServerCapabilities) HasWorkspaceSymbolProvider() bool {
	return c.WorkspaceSymbolProvider != nil && c.WorkspaceSymbolProvider != false
}
