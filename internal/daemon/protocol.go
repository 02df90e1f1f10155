package daemon

import (
	"encoding/json"
	"fmt"
)

// Client-originated message types. Request-style messages carry a
// non-empty correlation id; the response echoes it.
const (
	TypeConnectionInit   = "connection.init"
	TypeFolderValidate   = "folder.validate"
	TypeFolderAdd        = "folder.add"
	TypeFolderRemove     = "folder.remove"
	TypePing             = "ping"
	TypeModelsList       = "models.list"
	TypeModelsRecommend  = "models.recommend"
	TypeGetServerInfo    = "get_server_info"
	TypeGetFolderInfo    = "get_folder_info"
	TypeGetFoldersConfig = "getFoldersConfig"
)

// Server-originated message types.
const (
	TypeConnectionAck = "connection.ack"
	TypeFMDMUpdate    = "fmdm.update"
	TypePong          = "pong"
	TypeError         = "error"
)

// ClientTypes accepted in connection.init.
var ClientTypes = map[string]bool{
	"tui": true,
	"cli": true,
	"web": true,
}

// supportedTypes is echoed in validation errors so clients can
// self-diagnose typos.
var supportedTypes = []string{
	TypeConnectionInit, TypeFolderValidate, TypeFolderAdd, TypeFolderRemove,
	TypePing, TypeModelsList, TypeModelsRecommend, TypeGetServerInfo,
	TypeGetFolderInfo, TypeGetFoldersConfig,
}

// ClientFrame is one JSON frame from a client. Payload decoding is
// per-type.
type ClientFrame struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	ClientType string          `json:"clientType,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ServerFrame is one JSON frame to a client. Body carries the type-
// specific fields inline.
type ServerFrame map[string]any

// frame builds a server frame with the standard envelope fields.
func frame(msgType, id string, fields map[string]any) ServerFrame {
	f := ServerFrame{"type": msgType}
	if id != "" {
		f["id"] = id
	}
	for k, v := range fields {
		f[k] = v
	}
	return f
}

// errorFrame is the structured validation error: no exceptions cross the
// protocol boundary.
func errorFrame(id, message string, code string) ServerFrame {
	f := ServerFrame{
		"type":           TypeError,
		"message":        message,
		"supportedTypes": supportedTypes,
	}
	if id != "" {
		f["id"] = id
	}
	if code != "" {
		f["code"] = code
	}
	return f
}

// Error codes for the error frame.
const (
	ErrCodeMalformed      = "malformed_message"
	ErrCodeUnknownType    = "unknown_type"
	ErrCodeMissingID      = "missing_id"
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeInternal       = "internal_error"
)

// validateFrame applies the envelope rules: a known type, and a non-empty
// id for request-style messages.
func validateFrame(f *ClientFrame) *ServerFrame {
	if f.Type == "" {
		ef := errorFrame("", "message has no type", ErrCodeMalformed)
		return &ef
	}
	known := false
	for _, t := range supportedTypes {
		if f.Type == t {
			known = true
			break
		}
	}
	if !known {
		ef := errorFrame(f.ID, fmt.Sprintf("unsupported message type %q", f.Type), ErrCodeUnknownType)
		return &ef
	}
	if f.ID == "" {
		ef := errorFrame("", fmt.Sprintf("message type %q requires a correlation id", f.Type), ErrCodeMissingID)
		return &ef
	}
	return nil
}

// Payload shapes.

// FolderValidatePayload is the folder.validate request payload.
type FolderValidatePayload struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// FolderAddPayload is the folder.add request payload.
type FolderAddPayload struct {
	Path  string `json:"path"`
	Name  string `json:"name,omitempty"`
	Model string `json:"model,omitempty"`
}

// FolderRemovePayload is the folder.remove request payload.
type FolderRemovePayload struct {
	Path string `json:"path"`
}

// ModelsRecommendPayload is the models.recommend request payload.
type ModelsRecommendPayload struct {
	Languages []string `json:"languages"`
	Mode      string   `json:"mode"` // assisted | manual
}

// GetFolderInfoPayload is the get_folder_info request payload.
type GetFolderInfoPayload struct {
	FolderPath string `json:"folderPath"`
}
