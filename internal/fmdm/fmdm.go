// Package fmdm owns the authoritative fleet state document (FMDM) that is
// broadcast to every connected client. All mutations go through the
// Broadcaster; every broadcast carries a full snapshot, never a delta.
package fmdm

import (
	"github.com/folder-mcp/daemon/internal/embed"
)

// FolderStatus is the lifecycle status surfaced per folder.
type FolderStatus string

const (
	StatusPending          FolderStatus = "pending"
	StatusScanning         FolderStatus = "scanning"
	StatusReady            FolderStatus = "ready"
	StatusIndexing         FolderStatus = "indexing"
	StatusActive           FolderStatus = "active"
	StatusError            FolderStatus = "error"
	StatusDownloadingModel FolderStatus = "downloading-model"
)

// Severity grades a folder notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a user-facing message attached to a folder.
type Notification struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Progress is the indexing progress block of a folder.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"inProgress"`
	Percentage int `json:"percentage"`
}

// ScanPhase identifies which scan sweep is running.
type ScanPhase string

const (
	ScanPhaseFolderToDB ScanPhase = "folder→db"
	ScanPhaseDBToFolder ScanPhase = "db→folder"
)

// ScanningProgress is the per-sweep scan progress block.
type ScanningProgress struct {
	Phase      ScanPhase `json:"phase"`
	Processed  int       `json:"processed"`
	Total      int       `json:"total"`
	Percentage int       `json:"percentage"`
}

// Folder is one folder's entry in the fleet document.
type Folder struct {
	Path             string            `json:"path"`
	Name             string            `json:"name"`
	Model            string            `json:"model"`
	Status           FolderStatus      `json:"status"`
	Progress         *Progress         `json:"progress,omitempty"`
	ScanningProgress *ScanningProgress `json:"scanningProgress,omitempty"`
	Notification     *Notification     `json:"notification,omitempty"`
}

// ClientInfo identifies one connected client.
type ClientInfo struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Connections summarises connected clients.
type Connections struct {
	Count   int          `json:"count"`
	Clients []ClientInfo `json:"clients"`
}

// DaemonInfo is the daemon block of the document.
type DaemonInfo struct {
	PID           int   `json:"pid"`
	UptimeSeconds int64 `json:"uptime"`
}

// Document is the full fleet state. Version strictly increases on every
// mutation; every broadcast carries the whole document.
type Document struct {
	Version          uint64            `json:"version"`
	Folders          []Folder          `json:"folders"`
	Daemon           DaemonInfo        `json:"daemon"`
	Connections      Connections       `json:"connections"`
	Models           []string          `json:"models"`
	CuratedModels    []embed.ModelSpec `json:"curatedModels"`
	ModelCheckStatus string            `json:"modelCheckStatus,omitempty"`
}

// clone produces the defensive copy handed to observers: slices and
// pointer fields are duplicated so no observer can mutate shared state.
func (d Document) clone() Document {
	out := d
	out.Folders = make([]Folder, len(d.Folders))
	for i, f := range d.Folders {
		out.Folders[i] = f.clone()
	}
	out.Connections.Clients = append([]ClientInfo(nil), d.Connections.Clients...)
	out.Models = append([]string(nil), d.Models...)
	out.CuratedModels = append([]embed.ModelSpec(nil), d.CuratedModels...)
	return out
}

func (f Folder) clone() Folder {
	out := f
	if f.Progress != nil {
		p := *f.Progress
		out.Progress = &p
	}
	if f.ScanningProgress != nil {
		sp := *f.ScanningProgress
		out.ScanningProgress = &sp
	}
	if f.Notification != nil {
		n := *f.Notification
		out.Notification = &n
	}
	return out
}
