package fmdm

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/folder-mcp/daemon/internal/embed"
)

// Listener receives full document snapshots. A listener that panics is
// logged and kept subscribed; one misbehaving observer must not starve
// the rest.
type Listener func(Document)

// Broadcaster is the single-writer owner of the fleet document. Every
// mutation bumps the version and fans the entire document out to every
// subscriber. Each subscriber sees versions in monotonically
// non-decreasing order; slow subscribers coalesce to the latest snapshot
// rather than queueing unboundedly.
type Broadcaster struct {
	mu        sync.Mutex
	doc       Document
	startedAt time.Time
	logger    *slog.Logger

	nextSubID uint64
	subs      map[uint64]*subscriber
	closed    bool
}

type subscriber struct {
	listener Listener

	mu      sync.Mutex
	pending *Document // latest-wins slot
	wake    chan struct{}
	done    chan struct{}
}

// NewBroadcaster creates the process-scoped broadcaster. Init at daemon
// start, Close at daemon stop.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		doc: Document{
			Folders: []Folder{},
			Models:  []string{},
			Daemon:  DaemonInfo{PID: os.Getpid()},
		},
		startedAt: time.Now(),
		logger:    logger,
		subs:      make(map[uint64]*subscriber),
	}
}

// Snapshot returns a defensive copy of the current document.
func (b *Broadcaster) Snapshot() Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc.clone()
}

// Version returns the current document version.
func (b *Broadcaster) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc.Version
}

// Subscribe registers a listener and returns an unsubscribe function. The
// listener immediately receives the current snapshot, then later versions
// in order; a listener that lags skips to the latest snapshot.
func (b *Broadcaster) Subscribe(listener Listener) (unsubscribe func()) {
	sub := &subscriber{
		listener: listener,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = sub
	// Offer under the writer lock so no newer Update snapshot can land in
	// the slot before this older one.
	sub.offer(b.doc.clone())
	b.mu.Unlock()

	go sub.run(b.logger)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// offer places a snapshot in the latest-wins slot and wakes the delivery
// goroutine.
func (s *subscriber) offer(doc Document) {
	s.mu.Lock()
	s.pending = &doc
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(logger *slog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		doc := s.pending
		s.pending = nil
		s.mu.Unlock()
		if doc == nil {
			continue
		}
		s.deliver(*doc, logger)
	}
}

// deliver invokes the listener, containing panics: a failing listener is
// logged and stays subscribed.
func (s *subscriber) deliver(doc Document, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("fmdm listener panicked; keeping subscription",
				slog.Any("panic", r), slog.Uint64("version", doc.Version))
		}
	}()
	s.listener(doc)
}

// Update runs mutate on the document under the writer lock, bumps the
// version and broadcasts the new snapshot. This is the only mutation
// path.
func (b *Broadcaster) Update(mutate func(*Document)) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	mutate(&b.doc)
	b.doc.Version++
	b.doc.Daemon.UptimeSeconds = int64(time.Since(b.startedAt).Seconds())
	snapshot := b.doc.clone()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.offer(snapshot)
	}
}

// UpsertFolder inserts or replaces a folder entry by path. When replacing,
// an existing notification is carried forward unless the new entry brings
// its own (the preservation rule); pass clearNotification to overwrite
// with null explicitly.
func (b *Broadcaster) UpsertFolder(folder Folder, clearNotification bool) {
	b.Update(func(d *Document) {
		for i, existing := range d.Folders {
			if existing.Path == folder.Path {
				if folder.Notification == nil && !clearNotification {
					folder.Notification = existing.Notification
				}
				d.Folders[i] = folder
				return
			}
		}
		d.Folders = append(d.Folders, folder)
	})
}

// RemoveFolder drops a folder entry by path.
func (b *Broadcaster) RemoveFolder(path string) {
	b.Update(func(d *Document) {
		for i, f := range d.Folders {
			if f.Path == path {
				d.Folders = append(d.Folders[:i], d.Folders[i+1:]...)
				return
			}
		}
	})
}

// SetFolderStatus updates one folder's status.
func (b *Broadcaster) SetFolderStatus(path string, status FolderStatus) {
	b.Update(func(d *Document) {
		if f := findFolder(d, path); f != nil {
			f.Status = status
		}
	})
}

// SetFolderProgress updates one folder's indexing progress block.
func (b *Broadcaster) SetFolderProgress(path string, p Progress) {
	b.Update(func(d *Document) {
		if f := findFolder(d, path); f != nil {
			f.Progress = &p
		}
	})
}

// SetScanningProgress updates one folder's scan progress block.
func (b *Broadcaster) SetScanningProgress(path string, sp ScanningProgress) {
	b.Update(func(d *Document) {
		if f := findFolder(d, path); f != nil {
			f.ScanningProgress = &sp
		}
	})
}

// SetNotification attaches (or with nil clears) a folder notification.
func (b *Broadcaster) SetNotification(path string, n *Notification) {
	b.Update(func(d *Document) {
		if f := findFolder(d, path); f != nil {
			f.Notification = n
		}
	})
}

// ClientJoined records a new connection.
func (b *Broadcaster) ClientJoined(client ClientInfo) {
	b.Update(func(d *Document) {
		d.Connections.Clients = append(d.Connections.Clients, client)
		d.Connections.Count = len(d.Connections.Clients)
	})
}

// ClientLeft drops a connection by id.
func (b *Broadcaster) ClientLeft(clientID string) {
	b.Update(func(d *Document) {
		for i, c := range d.Connections.Clients {
			if c.ID == clientID {
				d.Connections.Clients = append(d.Connections.Clients[:i], d.Connections.Clients[i+1:]...)
				break
			}
		}
		d.Connections.Count = len(d.Connections.Clients)
	})
}

// SetModels publishes the installed and curated model sets.
func (b *Broadcaster) SetModels(installed []string, curated []embed.ModelSpec) {
	b.Update(func(d *Document) {
		d.Models = installed
		d.CuratedModels = curated
	})
}

// TickUptime refreshes the daemon uptime field (and bumps the version, so
// clients observe liveness).
func (b *Broadcaster) TickUptime() {
	b.Update(func(d *Document) {})
}

func findFolder(d *Document, path string) *Folder {
	for i := range d.Folders {
		if d.Folders[i].Path == path {
			return &d.Folders[i]
		}
	}
	return nil
}

// Close stops accepting mutations and detaches all subscribers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
}
