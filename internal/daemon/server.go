package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/folder-mcp/daemon/internal/embed"
	"github.com/folder-mcp/daemon/internal/fmdm"
	"github.com/folder-mcp/daemon/internal/orchestrator"
)

// Handler is the server's view of the orchestrator.
type Handler interface {
	Validate(path, name string) orchestrator.ValidationResult
	AddFolder(ctx context.Context, settings orchestrator.FolderSettings) (orchestrator.ValidationResult, error)
	RemoveFolder(ctx context.Context, path string) error
	Info(path string) (orchestrator.FolderInfo, error)
	FolderPaths() []string
}

// Server accepts persistent duplex connections over a Unix socket. Each
// connection has a reader goroutine (requests) and a writer goroutine
// (responses plus server-pushed fmdm.update and model-download frames);
// the single writer guarantees per-client frame ordering, so fmdm.update
// versions arrive monotonically non-decreasing.
type Server struct {
	config      Config
	handler     Handler
	broadcaster *fmdm.Broadcaster
	logger      *slog.Logger

	listener net.Listener

	mu       sync.Mutex
	conns    map[string]*clientConn
	shutdown bool
	wg       sync.WaitGroup
}

type clientConn struct {
	id         string
	clientType string
	conn       net.Conn
	outbound   chan ServerFrame
	closeOnce  sync.Once
	closed     chan struct{}
}

// NewServer creates a duplex server.
func NewServer(cfg Config, handler Handler, broadcaster *fmdm.Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:      cfg,
		handler:     handler,
		broadcaster: broadcaster,
		logger:      logger,
		conns:       make(map[string]*clientConn),
	}
}

// PushDownloadEvent fans a model-download event out to every connected
// client. Wire it to the orchestrator's OnDownloadEvent.
func (s *Server) PushDownloadEvent(ev orchestrator.DownloadEvent) {
	f := frame(string(ev.Type), "", map[string]any{
		"modelId": ev.ModelID,
	})
	if ev.Total > 0 {
		f["downloaded"] = ev.Downloaded
		f["total"] = ev.Total
	}
	if ev.Error != "" {
		f["error"] = ev.Error
	}

	s.mu.Lock()
	conns := make([]*clientConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.send(f)
	}
}

// ListenAndServe starts the server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.config.SocketPath)

	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.SocketPath, err)
	}
	s.listener = listener

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.config.SocketPath)
	}()

	s.logger.Info("duplex server listening", slog.String("socket", s.config.SocketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			down := s.shutdown
			s.mu.Unlock()
			if down {
				break
			}
			s.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (c *clientConn) send(f ServerFrame) {
	select {
	case c.outbound <- f:
	case <-c.closed:
	}
}

func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// handleConnection runs one client's reader loop; the writer loop and the
// FMDM subscription are attached once the client sends connection.init.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	client := &clientConn{
		id:       uuid.NewString(),
		conn:     conn,
		outbound: make(chan ServerFrame, 64),
		closed:   make(chan struct{}),
	}
	defer client.close()

	// Writer: sole goroutine writing to the socket.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		encoder := json.NewEncoder(conn)
		for {
			select {
			case <-client.closed:
				return
			case f := <-client.outbound:
				if err := encoder.Encode(f); err != nil {
					client.close()
					return
				}
			}
		}
	}()

	var unsubscribe func()
	defer func() {
		if unsubscribe != nil {
			unsubscribe()
			s.broadcaster.ClientLeft(client.id)
		}
		s.mu.Lock()
		delete(s.conns, client.id)
		s.mu.Unlock()
		<-writerDone
	}()

	decoder := json.NewDecoder(conn)
	for {
		var f ClientFrame
		if err := decoder.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				client.send(errorFrame("", "failed to parse message: "+err.Error(), ErrCodeMalformed))
			}
			return
		}

		if ef := validateFrame(&f); ef != nil {
			client.send(*ef)
			continue
		}

		if f.Type == TypeConnectionInit {
			unsubscribe = s.handleInit(client, &f, unsubscribe)
			continue
		}

		s.dispatch(ctx, client, &f)
	}
}

// handleInit acknowledges the client, registers it in the fleet document
// and subscribes it to fmdm.update pushes (the subscription immediately
// delivers the current snapshot).
func (s *Server) handleInit(client *clientConn, f *ClientFrame, prevUnsub func()) func() {
	clientType := f.ClientType
	if clientType == "" && len(f.Payload) > 0 {
		var p struct {
			ClientType string `json:"clientType"`
		}
		_ = json.Unmarshal(f.Payload, &p)
		clientType = p.ClientType
	}
	if !ClientTypes[clientType] {
		client.send(errorFrame(f.ID, fmt.Sprintf("unknown clientType %q (want tui, cli or web)", clientType), ErrCodeInvalidPayload))
		return prevUnsub
	}
	client.clientType = clientType

	s.mu.Lock()
	s.conns[client.id] = client
	s.mu.Unlock()

	client.send(frame(TypeConnectionAck, f.ID, map[string]any{"clientId": client.id}))

	if prevUnsub != nil {
		return prevUnsub
	}

	unsubscribe := s.broadcaster.Subscribe(func(doc fmdm.Document) {
		client.send(frame(TypeFMDMUpdate, "", map[string]any{"fmdm": doc}))
	})
	s.broadcaster.ClientJoined(fmdm.ClientInfo{ID: client.id, Type: clientType})
	return unsubscribe
}

// dispatch answers one request frame. Any handler failure becomes a
// structured error response; the daemon never aborts on a request.
func (s *Server) dispatch(ctx context.Context, client *clientConn, f *ClientFrame) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("request handler panicked",
				slog.String("type", f.Type), slog.Any("panic", r))
			client.send(errorFrame(f.ID, "internal error", ErrCodeInternal))
		}
	}()

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	switch f.Type {
	case TypePing:
		client.send(frame(TypePong, f.ID, nil))

	case TypeFolderValidate:
		var p FolderValidatePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Path == "" {
			client.send(errorFrame(f.ID, "folder.validate requires a path", ErrCodeInvalidPayload))
			return
		}
		result := s.handler.Validate(p.Path, p.Name)
		client.send(frame(TypeFolderValidate+".response", f.ID, map[string]any{
			"valid":    result.Valid,
			"errors":   result.Errors,
			"warnings": result.Warnings,
		}))

	case TypeFolderAdd:
		var p FolderAddPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Path == "" {
			client.send(errorFrame(f.ID, "folder.add requires a path", ErrCodeInvalidPayload))
			return
		}
		result, err := s.handler.AddFolder(reqCtx, orchestrator.FolderSettings{
			Path: p.Path, Name: p.Name, Model: p.Model, Enabled: true,
		})
		resp := map[string]any{"success": err == nil && result.Valid}
		if err != nil {
			resp["error"] = err.Error()
		} else if !result.Valid {
			resp["error"] = "validation failed"
			resp["errors"] = result.Errors
		}
		client.send(frame(TypeFolderAdd+".response", f.ID, resp))

	case TypeFolderRemove:
		var p FolderRemovePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Path == "" {
			client.send(errorFrame(f.ID, "folder.remove requires a path", ErrCodeInvalidPayload))
			return
		}
		err := s.handler.RemoveFolder(reqCtx, p.Path)
		resp := map[string]any{"success": err == nil}
		if err != nil {
			resp["error"] = err.Error()
		}
		client.send(frame(TypeFolderRemove+".response", f.ID, resp))

	case TypeModelsList:
		client.send(frame(TypeModelsList+".response", f.ID, map[string]any{
			"models": embed.CuratedModels,
		}))

	case TypeModelsRecommend:
		var p ModelsRecommendPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			client.send(errorFrame(f.ID, "models.recommend payload malformed", ErrCodeInvalidPayload))
			return
		}
		mode := embed.RecommendMode(p.Mode)
		if mode != embed.RecommendAssisted && mode != embed.RecommendManual {
			mode = embed.RecommendAssisted
		}
		client.send(frame(TypeModelsRecommend+".response", f.ID, map[string]any{
			"models": embed.RecommendModels(p.Languages, mode),
		}))

	case TypeGetServerInfo:
		doc := s.broadcaster.Snapshot()
		client.send(frame(TypeGetServerInfo+".response", f.ID, map[string]any{
			"daemon":      doc.Daemon,
			"connections": doc.Connections,
			"version":     doc.Version,
		}))

	case TypeGetFolderInfo:
		var p GetFolderInfoPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.FolderPath == "" {
			client.send(errorFrame(f.ID, "get_folder_info requires folderPath", ErrCodeInvalidPayload))
			return
		}
		info, err := s.handler.Info(p.FolderPath)
		if err != nil {
			client.send(errorFrame(f.ID, err.Error(), ErrCodeInternal))
			return
		}
		client.send(frame(TypeGetFolderInfo+".response", f.ID, map[string]any{"folder": info}))

	case TypeGetFoldersConfig:
		client.send(frame(TypeGetFoldersConfig+".response", f.ID, map[string]any{
			"folders": s.handler.FolderPaths(),
		}))

	default:
		client.send(errorFrame(f.ID, fmt.Sprintf("unsupported message type %q", f.Type), ErrCodeUnknownType))
	}
}

// Close stops the listener and drops all connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	conns := make([]*clientConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
