// Package portal negotiates an xdg-desktop-portal ScreenCast session over
// D-Bus and hands back the PipeWire node id the compositor will stream
// frames on. It knows nothing about GStreamer or pixel formats; it is
// purely the session-setup half of the PipeWire capture path.
package portal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glcs-go/recorder/internal/logger"
	"github.com/godbus/dbus/v5"
)

const (
	serviceName     = "org.freedesktop.portal.Desktop"
	objectPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
)

// SourceType selects what SelectSources offers the user.
type SourceType uint32

const (
	SourceMonitor SourceType = 1 << 0
	SourceWindow  SourceType = 1 << 1
	SourceVirtual SourceType = 1 << 2
)

// CursorMode controls how the pointer is composited into the stream.
type CursorMode uint32

const (
	CursorHidden   CursorMode = 1 << 0
	CursorEmbedded CursorMode = 1 << 1
	CursorMetadata CursorMode = 1 << 2
)

// PersistMode controls whether the grant survives past this session.
type PersistMode uint32

const (
	PersistNone        PersistMode = 0
	PersistApplication PersistMode = 1
	PersistSession     PersistMode = 2
)

// Options configures a ScreenCast negotiation.
type Options struct {
	Sources     SourceType
	Cursor      CursorMode
	Persist     PersistMode
	TokenPath   string // if empty, defaults under os.UserConfigDir()
	RequestWait time.Duration
	SelectWait  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Sources == 0 {
		o.Sources = SourceMonitor
	}
	if o.Cursor == 0 {
		o.Cursor = CursorEmbedded
	}
	if o.Persist == 0 {
		o.Persist = PersistSession
	}
	if o.RequestWait == 0 {
		o.RequestWait = 30 * time.Second
	}
	if o.SelectWait == 0 {
		o.SelectWait = 60 * time.Second
	}
	if o.TokenPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.Getenv("HOME")
		}
		o.TokenPath = filepath.Join(dir, "focusstreamer", "portal_token")
	}
	return o
}

// Session is a negotiated ScreenCast grant: a live D-Bus session handle plus
// the PipeWire node id the caller should open.
type Session struct {
	conn         *dbus.Conn
	handle       dbus.ObjectPath
	nodeID       uint32
	opts         Options
	restoreToken string

	mu sync.Mutex
}

// Negotiate connects to the session bus, walks CreateSession -> SelectSources
// -> Start, and returns a Session bound to the resulting PipeWire node.
func Negotiate(opts Options) (*Session, error) {
	opts = opts.withDefaults()

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	s := &Session{conn: conn, opts: opts}
	s.loadRestoreToken()

	handle, err := s.createSession()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.handle = handle

	if err := s.selectSources(); err != nil {
		s.Close()
		return nil, fmt.Errorf("select sources: %w", err)
	}

	nodeID, err := s.start()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("start: %w", err)
	}
	s.nodeID = nodeID

	return s, nil
}

// NodeID returns the PipeWire node id this session is streaming on.
func (s *Session) NodeID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeID
}

// Close tears down the portal session and the D-Bus connection.
func (s *Session) Close() error {
	if s.handle != "" {
		s.conn.Object(serviceName, s.handle).Call("org.freedesktop.portal.Session.Close", 0)
	}
	return s.conn.Close()
}

func (s *Session) waitForResponse(requestPath dbus.ObjectPath, timeout time.Duration) (map[string]dbus.Variant, error) {
	log := logger.WithComponent("portal")
	responseChan := make(chan *dbus.Signal, 10)

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='Response'", requestIface)
	if err := s.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		log.Warn().Err(err).Msg("add match rule for portal Response signal failed")
	}
	s.conn.Signal(responseChan)
	defer s.conn.RemoveSignal(responseChan)

	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for portal response")
		case sig := <-responseChan:
			if sig.Path != requestPath || sig.Name != requestIface+".Response" {
				continue
			}
			if len(sig.Body) < 1 {
				return nil, fmt.Errorf("malformed portal response")
			}
			code, _ := sig.Body[0].(uint32)
			if code != 0 {
				return nil, fmt.Errorf("portal request denied (code %d)", code)
			}
			if len(sig.Body) < 2 {
				return map[string]dbus.Variant{}, nil
			}
			results, _ := sig.Body[1].(map[string]dbus.Variant)
			return results, nil
		}
	}
}

func (s *Session) createSession() (dbus.ObjectPath, error) {
	obj := s.conn.Object(serviceName, objectPath)
	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(fmt.Sprintf("focusstreamer%d", os.Getpid())),
		"session_handle_token": dbus.MakeVariant(fmt.Sprintf("session%d", os.Getpid())),
	}

	var requestPath dbus.ObjectPath
	if err := obj.Call(screenCastIface+".CreateSession", 0, options).Store(&requestPath); err != nil {
		return "", err
	}

	results, err := s.waitForResponse(requestPath, s.opts.RequestWait)
	if err != nil {
		return "", err
	}
	handle, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("no session_handle in CreateSession response")
	}
	switch v := handle.Value().(type) {
	case dbus.ObjectPath:
		return v, nil
	case string:
		return dbus.ObjectPath(v), nil
	default:
		return "", fmt.Errorf("unexpected session_handle type %T", v)
	}
}

func (s *Session) selectSources() error {
	obj := s.conn.Object(serviceName, objectPath)
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(fmt.Sprintf("select%d", os.Getpid())),
		"types":        dbus.MakeVariant(uint32(s.opts.Sources)),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(s.opts.Cursor)),
		"persist_mode": dbus.MakeVariant(uint32(s.opts.Persist)),
	}
	if s.restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(s.restoreToken)
	}

	var requestPath dbus.ObjectPath
	if err := obj.Call(screenCastIface+".SelectSources", 0, s.handle, options).Store(&requestPath); err != nil {
		return err
	}
	_, err := s.waitForResponse(requestPath, s.opts.SelectWait)
	return err
}

func (s *Session) start() (uint32, error) {
	obj := s.conn.Object(serviceName, objectPath)
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(fmt.Sprintf("start%d", os.Getpid())),
	}

	var requestPath dbus.ObjectPath
	if err := obj.Call(screenCastIface+".Start", 0, s.handle, "", options).Store(&requestPath); err != nil {
		return 0, err
	}

	results, err := s.waitForResponse(requestPath, s.opts.RequestWait)
	if err != nil {
		return 0, err
	}

	if restoreToken, ok := results["restore_token"]; ok {
		if tok, ok := restoreToken.Value().(string); ok {
			s.restoreToken = tok
			s.saveRestoreToken()
		}
	}

	streams, ok := results["streams"]
	if !ok {
		return 0, fmt.Errorf("no streams in Start response")
	}
	switch v := streams.Value().(type) {
	case [][]interface{}:
		if len(v) > 0 && len(v[0]) > 0 {
			if id, ok := v[0][0].(uint32); ok {
				return id, nil
			}
		}
	case []interface{}:
		if len(v) > 0 {
			if stream, ok := v[0].([]interface{}); ok && len(stream) > 0 {
				if id, ok := stream[0].(uint32); ok {
					return id, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("could not parse node id from streams result")
}

func (s *Session) loadRestoreToken() {
	data, err := os.ReadFile(s.opts.TokenPath)
	if err != nil {
		return
	}
	var payload struct {
		Token string `json:"token"`
	}
	if json.Unmarshal(data, &payload) == nil {
		s.restoreToken = payload.Token
	}
}

func (s *Session) saveRestoreToken() {
	if s.restoreToken == "" {
		return
	}
	dir := filepath.Dir(s.opts.TokenPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	data, err := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: s.restoreToken})
	if err != nil {
		return
	}
	os.WriteFile(s.opts.TokenPath, data, 0600)
}
