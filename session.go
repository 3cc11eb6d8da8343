package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/voicerag/shared"
	"github.com/bt-bridge/voicerag/telemetry"
	"github.com/bt-bridge/voicerag/tools"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var errPeerClosed = errors.New("peer closed the connection")

// wsConn serialises writes on a websocket. Reads happen on a single goroutine.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConn(conn *websocket.Conn, readLimit int64) *wsConn {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &wsConn{conn: conn}
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) writeText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

// closeWith sends a close frame and closes the underlying connection.
func (c *wsConn) closeWith(code int, reason string) {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeGracePeriod))
	c.mu.Unlock()
	_ = c.conn.Close()
}

// SessionState is the relay state of one browser connection.
type SessionState struct {
	mt     *MiddleTier
	logger shared.LoggerAdapter
	client *wsConn
	server *wsConn

	mu sync.Mutex
	// pending maps the call_id of function calls announced upstream to the
	// item they follow.
	pending map[string]string
}

func newSession(mt *MiddleTier, logger shared.LoggerAdapter, client, server *wsConn) *SessionState {
	return &SessionState{
		mt:      mt,
		logger:  logger,
		client:  client,
		server:  server,
		pending: make(map[string]string),
	}
}

func (s *SessionState) addPending(callID, previousItemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[callID] = previousItemID
}

func (s *SessionState) previousItemID(callID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[callID]
}

// takePending clears the pending calls and reports whether there were any.
func (s *SessionState) takePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := len(s.pending) > 0
	clear(s.pending)
	return had
}

type processFunc func(ctx context.Context, msg []byte) ([]byte, error)

// run relays both directions until one side closes or fails and returns the
// cause.
func (s *SessionState) run(ctx context.Context, cancel context.CancelCauseFunc) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		cancel(fmt.Errorf("client: %w", s.pump(ctx, s.client, s.server, s.processToServer)))
	}()
	go func() {
		defer wg.Done()
		cancel(fmt.Errorf("upstream: %w", s.pump(ctx, s.server, s.client, s.processToClient)))
	}()

	<-ctx.Done()
	code, reason := websocket.CloseNormalClosure, ""
	if errors.Is(context.Cause(ctx), shared.ErrShuttingDown) {
		code, reason = websocket.CloseGoingAway, "server shutting down"
	}
	s.client.closeWith(code, reason)
	s.server.closeWith(websocket.CloseNormalClosure, "")
	wg.Wait()
	return context.Cause(ctx)
}

func (s *SessionState) pump(ctx context.Context, src, dst *wsConn, process processFunc) error {
	for {
		messageType, msg, err := src.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				return errPeerClosed
			}
			return fmt.Errorf("reading message: %w", err)
		}
		if messageType == websocket.TextMessage {
			msg, err = process(ctx, msg)
			if err != nil {
				return err
			}
			if msg == nil {
				continue
			}
		}
		if err := dst.write(messageType, msg); err != nil {
			return fmt.Errorf("writing message: %w", err)
		}
	}
}

// processToServer enforces the server-side session settings on messages from
// the browser.
func (s *SessionState) processToServer(_ context.Context, msg []byte) ([]byte, error) {
	switch ClientEventType(eventType(msg)) {
	case ClientEventTypeSessionUpdate:
		return applySessionOverrides(msg, s.mt.sessionOverrides())
	case ClientEventTypeInputAudioBufferAppend:
		n := tools.Base64DecodedLen(gjson.GetBytes(msg, "audio").String())
		telemetry.RecordInputAudio(tools.PCMDuration(n, tools.PCM16SampleRate, tools.PCM16Channels))
	}
	return msg, nil
}

// processToClient hides tool traffic from the browser and runs the tools the
// model calls. A nil message is dropped.
func (s *SessionState) processToClient(ctx context.Context, msg []byte) ([]byte, error) {
	typ := eventType(msg)
	switch ServerEventType(typ) {
	case ServerEventTypeSessionCreated:
		return scrubSessionCreated(msg)

	case ServerEventTypeResponseOutputItemAdded:
		if _, ok := parseFunctionCall(msg, "item"); ok {
			return s.intercept(typ)
		}

	case ServerEventTypeConversationItemCreated:
		switch itemType(msg) {
		case itemTypeFunctionCall:
			call, _ := parseFunctionCall(msg, "item")
			s.addPending(call.CallID, gjson.GetBytes(msg, "previous_item_id").String())
			return s.intercept(typ)
		case itemTypeFunctionCallOutput:
			return s.intercept(typ)
		}

	case ServerEventTypeResponseFunctionCallArgumentsDelta,
		ServerEventTypeResponseFunctionCallArgumentsDone:
		return s.intercept(typ)

	case ServerEventTypeResponseOutputItemDone:
		if call, ok := parseFunctionCall(msg, "item"); ok {
			if err := s.handleFunctionCall(ctx, call); err != nil {
				return nil, err
			}
			return s.intercept(typ)
		}

	case ServerEventTypeResponseDone:
		if s.takePending() {
			create, err := newResponseCreate()
			if err != nil {
				return nil, err
			}
			if err := s.server.writeText(create); err != nil {
				return nil, fmt.Errorf("requesting response: %w", err)
			}
		}
		return stripFunctionCalls(msg)
	}
	return msg, nil
}

func (s *SessionState) intercept(typ string) ([]byte, error) {
	telemetry.RecordIntercepted(typ)
	return nil, nil
}

// handleFunctionCall runs a tool and reports its output upstream. Tool
// failures are reported to the model and do not end the session; only write
// failures are returned.
func (s *SessionState) handleFunctionCall(ctx context.Context, call functionCall) error {
	logger := s.logger.With(zap.String("tool", call.Name), zap.String("call_id", call.CallID))

	var output string
	result, outcome, err := s.mt.invokeTool(ctx, call.Name, call.CallID, []byte(call.Arguments))
	if err == nil {
		var text string
		text, err = result.Text()
		if err == nil && result.Destination == ToClient {
			if err := s.sendToolResponse(call, text); err != nil {
				return err
			}
		} else if err == nil {
			output = text
		}
	}
	if err != nil {
		logger.Warn("tool call failed", zap.String("outcome", outcome), zap.Error(err))
		output = "error: " + err.Error()
	} else {
		logger.Debug("tool call completed", zap.Stringer("destination", result.Destination))
	}

	item, err := newFunctionCallOutput(call.CallID, output)
	if err != nil {
		return err
	}
	if err := s.server.writeText(item); err != nil {
		return fmt.Errorf("sending function output: %w", err)
	}
	return nil
}

func (s *SessionState) sendToolResponse(call functionCall, text string) error {
	ev, err := newToolResponse(s.previousItemID(call.CallID), call.Name, text)
	if err != nil {
		return err
	}
	if err := s.client.writeText(ev); err != nil {
		return fmt.Errorf("sending tool response: %w", err)
	}
	return nil
}
