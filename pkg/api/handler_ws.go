package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/hq-ai/hq/pkg/events"
	"github.com/hq-ai/hq/pkg/registry"
	"github.com/hq-ai/hq/pkg/services"
)

// browserWSHandler handles GET /ws?deviceId=. The device id keys the
// connection in the registry; reconnecting with the same id displaces the
// previous socket.
func (s *Server) browserWSHandler(c *echo.Context) error {
	sock, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	deviceID := c.QueryParam("deviceId")
	if deviceID == "" {
		s.closeWithError(sock, events.CodeMissingDeviceID, "deviceId query parameter is required")
		return nil
	}

	ctx := c.Request().Context()
	conn := s.registry.Register(ctx, deviceID, sock)

	greeting, err := events.NewEnvelope(events.TypeConnected, events.ConnectedPayload{DeviceID: deviceID})
	if err == nil {
		s.registry.SendEnvelope(conn, greeting)
	}

	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			s.registry.Remove(deviceID, conn)
			return nil
		}
		if err := s.relay.HandleClientData(conn, data); err != nil {
			var protoErr *events.ProtocolError
			if errors.As(err, &protoErr) {
				s.failBrowser(conn, sock, protoErr)
				s.registry.Remove(deviceID, conn)
				return nil
			}
		}
	}
}

// relayWSHandler handles GET /ws/relay/:sessionId. The worker authenticates
// with its single-use access token; the session's initial prompt is the
// first frame it receives.
func (s *Server) relayWSHandler(c *echo.Context) error {
	sessionID := c.Param("sessionId")
	token := bearerToken(c)
	if token == "" {
		token = c.QueryParam("token")
	}

	sock, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	conn, err := s.relay.AttachWorker(ctx, sessionID, token, sock)
	if err != nil {
		s.logger.Warn("Rejected worker attach", "session_id", sessionID, "error", err)
		sock.Close(attachCloseStatus(err), "attach rejected")
		return nil
	}

	// Blocks until the worker socket closes; disconnect handling runs inside.
	s.relay.PumpWorker(ctx, sessionID, conn, func(readCtx context.Context) ([]byte, error) {
		_, data, readErr := sock.Read(readCtx)
		return data, readErr
	})
	return nil
}

// closeWithError sends one error envelope and closes the socket. Used
// before the connection ever reaches the registry.
func (s *Server) closeWithError(sock *websocket.Conn, code, message string) {
	env, err := events.NewEnvelope(events.TypeError, events.ErrorPayload{Code: code, Message: message})
	if err == nil {
		if data, merr := env.Marshal(); merr == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = sock.Write(ctx, websocket.MessageText, data)
			cancel()
		}
	}
	_ = sock.Close(websocket.StatusPolicyViolation, code)
}

// failBrowser surfaces a protocol violation and fails the connection, per
// the closed-set contract.
func (s *Server) failBrowser(conn *registry.Connection, sock *websocket.Conn, protoErr *events.ProtocolError) {
	env, err := events.NewEnvelope(events.TypeError, events.ErrorPayload{
		Code:    protoErr.Code,
		Message: protoErr.Message,
	})
	if err == nil {
		if data, merr := env.Marshal(); merr == nil {
			conn.Enqueue(data)
		}
	}
	// Give the write loop a moment to flush before the close.
	time.Sleep(50 * time.Millisecond)
	_ = sock.Close(websocket.StatusPolicyViolation, protoErr.Code)
}

func attachCloseStatus(err error) websocket.StatusCode {
	switch {
	case errors.Is(err, services.ErrUnauthorized), errors.Is(err, services.ErrForbidden):
		return websocket.StatusPolicyViolation
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrConflict):
		return websocket.StatusNormalClosure
	default:
		return websocket.StatusInternalError
	}
}

func bearerToken(c *echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
