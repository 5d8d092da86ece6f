package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	ws "github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsrpc "github.com/sourcegraph/jsonrpc2/websocket"
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/command"
)

// rpcParams are the optional parameters of every RPC method.
type rpcParams struct {
	CameraID string `json:"camera_id"`
}

var rpcUpgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleRPC serves JSON-RPC 2.0 over a websocket. Method names are command
// kinds; the result is the same Response the HTTP transport returns.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	sess := s.auth.Session(r)
	if !sess.Authorized {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := rpcUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("RPC websocket upgrade failed", zap.Error(err))
		return
	}

	handler := jsonrpc2.HandlerWithError(func(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
		return s.handleRPCRequest(ctx, sess, req)
	})
	rpcConn := jsonrpc2.NewConn(s.ctx, wsrpc.NewObjectStream(conn), jsonrpc2.AsyncHandler(handler))
	s.rpc.add(rpcConn)
	defer s.rpc.remove(rpcConn)

	s.logger.Info("RPC client connected", zap.String("device", sess.DeviceID), zap.String("remote_addr", r.RemoteAddr))
	<-rpcConn.DisconnectNotify()
	s.logger.Info("RPC client disconnected", zap.String("device", sess.DeviceID))
}

func (s *Server) handleRPCRequest(ctx context.Context, sess command.Session, req *jsonrpc2.Request) (interface{}, error) {
	var params rpcParams
	if req.Params != nil {
		if err := json.Unmarshal(*req.Params, &params); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
	}

	cmd, err := command.Parse(req.Method, params.CameraID, s.deps.DefaultCamera)
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: err.Error()}
	case err != nil:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}

	resp := s.deps.Dispatcher.Dispatch(ctx, sess, cmd)
	if req.Notif {
		return nil, nil
	}
	return resp, nil
}

// rpcConns tracks open RPC connections so shutdown can close them.
type rpcConns struct {
	mu    sync.Mutex
	conns map[*jsonrpc2.Conn]struct{}
}

func newRPCConns() *rpcConns {
	return &rpcConns{conns: make(map[*jsonrpc2.Conn]struct{})}
}

func (c *rpcConns) add(conn *jsonrpc2.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn] = struct{}{}
}

func (c *rpcConns) remove(conn *jsonrpc2.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn)
}

func (c *rpcConns) closeAll() {
	c.mu.Lock()
	conns := make([]*jsonrpc2.Conn, 0, len(c.conns))
	for conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn.Close() //nolint:errcheck
	}
}
