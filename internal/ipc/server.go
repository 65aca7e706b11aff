package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"callscribe/internal/daemon"
	"callscribe/internal/logging"
	"callscribe/internal/session"
)

// ServiceName is the JSON-RPC service the server registers.
const ServiceName = "Callscribe"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server
	svc       *service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		svc:       svc,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// OnShutdown registers fn to run after a Shutdown call stopped the daemon.
// It must be set before Serve.
func (s *Server) OnShutdown(fn func()) {
	s.svc.shutdown = fn
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	ctx      context.Context
	shutdown func()
}

func (s *service) Start(req StartRequest, resp *SessionResponse) error {
	sess, err := s.daemon.StartSession(s.ctx, req.Meeting, session.StartOptions{
		External:   req.External,
		Transcribe: req.Transcribe,
	})
	if err != nil {
		return err
	}
	resp.Session = sess
	return nil
}

func (s *service) Stop(req StopRequest, resp *SessionResponse) error {
	sess, err := s.daemon.StopSession(s.ctx, req.SessionID)
	if err != nil {
		return err
	}
	resp.Session = sess
	return nil
}

func (s *service) Pause(_ PauseRequest, resp *SessionResponse) error {
	sess, err := s.daemon.PauseCapture(s.ctx)
	if err != nil {
		return err
	}
	resp.Session = sess
	return nil
}

func (s *service) Resume(_ ResumeRequest, resp *SessionResponse) error {
	sess, err := s.daemon.ResumeCapture(s.ctx)
	if err != nil {
		return err
	}
	resp.Session = sess
	return nil
}

func (s *service) EnableTranscription(req TranscribeRequest, resp *SessionResponse) error {
	sess, err := s.daemon.EnableTranscription(s.ctx, req.SessionID)
	if err != nil {
		return err
	}
	resp.Session = sess
	return nil
}

func (s *service) CaptureSegment(req CaptureRequest, resp *CaptureResponse) error {
	seg, err := s.daemon.CaptureSegment(s.ctx, req)
	if err != nil {
		return err
	}
	resp.SessionID = seg.SessionID
	resp.Sequence = seg.Sequence
	resp.Bytes = seg.Size()
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) QueueStatus(_ QueueStatusRequest, resp *QueueStatusResponse) error {
	resp.Queue = s.daemon.Status(s.ctx).Queue
	return nil
}

func (s *service) QueueReset(_ QueueResetRequest, resp *QueueResetResponse) error {
	resp.Discarded = s.daemon.QueueReset(s.ctx)
	return nil
}

func (s *service) QueueResume(_ QueueResumeRequest, resp *QueueStatusResponse) error {
	resp.Queue = s.daemon.QueueResume(s.ctx)
	return nil
}

func (s *service) Sessions(req SessionsRequest, resp *SessionsResponse) error {
	sessions, err := s.daemon.Sessions(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Sessions = sessions
	return nil
}

func (s *service) Session(req SessionRequest, resp *SessionResponse) error {
	sess, err := s.daemon.Session(s.ctx, req.SessionID)
	if err != nil {
		return err
	}
	resp.Session = sess
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}
	resp.Events, resp.Next = s.daemon.Logs(req.Since, limit)
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.logger.Info("daemon shutdown requested", logging.String(logging.FieldEventType, "daemon_shutdown"))
	s.daemon.Stop()
	resp.Stopped = true
	if s.shutdown != nil {
		go s.shutdown()
	}
	return nil
}
