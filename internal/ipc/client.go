package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"callscribe/internal/session"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

func (c *Client) sessionCall(method string, req any) (*session.Session, error) {
	var resp SessionResponse
	if err := c.call(method, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Session, nil
}

// Start registers meeting and starts recording it.
func (c *Client) Start(req StartRequest) (*session.Session, error) {
	return c.sessionCall("Start", req)
}

// Stop stops sessionID, or the active session when it is empty.
func (c *Client) Stop(sessionID string) (*session.Session, error) {
	return c.sessionCall("Stop", StopRequest{SessionID: sessionID})
}

// Pause pauses local capture on the active session.
func (c *Client) Pause() (*session.Session, error) {
	return c.sessionCall("Pause", PauseRequest{})
}

// Resume resumes local capture on the active session.
func (c *Client) Resume() (*session.Session, error) {
	return c.sessionCall("Resume", ResumeRequest{})
}

// EnableTranscription switches sessionID, or the active session, to
// transcribing.
func (c *Client) EnableTranscription(sessionID string) (*session.Session, error) {
	return c.sessionCall("EnableTranscription", TranscribeRequest{SessionID: sessionID})
}

// Session fetches one session.
func (c *Client) Session(sessionID string) (*session.Session, error) {
	return c.sessionCall("Session", SessionRequest{SessionID: sessionID})
}

// CaptureSegment submits an externally captured segment.
func (c *Client) CaptureSegment(req CaptureRequest) (*CaptureResponse, error) {
	var resp CaptureResponse
	if err := c.call("CaptureSegment", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueStatus retrieves the segment queue snapshot.
func (c *Client) QueueStatus() (*QueueStatusResponse, error) {
	var resp QueueStatusResponse
	if err := c.call("QueueStatus", QueueStatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueReset empties the queue and clears a pause.
func (c *Client) QueueReset() (*QueueResetResponse, error) {
	var resp QueueResetResponse
	if err := c.call("QueueReset", QueueResetRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueResume clears a pause and keeps pending segments.
func (c *Client) QueueResume() (*QueueStatusResponse, error) {
	var resp QueueStatusResponse
	if err := c.call("QueueResume", QueueResumeRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions lists recent sessions.
func (c *Client) Sessions(limit int) (*SessionsResponse, error) {
	var resp SessionsResponse
	if err := c.call("Sessions", SessionsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail fetches log events after since.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.call("LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification sends a test notification.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown stops the daemon process.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.call("Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
