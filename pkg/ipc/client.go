package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// requestTimeout bounds one round trip from the caller's side.
const requestTimeout = 120 * time.Second

// ErrNoSocket reports that no host socket could be located.
var ErrNoSocket = errors.New("no ipc socket found")

// Client calls the host over its unix socket, one request per
// connection.
type Client struct {
	socket  string
	timeout time.Duration
}

// NewClient builds a client against an explicit socket path.
func NewClient(socket string) *Client {
	return &Client{socket: socket, timeout: requestTimeout}
}

// Dial locates the host socket and returns a client for it. The
// CLADE_IPC_SOCKET variable set by the host wins; without it the home
// directory is scanned for ipc-*.sock files.
func Dial() (*Client, error) {
	socket, err := FindSocket()
	if err != nil {
		return nil, err
	}
	return NewClient(socket), nil
}

// FindSocket resolves the host socket path: CLADE_IPC_SOCKET first,
// then the newest stat-verified ipc-*.sock under the clade home.
func FindSocket() (string, error) {
	if v := os.Getenv("CLADE_IPC_SOCKET"); v != "" {
		return v, nil
	}

	home := os.Getenv("CLADE_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoSocket, err)
		}
		home = filepath.Join(userHome, ".clade")
	}

	matches, err := filepath.Glob(filepath.Join(home, "ipc-*.sock"))
	if err != nil || len(matches) == 0 {
		return "", ErrNoSocket
	}
	// A stale socket from a dead host may linger; prefer the newest one
	// that is actually a socket.
	sort.Slice(matches, func(i, j int) bool {
		fi, _ := os.Stat(matches[i])
		fj, _ := os.Stat(matches[j])
		if fi == nil || fj == nil {
			return fj == nil
		}
		return fi.ModTime().After(fj.ModTime())
	})
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err == nil && fi.Mode()&os.ModeSocket != 0 {
			return m, nil
		}
	}
	return "", ErrNoSocket
}

// Call sends one request and waits for the reply. A reply with ok=false
// is returned alongside an error carrying its diagnostic.
func (c *Client) Call(req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", c.socket, c.timeout)
	if err != nil {
		return Response{}, fmt.Errorf("dial %s: %w", c.socket, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return Response{}, err
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", req.Type, err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read %s reply: %w", req.Type, err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s: %s", req.Type, resp.Error)
	}
	return resp, nil
}
