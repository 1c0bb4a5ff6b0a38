package daemon

import (
	"net"
	"os"
	"time"

	"github.com/grovetools/statesync/pkg/paths"
)

// New returns a RemoteClient when statesyncd answers on its socket,
// otherwise a LocalClient over the signal journal.
func New() Client {
	return NewAt(paths.SocketPath(), paths.JournalPath())
}

// NewAt is New with explicit socket and journal paths.
func NewAt(socketPath, journalPath string) Client {
	if _, err := os.Stat(socketPath); err == nil {
		// Socket file exists, try to connect
		conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			if client, err := NewRemoteClient(socketPath); err == nil {
				return client
			}
		}
	}

	// Fallback: daemon not running, use the journal directly
	return NewLocalClient(journalPath)
}
