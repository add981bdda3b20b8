package proto

import (
	"fmt"
	"path/filepath"
)

// DefaultSocketDir is where rendezvous and unique socket files are created
// when a Server/Client is not given an explicit socket directory.
const DefaultSocketDir = "/tmp"

// DefaultDomain is the domain used when none is supplied to New.
const DefaultDomain = "default"

// RendezvousPath returns the path of the shared per-domain rendezvous
// socket: <dir>/IPC.io.<domain>.
func RendezvousPath(dir, domain string) string {
	return filepath.Join(dir, fmt.Sprintf("IPC.io.%s", domain))
}

// UniquePath returns the path of a client's transient unique socket:
// <rendezvousPath>.<uuid>.
func UniquePath(rendezvousPath, uuid string) string {
	return fmt.Sprintf("%s.%s", rendezvousPath, uuid)
}
