// Package coordinator implements cross-instance leader election: when a
// single stdio client spawns several broker processes in rapid succession
// for the same remote server, only one should run the interactive browser
// flow while the rest wait for tokens to land on disk.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/stacklok/mcp-remote-broker/pkg/authstore"
	"github.com/stacklok/mcp-remote-broker/pkg/logger"
)

// lockBlobName is the authstore blob name for the fingerprint's lockfile.
const lockBlobName = "lock.json"

// MaxLockAge is how long a lockfile remains valid after its timestamp.
const MaxLockAge = 30 * time.Minute

// SiblingProbeTimeout bounds the health probe against a candidate leader.
const SiblingProbeTimeout = 1 * time.Second

// Role is the outcome of leader election.
type Role int

const (
	// Leader must run the interactive browser flow and own the callback server.
	Leader Role = iota
	// Secondary must not prompt for authorization; it waits for the leader
	// and then reads tokens from disk.
	Secondary
)

// Lockfile is the on-disk leader-election record.
type Lockfile struct {
	PID         int   `json:"pid"`
	Port        int   `json:"port"`
	TimestampMS int64 `json:"timestamp_ms"`
}

// Election is the result of Elect.
type Election struct {
	Role Role

	// LeaderPort is set when Role == Secondary: the port of the leader's
	// callback server, to long-poll for completion.
	LeaderPort int

	// PlaceholderListener is set when Role == Secondary: a bound, otherwise
	// unused listener satisfying the lifecycle contract that every instance
	// claims some local port. Callers must Close it on exit.
	PlaceholderListener net.Listener
}

// Coordinator performs leader election for a single store.
type Coordinator struct {
	store  *authstore.Store
	probe  func(ctx context.Context, port int) (int, error) // overridable for tests
	lockMu sync.Mutex                                        // serializes Elect/BecomeLeader within this process
}

// New returns a Coordinator backed by store.
func New(store *authstore.Store) *Coordinator {
	c := &Coordinator{store: store}
	c.probe = c.httpProbe
	return c
}

// Elect determines whether this process is the leader or a secondary for
// fingerprint. On Windows the leader path is always taken (the platform's
// process-existence probe is unreliable there).
func (c *Coordinator) Elect(ctx context.Context, fingerprint string) (*Election, error) {
	if runtime.GOOS == "windows" {
		return &Election{Role: Leader}, nil
	}

	c.lockMu.Lock()
	defer c.lockMu.Unlock()

	lf, err := c.readLockfile(fingerprint)
	if err != nil {
		return nil, err
	}
	if lf == nil {
		return &Election{Role: Leader}, nil
	}

	if c.isValid(ctx, lf) {
		return c.becomeSecondary(lf)
	}

	logger.Debugf("coordinator: lockfile for %s invalid, removing", fingerprint)
	if err := c.store.Delete(fingerprint, lockBlobName); err != nil {
		return nil, fmt.Errorf("coordinator: remove stale lockfile: %w", err)
	}
	return &Election{Role: Leader}, nil
}

func (c *Coordinator) becomeSecondary(lf *Lockfile) (*Election, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("coordinator: secondary placeholder listener: %w", err)
	}
	time.Sleep(time.Second) // give the leader a moment to finish writing tokens before the first disk read
	return &Election{Role: Secondary, LeaderPort: lf.Port, PlaceholderListener: ln}, nil
}

// BecomeLeader persists the lockfile for fingerprint with this process's
// pid and callback-server port. Returns a Release func that removes the
// lockfile; callers must invoke it on every exit path (normal return,
// SIGINT handler, and fatal error).
func (c *Coordinator) BecomeLeader(fingerprint string, port int) (release func(), err error) {
	fileLock := flock.New(lockPathHint(c.store, fingerprint))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("coordinator: acquire flock: %w", err)
	}
	if !locked {
		// Another local goroutine/process won the race; proceed anyway —
		// only best-effort atomicity is required here.
		logger.Debugf("coordinator: flock for %s already held, proceeding without it", fingerprint)
	}

	lf := Lockfile{PID: os.Getpid(), Port: port, TimestampMS: nowMS()}
	if err := c.store.PutJSON(fingerprint, lockBlobName, lf); err != nil {
		if locked {
			_ = fileLock.Unlock()
		}
		return nil, fmt.Errorf("coordinator: write lockfile: %w", err)
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			if err := c.store.Delete(fingerprint, lockBlobName); err != nil {
				logger.Warnf("coordinator: failed to remove lockfile for %s: %v", fingerprint, err)
			}
			if locked {
				_ = fileLock.Unlock()
			}
		})
	}
	return release, nil
}

func (c *Coordinator) readLockfile(fingerprint string) (*Lockfile, error) {
	var lf Lockfile
	if err := c.store.GetJSON(fingerprint, lockBlobName, &lf); err != nil {
		if err == authstore.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("coordinator: read lockfile: %w", err)
	}
	return &lf, nil
}

func (c *Coordinator) isValid(ctx context.Context, lf *Lockfile) bool {
	if time.Since(msToTime(lf.TimestampMS)) >= MaxLockAge {
		return false
	}
	if !processExists(lf.PID) {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, SiblingProbeTimeout)
	defer cancel()
	status, err := c.probe(probeCtx, lf.Port)
	if err != nil {
		return false
	}
	return status == http.StatusOK || status == http.StatusAccepted
}

func (c *Coordinator) httpProbe(ctx context.Context, port int) (int, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/wait-for-auth?poll=false", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 checks existence
	// without affecting the target process.
	return proc.Signal(syscall.Signal(0)) == nil
}

func nowMS() int64                { return time.Now().UnixMilli() }
func msToTime(ms int64) time.Time { return time.UnixMilli(ms) }

func lockPathHint(store *authstore.Store, fingerprint string) string {
	return store.Dir() + "/" + fingerprint + "_" + lockBlobName + ".flock"
}
