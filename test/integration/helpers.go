package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ReplicaMesh/client"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Node represents a running ReplicaMesh node process.
type Node struct {
	id       string             // id is the node id passed with -id
	role     string             // role is primary, internal or leaf
	cmd      *exec.Cmd          // cmd is the running process
	httpAddr string             // httpAddr is the HTTP API address
	quicAddr string             // quicAddr is the QUIC network address
	dataDir  string             // dataDir is the node's data directory
	stdout   *safeBuffer        // stdout captures process output
	stderr   *safeBuffer        // stderr captures process errors
	cancel   context.CancelFunc // cancel stops the process
	client   *client.Client     // client talks to the node's API
}

// Client returns an API client for the node.
func (n *Node) Client() *client.Client { return n.client }

// IsRunning checks if the node process is alive and started successfully.
func (n *Node) IsRunning() bool {
	if n.cmd == nil || n.cmd.Process == nil {
		return false
	}

	if !strings.Contains(n.stdout.String(), "starting ReplicaMesh node") {
		return false
	}

	return n.cmd.ProcessState == nil
}

// LogContains checks if the node's logs contain a substring.
func (n *Node) LogContains(s string) bool {
	return strings.Contains(n.stdout.String(), s)
}

// Stop interrupts the node so it saves its state, then kills it if it
// has not exited within a few seconds.
func (n *Node) Stop() {
	if n.cmd != nil && n.cmd.Process != nil && n.cmd.ProcessState == nil {
		n.cmd.Process.Signal(os.Interrupt)

		deadline := time.Now().Add(5 * time.Second)
		for n.cmd.ProcessState == nil && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
	}

	if n.cancel != nil {
		n.cancel()
	}
}

// Cluster manages a tree of node processes.
type Cluster struct {
	t          *testing.T // t is the test context
	nodes      []*Node    // nodes is the list of running nodes
	binaryPath string     // binaryPath is the compiled node binary
	testDir    string     // testDir is the temporary directory for node data
	httpBase   int        // httpBase is the starting HTTP port
	quicBase   int        // quicBase is the starting QUIC port
}

// NewCluster builds the binary and registers cleanup. Nodes are added with Start.
func NewCluster(t *testing.T, httpBase, quicBase int) *Cluster {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	c := &Cluster{
		t:          t,
		binaryPath: buildBinary(t),
		testDir:    t.TempDir(),
		httpBase:   httpBase,
		quicBase:   quicBase,
	}

	t.Cleanup(c.Stop)

	return c
}

// Start launches a node with the given role below parent (nil for the primary).
func (c *Cluster) Start(id, role string, parent *Node, extra ...string) *Node {
	c.t.Helper()

	index := len(c.nodes)
	node := &Node{
		id:       id,
		role:     role,
		httpAddr: fmt.Sprintf("127.0.0.1:%d", c.httpBase+index),
		quicAddr: fmt.Sprintf("127.0.0.1:%d", c.quicBase+index),
		dataDir:  filepath.Join(c.testDir, id),
		stdout:   &safeBuffer{},
		stderr:   &safeBuffer{},
	}
	node.client = client.New(node.httpAddr)

	args := []string{
		"-id", id,
		"-role", role,
		"-data", node.dataDir,
		"-http", node.httpAddr,
		"-quic", node.quicAddr,
		"-key", filepath.Join(c.testDir, id+".key"),
		"-report-interval", "300ms",
		"-log-level", "debug",
	}

	if parent != nil {
		args = append(args, "-parent", parent.quicAddr)
	}

	args = append(args, extra...)

	ctx, cancel := context.WithCancel(context.Background())
	node.cancel = cancel

	node.cmd = exec.CommandContext(ctx, c.binaryPath, args...)
	node.cmd.Stdout = node.stdout
	node.cmd.Stderr = node.stderr

	if err := node.cmd.Start(); err != nil {
		c.t.Fatalf("start node %s: %v", id, err)
	}

	// Wait in background so ProcessState gets set when the process exits.
	go node.cmd.Wait()

	c.nodes = append(c.nodes, node)

	WaitForHealth(c.t, node, 15*time.Second)

	if parent != nil {
		WaitForLog(c.t, node, "parent connected", 15*time.Second)
	}

	return node
}

// Stop terminates every node.
func (c *Cluster) Stop() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

// WaitForHealth polls GET /health until the node answers.
func WaitForHealth(t *testing.T, n *Node, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if n.client.Health() == nil && n.IsRunning() {
			return
		}

		time.Sleep(200 * time.Millisecond)
	}

	t.Fatalf("node %s not healthy:\nSTDOUT:\n%s\nSTDERR:\n%s", n.id, n.stdout.String(), n.stderr.String())
}

// WaitForLog polls the node's output until it contains s.
func WaitForLog(t *testing.T, n *Node, s string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if n.LogContains(s) {
			return
		}

		time.Sleep(100 * time.Millisecond)
	}

	t.Fatalf("node %s never logged %q:\n%s", n.id, s, n.stdout.String())
}

// WaitForCount polls the holder view of id on n until version v reaches
// the wanted count.
func WaitForCount(t *testing.T, n *Node, id string, v, want uint64, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var last uint64

	for time.Now().Before(deadline) {
		info, err := n.client.Holder(id)
		if err == nil {
			last = info.Count(v)
			if last == want {
				return
			}
		}

		time.Sleep(200 * time.Millisecond)
	}

	t.Fatalf("version %d on %s: count %d, want %d", v, id, last, want)
}

// buildBinary compiles cmd/node into a temporary file.
func buildBinary(t *testing.T) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "replicamesh_test_*")
	if err != nil {
		t.Fatalf("create temp binary file: %v", err)
	}

	binary := tmpFile.Name()
	tmpFile.Close()

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/node")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	t.Cleanup(func() { os.Remove(binary) })

	return binary
}

// getProjectRoot returns the project root directory (containing go.mod).
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)

	return ""
}
