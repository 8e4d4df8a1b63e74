package node

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Registry is the in-memory node table plus status-list membership. All
// mutation goes through the control thread (package control) so Registry
// itself only enforces the invariants and handles persistence; it does not
// serialize callers beyond the mutex needed for its own map.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]Node
	status *StatusLists
	dir    string
}

// NewRegistry creates an empty registry that persists its node list and
// status lists under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{
		nodes:  make(map[string]Node),
		status: NewStatusLists(dir),
		dir:    dir,
	}
}

// Load parses dir/mainnodelist.conf (if present) and every status list
// file, populating the registry. A missing mainnodelist.conf is not an
// error: a freshly bootstrapped grid starts with zero nodes.
func (r *Registry) Load() error {
	path := filepath.Join(r.dir, "mainnodelist.conf")
	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		// no nodes yet
	case err != nil:
		return fmt.Errorf("node: open %s: %w", path, err)
	default:
		defer f.Close()
		nodes, perr := ParseNodeList(f)
		if perr != nil {
			return perr
		}
		r.mu.Lock()
		for _, n := range nodes {
			r.nodes[n.Name] = n
		}
		r.mu.Unlock()
	}
	return r.status.Load()
}

// Get returns the node with the given name.
func (r *Registry) Get(name string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[name]
	return n, ok
}

// Add inserts a new node, rejecting a duplicate name (spec.md §3's
// uniqueness invariant) or a node that fails Validate.
func (r *Registry) Add(n Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[n.Name]; exists {
		return fmt.Errorf("node: %s already registered", n.Name)
	}
	r.nodes[n.Name] = n
	return r.persistLocked()
}

// Update replaces an existing node's record in place (e.g. when the
// reconciliation tick reparses mainnodelist.conf for fresh FreeSpaceKB).
func (r *Registry) Update(n Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[n.Name]; !exists {
		return fmt.Errorf("node: %s not registered", n.Name)
	}
	r.nodes[n.Name] = n
	return r.persistLocked()
}

// Remove deletes a node from the table and scrubs every status list entry
// for it, so a later node reusing the same name never inherits stale
// dead/disabled/retiring/preference membership.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	if _, exists := r.nodes[name]; !exists {
		r.mu.Unlock()
		return fmt.Errorf("node: %s not registered", name)
	}
	delete(r.nodes, name)
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.status.Remove(name)
}

// Status reports whether name carries the given status.
func (r *Registry) Status(kind StatusKind, name string) bool {
	return r.status.Is(kind, name)
}

// SetStatus adds or removes name from a status list.
func (r *Registry) SetStatus(kind StatusKind, name string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[name]; !exists {
		return fmt.Errorf("node: %s not registered", name)
	}
	return r.status.Set(kind, name, on)
}

// Snapshot is an immutable copy of the node table and status membership,
// safe to read without holding any lock. Callers that need a consistent
// view across multiple lookups (placement, the control thread's
// reconciliation tick) should take one Snapshot and work from it rather
// than calling Get/Status repeatedly against a registry that may mutate
// concurrently.
type Snapshot struct {
	Nodes  []Node
	status map[StatusKind]map[string]bool
}

// Is reports whether name carries the given status, from the snapshot's
// point-in-time view.
func (s Snapshot) Is(kind StatusKind, name string) bool {
	return s.status[kind][name]
}

// Eligible reports whether a node is usable for new placement decisions:
// not dead, not disabled, not retiring (spec.md §4.2).
func (s Snapshot) Eligible(name string) bool {
	return !s.Is(StatusDead, name) && !s.Is(StatusDisabled, name) && !s.Is(StatusRetiring, name)
}

// Snapshot takes a consistent, sorted-by-name copy of the registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	status := make(map[StatusKind]map[string]bool, len(r.status.members))
	for kind, m := range r.status.members {
		cp := make(map[string]bool, len(m))
		for name := range m {
			cp[name] = true
		}
		status[kind] = cp
	}
	return Snapshot{Nodes: nodes, status: status}
}

// persistLocked writes mainnodelist.conf via write-then-rename. Callers
// must hold r.mu.
func (r *Registry) persistLocked() error {
	path := filepath.Join(r.dir, "mainnodelist.conf")
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("node: create %s: %w", tmp, err)
	}

	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		n := r.nodes[name]
		fmt.Fprintf(f, "node=%s\n", n.Name)
		fmt.Fprintf(f, "site=%s\n", n.Site)
		fmt.Fprintf(f, "path=%s\n", n.Path)
		fmt.Fprintf(f, "type=%s\n", n.Type)
		if n.Inbox != "" {
			fmt.Fprintf(f, "inbox=%s\n", n.Inbox)
		}
		if n.FreeSpaceKB > 0 {
			fmt.Fprintf(f, "disk=%d\n", n.FreeSpaceKB)
		}
		for _, d := range n.Disks {
			fmt.Fprintf(f, "data%d=%d\n", d.Index, d.QuotaKB)
		}
		if n.ExtraRSL != "" {
			fmt.Fprintf(f, "extrarsl=%s\n", n.ExtraRSL)
		}
		if n.ExtraJSSContact != "" {
			fmt.Fprintf(f, "extrajsscontact=%s\n", n.ExtraJSSContact)
		}
		if n.GPFS {
			fmt.Fprintf(f, "gpfs=1\n")
		}
		for k, v := range n.Properties {
			fmt.Fprintf(f, "%s=%s\n", k, v)
		}
		fmt.Fprintln(f)
	}

	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
