// Package memorycat is an in-memory catalog.Catalog, used by tests and by
// digsd's --standalone mode where no Cassandra cluster is available.
// Grounded on the teacher's in-memory store backend, restructured around
// the two-relation LFN/attribute model instead of a B-tree.
package memorycat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/epcced/digs"
	"github.com/epcced/digs/catalog"
)

// Catalog is a mutex-guarded in-memory implementation of catalog.Catalog.
type Catalog struct {
	mu         sync.RWMutex
	locations  map[string]map[string]bool   // lfn -> set of pfn
	attributes map[string]map[string]string // lfn -> key -> value
}

// New creates an empty in-memory catalog.
func New() *Catalog {
	return &Catalog{
		locations:  make(map[string]map[string]bool),
		attributes: make(map[string]map[string]string),
	}
}

func (c *Catalog) GetLocations(_ context.Context, lfn string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.locations[lfn]
	out := make([]string, 0, len(set))
	for pfn := range set {
		out = append(out, pfn)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Catalog) AddLocation(_ context.Context, lfn, pfn string) error {
	if err := digs.ValidateLFN(lfn); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locations[lfn] == nil {
		c.locations[lfn] = make(map[string]bool)
	}
	c.locations[lfn][pfn] = true
	return nil
}

func (c *Catalog) RemoveLocation(_ context.Context, lfn, pfn string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.locations[lfn]
	delete(set, pfn)
	if len(set) == 0 {
		delete(c.locations, lfn)
		delete(c.attributes, lfn)
	}
	return nil
}

func (c *Catalog) GetAttribute(_ context.Context, lfn, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	attrs, ok := c.attributes[lfn]
	if !ok {
		return digs.NullAttribute, nil
	}
	v, ok := attrs[key]
	if !ok || v == "" {
		return digs.NullAttribute, nil
	}
	return v, nil
}

func (c *Catalog) SetAttribute(_ context.Context, lfn, key, value string) error {
	if digs.IsNullAttribute(value) {
		return fmt.Errorf("catalog: %q is reserved and cannot be stored as an attribute value", digs.NullAttribute)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attributes[lfn] == nil {
		c.attributes[lfn] = make(map[string]string)
	}
	c.attributes[lfn][key] = value
	return nil
}

func (c *Catalog) ForEachFile(ctx context.Context, prefix string, visit catalog.FileVisitor) error {
	c.mu.RLock()
	lfns := make([]string, 0, len(c.locations))
	for lfn := range c.locations {
		if matchesPrefix(lfn, prefix) {
			lfns = append(lfns, lfn)
		}
	}
	c.mu.RUnlock()
	sort.Strings(lfns)

	it := &catalog.Iterator{}
	for _, lfn := range lfns {
		if err := visit(ctx, lfn, it); err != nil {
			return err
		}
		if it.Stop {
			return nil
		}
	}
	return nil
}

func (c *Catalog) GetAllAttributeValues(_ context.Context, key string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string)
	for lfn, attrs := range c.attributes {
		if v, ok := attrs[key]; ok {
			out[lfn] = v
		}
	}
	return out, nil
}

func matchesPrefix(lfn, prefix string) bool {
	if prefix == "" {
		return true
	}
	return lfn == prefix || strings.HasPrefix(lfn, prefix+"/")
}
