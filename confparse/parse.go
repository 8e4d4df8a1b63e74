// Package confparse reads the key=value record syntax shared by every DiGS
// *.conf file: mainnodelist.conf and digs.conf. (The node-status lists
// are plain one-name-per-line files read by package node directly.)
//
// Grounded on the original node/config parser's line-oriented model
// (config.c's configLine_t/configFile_t): each non-blank, non-comment line
// is a "name=value" pair; a file is a sequence of records, where a record
// ends at a blank line or at the reappearance of a designated primary key.
package confparse

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Entry is one key=value line, keeping its original order and line number
// so callers can log accurate warnings about unrecognized keys.
type Entry struct {
	Key   string
	Value string
	Line  int
}

// Record is an ordered set of Entry values read between record boundaries.
// Keys may repeat (e.g. "data0", "data1", ... or multiple "pfn" lines), so
// Record is a slice rather than a map.
type Record []Entry

// Get returns the value of the first entry with the given key.
func (r Record) Get(key string) (string, bool) {
	for _, e := range r {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// All returns the values of every entry with the given key, in order.
func (r Record) All(key string) []string {
	var values []string
	for _, e := range r {
		if e.Key == key {
			values = append(values, e.Value)
		}
	}
	return values
}

// WithPrefix returns every entry whose key starts with prefix, in order.
// Used for the node list's "dataN" disk-quota keys, where N is a decimal
// index not known ahead of time.
func (r Record) WithPrefix(prefix string) []Entry {
	var entries []Entry
	for _, e := range r {
		if strings.HasPrefix(e.Key, prefix) {
			entries = append(entries, e)
		}
	}
	return entries
}

// GetInt returns the first value for key parsed as an int, or def if the
// key is absent or unparsable.
func (r Record) GetInt(key string, def int) int {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetFloat returns the first value for key parsed as a float64, or def if
// the key is absent or unparsable. Timeouts are specified as floating-point
// seconds in mainnodelist.conf.
func (r Record) GetFloat(key string, def float64) float64 {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	var f float64
	if _, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &f); err != nil {
		return def
	}
	return f
}

// GetBool interprets "0"/"1" (the format used by the gpfs key) as bool.
func (r Record) GetBool(key string, def bool) bool {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v) == "1"
}

// ParseRecords splits r into records. A record ends at a blank line, or
// when primaryKey reappears (the node-list convention: a bare "node=..."
// line starts the next node without a separating blank line). Pass an
// empty primaryKey to rely on blank lines alone (used for the single-record
// grid configuration file).
func ParseRecords(r io.Reader, primaryKey string) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var records []Record
	var current Record
	lineNo := 0

	flush := func() {
		if len(current) > 0 {
			records = append(records, current)
			current = nil
		}
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimRight(line, " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}

		eq := strings.IndexByte(trimmed, '=')
		if eq < 0 {
			return nil, fmt.Errorf("confparse: line %d: missing '=' in %q", lineNo, trimmed)
		}
		key := strings.TrimSpace(trimmed[:eq])
		value := strings.TrimRight(trimmed[eq+1:], " \t")
		value = strings.TrimSpace(value)

		if primaryKey != "" && key == primaryKey && len(current) > 0 {
			flush()
		}
		current = append(current, Entry{Key: key, Value: value, Line: lineNo})
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
