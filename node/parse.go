package node

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/epcced/digs/confparse"
)

// requiredKeys are the mainnodelist.conf keys every record must carry.
var requiredKeys = []string{"node", "site", "path", "type"}

var warnedUnknownKeys = make(map[string]bool)

// ParseNodeList reads mainnodelist.conf-style records (one blank-line- or
// "node"-repeat-delimited record per SE, grounded on original_source's
// node.c/config.c) and returns the decoded Node table. A record missing any
// required key, or with no positive-quota disk, is rejected with an error
// naming the offending node where possible.
func ParseNodeList(r io.Reader) ([]Node, error) {
	records, err := confparse.ParseRecords(r, "node")
	if err != nil {
		return nil, fmt.Errorf("node: parse mainnodelist: %w", err)
	}
	nodes := make([]Node, 0, len(records))
	for _, rec := range records {
		n, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func decodeRecord(rec confparse.Record) (Node, error) {
	for _, key := range requiredKeys {
		if _, ok := rec.Get(key); !ok {
			return Node{}, fmt.Errorf("node record: missing required key %q", key)
		}
	}
	name, _ := rec.Get("node")
	site, _ := rec.Get("site")
	path, _ := rec.Get("path")
	typeStr, _ := rec.Get("type")

	n := Node{
		Name:       name,
		Site:       site,
		Path:       path,
		Type:       Type(strings.ToLower(typeStr)),
		Timeouts:   DefaultTimeouts(),
		Properties: make(map[string]string),
	}

	if inbox, ok := rec.Get("inbox"); ok {
		n.Inbox = inbox
	}
	if extraRSL, ok := rec.Get("extrarsl"); ok {
		n.ExtraRSL = extraRSL
	}
	if extraJSS, ok := rec.Get("extrajsscontact"); ok {
		n.ExtraJSSContact = extraJSS
	}
	n.GPFS = rec.GetBool("gpfs", false)

	if v := rec.GetFloat("jobtimeout", 0); v > 0 {
		n.Timeouts.Job = time.Duration(v * float64(time.Second))
	}
	if v := rec.GetFloat("ftptimeout", 0); v > 0 {
		n.Timeouts.FTP = time.Duration(v * float64(time.Second))
	}
	if v := rec.GetFloat("copytimeout", 0); v > 0 {
		n.Timeouts.Copy = time.Duration(v * float64(time.Second))
	}

	for _, e := range rec {
		if e.Key == "disk" {
			free, err := strconv.ParseInt(strings.TrimSpace(e.Value), 10, 64)
			if err != nil {
				return Node{}, fmt.Errorf("node %s: bad free space for key %q: %w", name, e.Key, err)
			}
			n.FreeSpaceKB = free
			continue
		}
		if strings.HasPrefix(e.Key, "data") {
			idx := diskIndex(e.Key)
			quota, err := strconv.ParseInt(strings.TrimSpace(e.Value), 10, 64)
			if err != nil {
				return Node{}, fmt.Errorf("node %s: bad quota for key %q: %w", name, e.Key, err)
			}
			n.Disks = append(n.Disks, Disk{Index: idx, QuotaKB: quota})
			continue
		}
		if isKnownKey(e.Key) {
			continue
		}
		n.Properties[e.Key] = e.Value
		if !warnedUnknownKeys[e.Key] {
			warnedUnknownKeys[e.Key] = true
			slog.Warn("node: unrecognized config key, stored in properties", "key", e.Key)
		}
	}

	if err := n.Validate(); err != nil {
		return Node{}, err
	}
	return n, nil
}

// diskIndex extracts N from "dataN"; plain "data" is index 0.
func diskIndex(key string) int {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(key, "data"), "disk")
	if trimmed == "" {
		return 0
	}
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0
	}
	return idx
}

func isKnownKey(key string) bool {
	switch key {
	case "node", "site", "path", "type", "inbox", "extrarsl", "extrajsscontact",
		"jobtimeout", "ftptimeout", "copytimeout", "gpfs":
		return true
	}
	return false
}
