package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/epcced/digs"
	"github.com/epcced/digs/catalog/memorycat"
	"github.com/epcced/digs/control"
)

// parsedCommand bundles a command's name (for logging) with a closure
// that runs it against control.Deps once the control thread's single
// writer goroutine picks it up.
type parsedCommand struct {
	name string
	run  func(ctx context.Context, d *control.Deps) error
}

// parseCommand turns one ASCII "verb arg1 arg2 ..." line from the command
// transport into a parsedCommand bound to the calling peer's identity,
// per spec.md §4.8's "verb plus arguments" COMMAND payload.
func parseCommand(peer, line string, cfg digs.Configuration) (parsedCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return parsedCommand{}, fmt.Errorf("digsd: empty command")
	}
	verb, args := fields[0], fields[1:]

	switch verb {
	case "lock":
		if len(args) != 1 {
			return parsedCommand{}, fmt.Errorf("digsd: lock requires exactly 1 argument")
		}
		lfn := args[0]
		return parsedCommand{name: "lock", run: func(ctx context.Context, d *control.Deps) error {
			return d.Lock(ctx, lfn, peer, cfg.AdminList)
		}}, nil

	case "unlock":
		if len(args) != 1 {
			return parsedCommand{}, fmt.Errorf("digsd: unlock requires exactly 1 argument")
		}
		lfn := args[0]
		return parsedCommand{name: "unlock", run: func(ctx context.Context, d *control.Deps) error {
			return d.Unlock(ctx, lfn, peer, cfg.AdminList)
		}}, nil

	case "lockdir":
		if len(args) != 1 {
			return parsedCommand{}, fmt.Errorf("digsd: lockdir requires exactly 1 argument")
		}
		dir := args[0]
		return parsedCommand{name: "lockdir", run: func(ctx context.Context, d *control.Deps) error {
			return d.LockDir(ctx, dir, peer, cfg.AdminList)
		}}, nil

	case "unlockdir":
		if len(args) != 1 {
			return parsedCommand{}, fmt.Errorf("digsd: unlockdir requires exactly 1 argument")
		}
		dir := args[0]
		return parsedCommand{name: "unlockdir", run: func(ctx context.Context, d *control.Deps) error {
			return d.UnlockDir(ctx, dir, peer, cfg.AdminList)
		}}, nil

	case "replcount":
		if len(args) != 2 {
			return parsedCommand{}, fmt.Errorf("digsd: replcount requires lfn and n")
		}
		lfn := args[0]
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return parsedCommand{}, fmt.Errorf("digsd: replcount: invalid n %q", args[1])
		}
		return parsedCommand{name: "replcount", run: func(ctx context.Context, d *control.Deps) error {
			return d.ReplCount(ctx, lfn, n)
		}}, nil

	case "replcountdir":
		if len(args) != 2 {
			return parsedCommand{}, fmt.Errorf("digsd: replcountdir requires dir and n")
		}
		dir := args[0]
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return parsedCommand{}, fmt.Errorf("digsd: replcountdir: invalid n %q", args[1])
		}
		return parsedCommand{name: "replcountdir", run: func(ctx context.Context, d *control.Deps) error {
			return d.ReplCountDir(ctx, dir, n)
		}}, nil

	case "remove":
		if len(args) != 1 {
			return parsedCommand{}, fmt.Errorf("digsd: remove requires exactly 1 argument")
		}
		lfn := args[0]
		return parsedCommand{name: "remove", run: func(ctx context.Context, d *control.Deps) error {
			return d.Remove(ctx, lfn)
		}}, nil

	case "retire":
		if len(args) != 1 {
			return parsedCommand{}, fmt.Errorf("digsd: retire requires exactly 1 argument")
		}
		host := args[0]
		return parsedCommand{name: "retire", run: func(_ context.Context, d *control.Deps) error {
			return d.Retire(host)
		}}, nil

	case "unretire":
		if len(args) != 1 {
			return parsedCommand{}, fmt.Errorf("digsd: unretire requires exactly 1 argument")
		}
		host := args[0]
		return parsedCommand{name: "unretire", run: func(_ context.Context, d *control.Deps) error {
			return d.Unretire(host)
		}}, nil

	case "touch":
		if len(args) != 1 {
			return parsedCommand{}, fmt.Errorf("digsd: touch requires exactly 1 argument")
		}
		lfn := args[0]
		return parsedCommand{name: "touch", run: func(ctx context.Context, d *control.Deps) error {
			return d.Touch(ctx, lfn, time.Now().UTC().Format(time.RFC3339))
		}}, nil

	default:
		return parsedCommand{}, fmt.Errorf("digsd: unrecognized command %q", verb)
	}
}

// memoryCatalogFallback backs -standalone mode, where no Cassandra/Redis
// is available; useful for local smoke tests of the transport and control
// thread wiring.
func memoryCatalogFallback() *memorycat.Catalog {
	return memorycat.New()
}
