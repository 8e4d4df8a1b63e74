package globus

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
)

// fileOwner and fileGroup resolve a path's uid/gid to names via os/user,
// falling back to the numeric id when no passwd/group entry exists (common
// inside minimal containers).
func fileOwner(path string) (string, error) {
	uid, _, err := statOwnership(path)
	if err != nil {
		return "", err
	}
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		return u.Username, nil
	}
	return strconv.Itoa(uid), nil
}

func fileGroup(path string) (string, error) {
	_, gid, err := statOwnership(path)
	if err != nil {
		return "", err
	}
	if g, err := user.LookupGroupId(strconv.Itoa(gid)); err == nil {
		return g.Name, nil
	}
	return strconv.Itoa(gid), nil
}

func statOwnership(path string) (uid, gid int, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, fmt.Errorf("globus: ownership unavailable on this platform")
	}
	return int(st.Uid), int(st.Gid), nil
}

func setFileGroup(path, group string) error {
	gid, err := strconv.Atoi(group)
	if err != nil {
		g, gerr := user.LookupGroup(group)
		if gerr != nil {
			return fmt.Errorf("globus: unknown group %q: %w", group, gerr)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return err
		}
	}
	return os.Chown(path, -1, gid)
}
