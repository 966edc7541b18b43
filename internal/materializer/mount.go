package materializer

import "os"

// Mount is the filesystem collaborator backing the storage providers. Once a
// provider item is ready its files eventually appear under Root; propagation
// delay is expected and handled by retry, not treated as an error.
type Mount interface {
	Root() string
	Available() bool
}

// DirMount is a Mount over a local directory (e.g. a rclone/zurg mountpoint)
type DirMount struct {
	root string
}

// NewDirMount creates a mount rooted at path
func NewDirMount(path string) *DirMount {
	return &DirMount{root: path}
}

// Root returns the mount root path
func (m *DirMount) Root() string { return m.root }

// Available reports whether the mountpoint is currently reachable and
// populated. An empty directory means the remote is not mounted.
func (m *DirMount) Available() bool {
	f, err := os.Open(m.root)
	if err != nil {
		return false
	}
	defer f.Close()

	names, err := f.Readdirnames(1)
	return err == nil && len(names) > 0
}
