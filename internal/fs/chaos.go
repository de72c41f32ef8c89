package fs

import (
	"io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
type ChaosConfig struct {
	ReadFailRate    float64 // Fail ReadFile and File.Read
	PartialReadRate float64 // Return short reads from File.Read
	WriteFailRate   float64 // Fail WriteFileAtomic and File.Write

	OpenFailRate    float64 // Fail Open/OpenFile
	RemoveFailRate  float64 // Fail Remove/RemoveAll
	RenameFailRate  float64 // Fail Rename
	LinkFailRate    float64 // Fail Link (forces the copy fallback)
	StatFailRate    float64 // Fail Stat/Exists
	ChtimesFailRate float64 // Fail Chtimes
	ReadDirFailRate float64 // Fail ReadDir entirely
	MkdirFailRate   float64 // Fail MkdirAll
}

// DefaultChaosConfig returns a config with reasonable fault rates for testing.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		ReadFailRate:    0.02,
		PartialReadRate: 0.02,
		WriteFailRate:   0.02,
		OpenFailRate:    0.02,
		RemoveFailRate:  0.02,
		RenameFailRate:  0.02,
		LinkFailRate:    0.05,
		StatFailRate:    0.01,
		ChtimesFailRate: 0.02,
		ReadDirFailRate: 0.02,
		MkdirFailRate:   0.01,
	}
}

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModePassthrough behaves like the underlying FS.
	ChaosModePassthrough ChaosMode = iota

	// ChaosModeInject enables fault-rate injection.
	ChaosModeInject
)

// Chaos wraps an [FS] and injects random failures for testing.
//
// Errors are reality-aware: ENOENT is only returned if the file really
// doesn't exist on the underlying filesystem, so code that treats
// "not exist" as a meaningful answer is not lied to.
//
// All injected errors are real OS errors (syscall.Errno wrapped in
// *fs.PathError), and [IsInjected] tells them apart from real failures.
//
// The zero mode is [ChaosModePassthrough]; use [Chaos.SetMode] to start
// injecting.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	mu  sync.Mutex
	rng *rand.Rand

	faults atomic.Int64
	byOp   sync.Map // map[string]*atomic.Int64
}

// NewChaos creates a new Chaos filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
func NewChaos(fs FS, seed int64, config ChaosConfig) *Chaos {
	return &Chaos{
		fs:     fs,
		rng:    rand.New(rand.NewSource(seed)),
		config: config,
	}
}

// SetMode updates Chaos behavior. Safe to call concurrently with operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// TotalFaults returns the total number of injected faults.
func (c *Chaos) TotalFaults() int64 {
	return c.faults.Load()
}

// Faults returns the number of faults injected for op ("open", "read",
// "write", "remove", "rename", "link", "stat", "chtimes", "readdir", "mkdir").
func (c *Chaos) Faults(op string) int64 {
	v, ok := c.byOp.Load(op)
	if !ok {
		return 0
	}

	counter, _ := v.(*atomic.Int64)

	return counter.Load()
}

func (c *Chaos) randFloat() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64()
}

func (c *Chaos) randIntn(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Intn(n)
}

// fault decides whether op on path fails, and if so returns the injected error.
func (c *Chaos) fault(op string, path string, rate float64) error {
	if ChaosMode(c.mode.Load()) != ChaosModeInject {
		return nil
	}

	if c.randFloat() >= rate {
		return nil
	}

	errno, err := c.pickError(op, path)
	if err != nil {
		return err
	}

	c.faults.Add(1)

	v, _ := c.byOp.LoadOrStore(op, new(atomic.Int64))
	counter, _ := v.(*atomic.Int64)
	counter.Add(1)

	pe := &fs.PathError{Op: op, Path: path, Err: errno}
	markInjectedPathError(pe)

	return pe
}

// pickError selects an error consistent with whether path really exists.
func (c *Chaos) pickError(op string, path string) (syscall.Errno, error) {
	var realExists bool

	switch op {
	case "open", "remove", "rename", "stat", "link", "chtimes":
		exists, err := c.fs.Exists(path)
		if err != nil {
			return 0, err
		}

		realExists = exists
	}

	var valid []syscall.Errno

	switch op {
	case "open":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EMFILE}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EACCES, syscall.EIO}
		}
	case "read":
		valid = []syscall.Errno{syscall.EIO, syscall.EINTR}
	case "write", "mkdir":
		valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EROFS}
	case "remove":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EBUSY}
		} else {
			valid = []syscall.Errno{syscall.ENOENT}
		}
	case "rename":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EXDEV}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EIO}
		}
	case "link":
		valid = []syscall.Errno{syscall.EXDEV, syscall.EMLINK, syscall.EPERM}
	case "stat", "chtimes":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EIO}
		}
	default:
		valid = []syscall.Errno{syscall.EIO}
	}

	return valid[c.randIntn(len(valid))], nil
}

// --- File Operations ---

func (c *Chaos) Open(path string) (File, error) {
	if err := c.fault("open", path, c.config.OpenFailRate); err != nil {
		return nil, err
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := c.fault("open", path, c.config.OpenFailRate); err != nil {
		return nil, err
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

// --- Convenience Methods ---

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if err := c.fault("read", path, c.config.ReadFailRate); err != nil {
		return nil, err
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := c.fault("write", path, c.config.WriteFailRate); err != nil {
		return err
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

// --- Directory Operations ---

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	if err := c.fault("readdir", path, c.config.ReadDirFailRate); err != nil {
		return nil, err
	}

	return c.fs.ReadDir(path)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if err := c.fault("mkdir", path, c.config.MkdirFailRate); err != nil {
		return err
	}

	return c.fs.MkdirAll(path, perm)
}

// --- Metadata ---

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if err := c.fault("stat", path, c.config.StatFailRate); err != nil {
		return nil, err
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if err := c.fault("stat", path, c.config.StatFailRate); err != nil {
		return false, err
	}

	return c.fs.Exists(path)
}

func (c *Chaos) Chtimes(path string, atime time.Time, mtime time.Time) error {
	if err := c.fault("chtimes", path, c.config.ChtimesFailRate); err != nil {
		return err
	}

	return c.fs.Chtimes(path, atime, mtime)
}

// --- Mutations ---

func (c *Chaos) Remove(path string) error {
	if err := c.fault("remove", path, c.config.RemoveFailRate); err != nil {
		return err
	}

	return c.fs.Remove(path)
}

func (c *Chaos) RemoveAll(path string) error {
	if err := c.fault("remove", path, c.config.RemoveFailRate); err != nil {
		return err
	}

	return c.fs.RemoveAll(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if err := c.fault("rename", oldpath, c.config.RenameFailRate); err != nil {
		return err
	}

	return c.fs.Rename(oldpath, newpath)
}

func (c *Chaos) Link(oldname, newname string) error {
	if err := c.fault("link", oldname, c.config.LinkFailRate); err != nil {
		return err
	}

	return c.fs.Link(oldname, newname)
}

// --- chaosFile wraps a File and injects faults on Read/Write ---

type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

func (cf *chaosFile) Read(p []byte) (int, error) {
	if err := cf.chaos.fault("read", cf.path, cf.chaos.config.ReadFailRate); err != nil {
		return 0, err
	}

	// Partial read must limit the underlying read, otherwise the file offset
	// advances too far and callers silently lose data.
	if ChaosMode(cf.chaos.mode.Load()) == ChaosModeInject && len(p) > 1 &&
		cf.chaos.randFloat() < cf.chaos.config.PartialReadRate {
		cutoff := cf.chaos.randIntn(len(p)-1) + 1

		return cf.f.Read(p[:cutoff])
	}

	return cf.f.Read(p)
}

func (cf *chaosFile) Write(p []byte) (int, error) {
	if err := cf.chaos.fault("write", cf.path, cf.chaos.config.WriteFailRate); err != nil {
		return 0, err
	}

	return cf.f.Write(p)
}

func (cf *chaosFile) Close() error {
	return cf.f.Close()
}

func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) {
	return cf.f.Seek(offset, whence)
}

func (cf *chaosFile) Fd() uintptr {
	return cf.f.Fd()
}

func (cf *chaosFile) Stat() (os.FileInfo, error) {
	return cf.f.Stat()
}

func (cf *chaosFile) Sync() error {
	return cf.f.Sync()
}

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)
