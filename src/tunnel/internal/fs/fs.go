package fs

import (
	"os"

	"go.uber.org/fx"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// TunnelFS will wrap the filesystem operations used by the tunnel daemon.
type TunnelFS interface {
	UserHomeDir() (string, error)
	UserCacheDir() (string, error)
	MkdirAll(path string) error
	FileExists(path string) (bool, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data string) error
	Remove(name string) error
}

type fsImpl struct{}

// New creates a new TunnelFS.
func New() TunnelFS {
	return fsImpl{}
}

// UserHomeDir returns the user's home directory.
func (fsImpl) UserHomeDir() (string, error) { return os.UserHomeDir() }

// UserCacheDir returns the user's cache directory.
func (fsImpl) UserCacheDir() (string, error) { return os.UserCacheDir() }

// MkdirAll creates a directory and all its parents.
func (fsImpl) MkdirAll(path string) error { return os.MkdirAll(path, os.ModePerm) }

func (fsImpl) FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (fsImpl) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (fsImpl) WriteFile(name string, data string) error {
	return os.WriteFile(name, []byte(data), 0644)
}

func (fsImpl) Remove(name string) error {
	return os.Remove(name)
}
