// Package mocks holds testify mocks shared by the package tests.
package mocks

import (
	"os"

	"github.com/stretchr/testify/mock"

	"github.com/lc/dnscacher/internal/filesys"
)

var _ filesys.FileOps = (*MockFileOps)(nil)

// MockFileOps is a testify mock of filesys.FileOps, the surface the mapping
// store and filesys.AtomicWrite write through.
type MockFileOps struct {
	mock.Mock
}

func fileResult(args mock.Arguments) (*os.File, error) {
	f, _ := args.Get(0).(*os.File)
	return f, args.Error(1)
}

// Open mocks the Open method.
func (m *MockFileOps) Open(p string) (*os.File, error) {
	return fileResult(m.Called(p))
}

// OpenFile mocks the OpenFile method.
func (m *MockFileOps) OpenFile(p string, flag int, mode os.FileMode) (*os.File, error) {
	return fileResult(m.Called(p, flag, mode))
}

// CreateTemp mocks the CreateTemp method.
func (m *MockFileOps) CreateTemp(dir, pattern string) (*os.File, error) {
	return fileResult(m.Called(dir, pattern))
}

// ReadFile mocks the ReadFile method.
func (m *MockFileOps) ReadFile(p string) ([]byte, error) {
	args := m.Called(p)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

// MkdirAll mocks the MkdirAll method.
func (m *MockFileOps) MkdirAll(p string, mode os.FileMode) error {
	return m.Called(p, mode).Error(0)
}

// Rename mocks the Rename method.
func (m *MockFileOps) Rename(oldPath, newPath string) error {
	return m.Called(oldPath, newPath).Error(0)
}

// Remove mocks the Remove method.
func (m *MockFileOps) Remove(p string) error {
	return m.Called(p).Error(0)
}

// Chmod mocks the Chmod method.
func (m *MockFileOps) Chmod(p string, mode os.FileMode) error {
	return m.Called(p, mode).Error(0)
}
