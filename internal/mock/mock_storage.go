// Package mock provides testify mocks for the storage and repository
// interfaces.
package mock

import (
	"bytes"
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a mock implementation of the Storage interface. Put records
// the uploaded bytes so tests can inspect them.
type MockStorage struct {
	mock.Mock
	Uploaded map[string][]byte
}

// Put mocks the Put method.
func (m *MockStorage) Put(ctx context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	args := m.Called(ctx, key, data)
	if args.Error(0) == nil {
		if m.Uploaded == nil {
			m.Uploaded = make(map[string][]byte)
		}
		m.Uploaded[key] = data
	}
	return args.Error(0)
}

// Get mocks the Get method.
func (m *MockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// Delete mocks the Delete method.
func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// Exists mocks the Exists method.
func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// URL mocks the URL method.
func (m *MockStorage) URL(key string) string {
	args := m.Called(key)
	if fn, ok := args.Get(0).(func(string) string); ok {
		return fn(key)
	}
	return args.String(0)
}

// ExpectPut sets up an expectation for Put of any content to key.
func (m *MockStorage) ExpectPut(key string, err error) *mock.Call {
	return m.On("Put", mock.Anything, key, mock.Anything).Return(err)
}

// ExpectAnyPut sets up an expectation for Put to any key.
func (m *MockStorage) ExpectAnyPut(err error) *mock.Call {
	return m.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(err)
}

// ExpectGet sets up an expectation for Get returning content.
func (m *MockStorage) ExpectGet(key string, content []byte, err error) *mock.Call {
	if err != nil {
		return m.On("Get", mock.Anything, key).Return(nil, err)
	}
	return m.On("Get", mock.Anything, key).Return(io.NopCloser(bytes.NewReader(content)), nil)
}

// ExpectURL sets up URL to echo keys under base.
func (m *MockStorage) ExpectURL(base string) *mock.Call {
	return m.On("URL", mock.Anything).Return(func(key string) string { return base + key })
}
