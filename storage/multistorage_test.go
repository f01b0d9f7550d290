package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/ruteri/attachment-store/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStorageBackend implements interfaces.StorageBackend for testing
type MockStorageBackend struct {
	mock.Mock
	name string
}

func (m *MockStorageBackend) Store(ctx context.Context, key interfaces.StorageKey, data io.Reader, opts interfaces.StoreOptions) error {
	args := m.Called(ctx, key, data, opts)
	return args.Error(0)
}

func (m *MockStorageBackend) Destroy(ctx context.Context, key interfaces.StorageKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorageBackend) FetchLocalCopy(ctx context.Context, key interfaces.StorageKey) (*os.File, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*os.File), args.Error(1)
}

func (m *MockStorageBackend) PublicURLFor(key interfaces.StorageKey, opts interfaces.URLOptions) string {
	return "/" + m.name + "/" + key.Join()
}

func (m *MockStorageBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return m.name
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock:" + m.name
}

var testKey = interfaces.KeyFor(12345, "my_photo.png")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// readsAll records what each Store call received.
func readsAll(into *[]string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		data, _ := io.ReadAll(args.Get(2).(io.Reader))
		*into = append(*into, string(data))
	}
}

func tempFileWith(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fetch-*.png")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	return f
}

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{
			name:     "all backends available",
			backends: []bool{true, true, true},
			expected: true,
		},
		{
			name:     "some backends available",
			backends: []bool{false, true, false},
			expected: true,
		},
		{
			name:     "no backends available",
			backends: []bool{false, false, false},
			expected: false,
		},
		{
			name:     "no backends",
			backends: []bool{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.StorageBackend
			for i, available := range tt.backends {
				mockStorage := &MockStorageBackend{name: fmt.Sprintf("mock-A%x", i)}
				mockStorage.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, mockStorage)
			}

			multi := NewMultiStorageBackend(backends, discardLogger())
			assert.Equal(t, tt.expected, multi.Available(context.Background()))

			for _, backend := range backends {
				backend.(*MockStorageBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_FetchLocalCopy(t *testing.T) {
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func(t *testing.T) []interfaces.StorageBackend
		expectedData  string
		expectedError bool
	}{
		{
			name: "first backend successful",
			setupMocks: func(t *testing.T) []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("FetchLocalCopy", mock.Anything, testKey).Return(tempFileWith(t, "from A"), nil)

				// Not consulted once the first one succeeds
				mock2 := &MockStorageBackend{name: "mock-B"}

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedData: "from A",
		},
		{
			name: "first backend fails, second succeeds",
			setupMocks: func(t *testing.T) []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("FetchLocalCopy", mock.Anything, testKey).Return(nil, testErr)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("FetchLocalCopy", mock.Anything, testKey).Return(tempFileWith(t, "from B"), nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedData: "from B",
		},
		{
			name: "all backends fail",
			setupMocks: func(t *testing.T) []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("FetchLocalCopy", mock.Anything, testKey).Return(nil, testErr)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("FetchLocalCopy", mock.Anything, testKey).Return(nil, interfaces.ErrContentNotFound)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedError: true,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func(t *testing.T) []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("FetchLocalCopy", mock.Anything, testKey).Return(tempFileWith(t, "from B"), nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedData: "from B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks(t)
			multi := NewMultiStorageBackend(backends, discardLogger())

			f, err := multi.FetchLocalCopy(context.Background(), testKey)

			if tt.expectedError {
				assert.Error(t, err)
				assert.Nil(t, f)
			} else {
				require.NoError(t, err)
				defer f.Close()
				data, err := io.ReadAll(f)
				require.NoError(t, err)
				assert.Equal(t, tt.expectedData, string(data))
			}

			for _, backend := range backends {
				backend.(*MockStorageBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_FetchLocalCopy_NoneAvailable(t *testing.T) {
	mock1 := &MockStorageBackend{name: "mock-A"}
	mock1.On("Available", mock.Anything).Return(false)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{mock1}, discardLogger())
	_, err := multi.FetchLocalCopy(context.Background(), testKey)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

func TestMultiStorageBackend_Store(t *testing.T) {
	testErr := errors.New("test error")
	opts := interfaces.StoreOptions{Public: true, ContentType: "image/png"}

	tests := []struct {
		name          string
		source        func() io.Reader
		setupMocks    func(received *[]string) []interfaces.StorageBackend
		expectedCalls int
		expectedError bool
	}{
		{
			name:   "all backends successful",
			source: func() io.Reader { return bytes.NewReader([]byte("test data")) },
			setupMocks: func(received *[]string) []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testKey, mock.Anything, opts).Run(readsAll(received)).Return(nil)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testKey, mock.Anything, opts).Run(readsAll(received)).Return(nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedCalls: 2,
		},
		{
			name:   "non-seekable source is replayed to every backend",
			source: func() io.Reader { return strings.NewReader("test data") },
			setupMocks: func(received *[]string) []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testKey, mock.Anything, opts).Run(readsAll(received)).Return(nil)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testKey, mock.Anything, opts).Run(readsAll(received)).Return(nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedCalls: 2,
		},
		{
			name:   "some backends fail",
			source: func() io.Reader { return bytes.NewReader([]byte("test data")) },
			setupMocks: func(received *[]string) []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testKey, mock.Anything, opts).Run(readsAll(received)).Return(nil)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testKey, mock.Anything, opts).Run(readsAll(received)).Return(testErr)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedCalls: 2,
		},
		{
			name:   "all backends fail",
			source: func() io.Reader { return bytes.NewReader([]byte("test data")) },
			setupMocks: func(received *[]string) []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testKey, mock.Anything, opts).Run(readsAll(received)).Return(testErr)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testKey, mock.Anything, opts).Run(readsAll(received)).Return(testErr)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedCalls: 2,
			expectedError: true,
		},
		{
			name:   "unavailable backends are skipped",
			source: func() io.Reader { return bytes.NewReader([]byte("test data")) },
			setupMocks: func(received *[]string) []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testKey, mock.Anything, opts).Run(readsAll(received)).Return(nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var received []string
			backends := tt.setupMocks(&received)
			multi := NewMultiStorageBackend(backends, discardLogger())

			err := multi.Store(context.Background(), testKey, tt.source(), opts)

			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			require.Len(t, received, tt.expectedCalls)
			for _, data := range received {
				assert.Equal(t, "test data", data)
			}

			for _, backend := range backends {
				backend.(*MockStorageBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Destroy(t *testing.T) {
	testErr := errors.New("test error")

	mock1 := &MockStorageBackend{name: "mock-A"}
	mock1.On("Destroy", mock.Anything, testKey).Return(nil)
	mock2 := &MockStorageBackend{name: "mock-B"}
	mock2.On("Destroy", mock.Anything, testKey).Return(testErr)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{mock1, mock2}, discardLogger())
	err := multi.Destroy(context.Background(), testKey)
	assert.ErrorIs(t, err, testErr)

	mock1.AssertExpectations(t)
	mock2.AssertExpectations(t)
}

func TestMultiStorageBackend_PublicURLFor(t *testing.T) {
	multi := NewMultiStorageBackend([]interfaces.StorageBackend{
		&MockStorageBackend{name: "mock-A"},
		&MockStorageBackend{name: "mock-B"},
	}, discardLogger())

	assert.Equal(t, "/mock-A/1/2345/my_photo.png", multi.PublicURLFor(testKey, interfaces.URLOptions{}))
	assert.Equal(t, "multi:[mock:mock-A,mock:mock-B]", multi.LocationURI())
	assert.Empty(t, NewMultiStorageBackend(nil, discardLogger()).PublicURLFor(testKey, interfaces.URLOptions{}))
}
