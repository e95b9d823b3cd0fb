package fetcher_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemirror/internal/fetcher"
)

// MockFetcher is a mock implementation of the Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(fetcher.Response), args.Error(1)
}

// MockRetryPolicy is a mock implementation of the RetryPolicy interface.
type MockRetryPolicy struct {
	mock.Mock
}

func (m *MockRetryPolicy) ShouldRetry(err error, attempt int) bool {
	args := m.Called(err, attempt)
	return args.Bool(0)
}

func (m *MockRetryPolicy) Backoff(attempt int) time.Duration {
	args := m.Called(attempt)
	return args.Get(0).(time.Duration)
}

func request(t *testing.T) fetcher.Request {
	t.Helper()
	u, err := url.Parse("https://example.test/")
	require.NoError(t, err)
	return fetcher.Request{Method: "GET", URI: u}
}

func TestWithRetry_RetriesTransportErrors(t *testing.T) {
	inner := new(MockFetcher)
	policy := new(MockRetryPolicy)
	req := request(t)
	boom := errors.New("connection refused")

	inner.On("Fetch", mock.Anything, req).Return(fetcher.Response{}, boom).Once()
	inner.On("Fetch", mock.Anything, req).Return(fetcher.Response{StatusCode: 200}, nil).Once()
	policy.On("ShouldRetry", boom, 1).Return(true)
	policy.On("Backoff", 1).Return(time.Duration(0))

	resp, err := fetcher.WithRetry(policy, nil)(inner).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	inner.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestWithRetry_RetryableStatus(t *testing.T) {
	inner := new(MockFetcher)
	policy := new(MockRetryPolicy)
	req := request(t)

	inner.On("Fetch", mock.Anything, req).Return(fetcher.Response{StatusCode: 503}, nil)
	policy.On("ShouldRetry", &fetcher.StatusError{StatusCode: 503}, 1).Return(true)
	policy.On("ShouldRetry", &fetcher.StatusError{StatusCode: 503}, 2).Return(false)
	policy.On("Backoff", 1).Return(time.Duration(0))

	resp, err := fetcher.WithRetry(policy, nil)(inner).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	inner.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestWithRetry_NoRetryOnSuccessOrNilPolicy(t *testing.T) {
	inner := new(MockFetcher)
	req := request(t)
	inner.On("Fetch", mock.Anything, req).Return(fetcher.Response{StatusCode: 404}, nil)

	policy := new(MockRetryPolicy)
	_, err := fetcher.WithRetry(policy, nil)(inner).Fetch(context.Background(), req)
	require.NoError(t, err)
	policy.AssertNotCalled(t, "ShouldRetry", mock.Anything, mock.Anything)

	wrapped := fetcher.WithRetry(nil, nil)(inner)
	_, err = wrapped.Fetch(context.Background(), req)
	require.NoError(t, err)
	inner.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestExponentialRetryPolicy(t *testing.T) {
	p := fetcher.NewExponentialRetryPolicy(3, 100*time.Millisecond, time.Second)

	assert.False(t, p.ShouldRetry(nil, 1))
	assert.True(t, p.ShouldRetry(errors.New("reset"), 1))
	assert.False(t, p.ShouldRetry(errors.New("reset"), 3))
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.True(t, p.ShouldRetry(&fetcher.StatusError{StatusCode: 429}, 2))

	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
