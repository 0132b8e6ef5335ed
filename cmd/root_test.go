package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

// fakeService stands in for the application container so command tests
// never build browsers or bind sockets.
type fakeService struct {
	runErr    error
	searchErr error
	result    search.Result

	lastRequest search.Request
	ran         bool
	closed      bool
}

func (f *fakeService) Run(ctx context.Context) error {
	f.ran = true
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeService) Close(context.Context) { f.closed = true }

func (f *fakeService) Search(_ context.Context, req search.Request) (search.Result, error) {
	f.lastRequest = req
	return f.result, f.searchErr
}

func (f *fakeService) Logger() *zap.Logger { return zap.NewNop() }

// installFakeService swaps the factory for the duration of the test.
func installFakeService(t *testing.T, svc *fakeService, err error) {
	t.Helper()
	orig := newService
	newService = func(context.Context) (Service, error) {
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
	t.Cleanup(func() { newService = orig })
}

func executeCommand(ctx context.Context, args ...string) (string, error) {
	root := newRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestSearchCommandPrintsResult(t *testing.T) {
	svc := &fakeService{result: search.Result{
		Success:       true,
		Message:       "2 unique decisions found",
		UniqueResults: 2,
	}}
	installFakeService(t, svc, nil)

	out, err := executeCommand(context.Background(),
		"search", "--keywords", "tazminat,kira", "--max-results", "5")
	require.NoError(t, err)

	assert.Equal(t, []string{"tazminat", "kira"}, svc.lastRequest.Keywords)
	assert.Equal(t, 5, svc.lastRequest.MaxResults)
	assert.Contains(t, out, `"2 unique decisions found"`)
	assert.True(t, svc.closed, "service should be closed after the command")
}

func TestSearchCommandRequiresKeywords(t *testing.T) {
	installFakeService(t, &fakeService{}, nil)

	_, err := executeCommand(context.Background(), "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keywords")
}

func TestSearchCommandSurfacesEngineError(t *testing.T) {
	svc := &fakeService{searchErr: errors.New("portal offline")}
	installFakeService(t, svc, nil)

	_, err := executeCommand(context.Background(), "search", "-k", "tazminat")
	require.ErrorContains(t, err, "portal offline")
	assert.Equal(t, []string{"tazminat"}, svc.lastRequest.Keywords)
}

func TestServeCommandStopsWhenContextEnds(t *testing.T) {
	svc := &fakeService{}
	installFakeService(t, svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := executeCommand(ctx, "serve")
		done <- err
	}()
	cancel()

	require.NoError(t, <-done)
	assert.True(t, svc.ran)
	assert.True(t, svc.closed)
}

func TestServeCommandTreatsCancellationAsClean(t *testing.T) {
	svc := &fakeService{runErr: context.Canceled}
	installFakeService(t, svc, nil)

	_, err := executeCommand(context.Background(), "serve")
	require.NoError(t, err)
}

func TestRootFailsWhenServiceInitFails(t *testing.T) {
	installFakeService(t, nil, errors.New("bad config"))

	_, err := executeCommand(context.Background(), "serve")
	require.ErrorContains(t, err, "initialize application services")
}
