package transfer

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/util"
)

func hookRunner(t *testing.T) (*HookRunner, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	p := &util.SafePrinter{}
	p.SetOutput(&out)
	return &HookRunner{Root: t.TempDir(), Printer: p}, &out
}

func TestLogHookPrintsMessage(t *testing.T) {
	r, out := hookRunner(t)

	_, err := r.Run(context.Background(), []config.HookSpec{
		{Type: "log", Message: "maintenance mode on"},
	}, HookEnv{Target: "staging", Phase: "prepare"})

	require.NoError(t, err)
	assert.Contains(t, out.String(), "maintenance mode on")
}

func TestScriptHookSeesOperationEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix shell")
	}
	r, _ := hookRunner(t)
	capture := filepath.Join(t.TempDir(), "env.txt")

	_, err := r.Run(context.Background(), []config.HookSpec{
		{Type: "script", Command: `printf '%s|%s|%s\n' "$DEPLOY_TARGET" "$DEPLOY_OPERATION" "$DEPLOY_PHASE" > ` + capture},
	}, HookEnv{Target: "staging", Operation: "deploy", Phase: "before", Files: []string{"a.txt"}})

	require.NoError(t, err)
	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, "staging|deploy|before\n", string(data))
}

func TestScriptHookFailureCarriesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix shell")
	}
	r, _ := hookRunner(t)

	_, err := r.Run(context.Background(), []config.HookSpec{
		{Type: "script", Command: `echo "db migration refused"; exit 3`},
	}, HookEnv{Target: "staging", Phase: "prepare"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db migration refused")
	assert.Contains(t, err.Error(), "prepare hook 1")
}

func TestIgnoreErrorsContinuesTheList(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix shell")
	}
	r, out := hookRunner(t)

	res, err := r.Run(context.Background(), []config.HookSpec{
		{Type: "script", Command: "exit 1", IgnoreErrors: true},
		{Type: "log", Message: "still here"},
	}, HookEnv{Phase: "before"})

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Contains(t, out.String(), "still here")
}

func TestWaitHookHonorsCancellation(t *testing.T) {
	r, _ := hookRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, []config.HookSpec{
		{Type: "wait", Duration: config.Duration(5 * time.Second)},
	}, HookEnv{Phase: "after"})

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPHookPostsBody(t *testing.T) {
	var gotMethod, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotMethod = req.Method
		gotType = req.Header.Get("Content-Type")
		b := make([]byte, req.ContentLength)
		req.Body.Read(b)
		gotBody = string(b)
	}))
	defer srv.Close()

	r, _ := hookRunner(t)
	_, err := r.Run(context.Background(), []config.HookSpec{
		{Type: "http", URL: srv.URL, Body: `{"deployed":true}`},
	}, HookEnv{Phase: "after"})

	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, `{"deployed":true}`, gotBody)
}

func TestHTTPHookRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	r, _ := hookRunner(t)
	_, err := r.Run(context.Background(), []config.HookSpec{
		{Type: "http", URL: srv.URL},
	}, HookEnv{Phase: "after"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestReloadFilesFlagPropagates(t *testing.T) {
	r, _ := hookRunner(t)

	res, err := r.Run(context.Background(), []config.HookSpec{
		{Type: "log", Message: "generating assets", ReloadFiles: true},
	}, HookEnv{Phase: "prepare"})

	require.NoError(t, err)
	assert.True(t, res.ReloadFiles)
}

func TestUnknownHookTypeFails(t *testing.T) {
	r, _ := hookRunner(t)

	_, err := r.Run(context.Background(), []config.HookSpec{
		{Type: "carrier-pigeon"},
	}, HookEnv{Phase: "prepare"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}
