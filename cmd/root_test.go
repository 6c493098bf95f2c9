package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/cache"
	"github.com/JakeFAU/docverify/internal/classify"
	"github.com/JakeFAU/docverify/internal/config"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/storage/memory"
	"github.com/JakeFAU/docverify/internal/verify"
)

var contractText = strings.Repeat("This services agreement is made between the parties listed below. ", 4) +
	"Vendor: ACME Corp. Contract number C-2024-001."

type fakeAcquirer struct{}

func (fakeAcquirer) Acquire(_ context.Context, req document.FetchRequest) (document.Outcome, error) {
	if strings.Contains(req.URL, "missing") {
		rec := classify.Classify(classify.Signals{URL: req.URL, HTTPStatus: 404})
		return document.Outcome{Failure: &rec}, nil
	}
	return document.Outcome{Handle: &document.DocumentHandle{
		Key:         req.Key.String(),
		URL:         req.URL,
		Bytes:       []byte("%PDF-1.7\n"),
		ContentType: "application/pdf",
		SizeBytes:   9,
		Source:      document.SourceDirect,
	}}, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(context.Context, document.DocumentHandle) (string, error) {
	return contractText, nil
}

type fakeApp struct {
	svc    *verify.Service
	cache  *cache.Cache
	ran    atomic.Bool
	closed atomic.Bool
}

func (a *fakeApp) Service() *verify.Service { return a.svc }
func (a *fakeApp) Cache() *cache.Cache { return a.cache }
func (a *fakeApp) Close(context.Context) { a.closed.Store(true) }
func (a *fakeApp) Run(context.Context) error { a.ran.Store(true); return nil }

func newFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	svc, err := verify.New(verify.Deps{Acquirer: fakeAcquirer{}, Extractor: fakeExtractor{}})
	require.NoError(t, err)
	c, err := cache.New(memory.NewBlobStore(), cache.Options{MaxBytes: 1 << 20})
	require.NoError(t, err)
	return &fakeApp{svc: svc, cache: c}
}

func useApp(t *testing.T, app App, buildErr error) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, *config.Config, *zap.Logger) (App, error) {
		if buildErr != nil {
			return nil, buildErr
		}
		return app, nil
	}
	t.Cleanup(func() { newApp = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAcquireCommandWritesDocument(t *testing.T) {
	app := newFakeApp(t)
	useApp(t, app, nil)
	path := filepath.Join(t.TempDir(), "doc.pdf")

	out, err := execute(t, "acquire", "--sheet", "Contracts", "--row", "2", "--url", "https://files.example.com/a.pdf", "-o", path)
	require.NoError(t, err)

	var got acquireOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Handle)
	require.Equal(t, document.SourceDirect, got.Handle.Source)
	require.Equal(t, path, got.Saved)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7\n", string(data))
	require.True(t, app.closed.Load())
}

func TestAcquireCommandPrintsFailure(t *testing.T) {
	useApp(t, newFakeApp(t), nil)

	out, err := execute(t, "acquire", "--sheet", "Contracts", "--url", "https://files.example.com/missing.pdf")
	require.NoError(t, err)

	var got acquireOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Nil(t, got.Handle)
	require.Equal(t, document.CategoryNotFound, got.Failure.Category)
	require.NotEmpty(t, got.Guidance)
}

func TestAcquireCommandRequiresURL(t *testing.T) {
	useApp(t, newFakeApp(t), nil)

	_, err := execute(t, "acquire", "--sheet", "Contracts")
	require.ErrorContains(t, err, "url")
}

func TestVerifyCommand(t *testing.T) {
	useApp(t, newFakeApp(t), nil)

	out, err := execute(t, "verify", "--sheet", "Contracts", "--row", "2",
		"--url", "https://files.example.com/a.pdf",
		"--field", "Vendor=ACME Corp", "--field", "Contract Number=C-2024-001")
	require.NoError(t, err)

	var res verify.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Verdict)
	require.Equal(t, document.DecisionMatchable, res.Verdict.Decision)
	require.Equal(t, 2, res.Verdict.MatchedFieldCount)
}

func TestBatchCommand(t *testing.T) {
	useApp(t, newFakeApp(t), nil)

	f := excelize.NewFile()
	t.Cleanup(func() { _ = f.Close() })
	require.NoError(t, f.SetSheetName("Sheet1", "Contracts"))
	rows := [][]any{
		{"Vendor", "Link"},
		{"ACME Corp", "https://files.example.com/a.pdf"},
		{"Globex", "https://files.example.com/missing.pdf"},
	}
	for i, r := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Contracts", cellRef, &r))
	}
	path := filepath.Join(t.TempDir(), "contracts.xlsx")
	require.NoError(t, f.SaveAs(path))

	out, err := execute(t, "batch", path, "--url-column", "Link", "--concurrency", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	var first batchLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, 2, first.Row)
	require.Equal(t, document.SourceDirect, first.Source)

	var second batchLine
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, 3, second.Row)
	require.Equal(t, document.CategoryNotFound, second.Failure.Category)

	var summary map[string]verify.Summary
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &summary))
	require.Equal(t, 2, summary["summary"].Total)
	require.Equal(t, 1, summary["summary"].Failed)
}

func TestCacheCommands(t *testing.T) {
	app := newFakeApp(t)
	useApp(t, app, nil)
	ctx := context.Background()
	for _, row := range []int{2, 3} {
		key := document.NewCacheKey("Contracts", row, "https://files.example.com/a.pdf").String()
		require.NoError(t, app.cache.Put(ctx, document.CachedBlob{Key: key, Bytes: []byte("%PDF"), SizeBytes: 4}))
	}

	out, err := execute(t, "cache", "stats")
	require.NoError(t, err)
	require.JSONEq(t, `{"count":2,"total_bytes":8,"max_bytes":1048576}`, out)

	out, err = execute(t, "cache", "clear", "--sheet", "Contracts", "--row", "2")
	require.NoError(t, err)
	require.JSONEq(t, `{"removed":1}`, out)

	out, err = execute(t, "cache", "clear")
	require.NoError(t, err)
	require.JSONEq(t, `{"removed":1}`, out)
}

func TestServeCommandRunsApp(t *testing.T) {
	app := newFakeApp(t)
	useApp(t, app, nil)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	require.True(t, app.ran.Load())
	require.False(t, app.closed.Load())
}

func TestBuildErrorSurfaces(t *testing.T) {
	useApp(t, nil, errors.New("backend down"))

	_, err := execute(t, "cache", "stats")
	require.ErrorContains(t, err, "backend down")
}

func TestMissingConfigFile(t *testing.T) {
	useApp(t, newFakeApp(t), nil)

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "cache", "stats")
	require.ErrorContains(t, err, "read config")
}
