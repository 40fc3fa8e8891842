package report

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedvolume/drift-detector/internal/config"
	"github.com/sharedvolume/drift-detector/internal/models"
)

func sampleReport() *models.SyncReport {
	gitSize, serverSize := int64(2048), int64(10)
	return &models.SyncReport{
		RunID:       "3f2a",
		ProjectID:   "shop",
		Commit:      "0123456789abcdef0123",
		GeneratedAt: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		Duration:    1500 * time.Millisecond,
		Results: []models.HostSyncResult{
			{
				HostID: "web1", HostLabel: "Web 1", Outcome: models.OutcomeOK,
				Diffs: []models.FileDiff{
					{RelativePath: "a.txt", RemoteRoot: "/srv", Status: models.StatusSynced, GitSize: &serverSize, ServerSize: &serverSize},
					{RelativePath: "b.txt", RemoteRoot: "/srv", Status: models.StatusModified, GitSize: &gitSize, ServerSize: &serverSize},
					{RelativePath: "c.txt", RemoteRoot: "/srv", Status: models.StatusAdded, GitSize: &gitSize},
				},
			},
			{HostID: "web2", HostLabel: "Web 2", Outcome: models.OutcomeError, ErrorMessage: "connect (timeout): dial timed out", Diffs: []models.FileDiff{}},
		},
		Summary: models.Summary{Hosts: 2, FailedHosts: 1, Synced: 1, Modified: 1, Added: 1},
	}
}

type fakeUploader struct {
	input *s3manager.UploadInput
	body  []byte
	err   error
}

func (f *fakeUploader) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), in, opts...)
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3manager.UploadOutput{Location: "https://bucket.example/" + aws.StringValue(in.Key)}, nil
}

func TestS3Publisher_Publish(t *testing.T) {
	up := &fakeUploader{}
	p := newS3Publisher("reports", "/drift/", up, nil)

	require.NoError(t, p.Publish(context.Background(), sampleReport()))
	assert.Equal(t, "reports", aws.StringValue(up.input.Bucket))
	assert.Equal(t, "drift/shop/20260301T123000Z-3f2a.json", aws.StringValue(up.input.Key))
	assert.Equal(t, "application/json", aws.StringValue(up.input.ContentType))

	var decoded models.SyncReport
	require.NoError(t, json.Unmarshal(up.body, &decoded))
	assert.Equal(t, "shop", decoded.ProjectID)
	assert.Len(t, decoded.Results, 2)
}

func TestS3Publisher_UploadError(t *testing.T) {
	p := newS3Publisher("reports", "", &fakeUploader{err: stderrors.New("access denied")}, nil)
	err := p.Publish(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://reports/shop/")
}

func TestWebhookPublisher(t *testing.T) {
	var got models.SyncReport
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, time.Second, nil)
	require.NoError(t, p.Publish(context.Background(), sampleReport()))
	assert.Equal(t, "shop", got.ProjectID)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "3f2a", header.Get("X-Drift-Run-Id"))
}

func TestWebhookPublisher_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookPublisher(srv.URL, time.Second, nil).Publish(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type countingPublisher struct {
	calls int
	err   error
}

func (c *countingPublisher) Name() string { return "counting" }

func (c *countingPublisher) Publish(context.Context, *models.SyncReport) error {
	c.calls++
	return c.err
}

func TestPublishAll_ContinuesAfterFailure(t *testing.T) {
	bad := &countingPublisher{err: stderrors.New("down")}
	good := &countingPublisher{}

	failed := PublishAll(context.Background(), []Publisher{bad, good}, sampleReport(), nil)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

func TestNewPublishers(t *testing.T) {
	pubs, err := NewPublishers(config.ReportConfig{}, nil)
	require.NoError(t, err)
	assert.Empty(t, pubs)

	pubs, err = NewPublishers(config.ReportConfig{WebhookURL: "http://127.0.0.1:1/hook"}, nil)
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "webhook", pubs[0].Name())
}

func TestObjectKey_UnnamedProject(t *testing.T) {
	r := sampleReport()
	r.ProjectID = ""
	assert.Equal(t, "unnamed/20260301T123000Z-3f2a.json", ObjectKey("", r))
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleReport(), false))
	out := buf.String()

	assert.Contains(t, out, "Project shop @ 0123456789ab (run 3f2a, 1.5s)")
	assert.Contains(t, out, "Web 1 [web1]\n")
	assert.Contains(t, out, "  M /srv/b.txt (git 2.0 KiB, host 10 B)\n")
	assert.Contains(t, out, "  + /srv/c.txt (2.0 KiB)\n")
	assert.NotContains(t, out, "/srv/a.txt")
	assert.Contains(t, out, "Web 2 [web2] ERROR: connect (timeout): dial timed out")
	assert.Contains(t, out, "Summary: 2 hosts (1 failed), 1 synced, 1 modified, 1 added, 0 deleted")

	buf.Reset()
	require.NoError(t, WriteText(&buf, sampleReport(), true))
	assert.Contains(t, buf.String(), "  = /srv/a.txt\n")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleReport()))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "shop", decoded["projectId"])
	results := decoded["results"].([]interface{})
	second := results[1].(map[string]interface{})
	assert.Equal(t, "error", second["outcome"])
	assert.Equal(t, []interface{}{}, second["diffs"])
}
