package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	id := uuid.MustParse("6f1c1d0e-0000-4000-8000-000000000001")
	assert.Equal(t, "screenshots/6f1c1d0e-0000-4000-8000-000000000001/0-desktop.png", ScreenshotKey(id, 0, false, "png"))
	assert.Equal(t, "screenshots/6f1c1d0e-0000-4000-8000-000000000001/1-mobile.jpg", ScreenshotKey(id, 1, true, ExtensionFor("image/jpeg")))
	assert.Equal(t, "reports/6f1c1d0e-0000-4000-8000-000000000001.json", ReportKey(id))
	assert.Equal(t, "png", ExtensionFor("application/octet-stream"))
}

func TestMemoryUploader(t *testing.T) {
	m := NewMemoryUploader("http://cdn.local/")
	url, err := m.Upload(context.Background(), "reports/a.json", []byte(`{}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.local/reports/a.json", url)

	obj, ok := m.Get("reports/a.json")
	require.True(t, ok)
	assert.Equal(t, "application/json", obj.ContentType)
	assert.Equal(t, 1, m.Len())

	m.FailPrefix("screenshots/")
	_, err = m.Upload(context.Background(), "screenshots/x.png", nil, "image/png")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Upload(ctx, "reports/b.json", nil, "application/json")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestS3Config_Validate(t *testing.T) {
	assert.Error(t, S3Config{}.Validate())
	assert.Error(t, S3Config{Bucket: "b", AccessKeyID: "id"}.Validate())
	assert.NoError(t, S3Config{Bucket: "b"}.Validate())
}

func TestS3Uploader_URL(t *testing.T) {
	u := &S3Uploader{cfg: S3Config{Bucket: "audits"}, region: "eu-west-1"}
	assert.Equal(t, "https://audits.s3.eu-west-1.amazonaws.com/reports/a.json", u.URL("reports/a.json"))

	u.cfg.Endpoint = "http://minio:9000/"
	u.cfg.ForcePathStyle = true
	assert.Equal(t, "http://minio:9000/audits/reports/a.json", u.URL("reports/a.json"))

	u.cfg.PublicBaseURL = "https://cdn.example.com"
	assert.Equal(t, "https://cdn.example.com/reports/a.json", u.URL("reports/a.json"))
}

func TestS3Uploader_UploadPathStyle(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotType string
		gotBody []byte
		gotMeth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotMeth = r.Method
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := NewS3Uploader(context.Background(), S3Config{
		Bucket:          "audits",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	})
	require.NoError(t, err)

	url, err := u.Upload(context.Background(), "reports/job.json", []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/audits/reports/job.json", url)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, gotMeth)
	assert.Equal(t, "/audits/reports/job.json", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.Contains(t, string(gotBody), `{"ok":true}`)
}
