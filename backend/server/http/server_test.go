package http

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	buildDir := t.TempDir()
	uploadDir := filepath.Join(t.TempDir(), "upload")
	writeFile(t, filepath.Join(buildDir, "index.html"), "<html>app</html>")
	writeFile(t, filepath.Join(buildDir, "main.js"), "console.log('app')")

	logger := zerolog.Nop()
	srv := NewServer(Config{
		Logger:     &logger,
		ListenAddr: ":0",
		BuildDir:   buildDir,
		UploadDir:  uploadDir,
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, uploadDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func uploadFile(t *testing.T, ts *httptest.Server, name, content string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		t.Fatalf("write name field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", "original.bin")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err = io.WriteString(fw, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err = mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post upload: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_UploadDownloadRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := uploadFile(t, ts, "report.pdf", "pdf-bytes")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != `{"state":true}` {
		t.Fatalf("upload response = %d %s", resp.StatusCode, body)
	}

	dl, err := http.Get(ts.URL + "/download?uploaded=report.pdf&name=copy.pdf")
	if err != nil {
		t.Fatalf("get download: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", dl.StatusCode)
	}
	if got, _ := io.ReadAll(dl.Body); string(got) != "pdf-bytes" {
		t.Fatalf("download body = %s", got)
	}
	if cd := dl.Header.Get("Content-Disposition"); !strings.Contains(cd, "copy.pdf") {
		t.Fatalf("content disposition = %q", cd)
	}
}

func TestServer_UploadWithoutFile(t *testing.T) {
	ts, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", "nothing.txt"); err != nil {
		t.Fatalf("write name field: %v", err)
	}
	_ = mw.Close()

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post upload: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"state":false}` {
		t.Fatalf("upload response = %s", body)
	}
}

func TestServer_UploadNameCannotEscapeDir(t *testing.T) {
	ts, uploadDir := newTestServer(t)

	resp := uploadFile(t, ts, "../../evil.sh", "#!/bin/sh")
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"state":true}` {
		t.Fatalf("upload response = %s", body)
	}

	if _, err := os.Stat(filepath.Join(uploadDir, "evil.sh")); err != nil {
		t.Fatalf("upload should be stored under its base name: %v", err)
	}
	if _, err := os.Stat(filepath.Join(uploadDir, "..", "..", "evil.sh")); err == nil {
		t.Fatalf("upload escaped the upload dir")
	}
}

func TestServer_DownloadMissingFile(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/download?uploaded=ghost.bin")
	if err != nil {
		t.Fatalf("get download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_StaticWithSPAFallback(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/main.js")
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	defer resp.Body.Close()
	if got, _ := io.ReadAll(resp.Body); !strings.Contains(string(got), "console.log") {
		t.Fatalf("asset body = %s", got)
	}

	// unmatched paths fall back to the app shell
	resp2, err := http.Get(ts.URL + "/room/abc")
	if err != nil {
		t.Fatalf("get spa route: %v", err)
	}
	defer resp2.Body.Close()
	if got, _ := io.ReadAll(resp2.Body); !strings.Contains(string(got), "<html>app</html>") {
		t.Fatalf("spa fallback body = %s", got)
	}
}
