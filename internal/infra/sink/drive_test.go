package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"
)

func TestDriveSink_Write(t *testing.T) {
	var mu sync.Mutex
	var body string
	var method string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, body = r.Method, string(data)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"file-1"}`)
	}))
	defer srv.Close()

	s, err := NewDriveSink(context.Background(), DriveConfig{FolderID: "folder-9"},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Write(context.Background(), "out/job-1.mp3", []byte("AUDIO-BYTES")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPost {
		t.Errorf("method = %s, want POST", method)
	}
	for _, want := range []string{"job-1.mp3", "folder-9", "AUDIO-BYTES"} {
		if !strings.Contains(body, want) {
			t.Errorf("upload body missing %q", want)
		}
	}
}

func TestUserTokenSource(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "client.json")
	token := filepath.Join(dir, "token.json")
	_ = os.WriteFile(secret, []byte(`{"installed":{"client_id":"id","client_secret":"s",
		"auth_uri":"https://accounts.google.com/o/oauth2/auth",
		"token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`), 0o600)
	_ = os.WriteFile(token, []byte(`{"access_token":"tok-1","token_type":"Bearer"}`), 0o600)

	ts, err := userTokenSource(context.Background(), secret, token)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "tok-1" {
		t.Errorf("access token = %q", tok.AccessToken)
	}

	if _, err := userTokenSource(context.Background(), secret, filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing token file")
	}
}
