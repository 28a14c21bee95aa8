package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveConfig holds Google Drive upload settings.
type DriveConfig struct {
	CredentialsFile string `yaml:"credentials_file" toml:"credentials_file"`
	// TokenFile switches to user OAuth: CredentialsFile is then an OAuth client secret
	TokenFile string `yaml:"token_file" toml:"token_file"`
	FolderID  string `yaml:"folder_id"  toml:"folder_id"`
}

// DriveSink uploads each payload as a file into a Drive folder.
type DriveSink struct {
	srv      *gdrive.Service
	folderID string
}

// NewDriveSink builds the Drive service from a service account credentials file,
// or from an OAuth client secret plus a saved user token when TokenFile is set.
func NewDriveSink(ctx context.Context, cfg DriveConfig, opts ...option.ClientOption) (*DriveSink, error) {
	switch {
	case cfg.TokenFile != "":
		ts, err := userTokenSource(ctx, cfg.CredentialsFile, cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithTokenSource(ts))
	case cfg.CredentialsFile != "":
		opts = append(opts,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(gdrive.DriveFileScope),
		)
	}
	srv, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &DriveSink{srv: srv, folderID: cfg.FolderID}, nil
}

// Write uploads payload named after the last element of key.
func (s *DriveSink) Write(ctx context.Context, key string, payload []byte) error {
	name := path.Base(key)
	mimeType := mime.TypeByExtension(path.Ext(name))
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}

	file := &gdrive.File{Name: name, MimeType: mimeType}
	if s.folderID != "" {
		file.Parents = []string{s.folderID}
	}

	_, err := s.srv.Files.Create(file).
		Context(ctx).
		Media(bytes.NewReader(payload), googleapi.ChunkSize(2*1024*1024)).
		Fields("id").
		Do()
	if err != nil {
		return fmt.Errorf("drive upload failed: %w", err)
	}
	return nil
}

func userTokenSource(ctx context.Context, secretPath, tokenPath string) (oauth2.TokenSource, error) {
	secret, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	conf, err := google.ConfigFromJSON(secret, gdrive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file: %w", err)
	}

	f, err := os.Open(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read token file: %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", tokenPath, err)
	}
	return conf.TokenSource(ctx, tok), nil
}
