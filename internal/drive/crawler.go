// Package drive reads file metadata from a connected user's Google
// Drive using their persisted refresh token.
package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drivemind-app/drivemind/internal/config"
	"github.com/drivemind-app/drivemind/internal/log"
	"github.com/drivemind-app/drivemind/internal/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ErrNotConnected is returned when a user has no persisted grant
var ErrNotConnected = errors.New("user has no Drive connection")

const (
	scanPageSize   = 1000
	scanFileFields = "nextPageToken, files(id, name, mimeType, size, md5Checksum, modifiedTime, trashed, parents)"
)

// FileInfo is the metadata subset the analyzer works with
type FileInfo struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	MD5Checksum  string
	ModifiedTime time.Time
	Trashed      bool
	Parents      []string
}

// Crawler lists a user's Drive file metadata
type Crawler interface {
	Scan(ctx context.Context, userID string) ([]FileInfo, error)
}

// GoogleCrawler scans Drive over the v3 API, authenticating with the
// user's stored refresh token. Concurrent scans for the same user are
// deduplicated with singleflight, a full-drive listing is expensive and
// every caller can share one result.
type GoogleCrawler struct {
	cfg   config.DriveAuthConfig
	store storage.TokenStore
	group singleflight.Group

	// list is swapped out in tests
	list func(ctx context.Context, ts oauth2.TokenSource) ([]FileInfo, error)
}

func NewGoogleCrawler(cfg config.DriveAuthConfig, store storage.TokenStore) *GoogleCrawler {
	c := &GoogleCrawler{cfg: cfg, store: store}
	c.list = c.listFiles
	return c
}

// Scan lists all non-trashed file metadata for the user
func (c *GoogleCrawler) Scan(ctx context.Context, userID string) ([]FileInfo, error) {
	if userID == "" {
		return nil, ErrNotConnected
	}

	v, err, shared := c.group.Do(userID, func() (any, error) {
		grant, err := c.store.GetRefreshToken(ctx, userID)
		if err != nil {
			if errors.Is(err, storage.ErrTokenNotFound) {
				return nil, ErrNotConnected
			}
			return nil, fmt.Errorf("loading grant: %w", err)
		}

		ts := c.tokenSource(ctx, grant.RefreshToken)
		files, err := c.list(ctx, ts)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		return files, nil
	})
	if err != nil {
		return nil, err
	}

	files := v.([]FileInfo)
	log.LogInfoWithFields("drive", "Drive scan completed", map[string]any{
		"files":  len(files),
		"shared": shared,
	})
	return files, nil
}

func (c *GoogleCrawler) tokenSource(ctx context.Context, refreshToken string) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: string(c.cfg.ClientSecret),
		Scopes:       c.cfg.Scopes,
		Endpoint:     google.Endpoint,
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

func (c *GoogleCrawler) listFiles(ctx context.Context, ts oauth2.TokenSource) ([]FileInfo, error) {
	svc, err := drivev3.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	call := svc.Files.List().
		Context(ctx).
		Q("trashed = false").
		PageSize(scanPageSize).
		Fields(scanFileFields)

	err = call.Pages(ctx, func(page *drivev3.FileList) error {
		for _, f := range page.Files {
			files = append(files, fromAPIFile(f))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func fromAPIFile(f *drivev3.File) FileInfo {
	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return FileInfo{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		MD5Checksum:  f.Md5Checksum,
		ModifiedTime: modified,
		Trashed:      f.Trashed,
		Parents:      f.Parents,
	}
}
