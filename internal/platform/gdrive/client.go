package gdrive

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/rentora/media-migrator/internal/platform/logger"
)

// DriveService downloads original photo bytes from Google Drive. Download
// failures are routine (revoked shares, deleted files, rate limits) and are
// returned as ordinary errors for the caller to record per item; only
// missing credentials are fatal, at construction time.
type DriveService interface {
	FetchBytes(ctx context.Context, fileID string) ([]byte, error)
}

type driveService struct {
	log *logger.Logger
	svc *drive.Service
}

func NewDriveService(log *logger.Logger) (DriveService, error) {
	serviceLog := log.With("service", "DriveService")

	clientID := os.Getenv("DRIVE_CLIENT_ID")
	clientSecret := os.Getenv("DRIVE_CLIENT_SECRET")
	accessToken := os.Getenv("DRIVE_ACCESS_TOKEN")
	refreshToken := os.Getenv("DRIVE_REFRESH_TOKEN")
	if clientID == "" {
		return nil, fmt.Errorf("missing env var DRIVE_CLIENT_ID")
	}
	if clientSecret == "" {
		return nil, fmt.Errorf("missing env var DRIVE_CLIENT_SECRET")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("missing env var DRIVE_ACCESS_TOKEN")
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("missing env var DRIVE_REFRESH_TOKEN")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveReadonlyScope},
	}
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}

	ctx := context.Background()
	httpClient := conf.Client(ctx, token)
	svc, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}

	serviceLog.Info("Drive client initialized")
	return &driveService{log: serviceLog, svc: svc}, nil
}

func (ds *driveService) FetchBytes(ctx context.Context, fileID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	resp, err := ds.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("drive download %q: %w", fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("drive read %q: %w", fileID, err)
	}
	return data, nil
}
