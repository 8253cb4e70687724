package files

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dl-alexandre/mrisync/internal/api"
	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// Manager handles file operations
type Manager struct {
	client *api.Client
}

// NewManager creates a new file manager
func NewManager(client *api.Client) *Manager {
	return &Manager{
		client: client,
	}
}

// Opener returns a fresh reader over the content being uploaded
type Opener func() (io.ReadCloser, error)

// UploadOptions configures file upload
type UploadOptions struct {
	ParentID     string
	Name         string
	MimeType     string
	Size         int64
	ModifiedTime time.Time
	Open         Opener
}

type UpdateContentOptions struct {
	MimeType     string
	Size         int64
	ModifiedTime time.Time
	Open         Opener
}

// Upload creates a new file in Drive. The content is reopened for every
// retry attempt.
func (m *Manager) Upload(ctx context.Context, reqCtx *types.RequestContext, opts UploadOptions) (*types.DriveFile, error) {
	if opts.Name == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "upload requires a file name").Build())
	}
	if opts.Open == nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "upload requires content").Build())
	}

	id, err := m.client.NewFileID(ctx, reqCtx)
	if err != nil {
		return nil, err
	}
	metadata := &drive.File{
		Id:   id,
		Name: opts.Name,
	}
	if opts.ParentID != "" {
		metadata.Parents = []string{opts.ParentID}
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, opts.ParentID)
	}
	if opts.MimeType != "" {
		metadata.MimeType = opts.MimeType
	}
	if !opts.ModifiedTime.IsZero() {
		metadata.ModifiedTime = opts.ModifiedTime.UTC().Format(time.RFC3339Nano)
	}

	media := mediaOptions(opts.Size, opts.MimeType)

	result, err := api.CreateWithID(ctx, m.client, reqCtx, id, func() (*drive.File, error) {
		reader, err := opts.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		defer reader.Close()

		call := m.client.Service().Files.Create(metadata).
			Media(reader, media...).
			SupportsAllDrives(true).
			Fields(googleapi.Field(utils.DriveFileFields)).
			Context(ctx)
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	return ConvertDriveFile(result), nil
}

// UpdateContent replaces the content of an existing file
func (m *Manager) UpdateContent(ctx context.Context, reqCtx *types.RequestContext, fileID string, opts UpdateContentOptions) (*types.DriveFile, error) {
	if opts.Open == nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "update requires content").Build())
	}
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, fileID)

	metadata := &drive.File{}
	if opts.MimeType != "" {
		metadata.MimeType = opts.MimeType
	}
	if !opts.ModifiedTime.IsZero() {
		metadata.ModifiedTime = opts.ModifiedTime.UTC().Format(time.RFC3339Nano)
	}

	media := mediaOptions(opts.Size, opts.MimeType)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		reader, err := opts.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		defer reader.Close()

		call := m.client.Service().Files.Update(fileID, metadata).
			Media(reader, media...).
			SupportsAllDrives(true).
			Fields(googleapi.Field(utils.DriveFileFields)).
			Context(ctx)
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	return ConvertDriveFile(result), nil
}

// Get retrieves file metadata
func (m *Manager) Get(ctx context.Context, reqCtx *types.RequestContext, fileID string) (*types.DriveFile, error) {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, fileID)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		return m.client.Service().Files.Get(fileID).
			SupportsAllDrives(true).
			Fields(googleapi.Field(utils.DriveFileFields)).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}

	return ConvertDriveFile(result), nil
}

func selectUploadType(size int64) string {
	// Large files go resumable so a dropped connection only resends one chunk
	if size > int64(utils.UploadSimpleMaxBytes) {
		return "resumable"
	}
	return "multipart"
}

func mediaOptions(size int64, mimeType string) []googleapi.MediaOption {
	var opts []googleapi.MediaOption
	if selectUploadType(size) == "resumable" {
		opts = append(opts, googleapi.ChunkSize(utils.UploadChunkSize))
	} else {
		opts = append(opts, googleapi.ChunkSize(0))
	}
	if mimeType != "" {
		opts = append(opts, googleapi.ContentType(mimeType))
	}
	return opts
}

// ConvertDriveFile maps the API representation onto types.DriveFile
func ConvertDriveFile(f *drive.File) *types.DriveFile {
	file := &types.DriveFile{
		ID:          f.Id,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Size:        f.Size,
		MD5Checksum: f.Md5Checksum,
		Parents:     f.Parents,
		Trashed:     f.Trashed,
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, f.ModifiedTime); err == nil {
			file.ModifiedTime = t
		}
	}
	return file
}
