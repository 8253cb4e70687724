package folders

import (
	"context"
	"fmt"

	"github.com/dl-alexandre/mrisync/internal/api"
	"github.com/dl-alexandre/mrisync/internal/files"
	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const defaultPageSize = 1000

// Manager handles folder operations
type Manager struct {
	client *api.Client
}

// NewManager creates a new folder manager
func NewManager(client *api.Client) *Manager {
	return &Manager{
		client: client,
	}
}

// Create creates a new folder
func (m *Manager) Create(ctx context.Context, reqCtx *types.RequestContext, name string, parentID string) (*types.DriveFile, error) {
	if parentID != "" {
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, parentID)
	}

	id, err := m.client.NewFileID(ctx, reqCtx)
	if err != nil {
		return nil, err
	}
	metadata := &drive.File{
		Id:       id,
		Name:     name,
		MimeType: utils.MimeTypeFolder,
	}
	if parentID != "" {
		metadata.Parents = []string{parentID}
	}

	result, err := api.CreateWithID(ctx, m.client, reqCtx, id, func() (*drive.File, error) {
		return m.client.Service().Files.Create(metadata).
			SupportsAllDrives(true).
			Fields(googleapi.Field(utils.DriveFileFields)).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}

	return files.ConvertDriveFile(result), nil
}

// List lists one page of folder contents, trashed items excluded
func (m *Manager) List(ctx context.Context, reqCtx *types.RequestContext, folderID string, pageSize int, pageToken string) (*types.FileListResult, error) {
	reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, folderID)

	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)

	call := m.client.Service().Files.List().
		Q(query).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Fields(googleapi.Field(utils.DriveListFields))
	if pageSize > 0 {
		call = call.PageSize(int64(pageSize))
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.FileList, error) {
		return call.Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	out := make([]*types.DriveFile, len(result.Files))
	for i, f := range result.Files {
		out[i] = files.ConvertDriveFile(f)
	}

	return &types.FileListResult{
		Files:            out,
		NextPageToken:    result.NextPageToken,
		IncompleteSearch: result.IncompleteSearch,
	}, nil
}

// ListAll follows page tokens until the folder listing is complete
func (m *Manager) ListAll(ctx context.Context, reqCtx *types.RequestContext, folderID string) ([]*types.DriveFile, error) {
	var all []*types.DriveFile
	pageToken := ""
	for {
		result, err := m.List(ctx, reqCtx, folderID, defaultPageSize, pageToken)
		if err != nil {
			return nil, err
		}
		all = append(all, result.Files...)

		if result.NextPageToken == "" {
			break
		}
		pageToken = result.NextPageToken
	}
	return all, nil
}

// Get retrieves folder metadata
func (m *Manager) Get(ctx context.Context, reqCtx *types.RequestContext, folderID string) (*types.DriveFile, error) {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, folderID)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		return m.client.Service().Files.Get(folderID).
			SupportsAllDrives(true).
			Fields(googleapi.Field(utils.DriveFileFields)).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}

	return files.ConvertDriveFile(result), nil
}
