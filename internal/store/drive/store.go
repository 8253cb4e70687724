// Package drive implements store.Store on Google Drive.
package drive

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/dl-alexandre/mrisync/internal/api"
	"github.com/dl-alexandre/mrisync/internal/files"
	"github.com/dl-alexandre/mrisync/internal/folders"
	"github.com/dl-alexandre/mrisync/internal/logging"
	"github.com/dl-alexandre/mrisync/internal/store"
	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
)

// Store talks to Drive through the retrying api.Client
type Store struct {
	files   *files.Manager
	folders *folders.Manager
	logger  logging.Logger
	driveID string
}

var (
	_ store.Store         = (*Store)(nil)
	_ store.FolderChecker = (*Store)(nil)
)

// New creates a Drive-backed store. driveID is only used to annotate
// errors for shared drives and may be empty.
func New(client *api.Client, driveID string) *Store {
	return &Store{
		files:   files.NewManager(client),
		folders: folders.NewManager(client),
		logger:  client.Logger(),
		driveID: driveID,
	}
}

func (s *Store) reqCtx(requestType types.RequestType) *types.RequestContext {
	return api.NewRequestContext("", s.driveID, requestType)
}

func (s *Store) ListChildren(ctx context.Context, folderID string) ([]store.RemoteEntry, error) {
	children, err := s.folders.ListAll(ctx, s.reqCtx(types.RequestTypeListOrSearch), folderID)
	if err != nil {
		return nil, store.Wrap("list", folderID, err)
	}

	entries := make([]store.RemoteEntry, 0, len(children))
	for _, f := range children {
		if f.Trashed {
			continue
		}
		entries = append(entries, toEntry(folderID, f))
	}
	return entries, nil
}

func (s *Store) CreateFolder(ctx context.Context, parentID, name string) (store.RemoteEntry, error) {
	folder, err := s.folders.Create(ctx, s.reqCtx(types.RequestTypeMutation), name, parentID)
	if err != nil {
		return store.RemoteEntry{}, store.Wrap("create folder", parentID+"/"+name, err)
	}
	return toEntry(parentID, folder), nil
}

func (s *Store) UploadFile(ctx context.Context, parentID string, up store.Upload) (store.RemoteEntry, error) {
	file, err := s.files.Upload(ctx, s.reqCtx(types.RequestTypeUpload), files.UploadOptions{
		ParentID:     parentID,
		Name:         up.Name,
		MimeType:     detectMimeType(up.Name),
		Size:         up.Size,
		ModifiedTime: up.ModTime,
		Open:         up.Open,
	})
	if err != nil {
		return store.RemoteEntry{}, store.Wrap("upload", parentID+"/"+up.Name, err)
	}
	return toEntry(parentID, file), nil
}

func (s *Store) ReplaceFile(ctx context.Context, fileID string, up store.Upload) (store.RemoteEntry, error) {
	file, err := s.files.UpdateContent(ctx, s.reqCtx(types.RequestTypeUpload), fileID, files.UpdateContentOptions{
		MimeType:     detectMimeType(up.Name),
		Size:         up.Size,
		ModifiedTime: up.ModTime,
		Open:         up.Open,
	})
	if err != nil {
		return store.RemoteEntry{}, store.Wrap("replace", fileID, err)
	}
	parent := ""
	if len(file.Parents) > 0 {
		parent = file.Parents[0]
	}
	return toEntry(parent, file), nil
}

func (s *Store) GetMetadata(ctx context.Context, fileID string) (store.Fingerprint, error) {
	file, err := s.files.Get(ctx, s.reqCtx(types.RequestTypeGetByID), fileID)
	if err != nil {
		return store.Fingerprint{}, store.Wrap("get metadata", fileID, err)
	}
	return fingerprint(file), nil
}

// CheckFolder fails unless folderID is an existing, untrashed folder
func (s *Store) CheckFolder(ctx context.Context, folderID string) error {
	folder, err := s.folders.Get(ctx, s.reqCtx(types.RequestTypeGetByID), folderID)
	if err != nil {
		return store.Wrap("check folder", folderID, err)
	}
	if folder.MimeType != utils.MimeTypeFolder {
		return store.NewError("check folder", folderID, store.ErrPermanent,
			fmt.Errorf("%q is a %s, not a folder", folder.Name, folder.MimeType))
	}
	if folder.Trashed {
		return store.NewError("check folder", folderID, store.ErrNotFound,
			fmt.Errorf("%q is in the trash", folder.Name))
	}
	return nil
}

func toEntry(parentID string, f *types.DriveFile) store.RemoteEntry {
	entry := store.RemoteEntry{
		ID:       f.ID,
		ParentID: parentID,
		Name:     f.Name,
		Kind:     store.KindFile,
	}
	if f.MimeType == utils.MimeTypeFolder {
		entry.Kind = store.KindFolder
		return entry
	}
	fp := fingerprint(f)
	entry.Fingerprint = &fp
	return entry
}

func fingerprint(f *types.DriveFile) store.Fingerprint {
	return store.Fingerprint{
		Size:    f.Size,
		ModTime: f.ModifiedTime,
		MD5:     f.MD5Checksum,
	}
}

func detectMimeType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".dcm", ".dicom":
		return utils.MimeTypeDICOM
	case "":
		return utils.MimeTypeBinary
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return utils.MimeTypeBinary
}
