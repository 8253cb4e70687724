package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dl-alexandre/mrisync/internal/logging"
	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// idBatchSize is how many file ids one generateIds call reserves
const idBatchSize = 100

// NewFileID returns a Drive file id reserved for this client. Creating a
// file under a reserved id makes the create safe to retry: a request
// that reached the server before its response was lost makes the retry
// fail with 409 instead of creating a second file.
func (c *Client) NewFileID(ctx context.Context, reqCtx *types.RequestContext) (string, error) {
	c.idMu.Lock()
	defer c.idMu.Unlock()

	if len(c.ids) == 0 {
		result, err := ExecuteWithRetry(ctx, c, reqCtx, func() (*drive.GeneratedIds, error) {
			return c.service.Files.GenerateIds().
				Count(idBatchSize).
				Space("drive").
				Context(ctx).
				Do()
		})
		if err != nil {
			return "", err
		}
		if len(result.Ids) == 0 {
			return "", errors.New("generateIds returned no ids")
		}
		c.ids = result.Ids
	}

	id := c.ids[0]
	c.ids = c.ids[1:]
	return id, nil
}

// CreateWithID runs create with retries. create must send a file carrying
// the reserved id. When a retry finds the id taken, the earlier attempt was
// applied and the stored file is returned.
func CreateWithID(ctx context.Context, c *Client, reqCtx *types.RequestContext, id string, create func() (*drive.File, error)) (*drive.File, error) {
	attempts := 0
	return ExecuteWithRetry(ctx, c, reqCtx, func() (*drive.File, error) {
		attempts++
		f, err := create()
		if err != nil && attempts > 1 && IsAlreadyExists(err) {
			c.logger.Debug("Create was applied by an earlier attempt", logging.F("fileId", id))
			return c.service.Files.Get(id).
				SupportsAllDrives(true).
				Fields(googleapi.Field(utils.DriveFileFields)).
				Context(ctx).
				Do()
		}
		return f, err
	})
}

// IsAlreadyExists reports whether err is the 409 Drive returns when a
// file with the requested id exists
func IsAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
