// Package s3 implements store.Store on an S3 bucket. Folders are key
// prefixes; a remote folder id is "bucket" or "bucket/prefix".
package s3

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	apierrors "github.com/dl-alexandre/mrisync/internal/errors"
	"github.com/dl-alexandre/mrisync/internal/logging"
	"github.com/dl-alexandre/mrisync/internal/store"
	"github.com/dl-alexandre/mrisync/internal/utils"
)

// MetadataModTime is the user metadata key holding the local mtime
const MetadataModTime = "mtime"

// API is the subset of the S3 client used by Store
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Options configures the AWS client built by New
type Options struct {
	Profile        string
	Region         string
	Endpoint       string
	ForcePathStyle bool
	MaxRetries     int
	PartSize       int64
	Logger         logging.Logger
}

// Store is an S3-backed store.Store
type Store struct {
	api      API
	uploader *manager.Uploader
	logger   logging.Logger
}

var (
	_ store.Store         = (*Store)(nil)
	_ store.FolderChecker = (*Store)(nil)
)

// New loads the default AWS credential chain and builds a Store
func New(ctx context.Context, opts Options) (*Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.MaxRetries > 0 {
		// SDK attempts include the first try
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(opts.MaxRetries+1))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, utils.NewConfigurationError("failed to load AWS configuration", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})

	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing client, used by tests with a mocked API
func NewWithClient(api API, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	partSize := opts.PartSize
	if partSize <= 0 {
		partSize = utils.UploadChunkSize
	}
	return &Store{
		api: api,
		uploader: manager.NewUploader(api, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		logger: logger,
	}
}

// SplitID splits a folder or object id into bucket and key
func SplitID(id string) (bucket, key string) {
	id = strings.Trim(id, "/")
	bucket, key, _ = strings.Cut(id, "/")
	return bucket, key
}

func joinID(parentID, name string) string {
	return strings.TrimSuffix(parentID, "/") + "/" + name
}

func folderPrefix(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSuffix(key, "/") + "/"
}

func (s *Store) ListChildren(ctx context.Context, folderID string) ([]store.RemoteEntry, error) {
	bucket, key := SplitID(folderID)
	if bucket == "" {
		return nil, store.NewError("list", folderID, store.ErrPermanent, fmt.Errorf("folder id has no bucket"))
	}
	prefix := folderPrefix(key)

	var entries []store.RemoteEntry
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, store.Wrap("list", folderID, apierrors.ClassifyAWSError("ListObjectsV2", err))
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, store.RemoteEntry{
				ID:       joinID(folderID, name),
				ParentID: folderID,
				Name:     name,
				Kind:     store.KindFolder,
			})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			// Folder markers, including the one for folderID itself
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			entries = append(entries, store.RemoteEntry{
				ID:       joinID(folderID, name),
				ParentID: folderID,
				Name:     name,
				Kind:     store.KindFile,
			})
		}
	}
	return entries, nil
}

func (s *Store) CreateFolder(ctx context.Context, parentID, name string) (store.RemoteEntry, error) {
	id := joinID(parentID, name)
	bucket, key := SplitID(id)

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(folderPrefix(key)),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return store.RemoteEntry{}, store.Wrap("create folder", id, apierrors.ClassifyAWSError("PutObject", err))
	}
	return store.RemoteEntry{ID: id, ParentID: parentID, Name: name, Kind: store.KindFolder}, nil
}

func (s *Store) UploadFile(ctx context.Context, parentID string, up store.Upload) (store.RemoteEntry, error) {
	id := joinID(parentID, up.Name)
	if err := s.put(ctx, id, up); err != nil {
		return store.RemoteEntry{}, store.Wrap("upload", id, err)
	}
	fp := store.Fingerprint{Size: up.Size, ModTime: up.ModTime}
	return store.RemoteEntry{ID: id, ParentID: parentID, Name: up.Name, Kind: store.KindFile, Fingerprint: &fp}, nil
}

func (s *Store) ReplaceFile(ctx context.Context, fileID string, up store.Upload) (store.RemoteEntry, error) {
	if err := s.put(ctx, fileID, up); err != nil {
		return store.RemoteEntry{}, store.Wrap("replace", fileID, err)
	}
	parent := fileID[:strings.LastIndex(fileID, "/")]
	fp := store.Fingerprint{Size: up.Size, ModTime: up.ModTime}
	return store.RemoteEntry{ID: fileID, ParentID: parent, Name: path.Base(fileID), Kind: store.KindFile, Fingerprint: &fp}, nil
}

func (s *Store) put(ctx context.Context, id string, up store.Upload) error {
	bucket, key := SplitID(id)
	if bucket == "" || key == "" {
		return store.NewError("put", id, store.ErrPermanent, fmt.Errorf("object id needs a bucket and a key"))
	}

	body, err := up.Open()
	if err != nil {
		return store.NewError("open", id, store.ErrPermanent, err)
	}
	defer body.Close()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType(up.Name)),
	}
	if !up.ModTime.IsZero() {
		input.Metadata = map[string]string{
			MetadataModTime: up.ModTime.UTC().Format(time.RFC3339Nano),
		}
	}

	start := time.Now()
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return apierrors.ClassifyAWSError("Upload", err)
	}
	s.logger.Debug("S3 object written",
		logging.F("bucket", bucket),
		logging.F("key", key),
		logging.F("size", up.Size),
		logging.F("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, fileID string) (store.Fingerprint, error) {
	bucket, key := SplitID(fileID)
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return store.Fingerprint{}, store.Wrap("get metadata", fileID, apierrors.ClassifyAWSError("HeadObject", err))
	}

	fp := store.Fingerprint{
		Size:    aws.ToInt64(out.ContentLength),
		ModTime: aws.ToTime(out.LastModified),
	}
	if v, ok := out.Metadata[MetadataModTime]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			fp.ModTime = t
		}
	}
	// Multipart ETags are not content MD5s
	if etag := strings.Trim(aws.ToString(out.ETag), `"`); etag != "" && !strings.Contains(etag, "-") {
		fp.MD5 = etag
	}
	return fp, nil
}

// CheckFolder verifies the bucket is reachable with the current credentials
func (s *Store) CheckFolder(ctx context.Context, folderID string) error {
	bucket, key := SplitID(folderID)
	if bucket == "" {
		return store.NewError("check folder", folderID, store.ErrPermanent, fmt.Errorf("folder id has no bucket"))
	}
	_, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(folderPrefix(key)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return store.Wrap("check folder", folderID, apierrors.ClassifyAWSError("ListObjectsV2", err))
	}
	return nil
}

func contentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == ".dcm" || ext == ".dicom" {
		return utils.MimeTypeDICOM
	}
	if t := mime.TypeByExtension(ext); t != "" && ext != "" {
		return t
	}
	return utils.MimeTypeBinary
}
