// Package srm implements backend.SEBackend over an S3-compatible object
// store, modeling the original SRM (Storage Resource Manager) backend's
// "everything is an object, paths are keys" semantics. Grounded on the
// teacher's aws_s3 package: Connect's static-credential client
// construction, and cached_bucket.go's use of the S3 SDK's manager
// package for bulk transfer instead of single PutObject/GetObject calls.
package srm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/epcced/digs"
	"github.com/epcced/digs/backend"
)

func init() {
	backend.Register("srm", func(cfg any) (backend.SEBackend, error) {
		c, ok := cfg.(Config)
		if !ok {
			return nil, fmt.Errorf("srm: expected Config, got %T", cfg)
		}
		return New(c), nil
	})
}

// Config bundles the S3 endpoint and static credentials used to reach
// the backing object store (minio, AWS S3, or any S3-compatible target).
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	// Bucket is the fixed bucket every host maps to; object keys are
	// "host/remotePath" so multiple SEs can share one bucket if desired.
	Bucket string
}

// Connect builds an S3 client from static credentials, grounded on the
// teacher's aws_s3.Connect.
func Connect(cfg Config) *s3.Client {
	return s3.NewFromConfig(aws.Config{Region: cfg.Region}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	})
}

type transferState struct {
	status backend.TransferStatus
	pct    int
}

// Backend is the srm SEBackend implementation.
type Backend struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string

	mu     sync.Mutex
	xfers  map[backend.Handle]*transferState
	nextID int64
}

// New constructs a srm Backend from cfg, connecting lazily on first use
// isn't necessary here since the S3 SDK client is itself lazy about
// network I/O.
func New(cfg Config) *Backend {
	client := Connect(cfg)
	return &Backend{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     cfg.Bucket,
		xfers:      make(map[backend.Handle]*transferState),
	}
}

func (b *Backend) key(host, remotePath string) string {
	return path.Join(host, remotePath)
}

func wrapErr(host, remotePath string, err error) error {
	if err == nil {
		return nil
	}
	return digs.NewError(digs.ClassifyBackendError(err), host+":"+remotePath, err)
}

func (b *Backend) GetLength(ctx context.Context, host, p string) (int64, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(host, p))})
	if err != nil {
		return 0, wrapErr(host, p, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (b *Backend) GetChecksum(ctx context.Context, host, p string) (string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(host, p))})
	if err != nil {
		return "", wrapErr(host, p, err)
	}
	defer out.Body.Close()
	h := md5.New()
	if _, err := io.Copy(h, out.Body); err != nil {
		return "", wrapErr(host, p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (b *Backend) DoesExist(ctx context.Context, host, p string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(host, p))})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, wrapErr(host, p, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (b *Backend) IsDirectory(ctx context.Context, host, p string) (bool, error) {
	// Object stores have no directories; a "directory" is any key prefix
	// with at least one object under it.
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: &b.bucket, Prefix: aws.String(b.key(host, p) + "/"), MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, wrapErr(host, p, err)
	}
	return len(out.Contents) > 0, nil
}

func (b *Backend) GetOwner(ctx context.Context, host, p string) (string, error) {
	return "", digs.NewError(digs.Invariant, p, fmt.Errorf("srm: object stores have no owner concept"))
}

func (b *Backend) GetGroup(ctx context.Context, host, p string) (string, error) {
	return "", digs.NewError(digs.Invariant, p, fmt.Errorf("srm: object stores have no group concept"))
}

func (b *Backend) SetGroup(ctx context.Context, host, p, group string) error {
	return digs.NewError(digs.Invariant, p, fmt.Errorf("srm: object stores have no group concept"))
}

func (b *Backend) GetPermissions(ctx context.Context, host, p string) (string, error) {
	return "0644", nil
}

func (b *Backend) SetPermissions(ctx context.Context, host, p, octal string) error {
	return nil
}

func (b *Backend) GetModificationTime(ctx context.Context, host, p string) (time.Time, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(host, p))})
	if err != nil {
		return time.Time{}, wrapErr(host, p, err)
	}
	return aws.ToTime(out.LastModified), nil
}

func (b *Backend) Mkdir(ctx context.Context, host, p string) error   { return nil }
func (b *Backend) MkdirTree(ctx context.Context, host, p string) error { return nil }

func (b *Backend) Mv(ctx context.Context, host, src, dst string) error {
	srcKey := b.key(host, src)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &b.bucket,
		Key:        aws.String(b.key(host, dst)),
		CopySource: aws.String(b.bucket + "/" + srcKey),
	})
	if err != nil {
		return wrapErr(host, src, err)
	}
	return b.Rm(ctx, host, src)
}

func (b *Backend) Rm(ctx context.Context, host, p string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(host, p))})
	return wrapErr(host, p, err)
}

func (b *Backend) Rmdir(ctx context.Context, host, p string) error { return b.Rm(ctx, host, p) }

func (b *Backend) Rmr(ctx context.Context, host, p string) error {
	prefix := b.key(host, p)
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &b.bucket, Prefix: aws.String(prefix)})
	if err != nil {
		return wrapErr(host, p, err)
	}
	for _, obj := range out.Contents {
		if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: obj.Key}); err != nil {
			return wrapErr(host, p, err)
		}
	}
	return nil
}

func (b *Backend) newHandle(status backend.TransferStatus) backend.Handle {
	id := backend.Handle(atomic.AddInt64(&b.nextID, 1))
	b.mu.Lock()
	b.xfers[id] = &transferState{status: status}
	b.mu.Unlock()
	return id
}

func (b *Backend) setStatus(h backend.Handle, status backend.TransferStatus, pct int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.xfers[h]; ok {
		st.status = status
		st.pct = pct
	}
}

// StartPut uploads localPath to remotePath using the SDK's multipart
// manager.Uploader, which automatically chunks large files instead of a
// single PutObject call (grounded on the teacher's use of the S3 manager
// package for bulk bucket transfer).
func (b *Backend) StartPut(ctx context.Context, host, localPath, remotePath string) (backend.Handle, error) {
	h := b.newHandle(backend.StatusInProgress)
	go func() {
		f, err := os.Open(localPath)
		if err != nil {
			b.setStatus(h, backend.StatusFailed, 0)
			return
		}
		defer f.Close()
		_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: &b.bucket,
			Key:    aws.String(b.key(host, remotePath)),
			Body:   f,
		})
		if err != nil {
			b.setStatus(h, backend.StatusFailed, 0)
			return
		}
		b.setStatus(h, backend.StatusDone, 100)
	}()
	return h, nil
}

func (b *Backend) StartGet(ctx context.Context, host, remotePath, localPath string) (backend.Handle, error) {
	h := b.newHandle(backend.StatusInProgress)
	go func() {
		f, err := os.Create(localPath)
		if err != nil {
			b.setStatus(h, backend.StatusFailed, 0)
			return
		}
		defer f.Close()
		_, err = b.downloader.Download(ctx, f, &s3.GetObjectInput{
			Bucket: &b.bucket,
			Key:    aws.String(b.key(host, remotePath)),
		})
		if err != nil {
			b.setStatus(h, backend.StatusFailed, 0)
			return
		}
		b.setStatus(h, backend.StatusDone, 100)
	}()
	return h, nil
}

func (b *Backend) StartCopyToInbox(ctx context.Context, host, localPath, lfn string) (backend.Handle, error) {
	staged := digs.EncodeDIR(lfn)
	return b.StartPut(ctx, host, localPath, "inbox/"+staged)
}

func (b *Backend) Monitor(_ context.Context, h backend.Handle) (backend.TransferStatus, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.xfers[h]
	if !ok {
		return backend.StatusFailed, 0, fmt.Errorf("srm: unknown handle %d", h)
	}
	return st.status, st.pct, nil
}

func (b *Backend) End(_ context.Context, h backend.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.xfers, h)
	return nil
}

func (b *Backend) Cancel(_ context.Context, h backend.Handle) error {
	b.setStatus(h, backend.StatusFailed, 0)
	return nil
}

func (b *Backend) CopyFromInbox(ctx context.Context, host, lfn, destPath string) error {
	staged := digs.EncodeDIR(lfn)
	srcKey := b.key(host, "inbox/"+staged)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &b.bucket,
		Key:        aws.String(b.key(host, destPath)),
		CopySource: aws.String(b.bucket + "/" + srcKey),
	})
	if err != nil {
		return wrapErr(host, destPath, err)
	}
	return b.Rm(ctx, host, "inbox/"+staged)
}

func (b *Backend) ScanNode(ctx context.Context, host, root string) ([]backend.FileInfo, error) {
	var out []backend.FileInfo
	prefix := b.key(host, root)
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{Bucket: &b.bucket, Prefix: aws.String(prefix)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr(host, root, err)
		}
		for _, obj := range page.Contents {
			sum, err := b.GetChecksum(ctx, host, *obj.Key)
			if err != nil {
				return nil, err
			}
			out = append(out, backend.FileInfo{Path: *obj.Key, Size: aws.ToInt64(obj.Size), Checksum: sum})
		}
	}
	return out, nil
}

func (b *Backend) ScanInbox(ctx context.Context, host string) ([]string, error) {
	var out []string
	prefix := b.key(host, "inbox/")
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{Bucket: &b.bucket, Prefix: aws.String(prefix)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr(host, "inbox", err)
		}
		for _, obj := range page.Contents {
			staged := (*obj.Key)[len(prefix):]
			out = append(out, digs.DecodeDIR(staged))
		}
	}
	return out, nil
}

func (b *Backend) Ping(ctx context.Context, host string) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &b.bucket})
	return wrapErr(host, "", err)
}

func (b *Backend) Housekeeping(ctx context.Context, host string) error {
	return nil
}
