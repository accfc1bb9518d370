// Package artifacts saves run files to local or cloud storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	// Imported for the side-effect of registering blob.OpenBucket()
	// providers.
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// StoragePath is a destination for artifacts: either a local
// directory or a prefix inside a cloud bucket.
type StoragePath struct {
	// Cloud is set for cloud destinations.
	Cloud *CloudPath

	// Local is an absolute path on the local filesystem. It is empty
	// for cloud destinations.
	Local string
}

// CloudPath addresses a prefix inside a cloud storage bucket.
type CloudPath struct {
	// Scheme is a scheme understood by gocloud: "s3", "gs" or
	// "azblob".
	Scheme string

	// Bucket is the bucket name.
	Bucket string

	// Prefix is a key prefix inside the bucket, without a trailing
	// slash. May be empty.
	Prefix string
}

func (p *CloudPath) String() string {
	return fmt.Sprintf("%s://%s/%s", p.Scheme, p.Bucket, p.Prefix)
}

// ParsePath parses an artifact destination.
//
// Supported cloud formats:
//
//   - Amazon S3:       "s3://bucket/some/prefix"
//   - GCS:             "gs://bucket/some/prefix"
//   - Microsoft Azure: "az://account/bucket/some/prefix"
//
// Anything else is treated as a local filesystem path.
func ParsePath(raw string) (*StoragePath, error) {
	isS3 := strings.HasPrefix(raw, "s3://")
	isGS := strings.HasPrefix(raw, "gs://")
	isAZ := strings.HasPrefix(raw, "az://")

	if !isS3 && !isGS && !isAZ {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return nil, fmt.Errorf(
				"artifacts: failed to make path absolute: %v", err)
		}
		return &StoragePath{Local: abs}, nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("artifacts: failed to parse cloud URL: %v", err)
	}

	prefix := strings.Trim(parsed.EscapedPath(), "/")

	switch {
	case isS3:
		return &StoragePath{Cloud: &CloudPath{
			Scheme: "s3",
			Bucket: parsed.Host,
			Prefix: prefix,
		}}, nil

	case isGS:
		return &StoragePath{Cloud: &CloudPath{
			Scheme: "gs",
			Bucket: parsed.Host,
			Prefix: prefix,
		}}, nil

	default:
		// Azure URLs put the account in the host and the bucket as
		// the first path component. The account itself must be
		// supplied via AZURE_STORAGE_ACCOUNT.
		parts := strings.Split(prefix, "/")
		if len(parts) < 2 {
			return nil, fmt.Errorf("artifacts: invalid Azure URL: %q", raw)
		}
		return &StoragePath{Cloud: &CloudPath{
			Scheme: "azblob",
			Bucket: parts[0],
			Prefix: strings.Join(parts[1:], "/"),
		}}, nil
	}
}

// Bucket opens the blob bucket for the path.
//
// For local paths this may fail if the directory does not exist. For
// cloud paths this may perform network operations.
func (p *StoragePath) Bucket(ctx context.Context) (*blob.Bucket, error) {
	switch {
	case p.Cloud != nil:
		bucket, err := blob.OpenBucket(ctx,
			fmt.Sprintf("%s://%s", p.Cloud.Scheme, p.Cloud.Bucket))
		if err != nil {
			return nil, fmt.Errorf("artifacts: failed to open bucket: %v", err)
		}

		if p.Cloud.Prefix == "" {
			return bucket, nil
		}
		return blob.PrefixedBucket(bucket, p.Cloud.Prefix+"/"), nil

	case p.Local != "":
		bucket, err := fileblob.OpenBucket(p.Local, nil)
		if err != nil {
			return nil, fmt.Errorf("artifacts: failed to open bucket: %v", err)
		}
		return bucket, nil

	default:
		return nil, errors.New("artifacts: invalid storage path")
	}
}
