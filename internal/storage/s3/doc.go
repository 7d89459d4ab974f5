/*
Package s3 serves build artifacts out of an S3 bucket.

Objects are addressed as Prefix + name. Stat issues a HeadObject and, when
the key is missing, a single-key ListObjectsV2 to decide whether the name is
a directory prefix. Open pins the object's ETag; every ReadAt on the handle
is a ranged GetObject sent with If-Match, so a handle never mixes bytes from
two object versions.

Ranged reads are retried with exponential backoff for throttling, 5xx and
short-body errors:

	cfg := s3.NewDefaultConfig()
	cfg.Bucket = "site-artifacts"
	cfg.Prefix = "builds/main"

	backend, err := s3.NewBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

Custom endpoints (MinIO, LocalStack) are supported through Endpoint and
ForcePathStyle.
*/
package s3
