package network

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const numS3Retries = 3

// S3UploadParams ...
type S3UploadParams struct {
	// ScanPath is the local file to store.
	ScanPath string
	// Key is the object key the portal expects for this scan,
	// e.g. sources/<source-id>/<filename>.
	Key string
	// PartSizeBytes tunes the multipart transfer. Default: 10 MB.
	PartSizeBytes   int64
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

type s3UploadService struct {
	client       *s3.Client
	bucket       string
	scanPath     string
	scanSize     int64
	scanChecksum string
	partSize     int64
}

// UploadScanToS3 stores a scan directly in the portal's bucket. Partner
// deployments that hold bucket credentials use this instead of the per-part
// presign round-trips; the ingest notification afterwards is the same
// EnqueueIngest call either way.
//
// If an object with the same key and SHA-256 checksum already exists the
// transfer is skipped, so re-running a bulk batch does not re-upload scans
// that were already digitized.
func UploadScanToS3(ctx context.Context, params S3UploadParams, logger log.Logger) error {
	if params.Bucket == "" {
		return fmt.Errorf("Bucket must not be empty")
	}
	if params.ScanPath == "" {
		return fmt.Errorf("ScanPath must not be empty")
	}
	if params.Key == "" {
		return fmt.Errorf("Key must not be empty")
	}

	info, err := os.Stat(params.ScanPath)
	if err != nil {
		return fmt.Errorf("stat scan: %w", err)
	}

	checksum, err := checksumOfFile(params.ScanPath)
	if err != nil {
		return fmt.Errorf("checksum scan: %w", err)
	}

	cfg, err := loadAWSCredentials(
		ctx,
		params.Region,
		params.AccessKeyID,
		params.SecretAccessKey,
		logger,
	)
	if err != nil {
		return fmt.Errorf("load aws credentials: %w", err)
	}

	partSize := params.PartSizeBytes
	if partSize <= 0 {
		partSize = 10 * 1024 * 1024
	}

	service := &s3UploadService{
		client:       s3.NewFromConfig(*cfg),
		bucket:       params.Bucket,
		scanPath:     params.ScanPath,
		scanSize:     info.Size(),
		scanChecksum: checksum,
		partSize:     partSize,
	}

	return service.uploadWithS3Client(ctx, params.Key, logger)
}

func (service *s3UploadService) uploadWithS3Client(ctx context.Context, key string, logger log.Logger) error {
	checksum, err := service.findChecksumWithRetry(ctx, key)
	if err != nil {
		return fmt.Errorf("validate object: %w", err)
	}

	if checksum == service.scanChecksum {
		logger.Debugf("Scan %s already stored with the same checksum, skipping upload", key)
		return nil
	}

	logger.Debugf("Uploading scan...")
	if err := service.putObjectWithRetry(ctx, key); err != nil {
		return fmt.Errorf("upload scan: %w", err)
	}

	return nil
}

// findChecksumWithRetry looks for an existing object under the key.
// If the object is present, it returns its SHA-256 checksum.
// If the object isn't present, it returns an empty string.
func (service *s3UploadService) findChecksumWithRetry(ctx context.Context, key string) (string, error) {
	var checksum string
	err := retry.Times(numS3Retries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := service.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(service.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) {
				switch apiError.(type) {
				case *types.NotFound:
					// continue with upload
					return nil, true
				default:
					return fmt.Errorf("validating object: %w", err), false
				}
			}
		}

		attributes, err := service.client.GetObjectAttributes(ctx, &s3.GetObjectAttributesInput{
			Bucket: aws.String(service.bucket),
			Key:    aws.String(key),
			ObjectAttributes: []types.ObjectAttributes{
				"Checksum",
			},
		})
		if err != nil {
			return fmt.Errorf("get scan object attributes: %w", err), false
		}

		if attributes != nil && attributes.Checksum != nil && attributes.Checksum.ChecksumSHA256 != nil {
			decodedChecksum, err := base64.StdEncoding.DecodeString(*attributes.Checksum.ChecksumSHA256)
			if err != nil {
				return fmt.Errorf("base64 decode checksum: %w", err), true
			}

			checksum = hex.EncodeToString(decodedChecksum)
		}

		return nil, true
	})

	return checksum, err
}

func (service *s3UploadService) putObjectWithRetry(ctx context.Context, key string) error {
	return retry.Times(numS3Retries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		file, err := os.Open(service.scanPath)
		if err != nil {
			return fmt.Errorf("open scan path: %w", err), true
		}
		defer file.Close() //nolint:errcheck

		uploader := manager.NewUploader(service.client, func(u *manager.Uploader) {
			u.PartSize = service.partSize
		})

		_, err = uploader.Upload(ctx, &s3.PutObjectInput{
			Body:              file,
			Bucket:            aws.String(service.bucket),
			Key:               aws.String(key),
			ContentType:       aws.String(DetectContentType(filepath.Base(service.scanPath))),
			ContentLength:     aws.Int64(service.scanSize),
			ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		})
		if err != nil {
			return fmt.Errorf("upload scan: %w", err), false
		}

		return nil, true
	})
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}

func checksumOfFile(path string) (string, error) {
	hash := sha256.New()

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close() //nolint:errcheck

	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
