package assets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	// eg, "http://127.0.0.1:9000" for minio; empty for AWS
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Folder    string
	Logger    *slog.Logger
}

// Deletes asset objects from an S3-compatible bucket. Objects are keyed by storage id, with or without a file extension.
type S3AssetStore struct {
	Client *s3.Client
	Bucket string
	Folder string
	Logger *slog.Logger
}

var _ AssetStore = (*S3AssetStore)(nil)

// Builds the client from the default AWS credential chain (env, shared config, instance or web identity roles). Static keys in cfg take precedence when set.
func NewS3AssetStore(ctx context.Context, cfg S3Config) (*S3AssetStore, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		// callers treat cleanup as best-effort; one attempt is enough
		awsconfig.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3AssetStore{
		Client: client,
		Bucket: cfg.Bucket,
		Folder: cfg.Folder,
		Logger: cfg.Logger.With("component", "assets", "bucket", cfg.Bucket),
	}, nil
}

// matches "id" and "id.ext", but not "id2.ext" or "id/child"
func matchesStorageID(key, id string) bool {
	if key == id {
		return true
	}
	rest, ok := strings.CutPrefix(key, id+".")
	return ok && !strings.Contains(rest, "/")
}

func (s *S3AssetStore) DeleteAsset(ctx context.Context, ref string) error {
	id, err := StorageID(ref, s.Folder)
	if err != nil {
		return err
	}

	list, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("listing asset objects (%s): %w", id, err)
	}

	var objectIds []types.ObjectIdentifier
	for _, obj := range list.Contents {
		if obj.Key != nil && matchesStorageID(*obj.Key, id) {
			objectIds = append(objectIds, types.ObjectIdentifier{Key: obj.Key})
		}
	}
	if len(objectIds) == 0 {
		s.Logger.Info("asset already absent", "storageID", id)
		return nil
	}

	out, err := s.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.Bucket),
		Delete: &types.Delete{Objects: objectIds, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("deleting asset objects (%s): %w", id, err)
	}
	if len(out.Errors) > 0 {
		e := out.Errors[0]
		return fmt.Errorf("deleting asset object %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
	}
	s.Logger.Info("deleted asset", "storageID", id, "objects", len(objectIds))
	return nil
}
