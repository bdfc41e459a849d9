package faces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/withObsrvr/photo-matcher/internal/storage"
)

// CompareFacesAPI is the subset of the Rekognition client we call.
type CompareFacesAPI interface {
	CompareFaces(ctx context.Context, params *rekognition.CompareFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error)
}

// ImageSource loads object bytes for backends Rekognition cannot read
// directly.
type ImageSource interface {
	Get(ctx context.Context, fullKey string) ([]byte, error)
}

// Config configures the Rekognition client.
type Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Timeout   time.Duration
}

// RekognitionComparator calls AWS Rekognition CompareFaces.
type RekognitionComparator struct {
	client  CompareFacesAPI
	images  ImageSource
	timeout time.Duration
}

// NewRekognitionClient builds a Rekognition client from cfg.
func NewRekognitionClient(ctx context.Context, cfg Config) (*rekognition.Client, error) {
	awsCfg, err := storage.LoadAWSConfig(ctx, cfg.Region, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	return rekognition.NewFromConfig(awsCfg, func(o *rekognition.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewRekognitionComparator wraps client. When images is nil, objects are
// passed to Rekognition as S3 references; otherwise their bytes are sent
// inline.
func NewRekognitionComparator(client CompareFacesAPI, images ImageSource, timeout time.Duration) *RekognitionComparator {
	return &RekognitionComparator{
		client:  client,
		images:  images,
		timeout: timeout,
	}
}

// Compare runs one CompareFaces call.
func (c *RekognitionComparator) Compare(ctx context.Context, source, target storage.Ref, threshold int) (Comparison, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return Comparison{}, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	src, err := c.image(ctx, source)
	if err != nil {
		return Comparison{}, err
	}
	tgt, err := c.image(ctx, target)
	if err != nil {
		return Comparison{}, err
	}

	out, err := c.client.CompareFaces(ctx, &rekognition.CompareFacesInput{
		SourceImage:         src,
		TargetImage:         tgt,
		SimilarityThreshold: aws.Float32(float32(threshold)),
	})
	if err != nil {
		var invalid *types.InvalidParameterException
		if errors.As(err, &invalid) {
			return Comparison{}, ErrNoFaceDetected
		}
		return Comparison{}, fmt.Errorf("compare faces %s: %w", target.Key, err)
	}

	var best float64
	for _, m := range out.FaceMatches {
		if s := float64(aws.ToFloat32(m.Similarity)); s > best {
			best = s
		}
	}
	return Comparison{
		Matched: len(out.FaceMatches) > 0 && Classify(best, threshold),
		Score:   best,
	}, nil
}

func (c *RekognitionComparator) image(ctx context.Context, ref storage.Ref) (*types.Image, error) {
	if c.images == nil {
		return &types.Image{
			S3Object: &types.S3Object{
				Bucket: aws.String(ref.Bucket),
				Name:   aws.String(ref.Key),
			},
		}, nil
	}

	data, err := c.images.Get(ctx, ref.Key)
	if err != nil {
		return nil, fmt.Errorf("load image %s: %w", ref.Key, err)
	}
	return &types.Image{Bytes: data}, nil
}

var _ Comparator = (*RekognitionComparator)(nil)
