package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"marketforecast/internal/model"
)

// Cold is the S3-backed archive tier: full day-partitioned candle slices
// written once and read rarely, for symbols/ranges that have aged out of
// the hot and warm tiers but are still cheaper to fetch from S3 than to
// re-request from an upstream provider. Grounded on the pack's S3 usage,
// generalized from a single PutObject call into a day-keyed archive.
type Cold struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewCold builds an S3-backed cold tier for bucket/prefix.
func NewCold(ctx context.Context, region, bucket, prefix string) (*Cold, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("cache: load aws config: %w", err)
	}
	return &Cold{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (c *Cold) objectKey(symbol string, tf model.Timeframe, dayUnix int64) string {
	return fmt.Sprintf("%s%s/%s/%d.json", c.prefix, symbol, tf, dayUnix)
}

// PutDay archives one trading day's candles for (symbol, tf).
func (c *Cold) PutDay(ctx context.Context, symbol string, tf model.Timeframe, dayUnix int64, candles []model.Candle) error {
	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("cache: marshal cold archive: %w", err)
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.objectKey(symbol, tf, dayUnix)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("cache: s3 put %s: %w", c.objectKey(symbol, tf, dayUnix), err)
	}
	return nil
}

// GetDay retrieves one archived day, or (nil, false) if the object
// doesn't exist — callers fall through to the Persistent Store on miss.
func (c *Cold) GetDay(ctx context.Context, symbol string, tf model.Timeframe, dayUnix int64) ([]model.Candle, bool) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(symbol, tf, dayUnix)),
	})
	if err != nil {
		return nil, false
	}
	defer out.Body.Close()

	var candles []model.Candle
	if err := json.NewDecoder(out.Body).Decode(&candles); err != nil {
		return nil, false
	}
	return candles, true
}
