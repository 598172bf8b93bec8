package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// SettlementArchiver implements domain.SettlementArchiver by uploading one
// JSON document per resolved market. The record is the durable audit copy of
// a settlement; the ledger remains the source of truth for balances.
type SettlementArchiver struct {
	client   *Client
	uploader *manager.Uploader
}

// NewSettlementArchiver creates a SettlementArchiver backed by the given
// Client.
func NewSettlementArchiver(c *Client) *SettlementArchiver {
	return &SettlementArchiver{
		client:   c,
		uploader: manager.NewUploader(c.S3()),
	}
}

// settlementKey builds the S3 key for a market's settlement record.
//
//	settlements/<market-id>.json
func settlementKey(marketID string) string {
	return "settlements/" + marketID + ".json"
}

// Archive uploads the settlement record. Re-archiving the same market
// overwrites the previous object, so settlement recovery runs converge on
// the latest record.
func (a *SettlementArchiver) Archive(ctx context.Context, rec domain.SettlementRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("s3blob: marshal settlement %s: %w", rec.MarketID, err)
	}

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.Bucket()),
		Key:         aws.String(settlementKey(rec.MarketID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload settlement %s: %w", rec.MarketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SettlementArchiver = (*SettlementArchiver)(nil)
