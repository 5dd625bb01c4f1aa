package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/cloudguard/domain"
)

// ScanRecordsCollection is the collection terminal scan records land in.
const ScanRecordsCollection = "scan_records"

// archiveTTL is how long archived records are kept before the TTL index
// sweeps them.
const archiveTTL = 30 * 24 * time.Hour

// ScanRepositoryMongo archives terminal scan records in MongoDB. It is the
// long-term companion to the orchestrator's 24h in-memory retention.
type ScanRepositoryMongo struct {
	collection *mongo.Collection
}

// NewScanRepositoryMongo creates the repository and ensures its indexes.
func NewScanRepositoryMongo(ctx context.Context, db *mongo.Database) (*ScanRepositoryMongo, error) {
	repo := &ScanRepositoryMongo{
		collection: db.Collection(ScanRecordsCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "started_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "ended_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(archiveTTL / time.Second)),
		},
	}

	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("issue creating indexes for scan_records collection")
	}

	return repo, nil
}

// ArchiveScan upserts a terminal record by scan id.
func (r *ScanRepositoryMongo) ArchiveScan(ctx context.Context, rec *domain.ScanRecord) error {
	filter := bson.M{"_id": rec.ScanID}
	update := bson.M{"$set": rec}
	_, err := r.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to archive scan %s: %w", rec.ScanID, err)
	}
	return nil
}

// ListByProvider returns archived records for a provider, newest first.
func (r *ScanRepositoryMongo) ListByProvider(ctx context.Context, providerID string, limit int64) ([]*domain.ScanRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{"provider_id": providerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived scans: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*domain.ScanRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode archived scans: %w", err)
	}
	return records, nil
}
