package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"photo-map/model"
)

// ErrNoCatalog is returned by catalog queries when no catalog is configured.
var ErrNoCatalog = errors.New("photo catalog not configured")

// PhotoDB is the server-side catalog of stored photos.
type PhotoDB interface {
	Close(ctx context.Context) error
	SavePhoto(ctx context.Context, photo model.PhotoDB) error
	GetPhoto(ctx context.Context, id string) (*model.PhotoDB, error)
	SearchPhotosByLocation(ctx context.Context, lon, lat float64, dist int) ([]model.PhotoDB, error)
}

type MongoPhotoDB struct {
	mongoClient *mongo.Client
	collection  *mongo.Collection
	log         *zap.Logger
}

// ConnectMongo connects to MongoDB and makes sure the geo index exists.
func ConnectMongo(ctx context.Context, connectionString, databaseName, collectionName string, logger *zap.Logger) (*MongoPhotoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := &MongoPhotoDB{
		mongoClient: client,
		collection:  client.Database(databaseName).Collection(collectionName),
		log:         logger,
	}

	_, err = db.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "lonlat", Value: "2dsphere"}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("connected to MongoDB",
		zap.String("database", databaseName),
		zap.String("collection", collectionName),
	)
	return db, nil
}

func (db *MongoPhotoDB) Close(ctx context.Context) error {
	if db.mongoClient != nil {
		if err := db.mongoClient.Disconnect(ctx); err != nil {
			return err
		}
		db.log.Info("disconnected from MongoDB")
	}
	return nil
}

func (db *MongoPhotoDB) SavePhoto(ctx context.Context, photo model.PhotoDB) error {
	_, err := db.collection.InsertOne(ctx, photo)
	if err != nil {
		return err
	}
	db.log.Debug("photo saved to catalog", zap.String("file_name", photo.FileName))
	return nil
}

func (db *MongoPhotoDB) GetPhoto(ctx context.Context, id string) (*model.PhotoDB, error) {
	var photo model.PhotoDB

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	filter := bson.D{{Key: "_id", Value: oid}}
	if err := db.collection.FindOne(ctx, filter).Decode(&photo); err != nil {
		return nil, err
	}

	return &photo, nil
}

// SearchPhotosByLocation returns photos within dist meters of the point,
// nearest first.
func (db *MongoPhotoDB) SearchPhotosByLocation(ctx context.Context, lon, lat float64, dist int) ([]model.PhotoDB, error) {
	photos := []model.PhotoDB{}

	filter := bson.D{
		{Key: "lonlat", Value: bson.D{
			{Key: "$near", Value: bson.D{
				{Key: "$geometry", Value: model.NewGeoPoint(lat, lon)},
				{Key: "$maxDistance", Value: dist},
			}},
		}},
	}

	cursor, err := db.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if err := cursor.All(ctx, &photos); err != nil {
		return nil, err
	}

	return photos, nil
}

// CatalogDocument builds the catalog entry for a finalized photo.
func CatalogDocument(photo model.PhotoData, storedName, contentType string, size int64) model.PhotoDB {
	doc := model.PhotoDB{
		TakenAt:      photo.Timestamp,
		FileName:     storedName,
		URL:          photo.URL,
		LocationName: photo.LocationName,
		Size:         size,
		ContentType:  contentType,
	}
	if photo.HasGPS && photo.Lat != nil && photo.Lon != nil {
		doc.LonLat = model.NewGeoPoint(*photo.Lat, *photo.Lon)
	}
	return doc
}
