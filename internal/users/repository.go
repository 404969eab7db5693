package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrEmailTaken = fmt.Errorf("%w: email already registered", apperrors.ErrConflict)

const (
	emailIndex    = "users_email_unique"
	externalIndex = "users_external_identity_unique"
	customerIndex = "users_provider_customer_unique"
)

// ListFilter narrows admin listings.
type ListFilter struct {
	Query  string
	Role   models.Role
	Status entitlement.Status
	Limit  int64
	Offset int64
}

// UserRepository defines persistence operations for users. Lookups return
// (nil, nil) when nothing matches. Implementations also persist the
// entitlement sub-record.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByExternal(ctx context.Context, provider, subjectID string) (*models.User, error)
	LinkExternal(ctx context.Context, userID string, ei models.ExternalIdentity) error
	List(ctx context.Context, f ListFilter) ([]*models.User, int64, error)
	SetRole(ctx context.Context, id string, role models.Role) (bool, error)
	UpdateName(ctx context.Context, id, name string) (*models.User, error)
	Delete(ctx context.Context, id string) (bool, error)

	entitlement.Store
}

// MongoUserRepository implements UserRepository using MongoDB
type MongoUserRepository struct {
	col *mongo.Collection
}

// NewMongoUserRepository creates a new repository for the given collection
func NewMongoUserRepository(col *mongo.Collection) *MongoUserRepository {
	return &MongoUserRepository{col: col}
}

// EnsureIndexes creates the uniqueness and sweep indexes.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName(emailIndex).SetUnique(true)},
		{
			Keys: bson.D{{Key: "externalIdentities.provider", Value: 1}, {Key: "externalIdentities.subjectId", Value: 1}},
			Options: options.Index().SetName(externalIndex).SetUnique(true).
				SetPartialFilterExpression(bson.M{"externalIdentities.subjectId": bson.M{"$exists": true}}),
		},
		{
			Keys: bson.D{{Key: "entitlement.providerCustomerId", Value: 1}},
			Options: options.Index().SetName(customerIndex).SetUnique(true).
				SetPartialFilterExpression(bson.M{"entitlement.providerCustomerId": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{
			{Key: "entitlement.status", Value: 1},
			{Key: "entitlement.cancelAtPeriodEnd", Value: 1},
			{Key: "entitlement.periodEndsAt", Value: 1},
		}, Options: options.Index().SetName("entitlement_sweep")},
	})
	return err
}

func (r *MongoUserRepository) Create(ctx context.Context, u *models.User) error {
	_, err := r.col.InsertOne(ctx, u)
	if mongo.IsDuplicateKeyError(err) {
		return duplicateKeyConflict(err)
	}
	return err
}

// duplicateKeyConflict names the unique index a write collided with.
func duplicateKeyConflict(err error) error {
	msg := err.Error()
	var we mongo.WriteException
	if errors.As(err, &we) && len(we.WriteErrors) > 0 {
		msg = we.WriteErrors[0].Message
	}
	switch {
	case strings.Contains(msg, emailIndex):
		return ErrEmailTaken
	case strings.Contains(msg, externalIndex):
		return fmt.Errorf("%w: external identity linked to another account", apperrors.ErrConflict)
	case strings.Contains(msg, customerIndex):
		return fmt.Errorf("%w: payment customer linked to another account", apperrors.ErrConflict)
	}
	return fmt.Errorf("%w: duplicate user record", apperrors.ErrConflict)
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": models.NormalizeEmail(email)})
}

func (r *MongoUserRepository) GetByExternal(ctx context.Context, provider, subjectID string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"externalIdentities": bson.M{"$elemMatch": bson.M{"provider": provider, "subjectId": subjectID}}})
}

func (r *MongoUserRepository) LinkExternal(ctx context.Context, userID string, ei models.ExternalIdentity) error {
	// at most one identity per provider per user
	filter := bson.M{"_id": userID, "externalIdentities.provider": bson.M{"$ne": ei.Provider}}
	update := bson.M{
		"$push": bson.M{"externalIdentities": ei},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}
	_, err := r.col.UpdateOne(ctx, filter, update)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: external identity linked to another account", apperrors.ErrConflict)
	}
	return err
}

func (r *MongoUserRepository) List(ctx context.Context, f ListFilter) ([]*models.User, int64, error) {
	filter := bson.M{}
	if f.Query != "" {
		rx := bson.M{"$regex": regexp.QuoteMeta(f.Query), "$options": "i"}
		filter["$or"] = bson.A{bson.M{"email": rx}, bson.M{"name": rx}}
	}
	if f.Role != "" {
		filter["role"] = f.Role
	}
	if f.Status != "" {
		filter["entitlement.status"] = f.Status
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetSkip(f.Offset)
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	var out []*models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *MongoUserRepository) SetRole(ctx context.Context, id string, role models.Role) (bool, error) {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"role": role, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (r *MongoUserRepository) UpdateName(ctx context.Context, id, name string) (*models.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var u models.User
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"name": name, "updatedAt": time.Now().UTC()}}, opts).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// entitlement.Store

func (r *MongoUserRepository) GetSubscription(ctx context.Context, userID string) (*entitlement.Subscription, error) {
	var doc struct {
		Entitlement entitlement.Subscription `bson:"entitlement"`
	}
	opts := options.FindOne().SetProjection(bson.M{"entitlement": 1})
	if err := r.col.FindOne(ctx, bson.M{"_id": userID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc.Entitlement, nil
}

func (r *MongoUserRepository) SaveSubscription(ctx context.Context, userID string, sub entitlement.Subscription, expectedVersion int64) error {
	sub.Version = expectedVersion + 1
	filter := bson.M{"_id": userID, "entitlement.version": expectedVersion}
	update := bson.M{"$set": bson.M{"entitlement": sub, "updatedAt": time.Now().UTC()}}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.col.CountDocuments(ctx, bson.M{"_id": userID})
		if err != nil {
			return err
		}
		if n == 0 {
			return entitlement.ErrUserNotFound
		}
		return entitlement.ErrVersionConflict
	}
	return nil
}

func (r *MongoUserRepository) FindUserIDByCustomerID(ctx context.Context, customerID string) (string, error) {
	var doc struct {
		ID string `bson:"_id"`
	}
	opts := options.FindOne().SetProjection(bson.M{"_id": 1})
	err := r.col.FindOne(ctx, bson.M{"entitlement.providerCustomerId": customerID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (r *MongoUserRepository) SetCustomerIDIfAbsent(ctx context.Context, userID, customerID string) (string, error) {
	filter := bson.M{"_id": userID, "$or": bson.A{
		bson.M{"entitlement.providerCustomerId": bson.M{"$exists": false}},
		bson.M{"entitlement.providerCustomerId": ""},
	}}
	update := bson.M{
		"$set": bson.M{"entitlement.providerCustomerId": customerID, "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"entitlement.version": 1},
	}
	if _, err := r.col.UpdateOne(ctx, filter, update); err != nil {
		return "", err
	}
	sub, err := r.GetSubscription(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", entitlement.ErrUserNotFound
	}
	return sub.ProviderCustomerID, nil
}

func (r *MongoUserRepository) ListLapsedCancellations(ctx context.Context, now time.Time, limit int) ([]string, error) {
	filter := bson.M{
		"entitlement.status":            entitlement.StatusActive,
		"entitlement.cancelAtPeriodEnd": true,
		"entitlement.periodEndsAt":      bson.M{"$lt": now},
	}
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}
