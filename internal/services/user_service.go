package services

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/LaxRaj/the-garage/internal/db"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/logger"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/utils"
)

// UpsertUserParams describes a user as asserted by the identity provider.
// A zero ID creates a new user.
type UpsertUserParams struct {
	ID          utils.SixID
	DisplayName string
	Email       string
	Role        models.Role
}

// IUserService defines the interface for user-related operations.
type IUserService interface {
	UpsertUser(ctx context.Context, params UpsertUserParams) (*models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
}

type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database) IUserService {
	return &userService{db: db}
}

func (s *userService) users() *mongo.Collection {
	return s.db.Collection(db.UsersCollection)
}

// UpsertUser creates the user or refreshes their profile fields.
func (s *userService) UpsertUser(ctx context.Context, params UpsertUserParams) (*models.User, error) {
	params.DisplayName = strings.TrimSpace(params.DisplayName)
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	if params.DisplayName == "" {
		return nil, apperrors.InvalidInput("display name is required")
	}
	if params.Role == "" {
		params.Role = models.RoleUser
	}
	if !params.Role.Valid() {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown role %q", params.Role)
	}

	ts := now()
	if params.ID.IsZero() {
		user := &models.User{
			DisplayName: params.DisplayName,
			Email:       params.Email,
			Role:        params.Role,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}
		err := db.Try(func() error {
			user.GenID()
			_, insertErr := s.users().InsertOne(ctx, user)
			return insertErr
		})
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, apperrors.New(apperrors.CodeInvalidState, "email already in use by another account")
			}
			return nil, apperrors.Internal(err, "failed to create user")
		}
		logger.Ctx(ctx).Info().Str("user_id", user.ID.String()).Str("role", string(user.Role)).Msg("user created")
		return user, nil
	}

	set := bson.M{
		"display_name": params.DisplayName,
		"role":         params.Role,
		"updated_at":   ts,
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": ts},
	}
	if params.Email != "" {
		set["email"] = params.Email
	} else {
		update["$unset"] = bson.M{"email": ""}
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var user models.User
	err := s.users().FindOneAndUpdate(ctx, bson.M{"_id": params.ID}, update, opts).Decode(&user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.New(apperrors.CodeInvalidState, "email already in use by another account")
		}
		return nil, apperrors.Internal(err, "failed to upsert user")
	}
	return &user, nil
}

func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	var user models.User
	err := s.users().FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, apperrors.Internal(err, "failed to load user")
	}
	return &user, nil
}
