// Package clients resolves client and agent records and registers new
// clients after the external identity provider has created their account.
package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/metrics"
	"case-portal/internal/models"
	"case-portal/internal/store"
)

const (
	component = "clients"

	clientIDWidth = 6
	firstClientID = "000000"

	DefaultPhotoPrefix = "profile_photos/"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

// Registration is the signup form. Password fields are only checked for
// agreement; the credentials themselves belong to the identity provider.
type Registration struct {
	Email              string `json:"email" validate:"required,portal_email"`
	Password           string `json:"password" validate:"required"`
	ConfirmPassword    string `json:"confirm_password" validate:"eqfield=Password"`
	FullName           string `json:"full_name" validate:"required"`
	DateOfBirth        string `json:"date_of_birth"`
	Age                int    `json:"age" validate:"gte=0,lte=150"`
	PhoneNumber        string `json:"phone_number" validate:"required,portal_phone"`
	Address            string `json:"address"`
	County             string `json:"county"`
	LanguagePreference string `json:"language_preference"`
	Nationality        string `json:"nationality"`
}

// Photo is an optional profile photo sent with the registration.
type Photo struct {
	Body        io.Reader
	Size        int64
	ContentType string
}

type Registry struct {
	store       store.Store
	blobs       store.BlobStore
	logger      logger.Logger
	validate    *validator.Validate
	photoPrefix string
	now         func() time.Time
}

func NewRegistry(s store.Store, blobs store.BlobStore, log logger.Logger) *Registry {
	v := validator.New()
	_ = v.RegisterValidation("portal_email", matchPattern(emailPattern))
	_ = v.RegisterValidation("portal_phone", matchPattern(phonePattern))

	return &Registry{
		store:       s,
		blobs:       blobs,
		logger:      log.WithFields(map[string]interface{}{"component": component}),
		validate:    v,
		photoPrefix: DefaultPhotoPrefix,
		now:         time.Now,
	}
}

// WithPhotoPrefix changes the blob key prefix of uploaded profile photos.
func (r *Registry) WithPhotoPrefix(prefix string) *Registry {
	if prefix != "" {
		r.photoPrefix = prefix
	}
	return r
}

func matchPattern(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// ByClientID returns the first client whose client_id equals clientID.
func (r *Registry) ByClientID(ctx context.Context, clientID string) (*models.Client, error) {
	docs, err := r.store.Query(ctx, store.Query{
		Collection: models.CollectionClients,
		Filters:    []store.Filter{store.Eq("client_id", clientID)},
		Limit:      1,
	})
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("query clients", err)
	}
	if len(docs) == 0 {
		return nil, apperrors.NewResourceNotFoundError("client", clientID)
	}
	return decodeClient(docs[0])
}

// ByUID returns the client record keyed by the identity provider's user ID.
func (r *Registry) ByUID(ctx context.Context, uid string) (*models.Client, error) {
	if uid == "" {
		return nil, apperrors.NewValidationError("user id is required")
	}
	doc, err := r.store.Get(ctx, models.CollectionClients, uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewResourceNotFoundError("client", uid)
	}
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("read client", err)
	}
	return decodeClient(doc)
}

// AgentByDisplayName resolves the agent a client is assigned to. Clients
// reference agents by display name rather than document ID.
func (r *Registry) AgentByDisplayName(ctx context.Context, name string) (*models.Agent, error) {
	if name == "" {
		return nil, apperrors.NewResourceNotFoundError("agent", "no agent assigned")
	}
	docs, err := r.store.Query(ctx, store.Query{
		Collection: models.CollectionAgents,
		Filters:    []store.Filter{store.Eq("displayName", name)},
		Limit:      1,
	})
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("query agents", err)
	}
	if len(docs) == 0 {
		return nil, apperrors.NewResourceNotFoundError("agent", name)
	}

	var agent models.Agent
	if err := docs[0].Decode(&agent); err != nil {
		return nil, apperrors.NewStoreOperationFailedError("decode agent", err)
	}
	agent.ID = docs[0].ID
	return &agent, nil
}

// NextClientID reads the highest allocated client_id and returns the one
// after it. Allocation is not atomic: two concurrent signups may receive the
// same ID.
func (r *Registry) NextClientID(ctx context.Context) (string, error) {
	docs, err := r.store.Query(ctx, store.Query{
		Collection: models.CollectionClients,
		OrderBy:    "client_id",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return "", apperrors.NewStoreOperationFailedError("query last client id", err)
	}
	last := firstClientID
	if len(docs) > 0 {
		if id, ok := docs[0].Data["client_id"].(string); ok && id != "" {
			last = id
		}
	}
	return FollowingClientID(last)
}

// FollowingClientID increments a zero-padded client ID, keeping its width of
// six digits.
func FollowingClientID(last string) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(last))
	if err != nil {
		return "", apperrors.NewValidationError(fmt.Sprintf("malformed client id %q", last))
	}
	return fmt.Sprintf("%0*d", clientIDWidth, n+1), nil
}

// Register validates the signup form, uploads the optional profile photo and
// stores the client under uid with status unallocated.
func (r *Registry) Register(ctx context.Context, uid string, reg Registration, photo *Photo) (client *models.Client, err error) {
	defer func() { metrics.RecordOperation(component, "register", err) }()

	if strings.TrimSpace(uid) == "" {
		return nil, apperrors.NewValidationError("user id is required")
	}
	if err := r.validate.Struct(reg); err != nil {
		return nil, apperrors.NewValidationError(describe(err))
	}

	clientID, err := r.NextClientID(ctx)
	if err != nil {
		return nil, err
	}

	photoURL := ""
	if photo != nil && photo.Body != nil {
		key := r.photoPrefix + uid
		if err := r.blobs.Upload(ctx, key, photo.Body, photo.Size, photo.ContentType, nil); err != nil {
			return nil, apperrors.NewBlobUploadFailedError(key, err)
		}
		if photoURL, err = r.blobs.DownloadURL(ctx, key); err != nil {
			return nil, apperrors.NewBlobUploadFailedError(key, err)
		}
	}

	now := models.Instant(r.now())
	client = &models.Client{
		UID:                uid,
		ClientID:           clientID,
		Email:              reg.Email,
		FullName:           reg.FullName,
		DateOfBirth:        reg.DateOfBirth,
		Age:                reg.Age,
		PhoneNumber:        reg.PhoneNumber,
		Address:            reg.Address,
		County:             reg.County,
		LanguagePreference: reg.LanguagePreference,
		Nationality:        reg.Nationality,
		ProfilePhotoURL:    photoURL,
		Status:             models.ClientStatusUnallocated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.store.Set(ctx, models.CollectionClients, uid, client); err != nil {
		return nil, apperrors.NewStoreOperationFailedError("create client", err)
	}

	r.logger.Info("client registered", map[string]interface{}{
		"uid":      uid,
		"clientId": clientID,
	})
	return client, nil
}

func decodeClient(doc *store.Document) (*models.Client, error) {
	var client models.Client
	if err := doc.Decode(&client); err != nil {
		return nil, apperrors.NewStoreOperationFailedError("decode client", err)
	}
	client.UID = doc.ID
	return &client, nil
}

// describe turns validator field errors into the messages shown on the
// signup form.
func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "eqfield":
		return "passwords do not match"
	case "portal_email":
		return "invalid email format"
	case "portal_phone":
		return "invalid phone number format"
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
