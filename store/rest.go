package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/sokdak/sokdak/common"
)

const (
	profilesPath = "/rest/v1/profiles"
	storagePath  = "/storage/v1/object"
	avatarBucket = "avatars"

	singleObjectType = "application/vnd.pgrst.object+json"
	// PostgREST reports a single-object request that matched no rows with this code.
	noRowsCode = "PGRST116"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidUserID   = errors.New("invalid user id")
	ErrAvatarTooLarge  = errors.New("image exceeds the maximum upload size")
)

// TokenSource returns the access token of the signed in user. Row level security on the profiles
// table only lets users read and write their own row.
type TokenSource func(ctx context.Context) (string, error)

// RESTProfiles reads and writes the profiles table through the REST gateway.
type RESTProfiles struct {
	wc    *common.WebClient
	token TokenSource
	now   func() time.Time
}

func NewRESTProfiles(wc *common.WebClient, token TokenSource) *RESTProfiles {
	return &RESTProfiles{wc: wc, token: token, now: time.Now}
}

func (r *RESTProfiles) FetchProfile(ctx context.Context, userID string) (*Profile, error) {
	req, err := r.request(ctx, userID)
	if err != nil {
		return nil, err
	}
	req.SetHeader("Accept", singleObjectType).
		SetQueryParam("select", "*")
	var p Profile
	if err := r.wc.Send(ctx, http.MethodGet, profilesPath, req, &p); err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == noRowsCode || apiErr.Status == http.StatusNotAcceptable) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
		}
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	return &p, nil
}

func (r *RESTProfiles) UpdateNickname(ctx context.Context, userID, nickname string) error {
	if err := r.patch(ctx, userID, map[string]string{"nickname": nickname}); err != nil {
		return fmt.Errorf("updating nickname: %w", err)
	}
	return nil
}

// UpdateAvatar uploads image to the user's folder of the avatars bucket, points the profile at
// its public URL and returns that URL. The file extension of name picks the content type; it
// defaults to jpeg.
func (r *RESTProfiles) UpdateAvatar(ctx context.Context, userID, name string, image io.Reader) (string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidUserID, userID, err)
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" {
		ext = "jpg"
	}
	contentType := "image/" + ext
	if ext == "jpg" {
		contentType = "image/jpeg"
	}
	object := fmt.Sprintf("%s/%d.%s", id, r.now().UnixMilli(), ext)

	req, err := r.authorize(ctx, r.wc.NewRequest(ctx))
	if err != nil {
		return "", err
	}
	req.SetHeader("Content-Type", contentType).
		SetHeader("Cache-Control", "max-age=3600").
		SetHeader("x-upsert", "true").
		SetBody(image)
	if err := r.wc.Send(ctx, http.MethodPost, storagePath+"/"+avatarBucket+"/"+object, req, nil); err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusRequestEntityTooLarge ||
			strings.Contains(apiErr.Message, "exceeded the maximum allowed size")) {
			return "", fmt.Errorf("%w: %w", ErrAvatarTooLarge, err)
		}
		return "", fmt.Errorf("uploading avatar: %w", err)
	}

	publicURL := strings.TrimSuffix(r.wc.BaseURL, "/") + storagePath + "/public/" + avatarBucket + "/" + object
	if err := r.patch(ctx, userID, map[string]string{"avatar_url": publicURL}); err != nil {
		return "", fmt.Errorf("updating avatar url: %w", err)
	}
	return publicURL, nil
}

func (r *RESTProfiles) patch(ctx context.Context, userID string, fields map[string]string) error {
	req, err := r.request(ctx, userID)
	if err != nil {
		return err
	}
	req.SetHeader("Prefer", "return=minimal").SetBody(fields)
	return r.wc.Send(ctx, http.MethodPatch, profilesPath, req, nil)
}

// request returns a request filtered to the profile row of userID.
func (r *RESTProfiles) request(ctx context.Context, userID string) (*resty.Request, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidUserID, userID, err)
	}
	return r.authorize(ctx, r.wc.NewRequest(ctx).SetQueryParam("id", "eq."+id.String()))
}

// authorize sends req with the signed in user's access token instead of the anon key.
func (r *RESTProfiles) authorize(ctx context.Context, req *resty.Request) (*resty.Request, error) {
	if r.token != nil {
		token, err := r.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting access token: %w", err)
		}
		if token != "" {
			req.SetAuthToken(token)
		}
	}
	return req, nil
}
