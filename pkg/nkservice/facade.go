package nkservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"nksdk/pkg/nk"
)

// MaxActivityLength bounds PostActivity content, in characters
const MaxActivityLength = 500

var basePersonFields = []string{
	"id", "age", "name", "currentLocation", "displayName",
	"gender", "photos", "profileUrl", "thumbnailUrl", "urls",
}

const photoFields = "id,albumId,created,description,mimeType,thumbnailUrl,url,nk_addedBy"

// collection is the envelope of every list response. entry is either a list
// or, for single-person lookups, one object.
type collection struct {
	Entry json.RawMessage `json:"entry"`
}

func (c collection) decode(single, many any) (isSingle bool, err error) {
	entry := bytes.TrimSpace(c.Entry)
	if len(entry) == 0 || bytes.Equal(entry, []byte("null")) {
		return false, nil
	}
	if entry[0] == '{' {
		return true, json.Unmarshal(entry, single)
	}
	return false, json.Unmarshal(entry, many)
}

// Me returns the user the token was issued for
func (s *Service) Me(ctx context.Context) (*User, error) {
	users, err := s.People(ctx, "@me")
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: user not found", ErrMissingRecord)
	}
	return users[0], nil
}

// People fetches one or more people by id. Contact and friend-count fields
// are requested only when the matching permission is configured.
func (s *Service) People(ctx context.Context, ids ...string) ([]*User, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: people requires at least one id", ErrInvalidParams)
	}

	fields := append([]string(nil), basePersonFields...)
	if s.config.HasPermission(nk.EmailProfile) {
		fields = append(fields, "emails")
	}
	if s.config.HasPermission(nk.BirthdayProfile) {
		fields = append(fields, "birthday")
	}
	if s.config.HasPermission(nk.PhoneProfile) {
		fields = append(fields, "phoneNumbers")
	}
	if s.config.HasPermission(nk.PersonFriendsCount) {
		fields = append(fields, "nkFriendsCount")
	}

	var resp collection
	path := "/people/" + strings.Join(ids, ",")
	if err := s.Call(ctx, http.MethodGet, path, url.Values{"fields": {strings.Join(fields, ",")}}, &resp); err != nil {
		return nil, err
	}

	var one personRecord
	var many []personRecord
	single, err := resp.decode(&one, &many)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if single {
		return []*User{one.user()}, nil
	}

	users := make([]*User, 0, len(many))
	for _, r := range many {
		users = append(users, r.user())
	}
	return users, nil
}

// PhotoAlbums lists the albums of user. limit and offset are ignored when zero.
func (s *Service) PhotoAlbums(ctx context.Context, user *User, limit, offset int) ([]*PhotoAlbum, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidParams)
	}

	var resp collection
	path := "/albums/" + user.ID + "/@self"
	if err := s.Call(ctx, http.MethodGet, path, paging(url.Values{}, limit, offset), &resp); err != nil {
		return nil, err
	}

	var one albumRecord
	var many []albumRecord
	single, err := resp.decode(&one, &many)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if single {
		many = []albumRecord{one}
	}

	albums := make([]*PhotoAlbum, 0, len(many))
	for _, r := range many {
		albums = append(albums, r.album())
	}
	return albums, nil
}

// Photos lists the photos in album. limit and offset are ignored when zero.
func (s *Service) Photos(ctx context.Context, album *PhotoAlbum, limit, offset int) ([]*Photo, error) {
	if album == nil || album.ID == "" || album.OwnerID == "" {
		return nil, fmt.Errorf("%w: album id and owner id are required", ErrInvalidParams)
	}

	var resp collection
	path := "/mediaItems/" + album.OwnerID + "/@self/" + album.ID
	params := paging(url.Values{"fields": {photoFields}}, limit, offset)
	if err := s.Call(ctx, http.MethodGet, path, params, &resp); err != nil {
		return nil, err
	}

	var one photoRecord
	var many []photoRecord
	single, err := resp.decode(&one, &many)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if single {
		many = []photoRecord{one}
	}

	photos := make([]*Photo, 0, len(many))
	for _, r := range many {
		photos = append(photos, r.photo())
	}
	return photos, nil
}

// PostActivity posts content on the current user's board, visible to
// friends only or to everyone.
func (s *Service) PostActivity(ctx context.Context, content string, onlyFriends bool) error {
	length := utf8.RuneCountInString(content)
	if length < 1 {
		return fmt.Errorf("%w: activity content must have at least 1 character", ErrInvalidParams)
	}
	if length > MaxActivityLength {
		return fmt.Errorf("%w: activity content must fit in %d characters", ErrInvalidParams, MaxActivityLength)
	}

	audience := "@all"
	if onlyFriends {
		audience = "@friends"
	}

	return s.Call(ctx, http.MethodPost, "/activities/@me/"+audience+"/app.sledzik", url.Values{"title": {content}}, nil)
}

func paging(params url.Values, limit, offset int) url.Values {
	if limit > 0 {
		params.Set("count", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("startIndex", strconv.Itoa(offset))
	}
	return params
}
