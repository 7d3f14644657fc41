package nkservice

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// BirthdayLayout is the format User.Birthday is normalized to
const BirthdayLayout = "2006-01-02"

var birthdayLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05",
	BirthdayLayout,
}

// ProfilePhoto is one entry of a person's photo list
type ProfilePhoto struct {
	URL  string `json:"value"`
	Type string `json:"type,omitempty"`
}

// User is a read-only projection of an NK person. Pointer fields are nil when
// the API did not return them, usually because the matching permission was not granted.
type User struct {
	ID           string
	Name         *string
	ThumbnailURL *string
	Photos       []ProfilePhoto
	Age          *int
	Location     *string
	Gender       *string
	FriendsCount *int
	Email        *string
	Phone        *string
	// Birthday is formatted as YYYY-MM-DD
	Birthday *string
}

// NewUser references a user by id without fetching it
func NewUser(id string) *User {
	return &User{ID: id}
}

// Fields lists the populated attributes
func (u *User) Fields() map[string]any {
	f := map[string]any{"id": u.ID}
	setString(f, "name", u.Name)
	setString(f, "thumbnailUrl", u.ThumbnailURL)
	if u.Photos != nil {
		f["photos"] = u.Photos
	}
	setInt(f, "age", u.Age)
	setString(f, "location", u.Location)
	setString(f, "gender", u.Gender)
	setInt(f, "friendsCount", u.FriendsCount)
	setString(f, "email", u.Email)
	setString(f, "phone", u.Phone)
	setString(f, "birthday", u.Birthday)
	return f
}

func (u *User) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Fields())
}

// PhotoAlbum is a read-only projection of an NK photo album
type PhotoAlbum struct {
	ID             string
	Title          string
	OwnerID        string
	Description    string
	MediaMimeType  string
	ThumbnailURL   *string
	MediaItemCount int
}

// NewPhotoAlbum references an album without fetching it
func NewPhotoAlbum(id, ownerID string) *PhotoAlbum {
	return &PhotoAlbum{ID: id, OwnerID: ownerID}
}

func (a *PhotoAlbum) Fields() map[string]any {
	f := map[string]any{
		"id":             a.ID,
		"title":          a.Title,
		"ownerId":        a.OwnerID,
		"description":    a.Description,
		"mediaMimeType":  a.MediaMimeType,
		"mediaItemCount": a.MediaItemCount,
	}
	setString(f, "thumbnailUrl", a.ThumbnailURL)
	return f
}

func (a *PhotoAlbum) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Fields())
}

// Photo is a read-only projection of a media item in an album
type Photo struct {
	ID           string
	AlbumID      string
	OwnerID      string
	Created      string
	Description  *string
	ThumbnailURL string
	MimeType     string
	URL          string
}

func (p *Photo) Fields() map[string]any {
	f := map[string]any{
		"id":           p.ID,
		"albumId":      p.AlbumID,
		"ownerId":      p.OwnerID,
		"created":      p.Created,
		"thumbnailUrl": p.ThumbnailURL,
		"mimeType":     p.MimeType,
		"url":          p.URL,
	}
	setString(f, "description", p.Description)
	return f
}

func (p *Photo) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Fields())
}

func setString(f map[string]any, key string, v *string) {
	if v != nil {
		f[key] = *v
	}
}

func setInt(f map[string]any, key string, v *int) {
	if v != nil {
		f[key] = *v
	}
}

// Wire records. Hydration picks fields explicitly from these.

// flexString accepts JSON strings and numbers
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n)
	return nil
}

func (s *flexString) ptr() *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func (s *flexString) intPtr() *int {
	if s == nil {
		return nil
	}
	n, err := strconv.Atoi(string(*s))
	if err != nil {
		return nil
	}
	return &n
}

type typedValue struct {
	Value flexString `json:"value"`
}

type personRecord struct {
	ID              flexString     `json:"id"`
	ThumbnailURL    *flexString    `json:"thumbnailUrl"`
	DisplayName     *flexString    `json:"displayName"`
	Photos          []ProfilePhoto `json:"photos"`
	Age             *flexString    `json:"age"`
	CurrentLocation *struct {
		Region *flexString `json:"region"`
	} `json:"currentLocation"`
	Gender         *flexString  `json:"gender"`
	NKFriendsCount *flexString  `json:"nkFriendsCount"`
	Emails         []typedValue `json:"emails"`
	PhoneNumbers   []typedValue `json:"phoneNumbers"`
	Birthday       *flexString  `json:"birthday"`
}

func (r personRecord) user() *User {
	u := &User{
		ID:           string(r.ID),
		Name:         r.DisplayName.ptr(),
		ThumbnailURL: r.ThumbnailURL.ptr(),
		Photos:       r.Photos,
		Age:          r.Age.intPtr(),
		Gender:       r.Gender.ptr(),
		FriendsCount: r.NKFriendsCount.intPtr(),
	}
	if r.CurrentLocation != nil {
		u.Location = r.CurrentLocation.Region.ptr()
	}
	if len(r.Emails) > 0 {
		email := string(r.Emails[0].Value)
		u.Email = &email
	}
	if len(r.PhoneNumbers) > 0 {
		phone := string(r.PhoneNumbers[0].Value)
		u.Phone = &phone
	}
	if r.Birthday != nil {
		u.Birthday = normalizeBirthday(string(*r.Birthday))
	}
	return u
}

func normalizeBirthday(raw string) *string {
	for _, layout := range birthdayLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			s := t.Format(BirthdayLayout)
			return &s
		}
	}
	return nil
}

type albumRecord struct {
	ID             flexString   `json:"id"`
	Title          flexString   `json:"title"`
	OwnerID        flexString   `json:"ownerId"`
	Description    flexString   `json:"description"`
	MediaMimeType  []flexString `json:"mediaMimeType"`
	ThumbnailURL   *flexString  `json:"thumbnailUrl"`
	MediaItemCount flexString   `json:"mediaItemCount"`
}

func (r albumRecord) album() *PhotoAlbum {
	a := &PhotoAlbum{
		ID:           string(r.ID),
		Title:        string(r.Title),
		OwnerID:      string(r.OwnerID),
		Description:  string(r.Description),
		ThumbnailURL: r.ThumbnailURL.ptr(),
	}
	if len(r.MediaMimeType) > 0 {
		a.MediaMimeType = string(r.MediaMimeType[0])
	}
	if n := r.MediaItemCount.intPtr(); n != nil {
		a.MediaItemCount = *n
	}
	return a
}

type photoRecord struct {
	ID           flexString  `json:"id"`
	AlbumID      flexString  `json:"albumId"`
	AddedBy      flexString  `json:"nk_addedBy"`
	Created      flexString  `json:"created"`
	Description  *flexString `json:"description"`
	ThumbnailURL flexString  `json:"thumbnailUrl"`
	MimeType     flexString  `json:"mimeType"`
	URL          flexString  `json:"url"`
}

func (r photoRecord) photo() *Photo {
	return &Photo{
		ID:           string(r.ID),
		AlbumID:      string(r.AlbumID),
		OwnerID:      string(r.AddedBy),
		Created:      string(r.Created),
		Description:  r.Description.ptr(),
		ThumbnailURL: string(r.ThumbnailURL),
		MimeType:     string(r.MimeType),
		URL:          string(r.URL),
	}
}
