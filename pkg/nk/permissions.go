package nk

// Permission is a scope identifier requested during login
type Permission string

const (
	BasicProfile       Permission = "BASIC_PROFILE_ROLE"
	BirthdayProfile    Permission = "BIRTHDAY_PROFILE_ROLE"
	PhoneProfile       Permission = "PHONE_PROFILE_ROLE"
	EmailProfile       Permission = "EMAIL_PROFILE_ROLE"
	PersonFriends      Permission = "PERSON_FRIENDS_ROLE"
	PicturesProfile    Permission = "PICTURES_PROFILE_ROLE"
	PersonFriendsCount Permission = "PERSON_FRIENDS_COUNT_SELECTOR"
	CreateShouts       Permission = "CREATE_SHOUTS_ROLE"
)

// ProfileMinimal is the smallest useful permission set
func ProfileMinimal() []Permission {
	return []Permission{BasicProfile}
}

// AllPermissions lists every known permission
func AllPermissions() []Permission {
	return []Permission{
		BasicProfile,
		BirthdayProfile,
		PhoneProfile,
		EmailProfile,
		PersonFriends,
		PicturesProfile,
		PersonFriendsCount,
		CreateShouts,
	}
}
