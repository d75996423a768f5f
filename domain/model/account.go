package model

import "time"

// FetchedDetails is the incremental fetch cursor of an account.
type FetchedDetails struct {
	NewestID string `json:"newest_id,omitempty" bson:"newest_id,omitempty"`
	OldestID string `json:"oldest_id,omitempty" bson:"oldest_id,omitempty"`
}

// Merge widens the cursor with a newer fetch result.
func (f *FetchedDetails) Merge(other FetchedDetails) {
	if other.NewestID != "" {
		f.NewestID = other.NewestID
	}
	if f.OldestID == "" && other.OldestID != "" {
		f.OldestID = other.OldestID
	}
}

// AccountProfile is one (platform, platform user id) pair.
type AccountProfile struct {
	ID          string          `json:"id" bson:"_id"`
	Platform    PlatformID      `json:"platformId" bson:"platformId"`
	UserID      string          `json:"user_id" bson:"user_id"`
	AppUserID   string          `json:"userId,omitempty" bson:"userId,omitempty"`
	DisplayName string          `json:"displayName,omitempty" bson:"displayName,omitempty"`
	Fetched     *FetchedDetails `json:"fetched,omitempty" bson:"fetched,omitempty"`
	UpdatedAtMs int64           `json:"updatedAtMs" bson:"updatedAtMs"`
}

// ProfileDocID is the natural key of an account profile.
func ProfileDocID(platform PlatformID, platformUserID string) string {
	return string(platform) + "-" + platformUserID
}

// UserSettings holds per-user publishing preferences.
type UserSettings struct {
	Autopublish map[PlatformID]bool `json:"autopublish,omitempty" bson:"autopublish,omitempty"`
}

// AppUser is the logical account several platform accounts link to.
type AppUser struct {
	ID           string                  `json:"userId" bson:"_id"`
	SignupDateMs int64                   `json:"signupDate" bson:"signupDate"`
	Accounts     map[PlatformID][]string `json:"accounts" bson:"accounts"`
	Settings     UserSettings            `json:"settings" bson:"settings"`
}

// HasAccount reports whether the user linked the given platform account.
func (u *AppUser) HasAccount(platform PlatformID, platformUserID string) bool {
	for _, id := range u.Accounts[platform] {
		if id == platformUserID {
			return true
		}
	}
	return false
}

// PlatformCredentials are the secrets used to act on a platform for a user.
type PlatformCredentials struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"user_id"`
	Platform     PlatformID `json:"platform"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	// Extra carries platform specific material (server url, signing key, app password).
	Extra     map[string]string `json:"extra,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
