package subscription

type AddUserRequest struct {
	UserID    int64  `json:"user_id" binding:"required"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type AddSubscriptionsRequest struct {
	UserID int64      `json:"user_id" binding:"required"`
	Repos  [][]string `json:"repos" binding:"required,min=1"`
}

type AddSubscriptionResult struct {
	RepoID   int64  `json:"repo_id,omitempty"`
	Owner    string `json:"owner"`
	RepoName string `json:"repo_name"`
	Created  bool   `json:"created"`
	Advanced bool   `json:"advanced"`
	Ok       bool   `json:"ok"`
}

type DeleteSubscriptionsRequest struct {
	UserID   int64    `json:"user_id" binding:"required"`
	RepoURIs []string `json:"repo_uris" binding:"required,min=1"`
}

type DeleteAllSubscriptionsRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

type SetScheduleRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	ChatID int64 `json:"chat_id" binding:"required"`
	Hour   int   `json:"hour" binding:"gte=0,lte=23"`
	Minute int   `json:"minute" binding:"gte=0,lte=59"`
}

type RepoData struct {
	Owner       string `json:"owner"`
	RepoName    string `json:"repo_name"`
	URI         string `json:"uri"`
	Release     string `json:"release"`
	ReleaseDate string `json:"release_date"`
}
