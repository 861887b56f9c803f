package subscription

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"releasewatcher/engine"
	"releasewatcher/log"
	"releasewatcher/models"
	"releasewatcher/scheduler"
	"releasewatcher/utils"
)

// genericFailure is the only error text end users ever see for probe or
// storage failures; transport detail stays in the logs.
const genericFailure = "could not complete, try later"

type SubscriptionService struct {
	Engine    *engine.Engine
	Scheduler *scheduler.DeliveryScheduler
}

// AddUser registers a user on first contact with the front end.
func (m SubscriptionService) AddUser(c *gin.Context) {
	var req AddUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := models.User{
		UserID:    req.UserID,
		Username:  req.Username,
		FirstName: req.FirstName,
	}
	if err := m.Engine.RegisterUser(c.Request.Context(), user); err != nil {
		log.LogAppErr(fmt.Sprintf("Couldn't register user %d", req.UserID), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericFailure})
		return
	}
	c.Status(http.StatusCreated)
}

// AddSubscriptions reconciles-or-creates each requested repository and
// subscribes the user. One failing repository does not abort the rest; its
// entry is reported with ok=false.
func (m SubscriptionService) AddSubscriptions(c *gin.Context) {
	var req AddSubscriptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := make([]AddSubscriptionResult, 0, len(req.Repos))
	for _, pair := range req.Repos {
		if len(pair) != 2 || pair[0] == "" || pair[1] == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "each repo must be an [owner, name] pair"})
			return
		}
		owner, repoName := pair[0], pair[1]

		res, err := m.Engine.AddSubscription(c.Request.Context(), req.UserID, owner, repoName)
		if err != nil {
			log.LogAppErr(fmt.Sprintf("Couldn't add subscription %s/%s for user %d", owner, repoName, req.UserID), err)
			results = append(results, AddSubscriptionResult{Owner: owner, RepoName: repoName})
			continue
		}
		results = append(results, AddSubscriptionResult{
			RepoID:   res.RepoID,
			Owner:    owner,
			RepoName: repoName,
			Created:  res.Outcome == engine.Created,
			Advanced: res.Outcome == engine.Advanced,
			Ok:       true,
		})
	}
	c.JSON(http.StatusCreated, results)
}

// GetSubscriptions lists the user's subscriptions. Read-only, no drain.
func (m SubscriptionService) GetSubscriptions(c *gin.Context) {
	userID, err := userParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	repos, err := m.Engine.FetchSubscriptions(c.Request.Context(), userID)
	if err != nil {
		log.LogAppErr(fmt.Sprintf("Couldn't list subscriptions for user %d", userID), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericFailure})
		return
	}
	c.JSON(http.StatusOK, toRepoData(repos))
}

// GetReleases sweeps the catalog opportunistically, then drains the user's
// pending notifications. Every entry returned is a one-time delivery.
func (m SubscriptionService) GetReleases(c *gin.Context) {
	userID, err := userParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	repos, err := m.Engine.FetchNewReleases(c.Request.Context(), userID)
	if err != nil {
		log.LogAppErr(fmt.Sprintf("Couldn't fetch new releases for user %d", userID), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericFailure})
		return
	}
	c.JSON(http.StatusOK, toRepoData(repos))
}

func (m SubscriptionService) DeleteSubscriptions(c *gin.Context) {
	var req DeleteSubscriptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := m.Engine.RemoveSubscriptions(c.Request.Context(), req.UserID, req.RepoURIs); err != nil {
		log.LogAppErr(fmt.Sprintf("Couldn't delete subscriptions for user %d", req.UserID), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericFailure})
		return
	}
	c.Status(http.StatusOK)
}

func (m SubscriptionService) DeleteAllSubscriptions(c *gin.Context) {
	var req DeleteAllSubscriptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := m.Engine.RemoveAllSubscriptions(c.Request.Context(), req.UserID); err != nil {
		log.LogAppErr(fmt.Sprintf("Couldn't delete all subscriptions for user %d", req.UserID), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericFailure})
		return
	}
	c.Status(http.StatusOK)
}

// SetSchedule sets the user's daily delivery time.
func (m SubscriptionService) SetSchedule(c *gin.Context) {
	var req SetScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if m.Scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduled delivery is not configured"})
		return
	}

	err := m.Scheduler.SetSchedule(c.Request.Context(), req.UserID, req.ChatID, req.Hour, req.Minute)
	if errors.Is(err, scheduler.ErrInvalidTime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.LogAppErr(fmt.Sprintf("Couldn't set schedule for user %d", req.UserID), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericFailure})
		return
	}
	c.Status(http.StatusOK)
}

// DeleteSchedule clears the user's delivery time. Idempotent.
func (m SubscriptionService) DeleteSchedule(c *gin.Context) {
	userID, err := userParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if m.Scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduled delivery is not configured"})
		return
	}

	if err := m.Scheduler.ClearSchedule(c.Request.Context(), userID); err != nil {
		log.LogAppErr(fmt.Sprintf("Couldn't clear schedule for user %d", userID), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericFailure})
		return
	}
	c.Status(http.StatusOK)
}

func userParam(c *gin.Context) (int64, error) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		return 0, errors.New("user_id must be an integer")
	}
	return userID, nil
}

func toRepoData(repos []models.SubscribedRepo) []RepoData {
	rtn := make([]RepoData, 0, len(repos))
	for _, repo := range repos {
		rtn = append(rtn, RepoData{
			Owner:       repo.Owner,
			RepoName:    repo.RepoName,
			URI:         repo.URI,
			Release:     repo.Release,
			ReleaseDate: utils.FormatReleaseDate(repo.ReleaseDate),
		})
	}
	return rtn
}
