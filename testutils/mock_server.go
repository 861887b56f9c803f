package testutils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"releasewatcher/utils"
)

// MockGithubServer serves the release-listing endpoint for tests. Releases
// and forced status codes are keyed by "owner/repo".
type MockGithubServer struct {
	ts *httptest.Server

	mu       sync.Mutex
	releases map[string]string
	statuses map[string]int
	requests map[string]int
}

func SetUpMockGithubServer() *MockGithubServer {
	s := &MockGithubServer{
		releases: make(map[string]string),
		statuses: make(map[string]int),
		requests: make(map[string]int),
	}

	router := mux.NewRouter()
	router.HandleFunc("/repos/{owner}/{repo}/releases/latest",
		func(res http.ResponseWriter, req *http.Request) {
			vars := mux.Vars(req)
			key := vars["owner"] + "/" + vars["repo"]

			s.mu.Lock()
			s.requests[key]++
			status, forced := s.statuses[key]
			body, ok := s.releases[key]
			s.mu.Unlock()

			if forced {
				res.WriteHeader(status)
				return
			}
			if !ok {
				res.WriteHeader(http.StatusNotFound)
				return
			}
			res.Write([]byte(body))
		}).Methods("GET")

	s.ts = httptest.NewServer(router)
	return s
}

// SetRelease publishes tag with createdAt as the latest release of owner/repo
// and clears any forced status.
func (s *MockGithubServer) SetRelease(owner, repo, tag string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statuses, owner+"/"+repo)
	s.releases[owner+"/"+repo] = fmt.Sprintf(`{"tag_name": "%s", "created_at": "%s"}`,
		tag, createdAt.UTC().Format(utils.ReleaseDateWireLayout))
}

// SetStatus forces every response for owner/repo to the given status code.
func (s *MockGithubServer) SetStatus(owner, repo string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[owner+"/"+repo] = status
}

// Requests reports how many times owner/repo has been probed.
func (s *MockGithubServer) Requests(owner, repo string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[owner+"/"+repo]
}

func (s *MockGithubServer) URL() string {
	return s.ts.URL
}

func (s *MockGithubServer) Close() {
	s.ts.Close()
}
