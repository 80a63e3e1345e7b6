package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const fakeToken = "test-token"

type xiqFixture struct {
	Username   string                     `yaml:"username"`
	Password   string                     `yaml:"password"`
	TotalPages int                        `yaml:"total_pages"`
	PpskUsers  []fixturePpskUser          `yaml:"ppsk_users"`
	PcgUsers   map[int64][]fixturePcgUser `yaml:"pcg_users"`
	Fail       map[string]int             `yaml:"fail"`
}

type fixturePpskUser struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	UserName string `yaml:"user_name"`
	Email    string `yaml:"email"`
	GroupID  int64  `yaml:"group_id"`
}

type fixturePcgUser struct {
	ID            int64  `yaml:"id"`
	Email         string `yaml:"email"`
	UserGroupName string `yaml:"user_group_name"`
}

type fakeXIQ struct {
	srv      *httptest.Server
	requests *requestLog

	mu      sync.Mutex
	fixture xiqFixture
	nextID  int64
}

func newFakeXIQ(t *testing.T, fixture string) *fakeXIQ {
	t.Helper()

	f := &fakeXIQ{
		requests: newRequestLog(defaultRequestLogCapacity),
		nextID:   1000,
	}

	if err := yaml.UnmarshalStrict([]byte(fixture), &f.fixture); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	f.srv = httptest.NewServer(f.router())
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeXIQ) client(t *testing.T, cfg XIQConfig) *XIQClient {
	t.Helper()

	cfg.BaseURL = f.srv.URL
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultXIQPageSize
	}

	if cfg.Token == "" && cfg.Username == "" {
		cfg.Token = fakeToken
	}

	return NewXIQClient(zap.NewNop(), cfg, f.srv.Client())
}

func (f *fakeXIQ) router() http.Handler {
	router := httprouter.New()

	router.POST("/login", f.wrap(false, f.login))
	router.GET("/endusers", f.wrap(true, f.listEndusers))
	router.POST("/endusers", f.wrap(true, f.createEnduser))
	router.DELETE("/endusers/:id", f.wrap(true, f.deleteEnduser))
	router.GET("/pcgs/key-based/:policy/users", f.wrap(true, f.listPcgUsers))
	router.POST("/pcgs/key-based/:policy/users", f.wrap(true, f.addPcgUsers))
	router.DELETE("/pcgs/key-based/:policy/users", f.wrap(true, f.deletePcgUsers))

	return router
}

type fakeHandler func(w http.ResponseWriter, body []byte, r *http.Request, ps httprouter.Params)

// wrap records the request, checks the bearer token and applies forced failures.
func (f *fakeXIQ) wrap(auth bool, h fakeHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		defer func() { _ = r.Body.Close() }()

		body, _ := io.ReadAll(r.Body)
		f.requests.Log(recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(body),
		})

		if auth && r.Header.Get("Authorization") != "Bearer "+fakeToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error_message": "unauthorized"})
			return
		}

		f.mu.Lock()
		status, fail := f.fixture.Fail[r.Method+" "+r.URL.Path]
		f.mu.Unlock()

		if fail {
			writeJSON(w, status, map[string]string{"error_message": "forced failure"})
			return
		}

		h(w, body, r, ps)
	}
}

func (f *fakeXIQ) login(w http.ResponseWriter, body []byte, _ *http.Request, _ httprouter.Params) {
	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}

	if req.Username != f.fixture.Username || req.Password != f.fixture.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error_message": "invalid credentials"})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{AccessToken: fakeToken})
}

func (f *fakeXIQ) listEndusers(w http.ResponseWriter, _ []byte, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	groupID, _ := strconv.ParseInt(q.Get("user_group_ids"), 10, 64)

	if page < 1 || limit < 1 {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []RemotePpskUser

	for _, u := range f.fixture.PpskUsers {
		if u.GroupID == groupID {
			matched = append(matched, RemotePpskUser{ID: u.ID, Name: u.Name, UserName: u.UserName, Email: u.Email, GroupID: u.GroupID})
		}
	}

	totalPages := (len(matched) + limit - 1) / limit
	if f.fixture.TotalPages > 0 {
		totalPages = f.fixture.TotalPages
	}

	data := []RemotePpskUser{}
	if start := (page - 1) * limit; start < len(matched) {
		end := min(start+limit, len(matched))
		data = matched[start:end]
	}

	writeJSON(w, http.StatusOK, ppskPage{
		Page:       page,
		Count:      len(data),
		TotalPages: totalPages,
		TotalCount: len(matched),
		Data:       data,
	})
}

func (f *fakeXIQ) createEnduser(w http.ResponseWriter, body []byte, _ *http.Request, _ httprouter.Params) {
	var req createPpskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}

	f.mu.Lock()
	f.nextID++
	u := fixturePpskUser{ID: f.nextID, Name: req.Name, UserName: req.UserName, Email: req.EmailAddress, GroupID: req.UserGroupID}
	f.fixture.PpskUsers = append(f.fixture.PpskUsers, u)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, RemotePpskUser{ID: u.ID, Name: u.Name, UserName: u.UserName, Email: u.Email, GroupID: u.GroupID})
}

func (f *fakeXIQ) deleteEnduser(w http.ResponseWriter, _ []byte, _ *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i, u := range f.fixture.PpskUsers {
		if u.ID == id {
			f.fixture.PpskUsers = append(f.fixture.PpskUsers[:i], f.fixture.PpskUsers[i+1:]...)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"error_message": "not found"})
}

func policyParam(ps httprouter.Params) (int64, bool) {
	raw, ok := strings.CutPrefix(ps.ByName("policy"), "network-policy-")
	if !ok {
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)

	return id, err == nil
}

func (f *fakeXIQ) listPcgUsers(w http.ResponseWriter, _ []byte, _ *http.Request, ps httprouter.Params) {
	policyID, ok := policyParam(ps)
	if !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	users := []RemotePcgUser{}
	for _, u := range f.fixture.PcgUsers[policyID] {
		users = append(users, RemotePcgUser{ID: u.ID, Email: u.Email, UserGroupName: u.UserGroupName})
	}

	writeJSON(w, http.StatusOK, users)
}

func (f *fakeXIQ) addPcgUsers(w http.ResponseWriter, body []byte, _ *http.Request, ps httprouter.Params) {
	policyID, ok := policyParam(ps)
	if !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}

	var req addPcgUsersRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fixture.PcgUsers == nil {
		f.fixture.PcgUsers = make(map[int64][]fixturePcgUser)
	}

	for _, u := range req.Users {
		f.nextID++
		f.fixture.PcgUsers[policyID] = append(f.fixture.PcgUsers[policyID], fixturePcgUser{
			ID:            f.nextID,
			Email:         u.Email,
			UserGroupName: u.UserGroupName,
		})
	}

	w.WriteHeader(http.StatusAccepted)
}

func (f *fakeXIQ) deletePcgUsers(w http.ResponseWriter, body []byte, _ *http.Request, ps httprouter.Params) {
	policyID, ok := policyParam(ps)
	if !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}

	var req deletePcgUsersRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fixture.PcgUsers == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	remove := make(map[int64]bool, len(req.UserIDs))
	for _, id := range req.UserIDs {
		remove[id] = true
	}

	kept := f.fixture.PcgUsers[policyID][:0]
	for _, u := range f.fixture.PcgUsers[policyID] {
		if !remove[u.ID] {
			kept = append(kept, u)
		}
	}

	f.fixture.PcgUsers[policyID] = kept

	w.WriteHeader(http.StatusAccepted)
}

func (f *fakeXIQ) ppskUserNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.fixture.PpskUsers))
	for _, u := range f.fixture.PpskUsers {
		names = append(names, u.UserName)
	}

	return names
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
