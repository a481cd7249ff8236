package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"odaiboard/internal/config"
	"odaiboard/internal/feed"
	"odaiboard/internal/models"
	"odaiboard/internal/security"
	"odaiboard/internal/store/memstore"
)

const secret = "handler-test-secret"

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string]int
}

func (b *fakeBlobs) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string, _ func(int)) (string, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = int(n)
	return "https://cdn.test/" + key, nil
}

func (b *fakeBlobs) DeleteByPath(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

type fakeTasks struct{}

func (fakeTasks) EnqueueBlobDelete(context.Context, string) error { return nil }

func (fakeTasks) EnqueueThumbnail(context.Context, string, string, string) error { return nil }

type testAPI struct {
	engine *gin.Engine
	db     *memstore.Store
	blobs  *fakeBlobs
	tokens map[string]string
}

func newTestAPI(t *testing.T, checks map[string]HealthCheck) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{Environment: "test"}
	cfg.Security.JWTAccessSecret = secret
	cfg.Security.JWTAccessTTL = time.Hour
	cfg.Contest.Timezone = "Asia/Tokyo"
	cfg.Contest.ScheduleHour = 10
	cfg.Contest.TickInterval = 50 * time.Millisecond
	cfg.Contest.MaxUploadBytes = 1 << 20

	api := &testAPI{
		engine: gin.New(),
		db:     memstore.New(),
		blobs:  &fakeBlobs{objects: map[string]int{}},
		tokens: map[string]string{},
	}
	set := NewHandlerSet(Dependencies{
		Config: cfg,
		Log:    zerolog.Nop(),
		Store:  api.db,
		Users:  api.db,
		Broker: feed.NewLocalBroker(),
		Blobs:  api.blobs,
		Tasks:  fakeTasks{},
		Checks: checks,
	})
	set.Register(api.engine.Group("/api"))

	for _, u := range []models.User{
		{ID: "alice", Email: "alice@example.com", Username: "alice", Role: models.UserRoleUser, Status: models.UserStatusActive},
		{ID: "bob", Email: "bob@example.com", Username: "bob", Role: models.UserRoleUser, Status: models.UserStatusActive},
		{ID: "root", Email: "root@example.com", Username: "root", Role: models.UserRoleAdmin, Status: models.UserStatusActive},
	} {
		if err := api.db.CreateUser(context.Background(), u); err != nil {
			t.Fatal(err)
		}
		token, _, err := security.GenerateAccessToken(secret, u.ID, string(u.Role), time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		api.tokens[u.ID] = token
	}
	return api
}

// seedTopic stores a topic whose phase at the real clock is p.
func (a *testAPI) seedTopic(t *testing.T, id, owner, p string, visibility models.Visibility) {
	t.Helper()
	now := time.Now()
	var offsets [3]time.Duration
	switch p {
	case "upload":
		offsets = [3]time.Duration{-time.Hour, time.Hour, 2 * time.Hour}
	case "voting":
		offsets = [3]time.Duration{-2 * time.Hour, -time.Hour, time.Hour}
	case "results":
		offsets = [3]time.Duration{-3 * time.Hour, -2 * time.Hour, -time.Hour}
	default:
		offsets = [3]time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour}
	}
	publish, uploadEnd, votingEnd := now.Add(offsets[0]), now.Add(offsets[1]), now.Add(offsets[2])
	topic := models.Topic{
		ID:          id,
		Title:       "topic " + id,
		Visibility:  visibility,
		PublishAt:   &publish,
		UploadEndAt: &uploadEnd,
		VotingEndAt: &votingEnd,
		CreatedBy:   owner,
		IsActive:    true,
		CreatedAt:   now,
	}
	if err := a.db.CreateTopic(context.Background(), topic); err != nil {
		t.Fatal(err)
	}
}

func (a *testAPI) seedSubmission(t *testing.T, topicID, id, userID string, votes int) {
	t.Helper()
	sub := models.Submission{TopicID: topicID, ID: id, UserID: userID, Votes: votes, StoragePath: "submissions/" + topicID + "/" + userID + "/1_a.png", CreatedAt: time.Now()}
	if err := a.db.CreateSubmission(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
}

func (a *testAPI) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[user])
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d: %s", rec.Code, status, rec.Body.String())
	}
	if rec.Body.Len() == 0 {
		return nil
	}
	body := decode(t, rec)
	if code != "" && body["error"] != code {
		t.Fatalf("error = %v, want %s", body["error"], code)
	}
	return body
}

func TestRegisterLoginMe(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "Carol@Example.com", "password": "longenough"})
	body := expect(t, rec, http.StatusCreated, "")
	user := body["user"].(map[string]any)
	if user["username"] != "carol" || user["email"] != "carol@example.com" {
		t.Fatalf("registered user = %v", user)
	}

	expect(t, api.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "carol@example.com", "password": "longenough"}), http.StatusConflict, "email_taken")
	expect(t, api.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "carol@example.com", "password": "wrongwrong"}), http.StatusUnauthorized, "invalid_credentials")

	rec = api.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "carol@example.com", "password": "longenough"})
	token := expect(t, rec, http.StatusOK, "")["accessToken"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	me := httptest.NewRecorder()
	api.engine.ServeHTTP(me, req)
	if got := expect(t, me, http.StatusOK, "")["user"].(map[string]any)["username"]; got != "carol" {
		t.Fatalf("me username = %v", got)
	}

	expect(t, api.do(t, http.MethodGet, "/api/v1/auth/me", "", nil), http.StatusUnauthorized, "missing_token")
}

func TestSuspendedUserIsRejected(t *testing.T) {
	api := newTestAPI(t, nil)
	expect(t, api.do(t, http.MethodPost, "/api/v1/admin/users/bob/status", "alice", gin.H{"status": "suspended"}), http.StatusForbidden, "forbidden")
	expect(t, api.do(t, http.MethodPost, "/api/v1/admin/users/bob/status", "root", gin.H{"status": "suspended"}), http.StatusNoContent, "")
	expect(t, api.do(t, http.MethodGet, "/api/v1/auth/me", "bob", nil), http.StatusForbidden, "user_inactive")
}

func TestCreateAndListTopics(t *testing.T) {
	api := newTestAPI(t, nil)
	now := time.Now().UTC()

	rec := api.do(t, http.MethodPost, "/api/v1/topics", "alice", gin.H{
		"title":       "夕焼け",
		"visibility":  "private",
		"publishAt":   now.Add(-time.Hour),
		"uploadEndAt": now.Add(time.Hour),
		"votingEndAt": now.Add(2 * time.Hour),
	})
	topic := expect(t, rec, http.StatusCreated, "")["topic"].(map[string]any)
	if topic["createdByUsername"] != "alice" {
		t.Fatalf("createdByUsername = %v", topic["createdByUsername"])
	}
	if p := topic["phase"].(map[string]any); p["phase"] != "upload" || p["countdown"] == "" {
		t.Fatalf("phase = %v", p)
	}

	expect(t, api.do(t, http.MethodPost, "/api/v1/topics", "alice", gin.H{
		"title":       "bad",
		"publishAt":   now.Add(time.Hour),
		"uploadEndAt": now,
		"votingEndAt": now.Add(2 * time.Hour),
	}), http.StatusBadRequest, "invalid_topic")
	expect(t, api.do(t, http.MethodPost, "/api/v1/topics", "", gin.H{"title": "anon"}), http.StatusUnauthorized, "missing_token")

	api.seedTopic(t, "open", "bob", "voting", models.VisibilityPublic)

	anon := expect(t, api.do(t, http.MethodGet, "/api/v1/topics", "", nil), http.StatusOK, "")["items"].([]any)
	if len(anon) != 1 {
		t.Fatalf("anonymous sees %d topics", len(anon))
	}
	owner := expect(t, api.do(t, http.MethodGet, "/api/v1/topics", "alice", nil), http.StatusOK, "")["items"].([]any)
	if len(owner) != 2 {
		t.Fatalf("owner sees %d topics", len(owner))
	}
	expect(t, api.do(t, http.MethodGet, "/api/v1/topics/"+topic["id"].(string), "bob", nil), http.StatusNotFound, "not_found")

	admin := expect(t, api.do(t, http.MethodGet, "/api/v1/admin/topics?perPage=1", "root", nil), http.StatusOK, "")
	if len(admin["items"].([]any)) != 1 || admin["total"].(float64) != 2 {
		t.Fatalf("admin listing = %v", admin)
	}
}

func TestUploadSubmission(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seedTopic(t, "t1", "bob", "upload", models.VisibilityPublic)
	api.seedTopic(t, "t2", "bob", "voting", models.VisibilityPublic)

	upload := func(topicID, contentType string, data []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="my pic.png"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
		w.WriteField("caption", " 自信作 ")
		w.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/topics/"+topicID+"/submissions", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+api.tokens["alice"])
		rec := httptest.NewRecorder()
		api.engine.ServeHTTP(rec, req)
		return rec
	}

	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}
	sub := expect(t, upload("t1", "image/png", png), http.StatusOK, "")["submission"].(map[string]any)
	if sub["caption"] != "自信作" || sub["votes"].(float64) != 0 {
		t.Fatalf("submission = %v", sub)
	}
	if key := sub["thumbnailKey"].(string); !strings.HasPrefix(key, "thumbs/submissions/t1/alice/") || !strings.HasSuffix(key, "_my_pic.png") {
		t.Fatalf("thumbnail key = %s", key)
	}

	expect(t, upload("t1", "image/svg+xml", []byte("<svg/>")), http.StatusUnsupportedMediaType, "unsupported_image")
	expect(t, upload("t2", "image/png", png), http.StatusConflict, "upload_closed")

	mine := expect(t, api.do(t, http.MethodGet, "/api/v1/topics/t1/submissions/mine", "alice", nil), http.StatusOK, "")
	if mine["submission"].(map[string]any)["id"] != sub["id"] {
		t.Fatalf("mine = %v", mine)
	}
	expect(t, api.do(t, http.MethodGet, "/api/v1/topics/t1/submissions/mine", "bob", nil), http.StatusNotFound, "not_found")
}

func TestVoteBoardResults(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seedTopic(t, "v", "root", "voting", models.VisibilityPublic)
	api.seedSubmission(t, "v", "s1", "alice", 0)
	api.seedSubmission(t, "v", "s2", "bob", 0)

	vote := func(user, submissionID string) map[string]any {
		return expect(t, api.do(t, http.MethodPost, "/api/v1/topics/v/votes", user, gin.H{"submissionId": submissionID}), http.StatusOK, "")
	}
	if got := vote("alice", "s2")["action"]; got != "cast" {
		t.Fatalf("first vote = %v", got)
	}
	if got := vote("alice", "s1")["action"]; got != "switched" {
		t.Fatalf("second vote = %v", got)
	}
	if got := vote("alice", "s1")["action"]; got != "withdrawn" {
		t.Fatalf("third vote = %v", got)
	}
	vote("bob", "s2")
	expect(t, api.do(t, http.MethodPost, "/api/v1/topics/v/votes", "bob", gin.H{"submissionId": "nope"}), http.StatusNotFound, "not_found")
	expect(t, api.do(t, http.MethodPost, "/api/v1/topics/v/votes", "bob", gin.H{}), http.StatusBadRequest, "invalid_input")

	board := expect(t, api.do(t, http.MethodGet, "/api/v1/topics/v/board", "bob", nil), http.StatusOK, "")
	if board["myVote"] != "s2" {
		t.Fatalf("myVote = %v", board["myVote"])
	}
	first := board["entries"].([]any)[0].(map[string]any)
	if first["id"] != "s2" || first["votes"].(float64) != 1 || first["winner"] != nil {
		t.Fatalf("board leader = %v", first)
	}

	expect(t, api.do(t, http.MethodGet, "/api/v1/topics/v/results", "", nil), http.StatusConflict, "results_pending")

	api.seedTopic(t, "r", "root", "results", models.VisibilityPublic)
	api.seedSubmission(t, "r", "a", "alice", 2)
	api.seedSubmission(t, "r", "b", "bob", 2)
	expect(t, api.do(t, http.MethodPost, "/api/v1/topics/r/votes", "alice", gin.H{"submissionId": "a"}), http.StatusConflict, "voting_closed")

	entries := expect(t, api.do(t, http.MethodGet, "/api/v1/topics/r/results", "", nil), http.StatusOK, "")["entries"].([]any)
	for _, e := range entries {
		entry := e.(map[string]any)
		if entry["rank"].(float64) != 1 || entry["winner"] != true {
			t.Fatalf("tied entry = %v", entry)
		}
	}
}

func TestDeleteTopic(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seedTopic(t, "d", "alice", "voting", models.VisibilityPublic)
	api.seedSubmission(t, "d", "s1", "bob", 0)

	expect(t, api.do(t, http.MethodDelete, "/api/v1/topics/d", "bob", nil), http.StatusForbidden, "forbidden")
	expect(t, api.do(t, http.MethodDelete, "/api/v1/topics/d", "alice", nil), http.StatusNoContent, "")
	expect(t, api.do(t, http.MethodGet, "/api/v1/topics/d", "alice", nil), http.StatusNotFound, "not_found")
	if subs, _ := api.db.ListSubmissions(context.Background(), "d"); len(subs) != 0 {
		t.Fatalf("submissions left: %d", len(subs))
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("down") },
	})
	body := expect(t, api.do(t, http.MethodGet, "/api/healthz", "", nil), http.StatusOK, "")
	checks := body["checks"].(map[string]any)
	if body["status"] != "degraded" || checks["postgres"] != "ok" || checks["redis"] != "error" {
		t.Fatalf("health = %v", body)
	}
}

func TestStreamTopicSendsViews(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seedTopic(t, "s", "alice", "upload", models.VisibilityPublic)

	srv := httptest.NewServer(api.engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := fmt.Sprintf("%s/api/v1/topics/s/stream?access_token=%s", srv.URL, api.tokens["bob"])
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	seen := map[string]bool{}
	var event string
	scanner := bufio.NewScanner(resp.Body)
	for !(seen["view:upload"] && seen["submissions"] && seen["ballot"]) && scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:") && event == "view":
			var v viewResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &v); err != nil {
				t.Fatal(err)
			}
			seen["view:"+string(v.State)] = true
		case strings.HasPrefix(line, "data:"):
			seen[event] = true
		}
	}
	if !seen["view:upload"] || !seen["submissions"] || !seen["ballot"] {
		t.Fatalf("events seen = %v (scan err %v)", seen, scanner.Err())
	}
}

func TestStreamMarksWinnersInResults(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seedTopic(t, "r", "alice", "results", models.VisibilityPublic)
	api.seedSubmission(t, "r", "s1", "alice", 3)
	api.seedSubmission(t, "r", "s2", "bob", 1)

	srv := httptest.NewServer(api.engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/topics/r/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var event string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimPrefix(line, "event:")
			continue
		}
		if event != "submissions" || !strings.HasPrefix(line, "data:") {
			continue
		}
		var body struct {
			Entries []struct {
				ID     string `json:"id"`
				Winner bool   `json:"winner"`
			} `json:"entries"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Entries) == 2 && body.Entries[0].ID == "s1" && body.Entries[0].Winner && !body.Entries[1].Winner {
			return
		}
	}
	t.Fatalf("no ranking with winners before stream ended (scan err %v)", scanner.Err())
}

func TestStreamPrivateTopicHidden(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seedTopic(t, "p", "alice", "upload", models.VisibilityPrivate)
	expect(t, api.do(t, http.MethodGet, "/api/v1/topics/p/stream", "bob", nil), http.StatusNotFound, "not_found")
}
