package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"medstudy/internal/session"
	"medstudy/pkg/domain"
	"medstudy/pkg/hashing"
	"medstudy/pkg/queue"
	"medstudy/pkg/store"
)

type fakeBlobs struct {
	objects map[string][]byte
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return data, nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type fakeJobs struct {
	enqueued []queue.JobPayload
	jobs     map[string]queue.JobStatus
}

func (f *fakeJobs) Enqueue(_ context.Context, payload queue.JobPayload) (queue.JobStatus, error) {
	job := queue.JobStatus{
		ID:       fmt.Sprintf("job-%d", len(f.enqueued)+1),
		FileHash: payload.FileHash,
		UserID:   payload.UserID,
		Filename: payload.Filename,
		Status:   queue.StatusQueued,
	}
	f.enqueued = append(f.enqueued, payload)
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) GetJob(_ context.Context, jobID string) (queue.JobStatus, bool, error) {
	job, ok := f.jobs[jobID]
	return job, ok, nil
}

type fakeTasks struct {
	byUser map[string]map[string]queue.TaskStatus
}

func (f *fakeTasks) Update(_ context.Context, userID string, task queue.TaskStatus) error {
	if f.byUser[userID] == nil {
		f.byUser[userID] = map[string]queue.TaskStatus{}
	}
	f.byUser[userID][task.TaskID] = task
	return nil
}

func (f *fakeTasks) List(_ context.Context, userID string) ([]queue.TaskStatus, error) {
	var out []queue.TaskStatus
	for _, task := range f.byUser[userID] {
		out = append(out, task)
	}
	return out, nil
}

func (f *fakeTasks) DeleteByStates(_ context.Context, userID string, states ...string) (int, error) {
	wanted := map[string]bool{}
	for _, st := range states {
		wanted[st] = true
	}
	removed := 0
	for id, task := range f.byUser[userID] {
		if wanted[task.Status] {
			delete(f.byUser[userID], id)
			removed++
		}
	}
	return removed, nil
}

type fakeLock struct {
	held map[string]bool
}

func (f *fakeLock) Acquire(_ context.Context, userID string) (bool, error) {
	if f.held[userID] {
		return false, nil
	}
	f.held[userID] = true
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, userID string) error {
	delete(f.held, userID)
	return nil
}

type fakeQuiz struct {
	batches int
}

func (f *fakeQuiz) batch(userID, label string) []domain.Question {
	f.batches++
	questions := make([]domain.Question, 0, 5)
	for i := 0; i < 5; i++ {
		text := fmt.Sprintf("%s batch %d question %d?", label, f.batches, i)
		questions = append(questions, domain.Question{
			Hash:          hashing.QuestionHash(text, userID),
			UserID:        userID,
			ID:            fmt.Sprintf("b%d-q%d", f.batches, i),
			Text:          text,
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: i % 4,
			Reason:        "because",
		})
	}
	return questions
}

func (f *fakeQuiz) GenerateQuestions(_ context.Context, _, userID string) ([]domain.Question, error) {
	return f.batch(userID, "source"), nil
}

func (f *fakeQuiz) GenerateFocusedQuestions(_ context.Context, seeds []domain.Question, userID string) ([]domain.Question, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seeds")
	}
	return f.batch(userID, "focused"), nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(_ context.Context, _ string) (string, error) {
	return "a study guide", nil
}

type fakeTitler struct {
	calls int
}

func (f *fakeTitler) title(_ context.Context, _ string) (string, error) {
	f.calls++
	return "Renal Notes", nil
}

type testDeps struct {
	store  *store.MemoryStore
	blobs  *fakeBlobs
	jobs   *fakeJobs
	tasks  *fakeTasks
	lock   *fakeLock
	titler *fakeTitler
}

func newTestServer(t *testing.T) (*httptest.Server, *testDeps) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})

	deps := &testDeps{
		store:  store.NewMemoryStore(),
		blobs:  &fakeBlobs{objects: map[string][]byte{}},
		jobs:   &fakeJobs{jobs: map[string]queue.JobStatus{}},
		tasks:  &fakeTasks{byUser: map[string]map[string]queue.TaskStatus{}},
		lock:   &fakeLock{held: map[string]bool{}},
		titler: &fakeTitler{},
	}
	srv, err := New(Config{
		Store:                    deps.store,
		Blobs:                    deps.blobs,
		Sessions:                 session.NewRedisSessionStore(client, time.Hour),
		Jobs:                     deps.jobs,
		Tasks:                    deps.tasks,
		Lock:                     deps.lock,
		Quiz:                     &fakeQuiz{},
		Summarizer:               fakeSummarizer{},
		Titler:                   deps.titler.title,
		Bucket:                   "pdfs",
		RedisAddr:                redisSrv.Addr(),
		SignupRateLimitPerMinute: 100,
		LoginRateLimitPerMinute:  100,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, deps
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func postJSON(t *testing.T, client *http.Client, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

const testPassword = "Str0ng#Password!"

func signup(t *testing.T, client *http.Client, baseURL, email string) {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/api/signup", map[string]string{
		"name":     "Dana",
		"email":    email,
		"password": testPassword,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
}

func TestSignupLoginLogoutFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newClient(t)

	signup(t, client, ts.URL, "dana@example.com")

	// Duplicate email.
	resp := postJSON(t, client, ts.URL+"/api/signup", map[string]string{
		"name": "Dana", "email": "dana@example.com", "password": testPassword,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want 409", resp.StatusCode)
	}

	// Session from signup authenticates.
	resp, err := client.Get(ts.URL + "/api/check-auth")
	if err != nil {
		t.Fatalf("check-auth: %v", err)
	}
	var check struct {
		Authenticated bool `json:"authenticated"`
		User          struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	decodeBody(t, resp, &check)
	if !check.Authenticated || check.User.Email != "dana@example.com" {
		t.Fatalf("unexpected check-auth: %+v", check)
	}

	// Wrong password.
	fresh := newClient(t)
	resp = postJSON(t, fresh, ts.URL+"/api/login", map[string]string{
		"email": "dana@example.com", "password": "wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", resp.StatusCode)
	}

	// Correct password.
	resp = postJSON(t, fresh, ts.URL+"/api/login", map[string]string{
		"email": "dana@example.com", "password": testPassword,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	// Logout invalidates the session.
	resp = postJSON(t, fresh, ts.URL+"/api/logout", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp, err = fresh.Get(ts.URL + "/api/check-auth")
	if err != nil {
		t.Fatalf("check-auth after logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("check-auth after logout = %d, want 401", resp.StatusCode)
	}
}

func TestSignupValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newClient(t)

	resp := postJSON(t, client, ts.URL+"/api/signup", map[string]string{
		"email": "not-an-email", "password": "x",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad email status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, client, ts.URL+"/api/signup", map[string]string{
		"email": "a@b.co",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, client, ts.URL+"/api/signup", map[string]string{
		"email": "a@b.co", "password": "weak",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("weak password status = %d, want 400", resp.StatusCode)
	}
}

func uploadPDF(t *testing.T, client *http.Client, baseURL, filename string, content []byte) uploadResult {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	resp, err := client.Post(baseURL+"/api/upload-pdfs", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var body struct {
		Results []uploadResult `json:"results"`
	}
	decodeBody(t, resp, &body)
	if len(body.Results) != 1 {
		t.Fatalf("expected one result, got %+v", body.Results)
	}
	return body.Results[0]
}

func TestUploadQueuesNewFileAndRelinksProcessedFile(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")

	content := []byte("%PDF-1.4 lecture content")
	result := uploadPDF(t, client, ts.URL, "lecture.pdf", content)
	if result.Status != "queued" || result.TaskID == "" {
		t.Fatalf("new upload must queue a job: %+v", result)
	}
	if result.FileHash != hashing.Sum(content) {
		t.Fatalf("file hash mismatch: %+v", result)
	}
	if len(deps.jobs.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(deps.jobs.enqueued))
	}
	if _, ok := deps.blobs.objects[result.FileHash+".pdf"]; !ok {
		t.Fatal("blob not stored under content-addressed key")
	}

	// Same bytes under another name, now fully processed: re-link only.
	if err := deps.store.SetFileText(result.FileHash, "extracted", "Real Title"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	again := uploadPDF(t, client, ts.URL, "renamed.pdf", content)
	if again.Status != "exists" {
		t.Fatalf("processed re-upload must report exists: %+v", again)
	}
	if len(deps.jobs.enqueued) != 1 {
		t.Fatalf("re-upload must not enqueue, enqueued = %d", len(deps.jobs.enqueued))
	}

	files, err := deps.store.ListUserFiles(userID(t, deps, "dana@example.com"))
	if err != nil || len(files) != 1 {
		t.Fatalf("linked files = %v err = %v", files, err)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")

	result := uploadPDF(t, client, ts.URL, "notes.txt", []byte("plain text"))
	if result.Error == "" || result.Status != "" {
		t.Fatalf("non-pdf must fail per-file: %+v", result)
	}
	if len(deps.jobs.enqueued) != 0 {
		t.Fatal("rejected file must not be queued")
	}
}

func userID(t *testing.T, deps *testDeps, email string) string {
	t.Helper()
	user, found, err := deps.store.GetUserByEmail(email)
	if err != nil || !found {
		t.Fatalf("lookup user %s: found=%v err=%v", email, found, err)
	}
	return user.ID
}

// seedProcessedFile creates a fully extracted, titled file owned by nobody.
func seedProcessedFile(t *testing.T, deps *testDeps, hash, title string) {
	t.Helper()
	if err := deps.store.SaveFile(domain.FileRecord{
		FileHash:    hash,
		Filename:    hash + ".pdf",
		Bucket:      "pdfs",
		StoragePath: hash + ".pdf",
	}); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := deps.store.SetFileText(hash, "text of "+hash, title); err != nil {
		t.Fatalf("seed text: %v", err)
	}
}

func generateSummary(t *testing.T, client *http.Client, baseURL string, fileHashes []string) string {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/api/generate-summary", map[string]any{
		"fileHashes": fileHashes,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate-summary status = %d", resp.StatusCode)
	}
	var body struct {
		Summary     string `json:"summary"`
		ContentHash string `json:"contentHash"`
	}
	decodeBody(t, resp, &body)
	if body.Summary == "" || body.ContentHash == "" {
		t.Fatalf("unexpected summary response: %+v", body)
	}
	return body.ContentHash
}

func TestGenerateSummaryCreatesStudySet(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")
	seedProcessedFile(t, deps, "f1", "Cardiology")

	contentHash := generateSummary(t, client, ts.URL, []string{"f1"})

	uid := userID(t, deps, "dana@example.com")
	set, found, err := deps.store.GetQuestionSet(contentHash, uid)
	if err != nil || !found {
		t.Fatalf("study set not created: found=%v err=%v", found, err)
	}
	if set.Summary != "a study guide" || set.ShortTitle != "Cardiology" {
		t.Fatalf("unexpected set: %+v", set)
	}

	// Same files yield the same identity and no duplicate set.
	if got := generateSummary(t, client, ts.URL, []string{"f1"}); got != contentHash {
		t.Fatalf("content hash not stable: %s vs %s", got, contentHash)
	}
	sets, _ := deps.store.ListQuestionSets(uid)
	if len(sets) != 1 {
		t.Fatalf("duplicate set created: %d", len(sets))
	}
}

func TestGenerateSummaryRejectsUnprocessedFile(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")
	if err := deps.store.SaveFile(domain.FileRecord{FileHash: "f1", Filename: "a.pdf"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := postJSON(t, client, ts.URL+"/api/generate-summary", map[string]any{
		"fileHashes": []string{"f1"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409 for unprocessed file", resp.StatusCode)
	}
}

func TestGenerateQuizFlow(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")
	seedProcessedFile(t, deps, "f1", "Cardiology")
	contentHash := generateSummary(t, client, ts.URL, []string{"f1"})
	uid := userID(t, deps, "dana@example.com")

	// Initial batch.
	resp := postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{"initial": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate-quiz status = %d", resp.StatusCode)
	}
	var quiz struct {
		Questions []domain.Question `json:"questions"`
	}
	decodeBody(t, resp, &quiz)
	if len(quiz.Questions) != 5 {
		t.Fatalf("questions = %d, want 5", len(quiz.Questions))
	}

	set, _, err := deps.store.GetQuestionSet(contentHash, uid)
	if err != nil {
		t.Fatalf("get set: %v", err)
	}
	if len(set.QuestionHashes) != 5 {
		t.Fatalf("set hashes = %d, want 5", len(set.QuestionHashes))
	}

	// A second "initial" generation is a conflict.
	resp = postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{"initial": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate initial status = %d, want 409", resp.StatusCode)
	}

	// An additional batch appends.
	resp = postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("additional batch status = %d", resp.StatusCode)
	}
	set, _, _ = deps.store.GetQuestionSet(contentHash, uid)
	if len(set.QuestionHashes) != 10 {
		t.Fatalf("set hashes after append = %d, want 10", len(set.QuestionHashes))
	}

	// Lock held by a concurrent generation.
	deps.lock.held[uid] = true
	resp = postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("locked generation status = %d, want 409", resp.StatusCode)
	}
}

func TestQuizModeFramingsKeepSeparateSets(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")
	seedProcessedFile(t, deps, "f1", "Cardiology")
	uid := userID(t, deps, "dana@example.com")

	items := []hashing.SetItem{hashing.TextItem("text of f1")}
	studyHash := hashing.ContentSetHash(items, uid, false)
	quizHash := hashing.ContentSetHash(items, uid, true)

	if got := generateSummary(t, client, ts.URL, []string{"f1"}); got != studyHash {
		t.Fatalf("summary content hash = %s, want study-mode %s", got, studyHash)
	}

	// An initial generation in quiz mode targets the paired quiz-mode
	// identity, not the study-mode set the summary created.
	resp := postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{
		"initial": true, "quizMode": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quiz-mode initial status = %d", resp.StatusCode)
	}
	var quiz struct {
		ContentHash      string `json:"contentHash"`
		OtherContentHash string `json:"otherContentHash"`
	}
	decodeBody(t, resp, &quiz)
	if quiz.ContentHash != quizHash || quiz.OtherContentHash != studyHash {
		t.Fatalf("hashes = %+v, want active %s / other %s", quiz, quizHash, studyHash)
	}

	quizSet, found, err := deps.store.GetQuestionSet(quizHash, uid)
	if err != nil || !found {
		t.Fatalf("quiz-mode set missing: found=%v err=%v", found, err)
	}
	if !quizSet.QuizMode || len(quizSet.QuestionHashes) != 5 {
		t.Fatalf("quiz-mode set = %+v", quizSet)
	}
	if quizSet.OtherContentHash != studyHash || quizSet.ShortTitle != "Cardiology" {
		t.Fatalf("quiz-mode set not seeded from pair: %+v", quizSet)
	}
	studySet, _, err := deps.store.GetQuestionSet(studyHash, uid)
	if err != nil {
		t.Fatalf("get study set: %v", err)
	}
	if len(studySet.QuestionHashes) != 0 {
		t.Fatalf("study set gained quiz-mode questions: %+v", studySet)
	}

	// Back to study mode: its own initial batch lands in the study set.
	resp = postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{"initial": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("study-mode initial status = %d", resp.StatusCode)
	}
	decodeBody(t, resp, &quiz)
	if quiz.ContentHash != studyHash {
		t.Fatalf("study-mode initial under %s, want %s", quiz.ContentHash, studyHash)
	}
	studySet, _, _ = deps.store.GetQuestionSet(studyHash, uid)
	if len(studySet.QuestionHashes) != 5 {
		t.Fatalf("study set hashes = %d, want 5", len(studySet.QuestionHashes))
	}

	// Each framing now has questions; another initial in either is a conflict.
	resp = postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{"initial": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate study initial = %d, want 409", resp.StatusCode)
	}
	resp = postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{
		"initial": true, "quizMode": true,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate quiz initial = %d, want 409", resp.StatusCode)
	}
}

func TestGetOtherQuizSwitchesFraming(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")
	seedProcessedFile(t, deps, "f1", "Cardiology")
	uid := userID(t, deps, "dana@example.com")

	items := []hashing.SetItem{hashing.TextItem("text of f1")}
	studyHash := hashing.ContentSetHash(items, uid, false)
	quizHash := hashing.ContentSetHash(items, uid, true)

	generateSummary(t, client, ts.URL, []string{"f1"})
	resp := postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{
		"initial": true, "quizMode": true,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quiz-mode initial status = %d", resp.StatusCode)
	}

	resp, err := client.Get(ts.URL + "/api/get-other-quiz")
	if err != nil {
		t.Fatalf("get-other-quiz: %v", err)
	}
	var other struct {
		Questions        []domain.Question `json:"questions"`
		ContentHash      string            `json:"contentHash"`
		OtherContentHash string            `json:"otherContentHash"`
		QuizMode         bool              `json:"quizMode"`
		Exists           bool              `json:"exists"`
	}
	decodeBody(t, resp, &other)
	if other.ContentHash != studyHash || other.OtherContentHash != quizHash {
		t.Fatalf("framing switch hashes = %+v", other)
	}
	if !other.Exists || other.QuizMode {
		t.Fatalf("paired study set should exist in study mode: %+v", other)
	}
	if len(other.Questions) != 0 {
		t.Fatalf("switching framings must reset the quiz: %+v", other.Questions)
	}

	// The active quiz was dropped along with the switch.
	resp, err = client.Get(ts.URL + "/api/get-quiz")
	if err != nil {
		t.Fatalf("get-quiz: %v", err)
	}
	var current struct {
		Questions []domain.Question `json:"questions"`
	}
	decodeBody(t, resp, &current)
	if len(current.Questions) != 0 {
		t.Fatalf("quiz survived framing switch: %d questions", len(current.Questions))
	}

	// Without a loaded set there is nothing to switch to.
	fresh := newClient(t)
	signup(t, fresh, ts.URL, "sam@example.com")
	resp, err = fresh.Get(ts.URL + "/api/get-other-quiz")
	if err != nil {
		t.Fatalf("get-other-quiz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("no-set framing switch = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateSummaryTitlesPastedTextSet(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")
	uid := userID(t, deps, "dana@example.com")

	resp := postJSON(t, client, ts.URL+"/api/generate-summary", map[string]any{
		"extraText": "the nephron reabsorbs sodium",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate-summary status = %d", resp.StatusCode)
	}
	var body struct {
		ShortTitle  string `json:"shortTitle"`
		ContentHash string `json:"contentHash"`
	}
	decodeBody(t, resp, &body)
	if body.ShortTitle != "Renal Notes" {
		t.Fatalf("pasted-text set title = %q, want generated title", body.ShortTitle)
	}
	set, found, err := deps.store.GetQuestionSet(body.ContentHash, uid)
	if err != nil || !found {
		t.Fatalf("set missing: found=%v err=%v", found, err)
	}
	if set.ShortTitle != "Renal Notes" {
		t.Fatalf("stored title = %q, want generated title", set.ShortTitle)
	}
	if deps.titler.calls != 1 {
		t.Fatalf("titler calls = %d, want 1", deps.titler.calls)
	}

	// Re-submitting the same text merges into the existing set; no retitle.
	resp = postJSON(t, client, ts.URL+"/api/generate-summary", map[string]any{
		"extraText": "the nephron reabsorbs sodium",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat generate-summary status = %d", resp.StatusCode)
	}
	if deps.titler.calls != 1 {
		t.Fatalf("titler re-ran on existing set: %d calls", deps.titler.calls)
	}
	set, _, _ = deps.store.GetQuestionSet(body.ContentHash, uid)
	if set.ShortTitle != "Renal Notes" {
		t.Fatalf("repeat generation clobbered title: %q", set.ShortTitle)
	}
}

func TestRegenerateSummaryResetsQuiz(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")
	seedProcessedFile(t, deps, "f1", "Cardiology")
	generateSummary(t, client, ts.URL, []string{"f1"})

	resp := postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{"initial": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate-quiz status = %d", resp.StatusCode)
	}

	resp = postJSON(t, client, ts.URL+"/api/regenerate-summary", map[string]any{
		"fileHashes": []string{"f1"},
		"extraText":  "focus on arrhythmias",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("regenerate-summary status = %d", resp.StatusCode)
	}
	var body struct {
		Summary string `json:"summary"`
	}
	decodeBody(t, resp, &body)
	if body.Summary == "" {
		t.Fatal("regenerated summary is empty")
	}

	// The old quiz no longer matches the summary and is dropped.
	resp, err := client.Get(ts.URL + "/api/get-quiz")
	if err != nil {
		t.Fatalf("get-quiz: %v", err)
	}
	var current struct {
		Questions []domain.Question `json:"questions"`
	}
	decodeBody(t, resp, &current)
	if len(current.Questions) != 0 {
		t.Fatalf("quiz survived summary regeneration: %d questions", len(current.Questions))
	}

	// Nothing to regenerate from.
	resp = postJSON(t, client, ts.URL+"/api/regenerate-summary", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty regenerate status = %d, want 400", resp.StatusCode)
	}
}

func TestGetCurrentSessionSources(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")

	// Before anything is loaded the list is empty, not null.
	resp, err := client.Get(ts.URL + "/api/get-current-session-sources")
	if err != nil {
		t.Fatalf("get sources: %v", err)
	}
	var sources struct {
		ContentNames []string `json:"contentNames"`
		ShortTitle   string   `json:"shortTitle"`
	}
	decodeBody(t, resp, &sources)
	if sources.ContentNames == nil || len(sources.ContentNames) != 0 {
		t.Fatalf("empty session sources = %+v", sources)
	}

	seedProcessedFile(t, deps, "f1", "Cardiology")
	resp = postJSON(t, client, ts.URL+"/api/generate-summary", map[string]any{
		"fileHashes": []string{"f1"},
		"extraText":  "notes from class",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate-summary status = %d", resp.StatusCode)
	}

	resp, err = client.Get(ts.URL + "/api/get-current-session-sources")
	if err != nil {
		t.Fatalf("get sources: %v", err)
	}
	decodeBody(t, resp, &sources)
	if len(sources.ContentNames) != 2 || sources.ContentNames[0] != "f1.pdf" || sources.ContentNames[1] != "pasted text" {
		t.Fatalf("session sources = %+v", sources.ContentNames)
	}
	if sources.ShortTitle != "Cardiology" {
		t.Fatalf("session title = %q", sources.ShortTitle)
	}
}

func TestGenerateQuizWithoutStudySet(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")

	resp := postJSON(t, client, ts.URL+"/api/generate-quiz", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without a loaded set", resp.StatusCode)
	}
}

func TestProcessingStatusScopedToOwner(t *testing.T) {
	ts, deps := newTestServer(t)
	owner := newClient(t)
	signup(t, owner, ts.URL, "dana@example.com")

	result := uploadPDF(t, owner, ts.URL, "lecture.pdf", []byte("%PDF-1.4 content"))
	if result.TaskID == "" {
		t.Fatalf("upload did not queue: %+v", result)
	}

	resp, err := owner.Get(ts.URL + "/api/pdf-processing-status/" + result.TaskID)
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	var status struct {
		TaskID string `json:"taskId"`
		Status string `json:"status"`
	}
	decodeBody(t, resp, &status)
	if status.TaskID != result.TaskID || status.Status != queue.TaskPending {
		t.Fatalf("unexpected status payload: %+v", status)
	}

	// Queue-side progress is translated to task vocabulary.
	job := deps.jobs.jobs[result.TaskID]
	job.Status = queue.StatusFailed
	deps.jobs.jobs[result.TaskID] = job
	resp, err = owner.Get(ts.URL + "/api/pdf-processing-status/" + result.TaskID)
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	decodeBody(t, resp, &status)
	if status.Status != queue.TaskFailure {
		t.Fatalf("failed job status = %q, want %q", status.Status, queue.TaskFailure)
	}

	// Another user cannot see the task.
	other := newClient(t)
	signup(t, other, ts.URL, "sam@example.com")
	resp, err = other.Get(ts.URL + "/api/pdf-processing-status/" + result.TaskID)
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign task status = %d, want 404", resp.StatusCode)
	}
}

func TestClearCompletedTasks(t *testing.T) {
	ts, deps := newTestServer(t)
	client := newClient(t)
	signup(t, client, ts.URL, "dana@example.com")
	uid := userID(t, deps, "dana@example.com")

	for id, state := range map[string]string{
		"t1": queue.TaskSuccess,
		"t2": queue.TaskFailure,
		"t3": queue.TaskInProgress,
	} {
		if err := deps.tasks.Update(context.Background(), uid, queue.TaskStatus{TaskID: id, Status: state}); err != nil {
			t.Fatalf("seed task: %v", err)
		}
	}

	resp := postJSON(t, client, ts.URL+"/api/clear-completed-tasks", map[string]any{})
	var body struct {
		Cleared int `json:"cleared"`
	}
	decodeBody(t, resp, &body)
	if body.Cleared != 2 {
		t.Fatalf("cleared = %d, want 2", body.Cleared)
	}
	left, _ := deps.tasks.List(context.Background(), uid)
	if len(left) != 1 || left[0].TaskID != "t3" {
		t.Fatalf("remaining tasks = %+v", left)
	}
}

func TestAuthenticatedRoutesRejectAnonymous(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{
		"/api/check-auth",
		"/api/get-user-pdfs",
		"/api/get-quiz",
		"/api/get-question-sets",
		"/api/get-user-tasks",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s status = %d, want 401", path, resp.StatusCode)
		}
	}
}
