package main

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis/v7"

	"github.com/Intuity/Gator/common/logstore"
)

func testRedis(t *testing.T) *redis.Client {
	s, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	t.Cleanup(s.Close)

	return redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
}

func registerTestRun(t *testing.T, client *redis.Client, ident string) string {
	handler := RegisterHandler{client}
	body := fmt.Sprintf(`{"ident":"%s","url":"10.0.0.1:4567","layer":"tier","owner":"tester"}`, ident)
	request := httptest.NewRequest("POST", "/api/register", strings.NewReader(body))
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)
	if recorder.Code != 200 {
		t.Fatalf("register returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Status string `json:"status"`
		Uid    string `json:"uid"`
	}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &response); decodeErr != nil {
		t.Fatal("could not decode register response: ", decodeErr)
	}
	if response.Uid == "" {
		t.Fatal("register did not assign a uid")
	}
	return response.Uid
}

func TestRegisterAndListJobs(t *testing.T) {
	client := testRedis(t)
	registerTestRun(t, client, "regression")
	registerTestRun(t, client, "smoke")

	handler := JobsHandler{client}
	request := httptest.NewRequest("GET", "/api/jobs", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != 200 {
		t.Fatalf("jobs returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Status string            `json:"status"`
		Jobs   []JobRegistration `json:"jobs"`
	}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &response); decodeErr != nil {
		t.Fatal("could not decode jobs response: ", decodeErr)
	}
	if len(response.Jobs) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(response.Jobs))
	}
	// Most recent registration first
	if response.Jobs[0].Ident != "smoke" {
		t.Errorf("expected most recent registration first, got '%s'", response.Jobs[0].Ident)
	}
}

func TestRegisterRejectsWrongMethod(t *testing.T) {
	handler := RegisterHandler{testRedis(t)}
	request := httptest.NewRequest("GET", "/api/register", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != 405 {
		t.Errorf("expected 405 for a GET, got %d", recorder.Code)
	}
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	handler := RegisterHandler{testRedis(t)}
	request := httptest.NewRequest("POST", "/api/register", strings.NewReader(`{"ident":""}`))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != 400 {
		t.Errorf("expected 400 for missing fields, got %d", recorder.Code)
	}
}

func TestCompleteAndFetchMessages(t *testing.T) {
	client := testRedis(t)
	uid := registerTestRun(t, client, "archived")

	// Fake a completed run's database
	dbFile := filepath.Join(t.TempDir(), "db.sqlite")
	store, openErr := logstore.Open(dbFile)
	if openErr != nil {
		t.Fatal("could not create archive database: ", openErr)
	}
	store.PushLogEntry(100, 20, "hello from the run")
	store.PushLogEntry(200, 40, "and an error")
	store.Close()

	completeHandler := CompleteHandler{client}
	body := fmt.Sprintf(`{"uid":"%s","db_file":"%s"}`, uid, dbFile)
	request := httptest.NewRequest("POST", "/api/complete", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	completeHandler.ServeHTTP(recorder, request)
	if recorder.Code != 200 {
		t.Fatalf("complete returned %d: %s", recorder.Code, recorder.Body.String())
	}

	messagesHandler := MessagesHandler{client}
	request = httptest.NewRequest("GET", fmt.Sprintf("/api/messages?uid=%s", uid), nil)
	recorder = httptest.NewRecorder()
	messagesHandler.ServeHTTP(recorder, request)
	if recorder.Code != 200 {
		t.Fatalf("messages returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Status   string              `json:"status"`
		Messages []logstore.LogEntry `json:"messages"`
		Total    int64               `json:"total"`
	}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &response); decodeErr != nil {
		t.Fatal("could not decode messages response: ", decodeErr)
	}
	if response.Total != 2 || len(response.Messages) != 2 {
		t.Fatalf("expected both archived entries, got %+v", response)
	}
	if response.Messages[1].Severity != 40 {
		t.Errorf("expected the error entry's severity to survive, got %d", response.Messages[1].Severity)
	}
}

func TestMessagesRejectsUnknownUid(t *testing.T) {
	handler := MessagesHandler{testRedis(t)}
	request := httptest.NewRequest("GET", "/api/messages?uid=b6f3f0a0-1111-2222-3333-444455556666", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != 404 {
		t.Errorf("expected 404 for an unknown uid, got %d", recorder.Code)
	}
}

func TestMessagesBeforeCompletionIsRejected(t *testing.T) {
	client := testRedis(t)
	uid := registerTestRun(t, client, "still-running")

	handler := MessagesHandler{client}
	request := httptest.NewRequest("GET", fmt.Sprintf("/api/messages?uid=%s", uid), nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != 404 {
		t.Errorf("expected 404 before the run completes, got %d", recorder.Code)
	}
}
