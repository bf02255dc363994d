package main

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/google/uuid"

	"github.com/Intuity/Gator/common/helpers"
	"github.com/Intuity/Gator/common/logstore"
)

type HubEndpoints struct {
	IndexHandler    IndexHandler
	RegisterHandler RegisterHandler
	CompleteHandler CompleteHandler
	JobsHandler     JobsHandler
	MessagesHandler MessagesHandler
}

func NewHubEndpoints(redisClient *redis.Client) HubEndpoints {
	return HubEndpoints{
		IndexHandler:    IndexHandler{},
		RegisterHandler: RegisterHandler{redisClient},
		CompleteHandler: CompleteHandler{redisClient},
		JobsHandler:     JobsHandler{redisClient},
		MessagesHandler: MessagesHandler{redisClient},
	}
}

func (e HubEndpoints) WireUp(baseUrlPath string) {
	http.Handle(baseUrlPath+"", e.IndexHandler)
	http.Handle(baseUrlPath+"/register", e.RegisterHandler)
	http.Handle(baseUrlPath+"/complete", e.CompleteHandler)
	http.Handle(baseUrlPath+"/jobs", e.JobsHandler)
	http.Handle(baseUrlPath+"/messages", e.MessagesHandler)
}

type IndexHandler struct{}

func (h IndexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJsonContent(map[string]string{
		"tool":    "gator-hub",
		"version": "1.0",
	}, w, 200)
}

type RegisterHandler struct {
	RedisClient *redis.Client
}

func (h RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !helpers.AssertHttpMethod(r, w, "POST") {
		return //error is already output
	}

	var request struct {
		Ident string `json:"ident"`
		Url   string `json:"url"`
		Layer string `json:"layer"`
		Owner string `json:"owner"`
	}
	readErr := helpers.ReadJsonBody(r.Body, &request)
	if readErr != nil {
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: "invalid request body"}, w, 400)
		return
	}
	if request.Ident == "" || request.Url == "" {
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: "ident and url are required"}, w, 400)
		return
	}

	registration := JobRegistration{
		Uid:        uuid.New(),
		Ident:      request.Ident,
		ServerUrl:  request.Url,
		Layer:      request.Layer,
		Owner:      request.Owner,
		Registered: time.Now().Unix(),
	}
	putErr := PutRegistration(&registration, h.RedisClient)
	if putErr == nil {
		putErr = IndexRegistration(&registration, h.RedisClient)
	}
	if putErr != nil {
		log.Printf("Could not store registration for '%s': %s", request.Ident, putErr)
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: "could not store registration"}, w, 500)
		return
	}

	helpers.WriteJsonContent(map[string]string{
		"status": "ok",
		"uid":    registration.Uid.String(),
	}, w, 200)
}

type CompleteHandler struct {
	RedisClient *redis.Client
}

func (h CompleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !helpers.AssertHttpMethod(r, w, "POST") {
		return
	}

	var request struct {
		Uid    string `json:"uid"`
		DbFile string `json:"db_file"`
	}
	readErr := helpers.ReadJsonBody(r.Body, &request)
	if readErr != nil {
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: "invalid request body"}, w, 400)
		return
	}
	uid, parseErr := uuid.Parse(request.Uid)
	if parseErr != nil {
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: "malformed UUID"}, w, 400)
		return
	}

	markErr := MarkRegistrationComplete(uid, request.DbFile, h.RedisClient)
	if markErr != nil {
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: markErr.Error()}, w, 404)
		return
	}
	helpers.WriteJsonContent(map[string]string{"status": "ok"}, w, 200)
}

type JobsHandler struct {
	RedisClient *redis.Client
}

func (h JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !helpers.AssertHttpMethod(r, w, "GET") {
		return
	}

	limit := int64(10)
	queryParams, paramsErr := helpers.GetQueryParams(r.RequestURI)
	if paramsErr == nil {
		requested, limitErr := strconv.ParseInt(queryParams.Get("limit"), 10, 64)
		if limitErr == nil && requested > 0 {
			limit = requested
		}
	}

	registrations, listErr := RecentRegistrations(limit, h.RedisClient)
	if listErr != nil {
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: "could not list registrations"}, w, 500)
		return
	}
	helpers.WriteJsonContent(map[string]interface{}{
		"status": "ok",
		"jobs":   registrations,
	}, w, 200)
}

/**
serve log entries read back out of a completed run's archived database file
*/
type MessagesHandler struct {
	RedisClient *redis.Client
}

func (h MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !helpers.AssertHttpMethod(r, w, "GET") {
		return
	}

	uid, uidErr := helpers.GetUidFromQuerystring(r.RequestURI)
	if uidErr != nil {
		helpers.WriteJsonContent(uidErr, w, 400)
		return
	}

	registration, getErr := GetRegistration(*uid, h.RedisClient)
	if getErr != nil {
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: "unknown registration"}, w, 404)
		return
	}
	if registration.DbFile == "" {
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: "run has not completed yet"}, w, 404)
		return
	}

	var after int64
	limit := 100
	queryParams, paramsErr := helpers.GetQueryParams(r.RequestURI)
	if paramsErr == nil {
		after, _ = strconv.ParseInt(queryParams.Get("after"), 10, 64)
		requested, limitErr := strconv.Atoi(queryParams.Get("limit"))
		if limitErr == nil && requested > 0 {
			limit = requested
		}
	}

	store, openErr := logstore.OpenReadOnly(registration.DbFile)
	if openErr != nil {
		log.Printf("Could not open archived database '%s': %s", registration.DbFile, openErr)
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: "archived database unavailable"}, w, 500)
		return
	}
	defer store.Close()

	messages, readErr := store.Messages(after, limit)
	if readErr != nil {
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Status: "error", Detail: "could not read messages"}, w, 500)
		return
	}
	total, _ := store.MessageCount()

	helpers.WriteJsonContent(map[string]interface{}{
		"status":   "ok",
		"messages": messages,
		"total":    total,
	}, w, 200)
}
