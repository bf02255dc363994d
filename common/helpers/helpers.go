package helpers

import (
	"encoding/json"
	"errors"
	"github.com/google/uuid"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
)

type GenericErrorResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func WriteJsonContent(content interface{}, w http.ResponseWriter, statusCode int) {
	contentBytes, marshalErr := json.Marshal(content)
	if marshalErr != nil {
		log.Printf("Could not marshal content for json write: %s", marshalErr)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.Header().Add("Content-Length", strconv.FormatInt(int64(len(contentBytes)), 10))
	w.WriteHeader(statusCode)
	_, writeErr := w.Write(contentBytes)
	if writeErr != nil {
		log.Printf("Could not write content to HTTP socket: %s", writeErr)
	}
}

func ReadJsonBody(from io.Reader, to interface{}) error {
	byteContent, readErr := io.ReadAll(from)
	if readErr != nil {
		return readErr
	}

	marshalErr := json.Unmarshal(byteContent, to)
	return marshalErr
}

func AssertHttpMethod(request *http.Request, w http.ResponseWriter, method string) bool {
	if request.Method != method {
		log.Printf("Got a %s request, expecting %s", request.Method, method)
		WriteJsonContent(GenericErrorResponse{"error", "wrong method type"}, w, 405)
		return false
	} else {
		return true
	}
}

/**
Breaks down the incoming request URI into a map of string->string
*/
func GetQueryParams(incomingRequestUri string) (*url.Values, error) {
	requestUri, uriParseErr := url.ParseRequestURI(incomingRequestUri)

	if uriParseErr != nil {
		log.Printf("Could not understand incoming request URI '%s': %s", incomingRequestUri, uriParseErr)
		return nil, errors.New("invalid URI")
	}

	rtn := requestUri.Query()
	return &rtn, nil
}

/**
gets just the "uid" parameter from the provided query string and returns it
as a pointer to UUID. if it does not exist or is not a valid UUID, a
GenericErrorResponse object is returned that is suitable to be written
directly to the outgoing response.
*/
func GetUidFromQuerystring(incomingRequestUri string) (*uuid.UUID, *GenericErrorResponse) {
	queryParams, err := GetQueryParams(incomingRequestUri)
	if err != nil {
		return nil, &GenericErrorResponse{
			Status: "error",
			Detail: err.Error(),
		}
	}

	uidString := queryParams.Get("uid")
	uid, uuidParseErr := uuid.Parse(uidString)
	if uuidParseErr != nil {
		log.Printf("Could not parse uid string '%s' into a UUID: %s", uidString, uuidParseErr)
		return nil, &GenericErrorResponse{
			Status: "error",
			Detail: "malformed UUID",
		}
	}
	return &uid, nil
}
