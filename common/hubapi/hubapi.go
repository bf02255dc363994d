package hubapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/user"
	"time"
)

/**
Client for the optional hub service. The root node of a standalone run may
register itself so that completed job databases can be archived; every call
here is best-effort and the caller downgrades failures to warnings.
*/

type Registration struct {
	Ident string `json:"ident"`
	Url   string `json:"url"`
	Layer string `json:"layer"`
	Owner string `json:"owner,omitempty"`
}

type registerResponse struct {
	Status string `json:"status"`
	Uid    string `json:"uid"`
}

type completion struct {
	Uid    string `json:"uid"`
	DbFile string `json:"db_file"`
}

func Username() string {
	current, userErr := user.Current()
	if userErr != nil {
		return ""
	}
	return current.Username
}

/**
register a root node with the hub, returning the uid the hub assigned
*/
func Register(baseUrl string, registration Registration) (string, error) {
	body, sendErr := sendToHub(baseUrl+"/api/register", registration, 0, 3)
	if sendErr != nil {
		return "", sendErr
	}
	var response registerResponse
	decodeErr := json.Unmarshal(body, &response)
	if decodeErr != nil {
		return "", decodeErr
	}
	if response.Uid == "" {
		return "", errors.New("hub did not assign a uid")
	}
	return response.Uid, nil
}

/**
tell the hub where the completed run's database file lives
*/
func Complete(baseUrl string, uid string, dbFile string) error {
	_, sendErr := sendToHub(baseUrl+"/api/complete", completion{Uid: uid, DbFile: dbFile}, 0, 3)
	return sendErr
}

func sendToHub(forUrl string, data interface{}, attempt int, maxTries int) ([]byte, error) {
	byteData, marshalErr := json.Marshal(data)
	if marshalErr != nil {
		log.Print("ERROR: Could not marshal data for hub send: ", marshalErr)
		return nil, marshalErr
	}

	response, err := http.Post(forUrl, "application/json", bytes.NewReader(byteData))
	if err != nil {
		if attempt >= maxTries {
			return nil, err
		}
		log.Printf("WARNING: Hub is not accessible on attempt %d: %s", attempt, err)
		time.Sleep(1 * time.Second)
		return sendToHub(forUrl, data, attempt+1, maxTries)
	}
	defer response.Body.Close()

	responseContent, _ := io.ReadAll(response.Body)
	switch response.StatusCode {
	case 200, 201:
		return responseContent, nil
	case 500, 503, 504:
		log.Printf("WARNING: Hub is not accessible on attempt %d (got a %d response)", attempt, response.StatusCode)
		if attempt >= maxTries {
			return nil, errors.New("hub was not accessible")
		}
		time.Sleep(1 * time.Second)
		return sendToHub(forUrl, data, attempt+1, maxTries)
	default:
		log.Printf("ERROR: Hub returned a fatal error (got a %d response)", response.StatusCode)
		return nil, fmt.Errorf("hub returned status %d", response.StatusCode)
	}
}
