package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/google/uuid"
)

/**
A run registered with the hub: the root node of a tree announces itself at
start and reports back the location of its archived database on completion.
*/
type JobRegistration struct {
	Uid        uuid.UUID `json:"uid"`
	Ident      string    `json:"ident"`
	ServerUrl  string    `json:"url"`
	Layer      string    `json:"layer"`
	Owner      string    `json:"owner,omitempty"`
	Registered int64     `json:"registered"`
	Completed  int64     `json:"completed,omitempty"`
	DbFile     string    `json:"db_file,omitempty"`
}

const registrationIndex = "gator:registrations"

func registrationKey(uid uuid.UUID) string {
	return fmt.Sprintf("gator:registration:%s", uid)
}

func PutRegistration(registration *JobRegistration, client redis.Cmdable) error {
	content, marshalErr := json.Marshal(registration)
	if marshalErr != nil {
		log.Printf("Could not marshal registration %s: %s", registration.Uid, marshalErr)
		return marshalErr
	}

	_, setErr := client.Set(registrationKey(registration.Uid), string(content), 0).Result()
	return setErr
}

func IndexRegistration(registration *JobRegistration, client redis.Cmdable) error {
	_, pushErr := client.RPush(registrationIndex, registration.Uid.String()).Result()
	return pushErr
}

func GetRegistration(uid uuid.UUID, client redis.Cmdable) (*JobRegistration, error) {
	content, getErr := client.Get(registrationKey(uid)).Result()
	if getErr != nil {
		return nil, getErr
	}

	var registration JobRegistration
	unmarshalErr := json.Unmarshal([]byte(content), &registration)
	if unmarshalErr != nil {
		log.Printf("ERROR: Bad data in registration %s: %s. Offending data was %s.", uid, unmarshalErr, content)
		return nil, unmarshalErr
	}
	return &registration, nil
}

/**
most recent registrations first, up to the given limit
*/
func RecentRegistrations(limit int64, client redis.Cmdable) ([]JobRegistration, error) {
	uids, rangeErr := client.LRange(registrationIndex, -limit, -1).Result()
	if rangeErr != nil {
		log.Printf("Could not range %s: %s", registrationIndex, rangeErr)
		return nil, rangeErr
	}

	registrations := make([]JobRegistration, 0, len(uids))
	for index := len(uids) - 1; index >= 0; index-- {
		uid, parseErr := uuid.Parse(uids[index])
		if parseErr != nil {
			log.Printf("ERROR: Bad uid in the registration index: %s", uids[index])
			continue
		}
		registration, getErr := GetRegistration(uid, client)
		if getErr != nil {
			log.Printf("Could not retrieve registration %s: %s", uid, getErr)
			continue
		}
		registrations = append(registrations, *registration)
	}
	return registrations, nil
}

/**
record where a completed run's database was archived
*/
func MarkRegistrationComplete(uid uuid.UUID, dbFile string, client redis.Cmdable) error {
	registration, getErr := GetRegistration(uid, client)
	if getErr != nil {
		return errors.New("no registration for uid")
	}
	registration.Completed = time.Now().Unix()
	registration.DbFile = dbFile
	return PutRegistration(registration, client)
}
