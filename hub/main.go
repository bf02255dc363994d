package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/go-redis/redis/v7"

	"github.com/Intuity/Gator/common/helpers"
)

func SetupRedis(config *helpers.Config) (*redis.Client, error) {
	log.Printf("Connecting to Redis on %s", config.Redis.Address)
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Address,
		Password: config.Redis.Password,
		DB:       config.Redis.DBNum,
	})

	_, err := client.Ping().Result()
	if err != nil {
		log.Printf("Could not contact Redis: %s", err)
		return nil, err
	}
	log.Printf("Done.")
	return client, nil
}

func main() {
	configPtr := flag.String("config", "config/hubconfig.yaml", "path to the hub configuration file")
	flag.Parse()

	log.Printf("Reading config from %s", *configPtr)
	config, configReadErr := helpers.ReadConfig(*configPtr)
	if configReadErr != nil {
		log.Fatal("No configuration, can't continue")
	}

	redisClient, redisErr := SetupRedis(config)
	if redisErr != nil {
		log.Fatal("Could not connect to redis")
	}

	endpoints := NewHubEndpoints(redisClient)
	endpoints.WireUp("/api")

	log.Printf("Starting server on port %d", config.ListenPort)
	startServerErr := http.ListenAndServe(fmt.Sprintf(":%d", config.ListenPort), nil)

	if startServerErr != nil {
		log.Fatal(startServerErr)
	}
}
