package helpers

import (
	"gopkg.in/yaml.v2"
	"log"
	"os"
)

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DBNum    int    `yaml:"dbNum"`
}

type ArchiveStorage struct {
	LocalPath string `yaml:"localpath"`
}

type Config struct {
	Redis      RedisConfig    `yaml:"redis"`
	Archive    ArchiveStorage `yaml:"archive"`
	ListenPort int            `yaml:"listenport"`
}

func ReadConfig(configFile string) (*Config, error) {
	configBytes, readErr := os.ReadFile(configFile)
	if readErr != nil {
		log.Printf("Could not read config from '%s': %s\n", configFile, readErr)
		return nil, readErr
	}

	var conf Config

	err := yaml.Unmarshal(configBytes, &conf)
	if err != nil {
		log.Printf("Could not understand config from '%s': %s\n", configFile, err)
		return nil, err
	}
	if conf.ListenPort == 0 {
		conf.ListenPort = 8080
	}
	return &conf, nil
}
