package main

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Logger   LoggerConf
	HTTP     HTTPConf
	DB       DBConf
	AMQP     AMQPConf
	Tracking TrackingConf
}

type LoggerConf struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type HTTPConf struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

type DBConf struct {
	ConnectionString string `mapstructure:"connection_string"`
}

type AMQPConf struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

type TrackingConf struct {
	BaseURL string `mapstructure:"base_url"`
}

func NewConfig() (Config, error) {
	var config Config

	viper.SetConfigFile(configFile)

	if err := viper.ReadInConfig(); err != nil {
		return config, fmt.Errorf("cannot read config file, %w", err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("cannot unmarshal config, %w", err)
	}

	return config, nil
}
