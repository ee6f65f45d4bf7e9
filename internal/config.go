package internal

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/haatos/runbatch/internal/util"
)

var Config *Configuration

type HoursDuration time.Duration

func NewHoursDuration(hours int64) HoursDuration {
	return HoursDuration(time.Duration(hours) * time.Hour)
}

func (hd HoursDuration) MarshalJSON() ([]byte, error) {
	hours := float64(time.Duration(hd)) / float64(time.Hour)
	return json.Marshal(hours)
}

func (hd *HoursDuration) UnmarshalJSON(data []byte) error {
	var hours float64
	if err := json.Unmarshal(data, &hours); err != nil {
		return err
	}
	*hd = HoursDuration(hours * float64(time.Hour))
	return nil
}

type SecondsDuration time.Duration

func NewSecondsDuration(seconds int64) SecondsDuration {
	return SecondsDuration(time.Duration(seconds) * time.Second)
}

func (sd SecondsDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(sd).Seconds())
}

func (sd *SecondsDuration) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	*sd = SecondsDuration(seconds * float64(time.Second))
	return nil
}

type Configuration struct {
	EventLogCapacity   int64           `json:"event_log_capacity"`
	HistoryLimit       int64           `json:"history_limit"`
	DefaultConcurrency int64           `json:"default_concurrency"`
	RequestTimeout     SecondsDuration `json:"request_timeout_seconds"`
	RetentionHours     HoursDuration   `json:"retention_hours"`
	QueueSize          int64           `json:"queue_size"`
	TimeScale          float64         `json:"time_scale"`
}

func DefaultConfiguration() *Configuration {
	return &Configuration{
		EventLogCapacity:   120,
		HistoryLimit:       20,
		DefaultConcurrency: 3,
		RequestTimeout:     NewSecondsDuration(30),
		RetentionHours:     NewHoursDuration(7 * 24),
		QueueSize:          100,
		TimeScale:          1,
	}
}

// InitializeConfiguration reads path into Config, writing the defaults to
// path first when it does not exist.
func InitializeConfiguration(path string) {
	Config = DefaultConfiguration()

	configFileExists, _ := util.PathExists(path)
	if !configFileExists {
		if err := writeConfiguration(path, Config); err != nil {
			log.Fatal(err)
		}
		return
	}

	configBytes, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}
	if err := json.Unmarshal(configBytes, &Config); err != nil {
		log.Fatal(err)
	}
}

func UpdateConfiguration(path string, config *Configuration) error {
	if err := writeConfiguration(path, config); err != nil {
		return err
	}
	Config = config
	return nil
}

func writeConfiguration(path string, config *Configuration) error {
	b, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
