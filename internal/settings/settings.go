package settings

import (
	"bufio"
	"log"
	"net/url"
	"os"
	"regexp"
	"strings"
)

var Settings *AppSettings

func NewSettings() *AppSettings {
	settings := AppSettings{
		ServiceURL:     getEnvOrDefault("RUNBATCH_SERVICE_URL", "http://localhost:8080"),
		APIKey:         getEnvOrDefault("RUNBATCH_API_KEY", ""),
		Transport:      getEnvOrDefault("RUNBATCH_TRANSPORT", "sse"),
		Port:           getEnvOrDefault("RUNBATCH_PORT", ":8080"),
		SQLiteDatabase: getEnvOrDefault("RUNBATCH_DB_PATH", "file:.///runbatch.sqlite"),
		TargetsPath:    getEnvOrDefault("RUNBATCH_TARGETS_PATH", ""),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

type AppSettings struct {
	ServiceURL     string
	APIKey         string
	Transport      string
	Port           string
	SQLiteDatabase string
	TargetsPath    string
}

func (as *AppSettings) SQLiteDbString(readonly bool) string {
	params := make(url.Values)
	params.Add("_journal_mode", "WAL")
	params.Add("_busy_timeout", "5000")
	params.Add("_synchronous", "NORMAL")
	params.Add("_cache_size", "-20000")
	params.Add("_foreign_keys", "ON")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "IMMEDIATE")
		params.Add("mode", "rwc")
	}

	return as.SQLiteDatabase + "?" + params.Encode()
}

// ReadDotenv sets every KEY=value line of path as an environment variable.
// A missing file is ignored.
func ReadDotenv(path string) {
	re := regexp.MustCompile(`^[^0-9][A-Z0-9_]+=.+$`)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Println("err opening dotenv:", err)
		}
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] != '#' && re.Match(line) {
			name, value, _ := strings.Cut(string(line), "=")
			name = strings.TrimSpace(name)
			value = strings.TrimSpace(value)
			value = strings.Trim(value, `"`)
			os.Setenv(name, value)
		}
	}
}
