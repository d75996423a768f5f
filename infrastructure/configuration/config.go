package configuration

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"post-mirror/infrastructure/logger"

	"github.com/spf13/viper"
)

type Config struct {
	App         App         `json:"app"`
	Database    Database    `json:"database"`
	Pubsub      Pubsub      `json:"pubsub"`
	ServiceBus  ServiceBus  `json:"serviceBus"`
	RedisClient RedisClient `json:"redisClient"`
	Parser      Parser      `json:"parser"`
	Platforms   Platforms   `json:"platforms"`
	Tasks       Tasks       `json:"tasks"`
}

type App struct {
	Port        int      `json:"port"`
	SecretKey   string   `json:"secretKey"`
	TLSEnabled  bool     `json:"tlsEnabled"`
	TLSCertFile string   `json:"tlsCertFile"`
	TLSKeyFile  string   `json:"tlsKeyFile"`
	Origins     []string `json:"origins"`
	// Store selects the document store: "mongo" or "memory".
	Store string `json:"store"`
}

type Database struct {
	Psql  Db `json:"psql"`
	MySql Db `json:"mysql"`
	Mongo Db `json:"mongo"`
	Mssql Db `json:"mssql"`
}

type Db struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type Pubsub struct {
	ProjectID       string `json:"projectID"`
	SignalTopic     string `json:"signalTopic"`
	CredentialsFile string `json:"credentialsFile"`
}

type ServiceBus struct {
	Namespace        string `json:"namespace"`
	ConnectionString string `json:"connectionString"`
	Queue            string `json:"queue"`
}

type RedisClient struct {
	Host          string `json:"host"`
	Port          string `json:"port"`
	Password      string `json:"password"`
	Username      string `json:"username"`
	SignalChannel string `json:"signalChannel"`
}

type Parser struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type Platforms struct {
	Twitter  OAuthPlatform `json:"twitter"`
	Mastodon Endpoint      `json:"mastodon"`
	Bluesky  Endpoint      `json:"bluesky"`
	Nanopub  Endpoint      `json:"nanopub"`
	Orcid    OAuthPlatform `json:"orcid"`
}

type Endpoint struct {
	BaseURL string `json:"baseURL"`
}

type OAuthPlatform struct {
	BaseURL      string `json:"baseURL"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	RedirectURI  string `json:"redirectURI"`
}

// Queue overrides the dispatch and retry policy of one task queue.
type Queue struct {
	MaxDispatchesPerSecond  float64 `json:"maxDispatchesPerSecond"`
	MaxConcurrentDispatches int     `json:"maxConcurrentDispatches"`
	MaxAttempts             int     `json:"maxAttempts"`
	MinBackoffSeconds       int     `json:"minBackoffSeconds"`
	MaxBackoffSeconds       int     `json:"maxBackoffSeconds"`
	MaxDoublings            int     `json:"maxDoublings"`
	TimeoutSeconds          int     `json:"timeoutSeconds"`
}

type Tasks struct {
	// Transport selects how tasks are delivered: "direct" or "servicebus".
	Transport           string           `json:"transport"`
	PushSecret          string           `json:"pushSecret"`
	Queues              map[string]Queue `json:"queues"`
	FetchExpectedAmount int              `json:"fetchExpectedAmount"`
	BatchSize           int              `json:"batchSize"`
	ScheduleMinutes     int              `json:"scheduleMinutes"`
	MetricsBaseSeconds  int              `json:"metricsBaseSeconds"`
	MetricsMaxSeconds   int              `json:"metricsMaxSeconds"`
}

// Queue returns the override for a queue name. Viper lowercases map keys.
func (t Tasks) Queue(name string) (Queue, bool) {
	q, ok := t.Queues[strings.ToLower(name)]
	return q, ok
}

var C Config

func init() {
	LoadConfig()
	initDatabase(&C)
	initApp(&C)
	initTasks(&C)
}

func LoadConfig() {
	name := getConfig()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
		}
	}

	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
	if err := viper.Unmarshal(&C); err != nil {
		logger.GetLogger().WithField("error", err).Error("Viper unable to decode into struct")
	}
}

func getConfig() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func initDatabase(C *Config) {
	fill := func(target *string, key, def string) {
		if *target != "" {
			return
		}
		if v := os.Getenv(key); v != "" {
			*target = v
			return
		}
		*target = def
	}
	fill(&C.Database.Mongo.Host, "MONGO_HOST", "localhost")
	fill(&C.Database.Mongo.Port, "MONGO_PORT", "27017")
	fill(&C.Database.Mongo.User, "MONGO_USER", "")
	fill(&C.Database.Mongo.Password, "MONGO_PASSWORD", "")
	fill(&C.Database.Mongo.Name, "MONGO_DB_NAME", "post_mirror")

	fill(&C.Database.Psql.Name, "DB_NAME", "")
	fill(&C.Database.Psql.Host, "DB_HOST", "")
	fill(&C.Database.Psql.Port, "DB_PORT", "5432")
	fill(&C.Database.Psql.User, "DB_USER", "")
	fill(&C.Database.Psql.Password, "DB_PASSWORD", "")

	fill(&C.Database.Mssql.Name, "MSSQL_DB_NAME", "")
	fill(&C.Database.Mssql.Host, "MSSQL_HOST", "")
	fill(&C.Database.Mssql.Port, "MSSQL_PORT", "1433")
	fill(&C.Database.Mssql.User, "MSSQL_USER", "")
	fill(&C.Database.Mssql.Password, "MSSQL_PASSWORD", "")

	fill(&C.Database.MySql.Name, "MYSQL_DB_NAME", "")
	fill(&C.Database.MySql.Host, "MYSQL_HOST", "")
	fill(&C.Database.MySql.Port, "MYSQL_PORT", "3306")
	fill(&C.Database.MySql.User, "MYSQL_USER", "")
	fill(&C.Database.MySql.Password, "MYSQL_PASSWORD", "")

	logger.GetLogger().WithFields(map[string]interface{}{
		"mongoHost": C.Database.Mongo.Host,
		"psqlHost":  C.Database.Psql.Host,
		"mysqlHost": C.Database.MySql.Host,
	}).Info("Database configuration")
}

func initApp(C *Config) {
	if v := os.Getenv("SECRET_KEY"); v != "" {
		C.App.SecretKey = v
	}
	// Port resolution order (env overrides config): APP_PORT -> PORT -> config -> default 10001
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	}
	if C.App.Port == 0 {
		C.App.Port = 10001
	}
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		switch v {
		case "1", "true", "TRUE", "True":
			C.App.TLSEnabled = true
		case "0", "false", "FALSE", "False":
			C.App.TLSEnabled = false
		}
	}
	if C.App.TLSCertFile == "" {
		C.App.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	}
	if C.App.TLSKeyFile == "" {
		C.App.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	}
	if v := os.Getenv("STORE"); v != "" {
		C.App.Store = v
	}
	if C.App.Store == "" {
		C.App.Store = "memory"
	}
	if len(C.App.Origins) == 0 {
		C.App.Origins = []string{"http://localhost:3000"}
	}
	if C.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; JWT authentication will fail. Provide SECRET_KEY via environment.")
	}
	if C.Parser.TimeoutSeconds == 0 {
		C.Parser.TimeoutSeconds = 60
	}
	if C.Parser.URL == "" {
		C.Parser.URL = os.Getenv("PARSER_URL")
	}
	if C.RedisClient.SignalChannel == "" {
		C.RedisClient.SignalChannel = "post-mirror:signals"
	}
	if C.Pubsub.SignalTopic == "" {
		C.Pubsub.SignalTopic = "post-mirror-signals"
	}
	if C.ServiceBus.Queue == "" {
		C.ServiceBus.Queue = "post-mirror-tasks"
	}
	if C.ServiceBus.ConnectionString == "" {
		C.ServiceBus.ConnectionString = os.Getenv("SERVICEBUS_CONNECTION_STRING")
	}
}

func initTasks(C *Config) {
	if v := os.Getenv("TASKS_TRANSPORT"); v != "" {
		C.Tasks.Transport = v
	}
	if C.Tasks.Transport == "" {
		C.Tasks.Transport = "direct"
	}
	if v := os.Getenv("TASKS_PUSH_SECRET"); v != "" {
		C.Tasks.PushSecret = v
	}
	if C.Tasks.FetchExpectedAmount == 0 {
		C.Tasks.FetchExpectedAmount = 50
	}
	if C.Tasks.BatchSize == 0 {
		C.Tasks.BatchSize = 25
	}
	if C.Tasks.ScheduleMinutes == 0 {
		C.Tasks.ScheduleMinutes = 30
	}
	if C.Tasks.MetricsBaseSeconds == 0 {
		C.Tasks.MetricsBaseSeconds = 3600
	}
	if C.Tasks.MetricsMaxSeconds == 0 {
		C.Tasks.MetricsMaxSeconds = 7 * 24 * 3600
	}
}
