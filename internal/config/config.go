package config

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
)

// ErrMissingCredentials marks configuration problems that must stop a subsystem from starting.
var ErrMissingCredentials = errors.New("missing credentials")

const defaultTZ = "Asia/Jakarta"

type MQTTConfig struct {
	Broker         string
	Port           int
	TLS            bool
	Username       string
	Password       string
	ClientID       string
	CommandTopic   string
	DataTopic      string
	DeviceTopic    string
	ConnectRetries int
}

type TelemetryConfig struct {
	Enabled              bool
	Rotation             []entities.SensorKind
	Stabilization        map[entities.SensorKind]time.Duration
	Required             []string
	PublishRetries       int
	PublishRetryInterval time.Duration
	ErrorBackoff         time.Duration
}

type InspectionConfig struct {
	Enabled         bool
	FarmName        string
	PlantIDs        []int
	RebootFirst     bool
	BootGrace       time.Duration
	SettleDelay     time.Duration
	InterPlantDelay time.Duration
	HomingDelay     time.Duration
	ShutdownEnabled bool
	ShutdownDelay   time.Duration
	ImageDir        string
	Schedule        []string // local "HH:MM"
	WeatherLogAt    string   // local "HH:MM", empty disables the job
}

type RobotConfig struct {
	BaseURL string
	Timeout time.Duration
}

type DeviceConfig struct {
	AckTimeout     time.Duration
	SSHHost        string
	SSHPort        int
	SSHUser        string
	SSHPassword    string
	KnownHostsPath string
	SSHTimeout     time.Duration
}

type ClassifierConfig struct {
	DetectorURL   string
	MinConfidence float64
	Timeout       time.Duration
}

type KindwiseConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type WeatherConfig struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	Timeout   time.Duration
}

type NotificationConfig struct {
	SlotPath     string
	Recipients   []string
	Grace        time.Duration
	PollInterval time.Duration
	Pacing       time.Duration
}

type InfluxConfig struct {
	URL             string
	Token           string
	Org             string
	Bucket          string
	LocationTag     string
	SummaryLookback time.Duration
}

type SQLiteConfig struct {
	Path string
}

type OpsConfig struct {
	HTTPAddr string
	GRPCAddr string
}

// Config is the full daemon configuration.
type Config struct {
	LogLevel     string
	Timezone     string
	Location     *time.Location
	MQTT         MQTTConfig
	Telemetry    TelemetryConfig
	Inspection   InspectionConfig
	Robot        RobotConfig
	Device       DeviceConfig
	Classifier   ClassifierConfig
	Kindwise     KindwiseConfig
	Weather      WeatherConfig
	Notification NotificationConfig
	Influx       InfluxConfig
	SQLite       SQLiteConfig
	Ops          OpsConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("tz", defaultTZ)

	v.SetDefault("mqtt.port", 8883)
	v.SetDefault("mqtt.tls", true)
	v.SetDefault("mqtt.client_id", "smartfarm-orchestrator")
	v.SetDefault("mqtt.command_topic", "sensor/command")
	v.SetDefault("mqtt.data_topic", "sensor/data")
	v.SetDefault("mqtt.device_topic", "raspi/command")
	v.SetDefault("mqtt.connect_retries", 5)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.rotation", "tds,ph,air")
	v.SetDefault("telemetry.stabilization", 60*time.Second)
	v.SetDefault("telemetry.required", strings.Join(messages.EnvironmentFields, ","))
	v.SetDefault("telemetry.publish_retries", 3)
	v.SetDefault("telemetry.publish_retry_interval", 5*time.Second)
	v.SetDefault("telemetry.error_backoff", 10*time.Second)

	v.SetDefault("inspection.enabled", true)
	v.SetDefault("inspection.farm_name", "Mubarok Farm")
	v.SetDefault("inspection.plant_ids", "1,2,3,4,5,6,7,8,9,10,11,12,13,14")
	v.SetDefault("inspection.reboot_first", true)
	v.SetDefault("inspection.boot_grace", 15*time.Second)
	v.SetDefault("inspection.settle_delay", 5*time.Second)
	v.SetDefault("inspection.inter_plant_delay", 15*time.Second)
	v.SetDefault("inspection.homing_delay", 10*time.Second)
	v.SetDefault("inspection.shutdown_enabled", false)
	v.SetDefault("inspection.shutdown_delay", 60*time.Second)
	v.SetDefault("inspection.image_dir", "data/images")
	v.SetDefault("inspection.schedule", "06:00,16:10")
	v.SetDefault("inspection.weather_log_at", "05:37")

	v.SetDefault("robot.timeout", 20*time.Second)

	v.SetDefault("device.ack_timeout", 10*time.Second)
	v.SetDefault("device.ssh_port", 22)
	v.SetDefault("device.ssh_timeout", 15*time.Second)

	v.SetDefault("classifier.timeout", 30*time.Second)
	v.SetDefault("classifier.min_confidence", 0.25)

	v.SetDefault("kindwise.base_url", "https://crop.kindwise.com/api/v1")
	v.SetDefault("kindwise.timeout", 45*time.Second)

	v.SetDefault("weather.base_url", "https://api.open-meteo.com/v1")
	v.SetDefault("weather.latitude", -7.6364)
	v.SetDefault("weather.longitude", 110.7820)
	v.SetDefault("weather.timeout", 10*time.Second)

	v.SetDefault("notification.slot_path", "notif.txt")
	v.SetDefault("notification.grace", 5*time.Second)
	v.SetDefault("notification.poll_interval", 500*time.Millisecond)
	v.SetDefault("notification.pacing", 6*time.Second)

	v.SetDefault("influx.location_tag", "greenhouse_1")
	v.SetDefault("influx.summary_lookback", 4*time.Hour)

	v.SetDefault("sqlite.path", "data/smartfarm.db")

	v.SetDefault("ops.http_addr", ":8080")
	v.SetDefault("ops.grpc_addr", ":9090")
}

// legacy environment names used by the existing node deployment
var envAliases = map[string][]string{
	"device.ssh_host":     {"RASPI_HOST"},
	"device.ssh_user":     {"RASPI_USER"},
	"device.ssh_password": {"RASPI_PASSWORD"},
	"robot.base_url":      {"ROBOT_URL"},
}

// Load reads defaults, an optional config file and the environment (plus a .env file if present).
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env loaded: %v", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		LogLevel: v.GetString("log_level"),
		Timezone: v.GetString("tz"),
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("config: invalid tz %q, falling back to local: %v", c.Timezone, err)
		loc = time.Local
	}
	c.Location = loc

	c.MQTT = MQTTConfig{
		Broker:         strings.TrimSpace(v.GetString("mqtt.broker")),
		Port:           v.GetInt("mqtt.port"),
		TLS:            v.GetBool("mqtt.tls"),
		Username:       v.GetString("mqtt.username"),
		Password:       v.GetString("mqtt.password"),
		ClientID:       v.GetString("mqtt.client_id"),
		CommandTopic:   v.GetString("mqtt.command_topic"),
		DataTopic:      v.GetString("mqtt.data_topic"),
		DeviceTopic:    v.GetString("mqtt.device_topic"),
		ConnectRetries: v.GetInt("mqtt.connect_retries"),
	}

	rotation, err := kindList(stringList(v, "telemetry.rotation"))
	if err != nil {
		return nil, fmt.Errorf("telemetry.rotation: %w", err)
	}
	required := stringList(v, "telemetry.required")
	if err := messages.ValidateFieldNames(required); err != nil {
		return nil, fmt.Errorf("telemetry.required: %w", err)
	}
	window := v.GetDuration("telemetry.stabilization")
	stab := make(map[entities.SensorKind]time.Duration, len(rotation))
	for _, k := range rotation {
		stab[k] = window
		if key := "telemetry.stabilization_" + string(k); v.IsSet(key) {
			stab[k] = v.GetDuration(key)
		}
	}
	c.Telemetry = TelemetryConfig{
		Enabled:              v.GetBool("telemetry.enabled"),
		Rotation:             rotation,
		Stabilization:        stab,
		Required:             required,
		PublishRetries:       v.GetInt("telemetry.publish_retries"),
		PublishRetryInterval: v.GetDuration("telemetry.publish_retry_interval"),
		ErrorBackoff:         v.GetDuration("telemetry.error_backoff"),
	}

	plants, err := intList(stringList(v, "inspection.plant_ids"))
	if err != nil {
		return nil, fmt.Errorf("inspection.plant_ids: %w", err)
	}
	schedule := stringList(v, "inspection.schedule")
	for _, hm := range schedule {
		if _, _, err := ParseClock(hm); err != nil {
			return nil, fmt.Errorf("inspection.schedule: %w", err)
		}
	}
	weatherAt := strings.TrimSpace(v.GetString("inspection.weather_log_at"))
	if weatherAt != "" {
		if _, _, err := ParseClock(weatherAt); err != nil {
			return nil, fmt.Errorf("inspection.weather_log_at: %w", err)
		}
	}
	c.Inspection = InspectionConfig{
		Enabled:         v.GetBool("inspection.enabled"),
		FarmName:        v.GetString("inspection.farm_name"),
		PlantIDs:        plants,
		RebootFirst:     v.GetBool("inspection.reboot_first"),
		BootGrace:       v.GetDuration("inspection.boot_grace"),
		SettleDelay:     v.GetDuration("inspection.settle_delay"),
		InterPlantDelay: v.GetDuration("inspection.inter_plant_delay"),
		HomingDelay:     v.GetDuration("inspection.homing_delay"),
		ShutdownEnabled: v.GetBool("inspection.shutdown_enabled"),
		ShutdownDelay:   v.GetDuration("inspection.shutdown_delay"),
		ImageDir:        v.GetString("inspection.image_dir"),
		Schedule:        schedule,
		WeatherLogAt:    weatherAt,
	}

	c.Robot = RobotConfig{
		BaseURL: strings.TrimRight(strings.TrimSpace(v.GetString("robot.base_url")), "/"),
		Timeout: v.GetDuration("robot.timeout"),
	}
	c.Device = DeviceConfig{
		AckTimeout:     v.GetDuration("device.ack_timeout"),
		SSHHost:        v.GetString("device.ssh_host"),
		SSHPort:        v.GetInt("device.ssh_port"),
		SSHUser:        v.GetString("device.ssh_user"),
		SSHPassword:    v.GetString("device.ssh_password"),
		KnownHostsPath: v.GetString("device.known_hosts"),
		SSHTimeout:     v.GetDuration("device.ssh_timeout"),
	}
	c.Classifier = ClassifierConfig{
		DetectorURL:   strings.TrimSpace(v.GetString("classifier.detector_url")),
		MinConfidence: v.GetFloat64("classifier.min_confidence"),
		Timeout:       v.GetDuration("classifier.timeout"),
	}
	c.Kindwise = KindwiseConfig{
		APIKey:  v.GetString("kindwise.api_key"),
		BaseURL: strings.TrimRight(v.GetString("kindwise.base_url"), "/"),
		Timeout: v.GetDuration("kindwise.timeout"),
	}
	c.Weather = WeatherConfig{
		BaseURL:   strings.TrimRight(v.GetString("weather.base_url"), "/"),
		Latitude:  v.GetFloat64("weather.latitude"),
		Longitude: v.GetFloat64("weather.longitude"),
		Timeout:   v.GetDuration("weather.timeout"),
	}
	c.Notification = NotificationConfig{
		SlotPath:     v.GetString("notification.slot_path"),
		Recipients:   stringList(v, "notification.recipients"),
		Grace:        v.GetDuration("notification.grace"),
		PollInterval: v.GetDuration("notification.poll_interval"),
		Pacing:       v.GetDuration("notification.pacing"),
	}
	c.Influx = InfluxConfig{
		URL:             v.GetString("influx.url"),
		Token:           v.GetString("influx.token"),
		Org:             v.GetString("influx.org"),
		Bucket:          v.GetString("influx.bucket"),
		LocationTag:     v.GetString("influx.location_tag"),
		SummaryLookback: v.GetDuration("influx.summary_lookback"),
	}
	c.SQLite = SQLiteConfig{Path: v.GetString("sqlite.path")}
	c.Ops = OpsConfig{
		HTTPAddr: v.GetString("ops.http_addr"),
		GRPCAddr: v.GetString("ops.grpc_addr"),
	}
	return c, nil
}

// InfluxEnabled reports whether the time-series sink is configured.
func (c *Config) InfluxEnabled() bool {
	return c.Influx.URL != "" && c.Influx.Token != "" && c.Influx.Org != "" && c.Influx.Bucket != ""
}

// Validate checks the credentials each enabled subsystem needs to start.
func (c *Config) Validate() error {
	var errs []error
	missing := func(what string) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingCredentials, what))
	}

	if c.Telemetry.Enabled || (c.Inspection.Enabled && c.Inspection.RebootFirst) {
		if c.MQTT.Broker == "" || c.MQTT.Username == "" || c.MQTT.Password == "" {
			missing("mqtt.broker, mqtt.username and mqtt.password are required")
		}
	}
	if c.Telemetry.Enabled && len(c.Telemetry.Rotation) == 0 {
		errs = append(errs, errors.New("telemetry.rotation is empty"))
	}
	if c.Inspection.Enabled {
		if c.Robot.BaseURL == "" {
			missing("robot.base_url is required")
		}
		if c.Classifier.DetectorURL == "" {
			missing("classifier.detector_url is required")
		}
		if c.Kindwise.APIKey == "" {
			missing("kindwise.api_key is required")
		}
		if len(c.Inspection.PlantIDs) == 0 {
			errs = append(errs, errors.New("inspection.plant_ids is empty"))
		}
		seen := make(map[int]bool, len(c.Inspection.PlantIDs))
		for _, id := range c.Inspection.PlantIDs {
			if seen[id] {
				errs = append(errs, fmt.Errorf("inspection.plant_ids: plant %d listed twice", id))
			}
			seen[id] = true
		}
		if c.Inspection.ShutdownEnabled && (c.Device.SSHHost == "" || c.Device.SSHUser == "" || c.Device.SSHPassword == "") {
			missing("device.ssh_host, device.ssh_user and device.ssh_password are required when shutdown is enabled")
		}
	}
	return errors.Join(errs...)
}

// ParseClock parses a local "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// stringList accepts both YAML lists and comma separated strings (environment).
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case nil:
		return nil
	case string:
		raw = strings.Split(val, ",")
	case []string:
		raw = val
	case []interface{}:
		for _, x := range val {
			raw = append(raw, fmt.Sprint(x))
		}
	default:
		raw = strings.Split(fmt.Sprint(val), ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intList(items []string) ([]int, error) {
	out := make([]int, 0, len(items))
	for _, s := range items {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}

func kindList(items []string) ([]entities.SensorKind, error) {
	out := make([]entities.SensorKind, 0, len(items))
	for _, s := range items {
		k, err := entities.ParseSensorKind(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}
