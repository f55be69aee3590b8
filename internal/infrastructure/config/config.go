package config

import (
	"fmt"
	"strings"
	"time"

	"crypto-rug-graph-detector/internal/domain/service"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	App       AppConfig            `mapstructure:"app"`
	NATS      NATSConfig           `mapstructure:"nats"`
	Neo4J     Neo4JConfig          `mapstructure:"neo4j"`
	Health    HealthConfig         `mapstructure:"health"`
	Metrics   MetricsConfig        `mapstructure:"metrics"`
	Telegram  TelegramConfig       `mapstructure:"telegram"`
	Detection service.EngineConfig `mapstructure:"detection"`
}

// AppConfig represents application-specific configuration
type AppConfig struct {
	Env               string        `mapstructure:"env"`
	LogLevel          string        `mapstructure:"log_level"`
	HTTPPort          int           `mapstructure:"http_port"`
	BatchSize         int           `mapstructure:"batch_size"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	SessionQueueSize  int           `mapstructure:"session_queue_size"`
	AutoStartSessions bool          `mapstructure:"auto_start_sessions"`
	DefaultHeuristic  float64       `mapstructure:"default_heuristic_safety"`
	SinkTimeout       time.Duration `mapstructure:"sink_timeout"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL                string        `mapstructure:"url"`
	StreamName         string        `mapstructure:"stream_name"`
	SubjectPrefix      string        `mapstructure:"subject_prefix"`
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	DurableConsumer    string        `mapstructure:"durable_consumer"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ReconnectAttempts  int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
	MaxPendingMessages int           `mapstructure:"max_pending_messages"`
	DecisionSubject    string        `mapstructure:"decision_subject"`
	ControlSubject     string        `mapstructure:"control_subject"`
	Enabled            bool          `mapstructure:"enabled"`
}

// Neo4JConfig represents Neo4J configuration
type Neo4JConfig struct {
	URI                          string        `mapstructure:"uri"`
	Username                     string        `mapstructure:"username"`
	Password                     string        `mapstructure:"password"`
	Database                     string        `mapstructure:"database"`
	ConnectTimeout               time.Duration `mapstructure:"connect_timeout"`
	MaxConnectionPoolSize        int           `mapstructure:"max_connection_pool_size"`
	ConnectionAcquisitionTimeout time.Duration `mapstructure:"connection_acquisition_timeout"`
	PersistFlows                 bool          `mapstructure:"persist_flows"`
	Enabled                      bool          `mapstructure:"enabled"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TelegramConfig represents reject alert delivery configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// Load loads configuration from environment variables and the default config file locations
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from an explicit file, falling back to the
// default search paths when path is empty
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/crypto-rug-graph-detector")
	}

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("")

	// Map environment variables to nested config keys
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Default values
	setDefaults(v)

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.App.BatchSize < 1 {
		return fmt.Errorf("app.batch_size must be at least 1")
	}
	if c.App.SessionQueueSize < 1 {
		return fmt.Errorf("app.session_queue_size must be at least 1")
	}
	if c.App.DefaultHeuristic < 0 || c.App.DefaultHeuristic > 1 {
		return fmt.Errorf("app.default_heuristic_safety must be between 0.0 and 1.0")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return c.Detection.Validate()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_port", 8080)
	v.SetDefault("app.batch_size", 100)
	v.SetDefault("app.flush_interval", "2s")
	v.SetDefault("app.session_queue_size", 16)
	v.SetDefault("app.auto_start_sessions", true)
	v.SetDefault("app.default_heuristic_safety", 0.5)
	v.SetDefault("app.sink_timeout", "5s")

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "TRANSFERS")
	v.SetDefault("nats.subject_prefix", "transfers")
	v.SetDefault("nats.consumer_group", "rug-graph-detector")
	v.SetDefault("nats.durable_consumer", "rug-graph-detector")
	v.SetDefault("nats.connect_timeout", "10s")
	v.SetDefault("nats.reconnect_attempts", 5)
	v.SetDefault("nats.reconnect_delay", "2s")
	v.SetDefault("nats.max_pending_messages", 10000)
	v.SetDefault("nats.decision_subject", "rug.decisions")
	v.SetDefault("nats.control_subject", "rug.control")
	v.SetDefault("nats.enabled", true)

	// Neo4J defaults
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.connect_timeout", "10s")
	v.SetDefault("neo4j.max_connection_pool_size", 50)
	v.SetDefault("neo4j.connection_acquisition_timeout", "60s")
	v.SetDefault("neo4j.persist_flows", true)
	v.SetDefault("neo4j.enabled", true)

	// Health defaults
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.timeout", "5s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	setDetectionDefaults(v)

	// Bind env for connection URLs and secrets
	_ = v.BindEnv("nats.url", "NATS_URL")
	_ = v.BindEnv("neo4j.uri", "NEO4J_URI")
	_ = v.BindEnv("neo4j.password", "NEO4J_PASSWORD")
	_ = v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
}

// setDetectionDefaults seeds the detection section from the engine defaults
func setDetectionDefaults(v *viper.Viper) {
	d := service.DefaultEngineConfig()

	v.SetDefault("detection.enabled", d.Enabled)
	v.SetDefault("detection.window_capacity", d.WindowCapacity)
	v.SetDefault("detection.min_transactions", d.MinTransactions)
	v.SetDefault("detection.detector_timeout", d.DetectorTimeout)
	v.SetDefault("detection.max_concurrent_detectors", d.MaxConcurrentDetectors)

	v.SetDefault("detection.star_dump.min_drain_ratio", d.StarDump.MinDrainRatio)
	v.SetDefault("detection.star_dump.min_recipients", d.StarDump.MinRecipients)
	v.SetDefault("detection.star_dump.min_outbound_edges", d.StarDump.MinOutboundEdges)
	v.SetDefault("detection.star_dump.recipient_scale", d.StarDump.RecipientScale)

	v.SetDefault("detection.coordinated_cluster.bucket", d.CoordinatedCluster.Bucket)
	v.SetDefault("detection.coordinated_cluster.min_sources", d.CoordinatedCluster.MinSources)
	v.SetDefault("detection.coordinated_cluster.max_sources", d.CoordinatedCluster.MaxSources)
	v.SetDefault("detection.coordinated_cluster.min_sell_ratio", d.CoordinatedCluster.MinSellRatio)
	v.SetDefault("detection.coordinated_cluster.confidence_scale", d.CoordinatedCluster.ConfidenceScale)

	v.SetDefault("detection.bridge_wallet.max_lifetime", d.BridgeWallet.MaxLifetime)
	v.SetDefault("detection.bridge_wallet.min_outflow_ratio", d.BridgeWallet.MinOutflowRatio)
	v.SetDefault("detection.bridge_wallet.max_transfers", d.BridgeWallet.MaxTransfers)
	v.SetDefault("detection.bridge_wallet.min_wallets", d.BridgeWallet.MinWallets)
	v.SetDefault("detection.bridge_wallet.confidence_scale", d.BridgeWallet.ConfidenceScale)
	v.SetDefault("detection.bridge_wallet.wallet_scale", d.BridgeWallet.WalletScale)

	v.SetDefault("detection.lp_drain.min_outflow_ratio", d.LPDrain.MinOutflowRatio)
	v.SetDefault("detection.lp_drain.min_outflow", d.LPDrain.MinOutflow)

	v.SetDefault("detection.sniper_bot.launch_window", d.SniperBot.LaunchWindow)
	v.SetDefault("detection.sniper_bot.min_early_buyers", d.SniperBot.MinEarlyBuyers)
	v.SetDefault("detection.sniper_bot.min_seller_ratio", d.SniperBot.MinSellerRatio)
	v.SetDefault("detection.sniper_bot.confidence_scale", d.SniperBot.ConfidenceScale)

	v.SetDefault("detection.circular_flow.max_path_length", d.CircularFlow.MaxPathLength)
	v.SetDefault("detection.circular_flow.high_volume", d.CircularFlow.HighVolume)
	v.SetDefault("detection.circular_flow.max_results", d.CircularFlow.MaxResults)

	v.SetDefault("detection.ping_pong.min_transfers", d.PingPong.MinTransfers)
	v.SetDefault("detection.ping_pong.base_confidence", d.PingPong.BaseConfidence)
	v.SetDefault("detection.ping_pong.confidence_per_transfer", d.PingPong.ConfidencePerTransfer)

	v.SetDefault("detection.bot_farm.max_gap", d.BotFarm.MaxGap)
	v.SetDefault("detection.bot_farm.min_consecutive_gaps", d.BotFarm.MinConsecutiveGaps)
	v.SetDefault("detection.bot_farm.min_transfers_for_ratio", d.BotFarm.MinTransfersForRatio)
	v.SetDefault("detection.bot_farm.min_fast_gap_ratio", d.BotFarm.MinFastGapRatio)
	v.SetDefault("detection.bot_farm.min_bots", d.BotFarm.MinBots)
	v.SetDefault("detection.bot_farm.base_confidence", d.BotFarm.BaseConfidence)
	v.SetDefault("detection.bot_farm.confidence_per_bot", d.BotFarm.ConfidencePerBot)

	s := d.Scorer
	v.SetDefault("detection.scorer.star_dump_weight", s.StarDumpWeight)
	v.SetDefault("detection.scorer.coordinated_cluster_weight", s.CoordinatedClusterWeight)
	v.SetDefault("detection.scorer.lp_drain_weight", s.LPDrainWeight)
	v.SetDefault("detection.scorer.bridge_wallet_weight", s.BridgeWalletWeight)
	v.SetDefault("detection.scorer.sniper_bot_weight", s.SniperBotWeight)
	v.SetDefault("detection.scorer.circular_flow_points", s.CircularFlowPoints)
	v.SetDefault("detection.scorer.ping_pong_points", s.PingPongPoints)
	v.SetDefault("detection.scorer.bot_farm_points", s.BotFarmPoints)
	v.SetDefault("detection.scorer.wash_trading_cap", s.WashTradingCap)
	v.SetDefault("detection.scorer.centralization_bonus", s.CentralizationBonus)
	v.SetDefault("detection.scorer.centralization_max_coefficient", s.CentralizationMaxCoefficient)
	v.SetDefault("detection.scorer.centralization_max_edges", s.CentralizationMaxEdges)
	v.SetDefault("detection.scorer.wash_structure_bonus", s.WashStructureBonus)
	v.SetDefault("detection.scorer.wash_structure_max_nodes", s.WashStructureMaxNodes)
	v.SetDefault("detection.scorer.wash_structure_min_edges", s.WashStructureMinEdges)
	v.SetDefault("detection.scorer.dominance_bonus", s.DominanceBonus)
	v.SetDefault("detection.scorer.dominance_min_share", s.DominanceMinShare)
	v.SetDefault("detection.scorer.temporal_weight", s.TemporalWeight)
	v.SetDefault("detection.scorer.heuristic_weight", s.HeuristicWeight)
	v.SetDefault("detection.scorer.post_migration_pass_safety", s.PostMigrationPassSafety)
	v.SetDefault("detection.scorer.post_migration_reject_risk", s.PostMigrationRejectRisk)
	v.SetDefault("detection.scorer.pre_migration_pass_safety", s.PreMigrationPassSafety)
}
