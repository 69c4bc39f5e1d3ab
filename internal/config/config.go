package config

import (
	"log"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8080"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/tunneling.db"`

	LogPath           string `envconfig:"LOG_PATH" default:""`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	LoggingConfigPath string `envconfig:"LOGGING_CONFIG_PATH" default:""`

	// SSH control-socket settings
	SSHConfigFile string `envconfig:"SSH_CONFIG_FILE" default:"/home/tunnel/.ssh/config"`
	SSHTimeout    int    `envconfig:"SSH_TIMEOUT" default:"3"`

	// Remote session reconciliation. RemoteCheck is one of auto, true, false;
	// auto runs the loop only on the first replica of the statefulset.
	RemoteCheck         string        `envconfig:"REMOTE_CHECK" default:"auto"`
	RemoteCheckInterval time.Duration `envconfig:"REMOTE_CHECK_INTERVAL" default:"30s"`
	RemoteCheckTimeout  int           `envconfig:"REMOTE_CHECK_TIMEOUT" default:"1"`

	RestoreOnStartup    bool          `envconfig:"RESTORE_ON_STARTUP" default:"true"`
	OrphanSweepSchedule string        `envconfig:"ORPHAN_SWEEP_SCHEDULE" default:""`
	OrphanSweepGrace    time.Duration `envconfig:"ORPHAN_SWEEP_GRACE" default:"2m"`

	// Service registrar
	RegistrarBackend string `envconfig:"REGISTRAR_BACKEND" default:"auto"`
	K8sNamespace     string `envconfig:"K8S_NAMESPACE" default:"default"`
	DeploymentName   string `envconfig:"DEPLOYMENT_NAME" default:"tunneling"`
	PodName          string `envconfig:"HOSTNAME" default:""`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"30"`

	AuthDisabled bool `envconfig:"AUTH_DISABLED" default:"false"`

	// Users created at startup: names and passwords are ';' separated,
	// groups are ';' separated per user and ':' separated within a user.
	SeedUsernames string `envconfig:"SEED_USERNAMES" default:""`
	SeedPasswords string `envconfig:"SEED_PASSWORDS" default:""`
	SeedGroups    string `envconfig:"SEED_GROUPS" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TUNNELING", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.PodName == "" {
		if h, err := os.Hostname(); err == nil {
			Cfg.PodName = h
		}
	}
}

// SSHTimeoutDuration returns the per-command timeout as a duration.
func (s Settings) SSHTimeoutDuration() time.Duration {
	if s.SSHTimeout <= 0 {
		return 3 * time.Second
	}
	return time.Duration(s.SSHTimeout) * time.Second
}
