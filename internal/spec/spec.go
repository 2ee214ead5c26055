package spec

type StaticAssignment struct {
	Topic      string  `yaml:"topic"`
	Partitions []int32 `yaml:"partitions"`
}

type debugSection struct {
	PerRecordDelayMS int  `yaml:"per_record_delay_ms"`
	PrintCounter     bool `yaml:"print_counter"`
	PrintValue       bool `yaml:"print_value"`
	ValueMaxBytes    int  `yaml:"value_max_bytes"`
}

type WorkerSection struct {
	// AbortOnSendFailure treats any producer failure as fatal so restart-
	// from-last-commit preserves at-least-once delivery. Default true.
	AbortOnSendFailure *bool `yaml:"abort_on_send_failure"`

	OffsetCommitIntervalMS int `yaml:"offset_commit_interval_ms"`
	CloseGraceMS           int `yaml:"close_grace_ms"`
}

type MembershipSection struct {
	Endpoints  []string `yaml:"endpoints"`
	Cluster    string   `yaml:"cluster"`
	InstanceID string   `yaml:"instance_id"`
	Host       string   `yaml:"host"`
	SessionTTL int      `yaml:"session_ttl_seconds"`
	DialTOMS   int      `yaml:"dial_timeout_ms"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Driver string `yaml:"driver"`
		Config string `yaml:"config"`

		// Static assigns partitions at startup when no membership service
		// is configured (dev and single-instance deployments).
		Static []StaticAssignment `yaml:"static_assignment"`
	} `yaml:"source"`

	Destination struct {
		Driver string `yaml:"driver"` // kafka | stdout (dry run)
		Config string `yaml:"config"`
	} `yaml:"destination"`

	// TopicMap points at the source→destination topic mapping file; empty
	// means identity for every topic.
	TopicMap string `yaml:"topic_map"`

	// Transformers names registered transform stages, applied in order.
	Transformers []string `yaml:"transformers"`

	Worker     WorkerSection     `yaml:"worker"`
	Membership MembershipSection `yaml:"membership"`

	MetricsPort int `yaml:"metrics_port"`
	HealthPort  int `yaml:"health_port"`

	Debug debugSection `yaml:"debug"`
}
