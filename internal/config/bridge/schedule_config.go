package bridge

// JobConfig declares a console command run on a schedule. Exactly one of
// Every and Cron is set.
type JobConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Command string   `json:"command" yaml:"command"`
	Every   Duration `json:"every,omitempty" yaml:"every,omitempty"`
	Cron    string   `json:"cron,omitempty" yaml:"cron,omitempty"`
	TZ      string   `json:"tz,omitempty" yaml:"tz,omitempty"`
}

// ScheduleConfig configures scheduled console commands. On startup the job
// store is reconciled with Jobs by name.
type ScheduleConfig struct {
	StorePath string      `json:"storePath,omitempty" yaml:"storePath,omitempty" env:"STORE"`
	Jobs      []JobConfig `json:"jobs" yaml:"jobs"`
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{Jobs: []JobConfig{}}
}
