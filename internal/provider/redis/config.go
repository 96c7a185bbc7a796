package redis

// Config holds Redis/Valkey connection and ledger settings.
type Config struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix"`
	// RetentionTTL expires terminal run documents. Empty keeps them forever.
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"`
}
