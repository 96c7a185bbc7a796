package firestore

// Config holds Firestore connection settings.
type Config struct {
	ProjectID      string `yaml:"projectId" json:"projectId"`
	Collection     string `yaml:"collection,omitempty" json:"collection,omitempty"`
	LockCollection string `yaml:"lockCollection,omitempty" json:"lockCollection,omitempty"`
	Emulator       string `yaml:"emulator,omitempty" json:"emulator,omitempty"`
	// CredentialsFile is a service account key; empty uses default credentials.
	CredentialsFile string `yaml:"credentialsFile,omitempty" json:"credentialsFile,omitempty"`
	// RetentionTTL sets expireAt on terminal runs for a Firestore TTL policy.
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"`
}
