// Package archive exports job artifact sets to S3-compatible object
// storage for retention beyond the local artifact root.
package archive

// Config configures the archive destination.
//
// Authentication follows the AWS SDK v2 default chain unless explicit
// credentials are provided. For S3-compatible stores (Wasabi, MinIO,
// DigitalOcean Spaces), set Endpoint and typically ForcePathStyle.
type Config struct {
	// Bucket is the destination bucket name (required).
	Bucket string `json:"bucket" mapstructure:"bucket"`

	// Prefix is prepended to every uploaded key. Optional.
	Prefix string `json:"prefix,omitempty" mapstructure:"prefix"`

	// Region is the AWS region. When Endpoint is set, no default is
	// applied; otherwise the SDK chain resolves it.
	Region string `json:"region,omitempty" mapstructure:"region"`

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Leave empty for AWS S3.
	Endpoint string `json:"endpoint,omitempty" mapstructure:"endpoint"`

	// Profile is the AWS profile name to use from shared config.
	Profile string `json:"profile,omitempty" mapstructure:"profile"`

	// AccessKeyID is an explicit access key. If set, SecretAccessKey
	// must also be set. Takes precedence over the default chain.
	AccessKeyID string `json:"access_key_id,omitempty" mapstructure:"access_key_id"`

	// SecretAccessKey is an explicit secret key. Required if
	// AccessKeyID is set. Never logged.
	SecretAccessKey string `json:"secret_access_key,omitempty" mapstructure:"secret_access_key"`

	// ForcePathStyle forces path-style URLs (bucket in path, not
	// subdomain). Required for most S3-compatible stores.
	ForcePathStyle bool `json:"force_path_style,omitempty" mapstructure:"force_path_style"`

	// RateLimit caps uploads per second. Zero means unlimited.
	RateLimit float64 `json:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "archive config: " + e.Field + ": " + e.Message
}
