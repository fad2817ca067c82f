package s3

import (
	"fmt"
	"os"
)

// Environment variable names for backend credentials. These are read
// by FromEnv; the CLI layer decides when that happens.
const (
	EnvRoot      = "DRIFTFS_S3_ROOT"
	EnvBucket    = "DRIFTFS_S3_BUCKET"
	EnvRegion    = "DRIFTFS_S3_REGION"
	EnvEndpoint  = "DRIFTFS_S3_ENDPOINT"
	EnvAccessKey = "DRIFTFS_S3_ACCESS_KEY_ID"
	EnvSecretKey = "DRIFTFS_S3_SECRET_ACCESS_KEY"
)

// Config represents the S3 backend configuration.
type Config struct {
	// Root is a key prefix applied to every operation, so a mount can
	// expose a subtree of the bucket.
	Root string `yaml:"root"`

	// Bucket is the bucket name. Required.
	Bucket string `yaml:"bucket"`

	// Region is the bucket region. "auto" is accepted by providers
	// that support it.
	Region string `yaml:"region"`

	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	// When set, path-style addressing is used.
	Endpoint string `yaml:"endpoint"`

	// AccessKey and SecretKey are static credentials. When both are
	// empty the SDK default credential chain is used. Never logged.
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// FromEnv reads the configuration from the environment. Missing
// variables yield empty fields; validation happens in New.
func FromEnv() Config {
	return Config{
		Root:      os.Getenv(EnvRoot),
		Bucket:    os.Getenv(EnvBucket),
		Region:    os.Getenv(EnvRegion),
		Endpoint:  os.Getenv(EnvEndpoint),
		AccessKey: os.Getenv(EnvAccessKey),
		SecretKey: os.Getenv(EnvSecretKey),
	}
}

// String renders the configuration for diagnostics. Credential fields
// are never printed, only whether they are set.
func (c Config) String() string {
	return fmt.Sprintf("s3(root=%q, bucket=%q, region=%q, endpoint=%q, access_key=<%s>, secret_key=<%s>)",
		c.Root, c.Bucket, c.Region, c.Endpoint,
		presence(c.AccessKey), presence(c.SecretKey))
}

func presence(v string) string {
	if v == "" {
		return "unset"
	}
	return "set"
}
