package objectstore

import (
	"os"
	"strings"
)

// AddressingStyle selects between S3 path-style and virtual-hosted-style
// bucket addressing.
type AddressingStyle string

const (
	AddressingPath    AddressingStyle = "path"
	AddressingVirtual AddressingStyle = "virtual"
)

// Config carries everything ObjectBackendEngine needs to open an S3-
// compatible session. AccessKey/SecretKey may be literal strings or, if
// empty, are loaded from AccessKeyFile/SecretKeyFile's trimmed contents.
type Config struct {
	AccessKey     string
	AccessKeyFile string
	SecretKey     string
	SecretKeyFile string

	Region      string
	EndpointURL string
	UseSSL      bool
	BucketName  string

	AddressingStyle     AddressingStyle
	SignatureVersion    string
	DisableEncodingType bool

	SimultaneousReads  int
	SimultaneousWrites int

	BandwidthRead  int64 // bytes/sec, 0 = unlimited
	BandwidthWrite int64 // bytes/sec, 0 = unlimited
}

// resolveAccessKey returns the literal access key, loading it from
// AccessKeyFile when AccessKey is empty.
func (c Config) resolveAccessKey() (string, error) {
	if c.AccessKey != "" {
		return c.AccessKey, nil
	}
	return readSecretFile(c.AccessKeyFile)
}

// resolveSecretKey mirrors resolveAccessKey for the secret key.
func (c Config) resolveSecretKey() (string, error) {
	if c.SecretKey != "" {
		return c.SecretKey, nil
	}
	return readSecretFile(c.SecretKeyFile)
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
