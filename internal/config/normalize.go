package config

import (
	"os"
	"strings"
)

// normalize expands paths and fills environment-provided credentials after
// decoding and before validation.
func (c *Config) normalize() error {
	expanded, err := expandPath(c.Paths.StagingDir)
	if err != nil {
		return err
	}
	c.Paths.StagingDir = expanded

	expanded, err = expandPath(c.Paths.LogDir)
	if err != nil {
		return err
	}
	c.Paths.LogDir = expanded

	expanded, err = expandPath(c.Paths.DatasetDir)
	if err != nil {
		return err
	}
	c.Paths.DatasetDir = expanded

	if strings.TrimSpace(c.Paths.RawDir) != "" {
		expanded, err = expandPath(c.Paths.RawDir)
		if err != nil {
			return err
		}
		c.Paths.RawDir = expanded
	}

	expanded, err = expandPath(c.Coordination.DBPath)
	if err != nil {
		return err
	}
	c.Coordination.DBPath = expanded

	if c.ObjectStore.AccessKey == "" {
		if envKey := strings.TrimSpace(os.Getenv("LOOM_S3_ACCESS_KEY")); envKey != "" {
			c.ObjectStore.AccessKey = envKey
		}
	}
	if c.ObjectStore.SecretKey == "" {
		if envKey := strings.TrimSpace(os.Getenv("LOOM_S3_SECRET_KEY")); envKey != "" {
			c.ObjectStore.SecretKey = envKey
		}
	}

	c.ObjectStore.RawPrefix = normalizePrefix(c.ObjectStore.RawPrefix)
	c.ObjectStore.DatasetPrefix = normalizePrefix(c.ObjectStore.DatasetPrefix)

	c.Coordination.Namespace = strings.TrimSpace(c.Coordination.Namespace)
	c.Alignment.Strategy = strings.ToLower(strings.TrimSpace(c.Alignment.Strategy))
	c.Alignment.WindowAgg = strings.ToLower(strings.TrimSpace(c.Alignment.WindowAgg))
	c.Alignment.PaddingMode = strings.ToLower(strings.TrimSpace(c.Alignment.PaddingMode))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	return nil
}

// normalizePrefix guarantees a single trailing slash and no leading slash so
// prefixes concatenate cleanly with object keys.
func normalizePrefix(prefix string) string {
	trimmed := strings.Trim(strings.TrimSpace(prefix), "/")
	if trimmed == "" {
		return ""
	}
	return trimmed + "/"
}
