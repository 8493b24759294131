package config

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: "~/.local/share/loom/staging",
			LogDir:     "~/.local/share/loom/logs",
			DatasetDir: "~/.local/share/loom/dataset",
			RawDir:     "",
		},
		Coordination: Coordination{
			DBPath:                "~/.local/share/loom/coordination.db",
			Namespace:             "loom",
			ProcessedTTLDays:      30,
			FailedTTLDays:         7,
			ConsumeTimeoutSeconds: 5,
			PollIntervalMS:        150,
		},
		ObjectStore: ObjectStore{
			Endpoint:          "",
			AccessKey:         "",
			SecretKey:         "",
			Bucket:            "episodes",
			UseSSL:            false,
			RawPrefix:         "raw/",
			DatasetPrefix:     "datasets/",
			RetryAttempts:     3,
			RetryDelaySeconds: 2,
			TransferWorkers:   8,
		},
		Scanner: Scanner{
			IntervalSeconds:   300,
			StableTimeSeconds: 120,
			MinFileCount:      10,
			EpisodePattern:    `^episode_\d{4,}$`,
			RequiredDirs:      []string{"images", "joints"},
			PageSize:          1000,
		},
		Worker: Worker{
			Count:               2,
			MinFreeSpaceGiB:     5,
			StagingMaxAgeHours:  24,
			ConsumeIdleLogEvery: 60,
		},
		Alignment: Alignment{
			Strategy:    "nearest",
			FPS:         25,
			ToleranceMS: 20,
			WindowMS:    40,
			WindowAgg:   "mean",
			ChunkSize:   50,
			PaddingMode: "repeat",
			BaseCamera:  "",
		},
		Dataset: Dataset{
			Name:          "loom_dataset",
			RobotType:     "aloha",
			TaskLabel:     "",
			VideoCodec:    "libx264",
			ChunkCapacity: 1000,
		},
		Logging: Logging{
			Format:        "console",
			Level:         "info",
			RetentionDays: 30,
		},
	}
}
