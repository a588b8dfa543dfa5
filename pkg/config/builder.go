package config

import "time"

// BuilderConfig holds settings for source preparation and image builds.
type BuilderConfig struct {
	DockerHost   string
	Workdir      string
	GitTimeout   time.Duration
	BuildTimeout time.Duration
	ImagePrefix  string
	BaseImage    string
}

// LoadBuilderConfig constructs a BuilderConfig from environment variables.
func LoadBuilderConfig() BuilderConfig {
	return BuilderConfig{
		DockerHost:   GetString("DOCKER_HOST", ""),
		Workdir:      GetString("BUILDER_WORKDIR", "/tmp/racer"),
		GitTimeout:   GetSeconds("GIT_TIMEOUT_SECONDS", 60),
		BuildTimeout: GetSeconds("BUILD_TIMEOUT_SECONDS", 900),
		ImagePrefix:  GetString("IMAGE_PREFIX", "racer"),
		BaseImage:    GetString("BASE_IMAGE", "continuumio/miniconda3:latest"),
	}
}
