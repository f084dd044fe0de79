package config

// Merge returns base with every non-zero field of over applied on top.
func Merge(base, over Config) Config {
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	dur := func(dst *Duration, v Duration) {
		if v.Duration > 0 {
			*dst = v
		}
	}
	num := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}

	out := base
	str(&out.Addr, over.Addr)
	str(&out.LogLevel, over.LogLevel)
	str(&out.LogFormat, over.LogFormat)
	str(&out.APIKey, over.APIKey)

	str(&out.UpstreamBaseURL, over.UpstreamBaseURL)
	dur(&out.UpstreamTimeout, over.UpstreamTimeout)
	dur(&out.StreamTimeout, over.StreamTimeout)
	num(&out.RetryMax, over.RetryMax)
	dur(&out.RetryDelay, over.RetryDelay)
	dur(&out.FreshTimeout, over.FreshTimeout)

	str(&out.ModelsDir, over.ModelsDir)
	str(&out.EnvFile, over.EnvFile)
	str(&out.SelectedModelKey, over.SelectedModelKey)
	if over.MinFreeDiskBytes > 0 {
		out.MinFreeDiskBytes = over.MinFreeDiskBytes
	}

	str(&out.ArtifactSource, over.ArtifactSource)
	str(&out.HFEndpoint, over.HFEndpoint)
	str(&out.HFToken, over.HFToken)
	str(&out.S3Bucket, over.S3Bucket)
	str(&out.S3Prefix, over.S3Prefix)
	str(&out.S3Region, over.S3Region)
	str(&out.S3Endpoint, over.S3Endpoint)

	str(&out.Supervisor, over.Supervisor)
	str(&out.ComposeProject, over.ComposeProject)
	str(&out.ComposeDir, over.ComposeDir)
	str(&out.KubeNamespace, over.KubeNamespace)
	str(&out.Kubeconfig, over.Kubeconfig)
	str(&out.InferenceService, over.InferenceService)
	str(&out.SelfService, over.SelfService)

	dur(&out.RecreateTimeout, over.RecreateTimeout)
	dur(&out.RestartDelay, over.RestartDelay)
	dur(&out.ManualRestartDelay, over.ManualRestartDelay)
	num(&out.EstimatedSwitchSeconds, over.EstimatedSwitchSeconds)
	dur(&out.SwitchAcceptWindow, over.SwitchAcceptWindow)
	dur(&out.ReadyPollInterval, over.ReadyPollInterval)
	dur(&out.ReadyTimeout, over.ReadyTimeout)

	num(&out.RateLimitPerMinute, over.RateLimitPerMinute)
	if len(over.CORSOrigins) > 0 {
		out.CORSOrigins = append([]string(nil), over.CORSOrigins...)
	}
	if over.MaxBodyBytes > 0 {
		out.MaxBodyBytes = over.MaxBodyBytes
	}
	return out
}
