package config

import "strings"

// RewriteExternalHostPath rewrites the ExternalHostVideoPrefix prefix of an
// incoming video_path to the configured host media path. Paths without the
// prefix are returned unchanged.
func RewriteExternalHostPath(videoPath, hostMediaPath string) string {
	if hostMediaPath == "" {
		return videoPath
	}
	if strings.HasPrefix(videoPath, ExternalHostVideoPrefix) {
		return strings.Replace(videoPath, ExternalHostVideoPrefix, hostMediaPath, 1)
	}
	return videoPath
}
