package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveFFmpeg reports the ffmpeg binary video encoding will execute.
// Commands carrying a path separator are honored as configured; bare names
// resolve from PATH, matching what exec does at conversion time.
func ResolveFFmpeg(command string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "encodes aligned camera frames into episode videos",
	}

	command = strings.TrimSpace(command)
	if command == "" {
		command = "ffmpeg"
	}
	result.Command = command

	if strings.ContainsAny(command, `/\`) {
		if info, err := os.Stat(command); err == nil && isExecutable(info) {
			result.Available = true
			return result
		}
		result.Detail = fmt.Sprintf("binary %q not executable", command)
		return result
	}

	if path, err := exec.LookPath(command); err == nil {
		result.Command = path
		result.Available = true
		return result
	}
	result.Detail = fmt.Sprintf("binary %q not found", command)
	return result
}

// SiblingFFprobe derives the ffprobe command matching the configured ffmpeg:
// a path keeps its directory, a bare name stays a bare name.
func SiblingFFprobe(ffmpegCommand string) string {
	ffmpegCommand = strings.TrimSpace(ffmpegCommand)
	name := "ffprobe"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if ffmpegCommand == "" || !strings.ContainsAny(ffmpegCommand, `/\`) {
		return name
	}
	return filepath.Join(filepath.Dir(ffmpegCommand), name)
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
