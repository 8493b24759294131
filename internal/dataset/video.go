package dataset

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"loom/internal/services"
)

var commandContext = exec.CommandContext

// EncodeVideo renders framePaths into an mp4 at dest through the ffmpeg
// concat demuxer. Frames play at a fixed rate, so the video's frame n is the
// dataset's frame_index n for the episode.
func EncodeVideo(ctx context.Context, ffmpegBinary string, fps float64, codec string, framePaths []string, dest string) error {
	if len(framePaths) == 0 {
		return services.Wrap(services.ErrValidation, "dataset", "encode video", "no frames", nil)
	}
	if fps <= 0 {
		return services.Wrap(services.ErrValidation, "dataset", "encode video", "fps must be positive", nil)
	}
	if codec == "" {
		codec = "libx264"
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "encode video", dest, err)
	}

	list, err := writeConcatList(filepath.Dir(dest), framePaths, fps)
	if err != nil {
		return err
	}
	defer os.Remove(list)

	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-r", fmt.Sprintf("%g", fps),
		"-c:v", codec,
		"-pix_fmt", "yuv420p",
		dest,
	}
	cmd := commandContext(ctx, ffmpegBinary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrExternalTool, "dataset", "encode video",
			strings.TrimSpace(string(output)), err)
	}
	return nil
}

// writeConcatList emits the concat demuxer input: one file+duration pair per
// frame, with the final frame repeated so its duration is honored.
func writeConcatList(dir string, framePaths []string, fps float64) (string, error) {
	file, err := os.CreateTemp(dir, "frames-*.txt")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "dataset", "encode video", "create concat list", err)
	}

	var b strings.Builder
	duration := 1.0 / fps
	for _, path := range framePaths {
		fmt.Fprintf(&b, "file '%s'\n", path)
		fmt.Fprintf(&b, "duration %.6f\n", duration)
	}
	fmt.Fprintf(&b, "file '%s'\n", framePaths[len(framePaths)-1])

	if _, err := file.WriteString(b.String()); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", services.Wrap(services.ErrTransient, "dataset", "encode video", "write concat list", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", services.Wrap(services.ErrTransient, "dataset", "encode video", "close concat list", err)
	}
	return file.Name(), nil
}
