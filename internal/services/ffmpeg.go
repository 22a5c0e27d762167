package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Slideshow rendering: 1280x720 landscape, 4 seconds per photo at 24fps
const (
	SlideWidth       = 1280
	SlideHeight      = 720
	SlideDuration    = 4 * time.Second
	SlideshowFPS     = 24
	audioCodec       = "aac"
	videoCodec       = "libx264"
	videoPixelFormat = "yuv420p"
)

// EncodingError reports a non-zero exit from the external encoder.
type EncodingError struct {
	Stage    string // "assemble" or "mux"
	ExitCode int    // -1 when the process did not exit normally
	Err      error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("ffmpeg %s failed (exit code %d): %v", e.Stage, e.ExitCode, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// commandRunner executes an external program and returns its exit error, if any.
type commandRunner func(ctx context.Context, name string, args ...string) error

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	binary  string
	probe   string
	timeout time.Duration // 0 = wait for the encoder indefinitely
	run     commandRunner
}

func NewFFmpegService(binary string, timeout time.Duration) *FFmpegService {
	if binary == "" {
		binary = "ffmpeg"
	}

	return &FFmpegService{
		binary:  binary,
		probe:   probeBinary(binary),
		timeout: timeout,
		run:     runCommand,
	}
}

// probeBinary derives the ffprobe path that ships next to the ffmpeg binary.
func probeBinary(ffmpegBinary string) string {
	if strings.HasSuffix(ffmpegBinary, "ffmpeg") {
		return strings.TrimSuffix(ffmpegBinary, "ffmpeg") + "ffprobe"
	}
	return "ffprobe"
}

// Available reports whether the ffmpeg binary can be found.
func (s *FFmpegService) Available() error {
	if _, err := exec.LookPath(s.binary); err != nil {
		return fmt.Errorf("ffmpeg binary %q not found: %w", s.binary, err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (s *FFmpegService) runFFmpeg(ctx context.Context, stage string, args []string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.run(ctx, s.binary, args...); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &EncodingError{Stage: stage, ExitCode: exitCode, Err: err}
	}

	return nil
}

// AssembleSlideshow renders a silent video from equally sized images, each
// shown for perImage, in the given order.
func (s *FFmpegService) AssembleSlideshow(ctx context.Context, imagePaths []string, perImage time.Duration, fps int, outputPath string) error {
	if len(imagePaths) == 0 {
		return fmt.Errorf("no images to assemble")
	}

	// The demuxer resolves relative entries against the list's directory.
	entries := make([]string, len(imagePaths))
	for i, p := range imagePaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		entries[i] = abs
	}

	// Concat demuxer list next to the output so it shares its lifetime.
	listPath := outputPath + ".concat.txt"
	if err := os.WriteFile(listPath, []byte(buildConcatList(entries, perImage)), 0644); err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listPath)

	log.Printf("[FFmpeg] Assembling %d images (%v each, %dfps) into %s", len(imagePaths), perImage, fps, outputPath)

	return s.runFFmpeg(ctx, "assemble", assembleArgs(listPath, fps, outputPath))
}

// buildConcatList writes one entry per image with its display duration. The
// last image is listed twice: the concat demuxer ignores the final duration
// directive otherwise.
func buildConcatList(imagePaths []string, perImage time.Duration) string {
	var b strings.Builder
	seconds := formatSeconds(perImage)

	for _, path := range imagePaths {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(path))
		fmt.Fprintf(&b, "duration %s\n", seconds)
	}
	fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(imagePaths[len(imagePaths)-1]))

	return b.String()
}

func assembleArgs(listPath string, fps int, outputPath string) []string {
	return []string{
		"-f", "concat", // Image list with per-entry durations
		"-safe", "0", // Allow absolute paths in the list
		"-i", listPath,
		"-vf", fmt.Sprintf("fps=%d,format=%s", fps, videoPixelFormat),
		"-c:v", videoCodec,
		"-an", // Silent video
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}
}

// MuxAudio combines a silent video with a background track. The video stream
// is copied verbatim, the audio is re-encoded to AAC, and the output stops at
// the shorter of the two inputs.
func (s *FFmpegService) MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	log.Printf("[FFmpeg] Muxing background audio from %s", audioPath)
	return s.runFFmpeg(ctx, "mux", muxAudioArgs(videoPath, audioPath, outputPath))
}

func muxAudioArgs(videoPath, audioPath, outputPath string) []string {
	return []string{
		"-i", videoPath, // Input 0: silent slideshow
		"-i", audioPath, // Input 1: background music
		"-c:v", "copy", // Copy video stream as-is
		"-c:a", audioCodec, // Re-encode audio with AAC
		"-strict", "experimental", // Older builds gate the native AAC encoder behind this
		"-map", "0:v:0", // Video from input 0
		"-map", "1:a:0", // Audio from input 1
		"-shortest", // End when the shortest mapped stream ends
		"-y",
		outputPath,
	}
}

// videoDuration returns the duration of a video file using ffprobe.
func (s *FFmpegService) videoDuration(ctx context.Context, videoPath string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	}

	cmd := exec.CommandContext(ctx, s.probe, args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe video duration failed: %w", err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse video duration: %w", err)
	}

	return time.Duration(durationSec * float64(time.Second)), nil
}

// escapeConcatPath escapes single quotes for the concat demuxer's quoted file syntax.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

func formatSeconds(d time.Duration) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", d.Seconds()), "0"), ".")
}

// Cleanup removes temporary files, returning the first failure other than
// the file already being gone.
func Cleanup(paths ...string) error {
	var firstErr error
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
