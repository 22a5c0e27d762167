package services

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleArgs(t *testing.T) {
	args := assembleArgs("/tmp/list.txt", 24, "/tmp/out.mp4")

	assert.Equal(t, []string{
		"-f", "concat",
		"-safe", "0",
		"-i", "/tmp/list.txt",
		"-vf", "fps=24,format=yuv420p",
		"-c:v", "libx264",
		"-an",
		"-movflags", "+faststart",
		"-y",
		"/tmp/out.mp4",
	}, args)
}

func TestMuxAudioArgs(t *testing.T) {
	args := muxAudioArgs("silent.mp4", "music.mp3", "final.mp4")

	assert.Equal(t, []string{
		"-i", "silent.mp4",
		"-i", "music.mp3",
		"-c:v", "copy",
		"-c:a", "aac",
		"-strict", "experimental",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		"-y",
		"final.mp4",
	}, args)
}

func TestBuildConcatList(t *testing.T) {
	list := buildConcatList([]string{"/a/one.png", "/a/it's.png"}, 4*time.Second)

	assert.Equal(t, "file '/a/one.png'\n"+
		"duration 4\n"+
		"file '/a/it'\\''s.png'\n"+
		"duration 4\n"+
		"file '/a/it'\\''s.png'\n", list)
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "4", formatSeconds(4*time.Second))
	assert.Equal(t, "2.5", formatSeconds(2500*time.Millisecond))
	assert.Equal(t, "0.125", formatSeconds(125*time.Millisecond))
}

func TestProbeBinary(t *testing.T) {
	assert.Equal(t, "ffprobe", probeBinary("ffmpeg"))
	assert.Equal(t, "/usr/local/bin/ffprobe", probeBinary("/usr/local/bin/ffmpeg"))
	assert.Equal(t, "ffprobe", probeBinary("/opt/encoder"))
}

func TestAssembleSlideshowRunsEncoder(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp4")

	var gotName string
	var gotArgs []string
	var listContent string

	svc := NewFFmpegService("/usr/bin/ffmpeg", 0)
	svc.run = func(ctx context.Context, name string, args ...string) error {
		gotName = name
		gotArgs = args
		data, err := os.ReadFile(out + ".concat.txt")
		require.NoError(t, err)
		listContent = string(data)
		return nil
	}

	err := svc.AssembleSlideshow(context.Background(), []string{"/x/1.png", "/x/2.png"}, SlideDuration, SlideshowFPS, out)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/ffmpeg", gotName)
	assert.Equal(t, assembleArgs(out+".concat.txt", SlideshowFPS, out), gotArgs)
	assert.Equal(t, 3, strings.Count(listContent, "file '"))

	_, err = os.Stat(out + ".concat.txt")
	assert.True(t, os.IsNotExist(err), "concat list is removed after encoding")
}

func TestAssembleSlideshowListsAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	wd, wdErr := os.Getwd()
	if wdErr != nil {
		t.Fatal(wdErr)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.MkdirAll(filepath.Join("static", "videos"), 0755))
	out := filepath.Join("static", "videos", "out.mp4")

	var listContent string
	svc := NewFFmpegService("ffmpeg", 0)
	svc.run = func(ctx context.Context, name string, args ...string) error {
		data, err := os.ReadFile(out + ".concat.txt")
		require.NoError(t, err)
		listContent = string(data)
		return nil
	}

	frames := []string{filepath.Join("static", "uploads", "1", "a.png"), filepath.Join("static", "uploads", "1", "b.png")}
	require.NoError(t, svc.AssembleSlideshow(context.Background(), frames, SlideDuration, SlideshowFPS, out))

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, buildConcatList([]string{
		filepath.Join(wd, "static", "uploads", "1", "a.png"),
		filepath.Join(wd, "static", "uploads", "1", "b.png"),
	}, SlideDuration), listContent)
}

func TestAssembleSlideshowNoImages(t *testing.T) {
	svc := NewFFmpegService("", 0)
	svc.run = func(ctx context.Context, name string, args ...string) error {
		t.Fatal("encoder must not run without images")
		return nil
	}

	err := svc.AssembleSlideshow(context.Background(), nil, SlideDuration, SlideshowFPS, filepath.Join(t.TempDir(), "out.mp4"))
	assert.Error(t, err)
}

func TestEncoderFailureIsEncodingError(t *testing.T) {
	svc := NewFFmpegService("ffmpeg", 0)
	boom := errors.New("boom")
	svc.run = func(ctx context.Context, name string, args ...string) error {
		return boom
	}

	err := svc.MuxAudio(context.Background(), "in.mp4", "music.mp3", "out.mp4")
	require.Error(t, err)

	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, "mux", encErr.Stage)
	assert.Equal(t, -1, encErr.ExitCode)
	assert.ErrorIs(t, err, boom)
}

func TestEncoderTimeoutAppliesDeadline(t *testing.T) {
	svc := NewFFmpegService("ffmpeg", time.Minute)

	var hadDeadline bool
	svc.run = func(ctx context.Context, name string, args ...string) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}

	require.NoError(t, svc.MuxAudio(context.Background(), "a", "b", "c"))
	assert.True(t, hadDeadline)

	svc.timeout = 0
	require.NoError(t, svc.MuxAudio(context.Background(), "a", "b", "c"))
	assert.False(t, hadDeadline)
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0644))

	require.NoError(t, Cleanup(a, "", b, filepath.Join(dir, "missing.png")))

	for _, p := range []string{a, b} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}
}

// Runs the real encoder when it is installed.
func TestAssembleSlideshowDuration(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	dir := t.TempDir()
	var frames []string
	for i, c := range []color.RGBA{{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}} {
		path := filepath.Join(dir, "frame"+string(rune('a'+i))+".png")
		writeSolidPNG(t, path, SlideWidth, SlideHeight, c)
		frames = append(frames, path)
	}

	svc := NewFFmpegService("ffmpeg", 0)
	out := filepath.Join(dir, "slideshow.mp4")
	require.NoError(t, svc.AssembleSlideshow(context.Background(), frames, SlideDuration, SlideshowFPS, out))

	duration, err := svc.videoDuration(context.Background(), out)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, duration.Seconds(), 0.5)
}

func writeSolidPNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}
