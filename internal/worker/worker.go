package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/bobarin/memorial/internal/db"
	"github.com/bobarin/memorial/internal/models"
	"github.com/bobarin/memorial/internal/queue"
	"github.com/bobarin/memorial/internal/services"
	"github.com/bobarin/memorial/internal/storage"
)

var (
	// ErrPersonLookup is returned when the job's person cannot be loaded.
	ErrPersonLookup = errors.New("person lookup failed")
	// ErrMissingInput is returned when the person has no uploaded files.
	ErrMissingInput = errors.New("no uploaded images")
	// ErrNoValidImages is returned when none of the uploaded files could be resized.
	ErrNoValidImages = errors.New("no valid images after resizing")
)

const (
	resizedDirName      = "resized_temp"
	backgroundMusicFile = "background_music.mp3"
)

// PersonStore is the subset of the record store the pipeline needs.
type PersonStore interface {
	GetPerson(ctx context.Context, id int64) (*models.Person, error)
	SetPersonVideo(ctx context.Context, id int64, videoPath string) error
	SetPersonVideoProcessing(ctx context.Context, id int64, processing bool) error
}

// VideoEncoder assembles slideshows and muxes background audio.
type VideoEncoder interface {
	AssembleSlideshow(ctx context.Context, imagePaths []string, perImage time.Duration, fps int, outputPath string) error
	MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// ImageResizer writes a resized copy of an image file.
type ImageResizer interface {
	ResizeFile(srcPath, dstPath string, width, height int) error
}

type Worker struct {
	store   PersonStore
	queue   queue.Queue
	encoder VideoEncoder
	resizer ImageResizer
	storage *storage.Storage
	now     func() time.Time
}

func New(
	store PersonStore,
	q queue.Queue,
	encoder VideoEncoder,
	resizer ImageResizer,
	stor *storage.Storage,
) *Worker {
	return &Worker{
		store:   store,
		queue:   q,
		encoder: encoder,
		resizer: resizer,
		storage: stor,
		now:     time.Now,
	}
}

// Run consumes jobs one at a time until the shutdown sentinel is dequeued or
// ctx is cancelled while waiting for work. A job in progress always runs to
// completion.
func (w *Worker) Run(ctx context.Context) error {
	log.Println("[Worker] Started")

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrClosed) {
				log.Println("[Worker] Stopping")
				return nil
			}
			log.Printf("[Worker] Error dequeuing: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if job.IsShutdown() {
			w.markDone(job)
			log.Println("[Worker] Shutdown requested, stopping")
			return nil
		}

		log.Printf("[Worker] Processing job %s (person: %d)", job.ID, job.PersonID)
		start := time.Now()

		if err := w.runJob(context.WithoutCancel(ctx), job.PersonID); err != nil {
			log.Printf("[Worker] Job %s failed after %v: %v", job.ID, time.Since(start).Round(time.Millisecond), err)
		} else {
			log.Printf("[Worker] Job %s completed in %v", job.ID, time.Since(start).Round(time.Millisecond))
		}

		w.markDone(job)
	}
}

// runJob runs ProcessJob and turns a panic into an error so one bad job
// cannot stop the loop.
func (w *Worker) runJob(ctx context.Context, personID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing person %d: %v", personID, r)
		}
	}()
	return w.ProcessJob(ctx, personID)
}

func (w *Worker) markDone(job *queue.Job) {
	if err := w.queue.Done(context.Background(), job); err != nil {
		log.Printf("[Worker] Failed to mark job %s done: %v", job.ID, err)
	}
}

// ProcessJob generates the memorial video for one person. Temporary files
// are removed and the processing flag is cleared whatever the outcome.
func (w *Worker) ProcessJob(ctx context.Context, personID int64) error {
	uploadDir := w.storage.UploadDir(personID)
	resizedDir := filepath.Join(uploadDir, resizedDirName)
	videosDir := filepath.Join(w.storage.Root, storage.VideosDir)
	silentPath := filepath.Join(videosDir, fmt.Sprintf("temp_video_no_audio_%d.mp4", personID))

	defer w.cleanup(ctx, personID, silentPath, resizedDir)

	if _, err := w.store.GetPerson(ctx, personID); err != nil {
		return fmt.Errorf("%w: %w", ErrPersonLookup, err)
	}

	inputs, err := collectInputs(uploadDir)
	if err != nil {
		return err
	}
	log.Printf("[Worker] Person %d: %d uploaded image(s)", personID, len(inputs))

	resized, err := w.resizeAll(personID, inputs, resizedDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(videosDir, 0755); err != nil {
		return fmt.Errorf("failed to create videos directory: %w", err)
	}

	if err := w.encoder.AssembleSlideshow(ctx, resized, services.SlideDuration, services.SlideshowFPS, silentPath); err != nil {
		return fmt.Errorf("failed to assemble slideshow: %w", err)
	}

	finalName := fmt.Sprintf("memorial_%d_%d.mp4", personID, w.now().Unix())
	finalPath := filepath.Join(videosDir, finalName)

	musicPath := filepath.Join(w.storage.Root, storage.MusicDir, backgroundMusicFile)
	if _, err := os.Stat(musicPath); err == nil {
		if err := w.encoder.MuxAudio(ctx, silentPath, musicPath, finalPath); err != nil {
			if rmErr := services.Cleanup(finalPath); rmErr != nil {
				log.Printf("[Worker] Person %d: failed to remove partial video: %v", personID, rmErr)
			}
			return fmt.Errorf("failed to add background music: %w", err)
		}
	} else {
		log.Printf("[Worker] Person %d: no background music at %s, keeping silent video", personID, musicPath)
		if err := os.Rename(silentPath, finalPath); err != nil {
			return fmt.Errorf("failed to move silent video: %w", err)
		}
	}

	videoPath := path.Join(storage.VideosDir, finalName)
	if err := w.store.SetPersonVideo(ctx, personID, videoPath); err != nil {
		return fmt.Errorf("failed to record video: %w", err)
	}

	log.Printf("[Worker] Person %d: video ready at %s", personID, videoPath)
	return nil
}

// collectInputs returns the regular files in dir sorted by name.
func collectInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrMissingInput, dir)
		}
		return nil, fmt.Errorf("failed to read upload directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrMissingInput, dir)
	}

	sort.Strings(files)

	paths := make([]string, len(files))
	for i, name := range files {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// resizeAll scales every input to the slideshow frame size, one at a time.
// Unreadable files are skipped; the surviving frames keep the input order.
func (w *Worker) resizeAll(personID int64, inputs []string, resizedDir string) ([]string, error) {
	if err := os.MkdirAll(resizedDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create resize directory: %w", err)
	}

	frames := make([]string, 0, len(inputs))
	for i, src := range inputs {
		dst := filepath.Join(resizedDir, fmt.Sprintf("resized_%d_%s.png", i, filepath.Base(src)))
		if err := w.resizeOne(src, dst); err != nil {
			log.Printf("[Worker] Person %d: skipping %s: %v", personID, filepath.Base(src), err)
			continue
		}
		frames = append(frames, dst)
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: all %d file(s) failed", ErrNoValidImages, len(inputs))
	}
	if skipped := len(inputs) - len(frames); skipped > 0 {
		log.Printf("[Worker] Person %d: %d of %d image(s) skipped", personID, skipped, len(inputs))
	}
	return frames, nil
}

// resizeOne treats a decoder panic like any other unreadable file.
func (w *Worker) resizeOne(src, dst string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("image decoder panicked: %v", r)
		}
	}()
	return w.resizer.ResizeFile(src, dst, services.SlideWidth, services.SlideHeight)
}

// cleanup removes the job's temporary artifacts and clears the processing
// flag. Failures are logged only.
func (w *Worker) cleanup(ctx context.Context, personID int64, silentPath, resizedDir string) {
	if err := services.Cleanup(silentPath); err != nil {
		log.Printf("[Worker] Person %d: cleanup of %s failed: %v", personID, silentPath, err)
	}

	if err := os.RemoveAll(resizedDir); err != nil {
		log.Printf("[Worker] Person %d: cleanup of %s failed: %v", personID, resizedDir, err)
	}

	if err := w.store.SetPersonVideoProcessing(ctx, personID, false); err != nil && !errors.Is(err, db.ErrPersonNotFound) {
		log.Printf("[Worker] Person %d: failed to clear processing flag: %v", personID, err)
	}
}
