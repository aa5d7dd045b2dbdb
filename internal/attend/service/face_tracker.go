package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/ipbeep/attendance/internal/attend/camera"
	"github.com/ipbeep/attendance/internal/attend/match"
	"github.com/ipbeep/attendance/internal/attend/store"
	"github.com/ipbeep/attendance/internal/attend/types"
)

// degradedAfter is how many consecutive acquisition failures clear the
// preview frame, so pollers see a stalled feed instead of a stale one.
const degradedAfter = 10

// FaceTracker acquires frames in a tight loop, runs identity matching at
// a reduced cadence, and annotates the ledger with recognition results.
//
// Two groups of shared state are guarded by independent locks: the
// match/mutation state (cooldown table, recognized set, pending event
// queue) and the acquisition/annotation state (latest preview frame).
// They are read and written by different concerns and never nested.
type FaceTracker struct {
	source  camera.Source
	matcher match.Matcher
	writer  *LedgerWriter
	events  store.EventStore
	cfg     FaceConfig
	logger  *log.Logger
	cancel  context.CancelFunc
	done    chan struct{}

	mu         sync.Mutex // guards cooldown, recognized, pending, flush bookkeeping
	cooldown   map[string]time.Time
	recognized map[string]struct{}
	pending    []types.RecognitionEvent
	lastFlush  time.Time
	flushDue   bool

	frameMu  sync.Mutex // guards latest; independent of mu
	latest   image.Image
	camFails int
}

// FaceConfig holds the parameters for NewFaceTracker.
type FaceConfig struct {
	// FrameSkip runs matching on every Nth acquired frame.  Defaults to 2.
	FrameSkip int

	// Downscale shrinks frames by this factor before matching to bound
	// per-match latency.  Defaults to 3.
	Downscale int

	// Cooldown is the minimum gap between accepted repeat matches for the
	// same student.  Defaults to 5s.
	Cooldown time.Duration

	// SaveInterval debounces ledger flushes under rapid matches.
	// Defaults to 5s.
	SaveInterval time.Duration
}

func (c *FaceConfig) applyDefaults() {
	if c.FrameSkip <= 0 {
		c.FrameSkip = 2
	}
	if c.Downscale <= 0 {
		c.Downscale = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Second
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = 5 * time.Second
	}
}

func NewFaceTracker(
	src camera.Source,
	m match.Matcher,
	w *LedgerWriter,
	es store.EventStore,
	cfg FaceConfig,
	logger *log.Logger,
) *FaceTracker {
	cfg.applyDefaults()

	return &FaceTracker{
		source:     src,
		matcher:    m,
		writer:     w,
		events:     es,
		cfg:        cfg,
		logger:     logger,
		done:       make(chan struct{}),
		cooldown:   make(map[string]time.Time),
		recognized: make(map[string]struct{}),
	}
}

// Start begins the frame loop.
func (t *FaceTracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	go t.loop(ctx)

	t.logger.Printf("face tracker started (skip=%d, downscale=%d, cooldown=%s)",
		t.cfg.FrameSkip, t.cfg.Downscale, t.cfg.Cooldown)
}

// Stop signals the loop to exit and waits for camera release, the final
// flush and the ownership release.
func (t *FaceTracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	<-t.done
}

// Done is closed once the loop has released the camera, flushed the
// ledger and released write ownership.
func (t *FaceTracker) Done() <-chan struct{} {
	return t.done
}

func (t *FaceTracker) loop(ctx context.Context) {
	defer close(t.done)
	defer t.writer.Release()
	defer t.finalFlush()
	defer t.source.Release()

	frameCount := 0
	for {
		// Stop request is checked once per frame, never preemptively.
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := t.source.NextFrame()
		if err != nil {
			if errors.Is(err, camera.ErrReleased) {
				return
			}
			t.noteCameraFailure(err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		t.frameMu.Lock()
		t.camFails = 0
		t.frameMu.Unlock()

		frameCount++
		var results []match.Result
		if frameCount%t.cfg.FrameSkip == 0 {
			results = t.matchFrame(ctx, frame)
		}

		t.maybeFlush(ctx, time.Now().UTC())

		annotated := annotate(frame.Image, results, t.cfg.Downscale)
		t.frameMu.Lock()
		t.latest = annotated
		t.frameMu.Unlock()
	}
}

// matchFrame downsamples the frame, runs the matcher, and applies every
// accepted match to the ledger.  A matcher failure is treated as
// no-match for this frame.
func (t *FaceTracker) matchFrame(ctx context.Context, frame *camera.Frame) []match.Result {
	b := frame.Image.Bounds()
	small := imaging.Resize(frame.Image, b.Dx()/t.cfg.Downscale, 0, imaging.NearestNeighbor)

	results, err := t.matcher.Match(small)
	if err != nil {
		t.logger.Printf("match error, treating frame as unmatched: %v", err)
		return nil
	}

	for _, r := range results {
		if r.StudentID == "" {
			continue
		}
		t.applyMatch(ctx, r.StudentID, frame.CapturedAt)
	}
	return results
}

// applyMatch confirms one matched identity, subject to the per-identity
// cooldown: a repeat within the window is suppressed entirely (no
// mutation, no event).
func (t *FaceTracker) applyMatch(ctx context.Context, studentID string, now time.Time) {
	t.mu.Lock()
	if last, ok := t.cooldown[studentID]; ok && now.Sub(last) <= t.cfg.Cooldown {
		t.mu.Unlock()
		return
	}
	t.cooldown[studentID] = now
	t.mu.Unlock()

	if !t.writer.ConfirmFace(studentID, now) {
		// Matched a face that is not in this session's ledger.
		return
	}

	ev := types.RecognitionEvent{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Timestamp: now,
		Action:    "recognized",
	}

	t.mu.Lock()
	t.recognized[studentID] = struct{}{}
	t.pending = append(t.pending, ev)
	t.flushDue = true
	t.mu.Unlock()

	t.logger.Printf("recognized %s", studentID)

	if t.events != nil {
		cfg := t.writer.ledger.Config()
		err := t.events.RecordEvent(ctx, store.EventRecord{
			EventID:    ev.ID,
			CourseID:   cfg.CourseID,
			SessionID:  cfg.SessionID,
			StudentID:  studentID,
			Action:     ev.Action,
			ObservedAt: now,
		})
		if err != nil {
			t.logger.Printf("event audit write failed: %v", err)
		}
	}
}

// maybeFlush persists the ledger when a mutation is pending and the save
// interval has elapsed, bounding write amplification under rapid matches.
// A failed flush stays due and is retried on the next interval.
func (t *FaceTracker) maybeFlush(ctx context.Context, now time.Time) {
	t.mu.Lock()
	due := t.flushDue && now.Sub(t.lastFlush) >= t.cfg.SaveInterval
	if due {
		t.lastFlush = now
		t.flushDue = false
	}
	t.mu.Unlock()

	if !due {
		return
	}
	if err := t.writer.Flush(ctx); err != nil {
		t.logger.Printf("ledger flush failed (state kept, retrying): %v", err)
		t.mu.Lock()
		t.flushDue = true
		t.mu.Unlock()
	}
}

// finalFlush is unconditional: whatever happened during the loop, the
// in-memory ledger state reaches the backing store before ownership is
// released.
func (t *FaceTracker) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.writer.Flush(ctx); err != nil {
		t.logger.Printf("final ledger flush failed: %v", err)
	}
}

func (t *FaceTracker) noteCameraFailure(err error) {
	t.frameMu.Lock()
	t.camFails++
	degraded := t.camFails == degradedAfter
	if degraded {
		t.latest = nil
	}
	t.frameMu.Unlock()

	if degraded {
		t.logger.Printf("camera degraded after %d consecutive failures: %v", degradedAfter, err)
	} else {
		t.logger.Printf("camera error, skipping frame: %v", err)
	}
}

// Status returns the cumulative recognized set and drains the pending
// event queue: each event is delivered to exactly one poll.
func (t *FaceTracker) Status() types.RecognizedStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.recognized))
	for id := range t.recognized {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	updates := t.pending
	t.pending = nil
	if updates == nil {
		updates = []types.RecognitionEvent{}
	}

	return types.RecognizedStatus{Recognized: ids, Updates: updates}
}

// PreviewJPEG encodes the latest annotated frame for the live feed.
// Returns ok=false while no frame is available (startup or degraded
// camera).  Encoding happens outside the lock; only the frame pointer is
// copied under it.
func (t *FaceTracker) PreviewJPEG() ([]byte, bool) {
	t.frameMu.Lock()
	img := t.latest
	t.frameMu.Unlock()

	if img == nil {
		return nil, false
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// annotate draws the match boxes, scaled back up from matching
// resolution, onto a copy of the frame.  Matched faces are outlined
// green, unmatched red.
func annotate(img image.Image, results []match.Result, downscale int) image.Image {
	if len(results) == 0 {
		return img
	}

	out := imaging.Clone(img)
	for _, r := range results {
		box := image.Rect(
			r.Box.Min.X*downscale, r.Box.Min.Y*downscale,
			r.Box.Max.X*downscale, r.Box.Max.Y*downscale,
		)
		c := color.NRGBA{R: 0xFF, A: 0xFF}
		if r.StudentID != "" {
			c = color.NRGBA{G: 0xFF, A: 0xFF}
		}
		drawRect(out, box.Intersect(out.Bounds()), c)
	}
	return out
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetNRGBA(x, r.Min.Y, c)
		img.SetNRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetNRGBA(r.Min.X, y, c)
		img.SetNRGBA(r.Max.X-1, y, c)
	}
}
