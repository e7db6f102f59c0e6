package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/drgolem/musicengine/pkg/audioframe"
	"github.com/drgolem/musicengine/pkg/output"
	"github.com/drgolem/musicengine/pkg/queue"
	"github.com/drgolem/musicengine/pkg/spectrum"
	"github.com/drgolem/musicengine/pkg/types"
)

type memSource struct {
	*bytes.Reader
	format audioframe.Format
	length time.Duration
}

func (s *memSource) Format() audioframe.Format { return s.format }
func (s *memSource) Length() time.Duration { return s.length }
func (s *memSource) Close() error { return nil }

type testSong struct {
	format audioframe.Format
	length time.Duration
}

func pcm(format audioframe.Format, d time.Duration) []byte {
	data := make([]byte, format.Frames(d)*int64(format.FrameSize))
	for i := 0; i+1 < len(data); i += 2 {
		v := int16((i*53)%20000 - 10000)
		data[i] = byte(v)
		data[i+1] = byte(uint16(v) >> 8)
	}
	return data
}

func openFrom(songs map[string]testSong) func(string) (types.AudioSource, error) {
	return func(path string) (types.AudioSource, error) {
		s, ok := songs[path]
		if !ok {
			return nil, fmt.Errorf("no such song: %s", path)
		}
		return &memSource{
			Reader: bytes.NewReader(pcm(s.format, s.length)),
			format: s.format,
			length: s.length,
		}, nil
	}
}

// sinkRecorder opens NullSinks and keeps them for inspection.
type sinkRecorder struct {
	mu       sync.Mutex
	sinks    []*output.NullSink
	realtime bool
	failRate int
}

func (r *sinkRecorder) open(format audioframe.Format) (output.Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if format.SampleRate == r.failRate {
		return nil, errors.New("device busy")
	}
	sink, err := output.OpenNull(100*time.Millisecond, r.realtime)(format)
	if err != nil {
		return nil, err
	}
	r.sinks = append(r.sinks, sink.(*output.NullSink))
	return sink, nil
}

func (r *sinkRecorder) all() []*output.NullSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*output.NullSink(nil), r.sinks...)
}

func (r *sinkRecorder) last() *output.NullSink {
	sinks := r.all()
	if len(sinks) == 0 {
		return nil
	}
	return sinks[len(sinks)-1]
}

// startEngine runs an engine until the test ends. stop cancels it and
// returns Run's error.
func startEngine(t *testing.T, opts Options) (e *Engine, stop func() error) {
	t.Helper()
	e = New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var runErr error
	go func() {
		runErr = e.Run(ctx)
		close(done)
	}()
	stop = func() error {
		cancel()
		<-done
		return runErr
	}
	t.Cleanup(func() { stop() })
	return e, stop
}

// waitFor blocks until a published state satisfies pred.
func waitFor(t *testing.T, e *Engine, what string, pred func(State) bool) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, ver := e.States().Load()
	for !pred(st) {
		var err error
		st, ver, err = e.States().Next(ctx, ver)
		if err != nil {
			t.Fatalf("waiting for %s: %v (last state %+v)", what, err, st)
		}
	}
	return st
}

// countOpens wraps open and counts its calls per path.
func countOpens(open func(string) (types.AudioSource, error)) (func(string) (types.AudioSource, error), func(string) int64) {
	var mu sync.Mutex
	counts := make(map[string]int64)
	wrapped := func(path string) (types.AudioSource, error) {
		mu.Lock()
		counts[path]++
		mu.Unlock()
		return open(path)
	}
	count := func(path string) int64 {
		mu.Lock()
		defer mu.Unlock()
		return counts[path]
	}
	return wrapped, count
}

var (
	formatA = audioframe.NewFormat(8000, 2, 16)
	formatB = audioframe.NewFormat(11025, 1, 16)
)

func testOptions(songs map[string]testSong, rec *sinkRecorder) Options {
	opts := DefaultOptions()
	opts.OpenSource = openFrom(songs)
	opts.OpenSink = rec.open
	opts.IdleDelay = time.Millisecond
	return opts
}

func mustQueue(t *testing.T, repeat queue.RepeatMode, paths ...string) *queue.Queue {
	t.Helper()
	q, err := queue.New(queue.SongsFromPaths(paths), 0, repeat)
	if err != nil {
		t.Fatalf("queue.New failed: %v", err)
	}
	return q
}

func TestConcurrentCommandsGetDistinctEvents(t *testing.T) {
	rec := &sinkRecorder{}
	e, _ := startEngine(t, testOptions(nil, rec))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var maxEv uint64
	seen := make(map[uint64]bool)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for j := 0; j < 25; j++ {
				ev, err := e.SetLevel(float64(j) / 25)
				if err != nil {
					t.Errorf("SetLevel failed: %v", err)
					return
				}
				if ev <= last {
					t.Errorf("event from one sender: got %d after %d", ev, last)
				}
				last = ev

				mu.Lock()
				if seen[ev] {
					t.Errorf("event %d issued twice", ev)
				}
				seen[ev] = true
				maxEv = max(maxEv, ev)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	st := waitFor(t, e, "all commands applied", func(s State) bool { return s.Event > maxEv })
	if st.Level < 0 || st.Level > 1 {
		t.Errorf("Level: got %v, want within 0..1", st.Level)
	}
}

func TestStatesFollowCommandOrder(t *testing.T) {
	rec := &sinkRecorder{}
	e, _ := startEngine(t, testOptions(nil, rec))

	var lastCmd uint64
	var lastState uint64
	for i := 0; i < 50; i++ {
		ev, err := e.SetLevel(float64(i%2) * 0.5)
		if err != nil {
			t.Fatalf("SetLevel failed: %v", err)
		}
		if ev <= lastCmd {
			t.Errorf("command event: got %d, want > %d", ev, lastCmd)
		}
		lastCmd = ev

		st, _ := e.States().Load()
		if st.Event < lastState {
			t.Errorf("state event went backwards: %d after %d", st.Event, lastState)
		}
		lastState = st.Event
	}

	st := waitFor(t, e, "last command applied", func(s State) bool { return s.Event > lastCmd })
	if st.Level != 0.5 {
		t.Errorf("Level: got %v, want 0.5", st.Level)
	}
	if !st.Newer(State{Event: lastCmd}) {
		t.Errorf("Newer: state %d should replace %d", st.Event, lastCmd)
	}
	if pred := e.NextEvent(); pred <= st.Event {
		t.Errorf("NextEvent: got %d, want > %d", pred, st.Event)
	}
}

func TestEndOfQueueUnloads(t *testing.T) {
	songs := map[string]testSong{"a.wav": {formatA, 500 * time.Millisecond}}
	rec := &sinkRecorder{}
	e, _ := startEngine(t, testOptions(songs, rec))

	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "a.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}

	waitFor(t, e, "queue end", func(s State) bool { return s.Now == nil })

	sink := rec.last()
	if sink == nil {
		t.Fatal("no sink opened")
	}
	if !sink.Closed() {
		t.Error("sink should be closed at the end of the queue")
	}
	want := int64(len(pcm(formatA, 500*time.Millisecond)))
	if got := sink.Written(); got != want {
		t.Errorf("Written: got %d, want %d", got, want)
	}
	if status := e.GetPlaybackStatus(); status.FileName != "" {
		t.Errorf("FileName after queue end: got %q, want empty", status.FileName)
	}
}

func TestRepeatSongKeepsLoadedSong(t *testing.T) {
	songs := map[string]testSong{"a.wav": {formatA, 200 * time.Millisecond}}
	rec := &sinkRecorder{}
	e, _ := startEngine(t, testOptions(songs, rec))

	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.RepeatSong, "a.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}
	first, _ := e.States().Load()
	if first.Now == nil {
		t.Fatal("song not loaded")
	}

	songBytes := int64(len(pcm(formatA, 200*time.Millisecond)))
	deadline := time.Now().Add(5 * time.Second)
	for rec.last().Written() < 2*songBytes {
		if time.Now().After(deadline) {
			t.Fatalf("Written: got %d, want at least %d", rec.last().Written(), 2*songBytes)
		}
		time.Sleep(time.Millisecond)
	}

	st, _ := e.States().Load()
	if st.Now == nil || st.Now.ID != first.Now.ID {
		t.Errorf("repeat-song should keep the loaded song %v, got %+v", first.Now.ID, st.Now)
	}
	if got := len(rec.all()); got != 1 {
		t.Errorf("sinks opened: got %d, want 1", got)
	}
}

func TestAdvanceToNextSong(t *testing.T) {
	songs := map[string]testSong{
		"a.wav": {formatA, 200 * time.Millisecond},
		"b.wav": {formatB, 200 * time.Millisecond},
	}
	rec := &sinkRecorder{realtime: true}
	e, _ := startEngine(t, testOptions(songs, rec))

	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.RepeatQueue, "a.wav", "b.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}

	st := waitFor(t, e, "song b", func(s State) bool {
		return s.Now != nil && s.Now.Song.Path == "b.wav"
	})
	if st.Now.Format != formatB {
		t.Errorf("Format: got %v, want %v", st.Now.Format, formatB)
	}
	if st.Now.Queue.Position() != 1 {
		t.Errorf("queue position: got %d, want 1", st.Now.Queue.Position())
	}

	sinks := rec.all()
	if len(sinks) < 2 {
		t.Fatalf("sinks opened: got %d, want at least 2", len(sinks))
	}
	if !sinks[0].Closed() {
		t.Error("sink for song a should be closed")
	}
	want := int64(len(pcm(formatA, 200*time.Millisecond)))
	if got := sinks[0].Written(); got != want {
		t.Errorf("song a written: got %d, want %d", got, want)
	}
}

func TestSeekWhilePaused(t *testing.T) {
	format := audioframe.NewFormat(8000, 1, 16)
	songs := map[string]testSong{"long.wav": {format, 2 * time.Minute}}
	rec := &sinkRecorder{}
	e, _ := startEngine(t, testOptions(songs, rec))

	if _, err := e.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	q := mustQueue(t, queue.NoRepeat, "long.wav")
	if err := e.ChangeQueue(context.Background(), q, FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}

	if _, err := e.StartSeek(); err != nil {
		t.Fatalf("StartSeek failed: %v", err)
	}
	if _, err := e.Seek(nil, 90*time.Second); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	st := waitFor(t, e, "seek to 90s", func(s State) bool { return s.Position == 90*time.Second })
	if !st.Seeking {
		t.Error("Seeking: got false, want true")
	}

	if err := e.ChangeQueue(context.Background(), q, At(30*time.Second)); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}
	ev, err := e.EndSeek()
	if err != nil {
		t.Fatalf("EndSeek failed: %v", err)
	}

	st = waitFor(t, e, "end seek", func(s State) bool { return s.Event > ev })
	if st.Position != 30*time.Second {
		t.Errorf("Position: got %v, want 30s", st.Position)
	}
	if st.Seeking || !st.Paused {
		t.Errorf("flags: got seeking=%v paused=%v, want false true", st.Seeking, st.Paused)
	}
	if got := len(rec.all()); got != 1 {
		t.Errorf("sinks opened: got %d, want 1", got)
	}

	status := e.GetPlaybackStatus()
	if status.FileName != "long.wav" || status.SampleRate != 8000 || !status.Paused {
		t.Errorf("status: got %+v", status)
	}
	if status.Position != 30*time.Second {
		t.Errorf("status position: got %v, want 30s", status.Position)
	}
}

func TestSetLevelReachesDevice(t *testing.T) {
	songs := map[string]testSong{"a.wav": {formatA, time.Second}}
	rec := &sinkRecorder{}
	e, _ := startEngine(t, testOptions(songs, rec))

	if _, err := e.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "a.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}

	ev, _ := e.SetLevel(0)
	waitFor(t, e, "level 0", func(s State) bool { return s.Event > ev })
	if got := rec.last().Gain(); got != output.NullMinGain {
		t.Errorf("gain at level 0: got %v, want %v", got, output.NullMinGain)
	}

	e.SetLevel(0)
	ev, _ = e.SetLevel(1)
	st := waitFor(t, e, "level 1", func(s State) bool { return s.Event > ev })
	if st.Level != 1 {
		t.Errorf("Level: got %v, want 1", st.Level)
	}
	if got := rec.last().Gain(); got != 0 {
		t.Errorf("gain at level 1: got %v, want 0", got)
	}

	ev, _ = e.SetLevel(3)
	st = waitFor(t, e, "clamped level", func(s State) bool { return s.Event > ev })
	if st.Level != 1 {
		t.Errorf("clamped Level: got %v, want 1", st.Level)
	}
}

func TestSourceOpenFailureUnloads(t *testing.T) {
	songs := map[string]testSong{"a.wav": {formatA, time.Second}}
	rec := &sinkRecorder{}
	e, _ := startEngine(t, testOptions(songs, rec))

	e.Pause()
	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "a.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}

	err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "missing.wav"), FromBeginning())
	var srcErr *SourceOpenError
	if !errors.As(err, &srcErr) {
		t.Fatalf("ChangeQueue error: got %v, want *SourceOpenError", err)
	}
	if srcErr.Path != "missing.wav" {
		t.Errorf("Path: got %q, want missing.wav", srcErr.Path)
	}

	st, _ := e.States().Load()
	if st.Now != nil {
		t.Errorf("Now after failed open: got %+v, want nil", st.Now)
	}
	if !rec.last().Closed() {
		t.Error("previous sink should be closed")
	}
}

func TestDeviceOpenFailureKeepsSong(t *testing.T) {
	songs := map[string]testSong{
		"a.wav": {formatA, time.Second},
		"b.wav": {formatB, time.Second},
	}
	rec := &sinkRecorder{failRate: formatB.SampleRate}
	e, _ := startEngine(t, testOptions(songs, rec))

	e.Pause()
	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "a.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}
	before, _ := e.States().Load()

	err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "b.wav"), FromBeginning())
	var devErr *DeviceOpenError
	if !errors.As(err, &devErr) {
		t.Fatalf("ChangeQueue error: got %v, want *DeviceOpenError", err)
	}
	if devErr.Format != formatB {
		t.Errorf("Format: got %v, want %v", devErr.Format, formatB)
	}

	st, _ := e.States().Load()
	if st.Now == nil || st.Now.ID != before.Now.ID {
		t.Fatalf("Now after device failure: got %+v, want song a", st.Now)
	}
	if rec.last().Closed() {
		t.Error("sink for song a should stay open")
	}
}

func TestUnloadWithNilQueue(t *testing.T) {
	songs := map[string]testSong{"a.wav": {formatA, time.Second}}
	rec := &sinkRecorder{}
	e, _ := startEngine(t, testOptions(songs, rec))

	e.Pause()
	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "a.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}
	if err := e.ChangeQueue(context.Background(), nil, KeepPosition()); err != nil {
		t.Fatalf("ChangeQueue(nil) failed: %v", err)
	}
	st, _ := e.States().Load()
	if st.Now != nil {
		t.Errorf("Now: got %+v, want nil", st.Now)
	}
	if !rec.last().Closed() {
		t.Error("sink should be closed after unload")
	}
}

func TestSpectrumReceivesPlayedAudio(t *testing.T) {
	songs := map[string]testSong{"a.wav": {formatA, 300 * time.Millisecond}}
	rec := &sinkRecorder{}
	opts := testOptions(songs, rec)
	opts.Spectrum = spectrum.New(spectrum.DefaultConfig())
	e, _ := startEngine(t, opts)

	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "a.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, _, err := e.Spectrum().Spectra().Next(ctx, 0)
	if err != nil {
		t.Fatalf("no spectrum published: %v", err)
	}
	if got, want := len(result.Raw), spectrum.DefaultConfig().WindowSize/2; got != want {
		t.Errorf("bins: got %d, want %d", got, want)
	}
}

func TestCommandsAfterStop(t *testing.T) {
	rec := &sinkRecorder{}
	e, stop := startEngine(t, testOptions(nil, rec))

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run: got %v, want context.Canceled", err)
	}

	if _, err := e.Play(); !errors.Is(err, ErrStopped) {
		t.Errorf("Play after stop: got %v, want ErrStopped", err)
	}
	if err := e.ChangeQueue(context.Background(), nil, KeepPosition()); !errors.Is(err, ErrStopped) {
		t.Errorf("ChangeQueue after stop: got %v, want ErrStopped", err)
	}
	if !e.States().Closed() {
		t.Error("states should be closed after stop")
	}
}

func TestAdvanceDeviceFailureStopsOnce(t *testing.T) {
	songs := map[string]testSong{
		"a.wav": {formatA, 200 * time.Millisecond},
		"b.wav": {formatB, 200 * time.Millisecond},
	}
	rec := &sinkRecorder{failRate: formatB.SampleRate}
	opts := testOptions(songs, rec)
	opts.IdleDelay = 10 * time.Millisecond
	var opens func(string) int64
	opts.OpenSource, opens = countOpens(opts.OpenSource)
	e, _ := startEngine(t, opts)

	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "a.wav", "b.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}
	waitFor(t, e, "unload after failed advance", func(s State) bool { return s.Now == nil })

	time.Sleep(100 * time.Millisecond)
	if got := opens("b.wav"); got != 1 {
		t.Errorf("b.wav opened %d times, want 1", got)
	}
	if st, _ := e.States().Load(); st.Now != nil {
		t.Errorf("Now: got %+v, want nil", st.Now)
	}

	sinks := rec.all()
	if len(sinks) != 1 {
		t.Fatalf("sinks opened: got %d, want 1", len(sinks))
	}
	if !sinks[0].Closed() {
		t.Error("sink for song a should be closed")
	}
	want := int64(len(pcm(formatA, 200*time.Millisecond)))
	if got := sinks[0].Written(); got != want {
		t.Errorf("song a written: got %d, want %d", got, want)
	}
}

func TestAdvanceSkipsUnopenableSong(t *testing.T) {
	songs := map[string]testSong{
		"a.wav": {formatA, 200 * time.Millisecond},
		"c.wav": {formatA, 10 * time.Second},
	}
	rec := &sinkRecorder{realtime: true}
	opts := testOptions(songs, rec)
	var opens func(string) int64
	opts.OpenSource, opens = countOpens(opts.OpenSource)
	e, _ := startEngine(t, opts)

	q := mustQueue(t, queue.NoRepeat, "a.wav", "missing.wav", "c.wav")
	if err := e.ChangeQueue(context.Background(), q, FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}

	st := waitFor(t, e, "song c", func(s State) bool {
		return s.Now != nil && s.Now.Song.Path == "c.wav"
	})
	if st.Now.Queue.Position() != 2 {
		t.Errorf("queue position: got %d, want 2", st.Now.Queue.Position())
	}
	if got := opens("missing.wav"); got != 1 {
		t.Errorf("missing.wav opened %d times, want 1", got)
	}
	if got := len(rec.all()); got != 1 {
		t.Errorf("sinks opened: got %d, want 1 shared by a and c", got)
	}
	want := int64(len(pcm(formatA, 200*time.Millisecond)))
	if got := rec.last().Written(); got < want {
		t.Errorf("written: got %d, want song a (%d bytes) played out", got, want)
	}
}

func TestFinishedSongWaitsForSeekToEnd(t *testing.T) {
	songs := map[string]testSong{
		"a.wav": {formatA, 200 * time.Millisecond},
		"b.wav": {formatA, 10 * time.Second},
	}
	rec := &sinkRecorder{realtime: true}
	opts := testOptions(songs, rec)
	var opens func(string) int64
	opts.OpenSource, opens = countOpens(opts.OpenSource)
	e, _ := startEngine(t, opts)

	if _, err := e.StartSeek(); err != nil {
		t.Fatalf("StartSeek failed: %v", err)
	}
	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "a.wav", "b.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}
	loaded, _ := e.States().Load()
	if loaded.Now == nil {
		t.Fatal("song not loaded")
	}

	songBytes := int64(len(pcm(formatA, 200*time.Millisecond)))
	deadline := time.Now().Add(5 * time.Second)
	for rec.last().Written() < songBytes {
		if time.Now().After(deadline) {
			t.Fatalf("Written: got %d, want %d", rec.last().Written(), songBytes)
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	st, _ := e.States().Load()
	if st.Now == nil || st.Now.ID != loaded.Now.ID {
		t.Fatalf("Now while seeking: got %+v, want song a", st.Now)
	}
	if got := opens("b.wav"); got != 0 {
		t.Errorf("b.wav opened %d times while seeking, want 0", got)
	}

	if _, err := e.EndSeek(); err != nil {
		t.Fatalf("EndSeek failed: %v", err)
	}
	waitFor(t, e, "song b", func(s State) bool {
		return s.Now != nil && s.Now.Song.Path == "b.wav"
	})
}

func TestTrimSilenceEndsSongEarly(t *testing.T) {
	songs := map[string]testSong{"b.wav": {formatB, 10 * time.Second}}
	quiet := pcm(formatA, time.Second)
	clear(quiet[len(quiet)/2:])

	rec := &sinkRecorder{realtime: true}
	opts := testOptions(songs, rec)
	opts.TrimSilence = true
	opts.OpenSource = func(path string) (types.AudioSource, error) {
		if path != "quiet.wav" {
			return openFrom(songs)(path)
		}
		return &memSource{
			Reader: bytes.NewReader(quiet),
			format: formatA,
			length: time.Second,
		}, nil
	}
	e, _ := startEngine(t, opts)

	if err := e.ChangeQueue(context.Background(), mustQueue(t, queue.NoRepeat, "quiet.wav", "b.wav"), FromBeginning()); err != nil {
		t.Fatalf("ChangeQueue failed: %v", err)
	}

	waitFor(t, e, "song b", func(s State) bool {
		return s.Now != nil && s.Now.Song.Path == "b.wav"
	})

	sinks := rec.all()
	if len(sinks) < 2 {
		t.Fatalf("sinks opened: got %d, want 2", len(sinks))
	}
	if got, full := sinks[0].Written(), int64(len(quiet)); got >= full {
		t.Errorf("quiet.wav written: got %d, want less than %d", got, full)
	}
}
