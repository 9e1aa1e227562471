package speech

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/provider"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	apperrors "github.com/Vivekkumarprince1/vaani-sub000/pkg/errors"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/retry"
)

// Roster lists the users currently connected to a room
type Roster interface {
	Members(roomID string) []string
}

// Directory resolves presence entries, including language preferences
type Directory interface {
	Entry(userID string) (domain.PresenceEntry, bool)
}

// Emitter delivers events to a user's live connection
type Emitter interface {
	ToUser(userID, event string, payload interface{}) bool
}

// PlaybackRouter hands synthesized audio to the listener's playback queue
type PlaybackRouter interface {
	EnqueueAudio(userID string, item Item) bool
}

// Providers bundles the external speech services
type Providers struct {
	Recognizer  provider.Recognizer
	Translator  provider.Translator
	Synthesizer provider.Synthesizer
}

// Config tunes the pipeline
type Config struct {
	ProviderTimeout time.Duration
	Retries         int
	MinAudioBytes   int
	MaxAudioBytes   int
	PartialResults  bool
}

func (c Config) withDefaults() Config {
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = constants.ProviderRoundTripTimeout
	}
	if c.Retries < 0 {
		c.Retries = constants.ProviderRetries
	}
	if c.MinAudioBytes <= 0 {
		c.MinAudioBytes = constants.MinAudioBytes
	}
	if c.MaxAudioBytes <= 0 {
		c.MaxAudioBytes = constants.MaxAudioBytes
	}
	return c
}

// Request is one inbound audio segment from a speaker
type Request struct {
	CorrelationID string
	SpeakerID     string
	SourceLang    string
	RoomID        string
	TargetUserID  string
	Audio         []byte
}

// Listener is one resolved recipient with their target language
type Listener struct {
	UserID   string
	Language string
}

// PartialPayload is an interim transcript, delivered to the speaker only
type PartialPayload struct {
	CorrelationID string `json:"correlationId"`
	Text          string `json:"text"`
}

// FinalPayload is the finished result for one target language
type FinalPayload struct {
	CorrelationID  string `json:"correlationId"`
	SpeakerID      string `json:"speakerId"`
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	TargetLang     string `json:"targetLang"`
	Audio          []byte `json:"audioBase64,omitempty"`
}

// ErrorPayload surfaces a pipeline failure to the speaker
type ErrorPayload struct {
	CorrelationID string `json:"correlationId,omitempty"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	OriginalText  string `json:"originalText,omitempty"`
}

// Orchestrator turns one audio segment into routed transcript, translation
// and synthesized audio for every listener. Recognition, translation and
// synthesis run once per distinct source to target language pair, never per
// listener, and all emissions carry the request's correlation id.
type Orchestrator struct {
	providers Providers
	cache     *TranslationCache
	roster    Roster
	directory Directory
	emitter   Emitter
	playback  PlaybackRouter
	inflight  *correlationTable
	cfg       Config
}

// NewOrchestrator creates a speech pipeline orchestrator
func NewOrchestrator(p Providers, cache *TranslationCache, roster Roster, directory Directory, emitter Emitter, playback PlaybackRouter, cfg Config) *Orchestrator {
	return &Orchestrator{
		providers: p,
		cache:     cache,
		roster:    roster,
		directory: directory,
		emitter:   emitter,
		playback:  playback,
		inflight:  newCorrelationTable(),
		cfg:       cfg.withDefaults(),
	}
}

// Process runs the pipeline for one segment. Validation and listener
// resolution failures are returned to the caller; failures past that point
// are reported to the speaker as a single error event per correlation id.
func (o *Orchestrator) Process(ctx context.Context, req Request) error {
	if req.CorrelationID == "" {
		metrics.SpeechSegmentsTotal.WithLabelValues("rejected").Inc()
		return apperrors.MissingFieldError("correlationId")
	}
	if err := o.validateAudio(req.Audio); err != nil {
		metrics.SpeechSegmentsTotal.WithLabelValues("rejected").Inc()
		return err
	}

	sourceLang := o.resolveSourceLang(req)
	listeners, err := o.resolveListeners(req, sourceLang)
	if err != nil {
		metrics.SpeechSegmentsTotal.WithLabelValues("rejected").Inc()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()
	if !o.inflight.track(req, cancel) {
		metrics.SpeechSegmentsTotal.WithLabelValues("rejected").Inc()
		return apperrors.ConflictError("a segment with this correlation id is already in flight")
	}
	defer o.inflight.done(req.CorrelationID)

	transcript, err := o.recognize(ctx, req, sourceLang)
	if err != nil {
		// A cancelled segment has no audience left; nothing to report
		if ctx.Err() == context.Canceled {
			metrics.SpeechSegmentsTotal.WithLabelValues("cancelled").Inc()
			return nil
		}
		metrics.SpeechSegmentsTotal.WithLabelValues("failed").Inc()
		o.emitter.ToUser(req.SpeakerID, "error", ErrorPayload{
			CorrelationID: req.CorrelationID,
			Code:          string(apperrors.ErrCodeProvider),
			Message:       "speech recognition failed",
		})
		logger.Error("Speech recognition failed",
			zap.String("correlation_id", req.CorrelationID),
			zap.String("speaker_id", req.SpeakerID),
			zap.Error(err))
		return nil
	}

	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		metrics.SpeechSegmentsTotal.WithLabelValues("no_result").Inc()
		o.emitter.ToUser(req.SpeakerID, "error", ErrorPayload{
			CorrelationID: req.CorrelationID,
			Code:          string(apperrors.ErrCodeNoResult),
			Message:       "no speech recognized",
		})
		return nil
	}

	groups := groupByLanguage(listeners)
	tally := &segmentTally{}
	errOnce := &sync.Once{}

	var g errgroup.Group
	g.SetLimit(4)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			o.processGroup(ctx, req, sourceLang, text, grp, tally, errOnce)
			return nil
		})
	}
	g.Wait()

	metrics.SpeechSegmentsTotal.WithLabelValues(tally.outcome()).Inc()
	return nil
}

// segmentTally aggregates per-group results into one segment outcome
type segmentTally struct {
	mu        sync.Mutex
	audio     bool
	failed    bool
	cancelled bool
}

func (t *segmentTally) record(audio, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio = t.audio || audio
	t.failed = t.failed || failed
}

func (t *segmentTally) markCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

func (t *segmentTally) outcome() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.failed:
		return "failed"
	case t.cancelled:
		return "cancelled"
	case t.audio:
		return "completed"
	default:
		return "text_only"
	}
}

// languageGroup batches all listeners sharing a target language so the
// translate and synthesize calls happen once for the whole group
type languageGroup struct {
	lang      string
	listeners []Listener
}

func groupByLanguage(listeners []Listener) []*languageGroup {
	byLang := make(map[string]*languageGroup)
	for _, l := range listeners {
		key := canonicalLang(l.Language)
		grp, ok := byLang[key]
		if !ok {
			grp = &languageGroup{lang: l.Language}
			byLang[key] = grp
		}
		grp.listeners = append(grp.listeners, l)
	}

	out := make([]*languageGroup, 0, len(byLang))
	for _, grp := range byLang {
		out = append(out, grp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lang < out[j].lang })
	return out
}

func (o *Orchestrator) processGroup(ctx context.Context, req Request, sourceLang, text string, grp *languageGroup, tally *segmentTally, errOnce *sync.Once) {
	// Same-language listeners get the original text as is; translate is
	// never called with source equal to target
	if sameLanguage(sourceLang, grp.lang) {
		payload := FinalPayload{
			CorrelationID:  req.CorrelationID,
			SpeakerID:      req.SpeakerID,
			OriginalText:   text,
			TranslatedText: text,
			TargetLang:     grp.lang,
		}
		o.deliverText(grp, payload)
		tally.record(false, false)
		return
	}

	translated, cached := o.cache.Get(ctx, text, sourceLang, grp.lang)
	if !cached {
		start := time.Now()
		err := o.withRetry(ctx, "translate", func() error {
			var terr error
			translated, terr = o.providers.Translator.Translate(ctx, text, sourceLang, grp.lang)
			return terr
		})
		metrics.SpeechStageDuration.WithLabelValues("translate").Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() == context.Canceled {
				tally.markCancelled()
				return
			}
			tally.record(false, true)
			o.reportFailure(req, text, "translation failed", errOnce, err)
			return
		}
		o.cache.Put(ctx, text, sourceLang, grp.lang, translated)
	}

	payload := FinalPayload{
		CorrelationID:  req.CorrelationID,
		SpeakerID:      req.SpeakerID,
		OriginalText:   text,
		TranslatedText: translated,
		TargetLang:     grp.lang,
	}

	start := time.Now()
	var audio []byte
	err := o.withRetry(ctx, "synthesize", func() error {
		var serr error
		audio, serr = o.providers.Synthesizer.Synthesize(ctx, translated, grp.lang)
		return serr
	})
	metrics.SpeechStageDuration.WithLabelValues("synthesize").Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == context.Canceled {
			tally.markCancelled()
			return
		}
		// The texts survive a synthesis failure; listeners still read the
		// translation
		tally.record(false, true)
		o.deliverText(grp, payload)
		o.reportFailure(req, text, "speech synthesis failed", errOnce, err)
		return
	}

	payload.Audio = audio
	for _, l := range grp.listeners {
		if o.playback != nil {
			if o.playback.EnqueueAudio(l.UserID, Item{
				CorrelationID: req.CorrelationID,
				SpeakerID:     req.SpeakerID,
				Payload:       payload,
			}) {
				metrics.SpeechDeliveriesTotal.WithLabelValues("final").Inc()
			}
			continue
		}
		if o.emitter.ToUser(l.UserID, "speech-final", payload) {
			metrics.SpeechDeliveriesTotal.WithLabelValues("final").Inc()
		}
	}
	tally.record(true, false)
}

func (o *Orchestrator) deliverText(grp *languageGroup, payload FinalPayload) {
	for _, l := range grp.listeners {
		if o.emitter.ToUser(l.UserID, "speech-final", payload) {
			metrics.SpeechDeliveriesTotal.WithLabelValues("final").Inc()
		}
	}
}

// reportFailure emits at most one error event per correlation id, keeping
// the recognized text so the speaker's client can still show it
func (o *Orchestrator) reportFailure(req Request, text, message string, errOnce *sync.Once, err error) {
	logger.Error("Speech pipeline stage failed",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("speaker_id", req.SpeakerID),
		zap.String("stage", message),
		zap.Error(err))
	errOnce.Do(func() {
		o.emitter.ToUser(req.SpeakerID, "error", ErrorPayload{
			CorrelationID: req.CorrelationID,
			Code:          string(apperrors.ErrCodeProvider),
			Message:       message,
			OriginalText:  text,
		})
	})
}

// CancelSpeaker aborts every in-flight segment from one speaker, so audio
// recorded before a mute or disconnect never reaches listeners
func (o *Orchestrator) CancelSpeaker(userID, reason string) int {
	return o.inflight.cancelSpeaker(userID, reason)
}

// CancelConversation aborts in-flight direct segments between two users,
// in both directions, when their call ends
func (o *Orchestrator) CancelConversation(userA, userB, reason string) int {
	return o.inflight.cancelPair(userA, userB, reason)
}

// CancelRoom aborts every in-flight segment addressed to a room, used when
// a group call dissolves
func (o *Orchestrator) CancelRoom(roomID, reason string) int {
	return o.inflight.cancelRoom(roomID, reason)
}

// StartJanitor sweeps correlation entries that outlived the provider ceiling
// plus slack. A provider that ignores its context is the only way an entry
// leaks; the sweep frees the id for the client to resend.
func (o *Orchestrator) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.CorrelationSweepInterval
	}
	maxAge := o.cfg.ProviderTimeout + constants.CorrelationSlack
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := o.inflight.sweep(maxAge); n > 0 {
					logger.Warn("Swept leaked speech segments",
						zap.Int("count", n),
						zap.Duration("max_age", maxAge))
				}
			}
		}
	}()
}

func (o *Orchestrator) recognize(ctx context.Context, req Request, sourceLang string) (provider.Transcript, error) {
	var transcript provider.Transcript
	start := time.Now()
	err := o.withRetry(ctx, "recognize", func() error {
		var rerr error
		if sr, ok := o.providers.Recognizer.(provider.StreamingRecognizer); ok && o.cfg.PartialResults {
			transcript, rerr = sr.RecognizeWithInterim(ctx, req.Audio, sourceLang, func(interim provider.Transcript) {
				if strings.TrimSpace(interim.Text) == "" {
					return
				}
				o.emitter.ToUser(req.SpeakerID, "speech-partial", PartialPayload{
					CorrelationID: req.CorrelationID,
					Text:          interim.Text,
				})
				metrics.SpeechDeliveriesTotal.WithLabelValues("partial").Inc()
			})
			return rerr
		}
		transcript, rerr = o.providers.Recognizer.Recognize(ctx, req.Audio, sourceLang)
		return rerr
	})
	metrics.SpeechStageDuration.WithLabelValues("recognize").Observe(time.Since(start).Seconds())
	return transcript, err
}

func (o *Orchestrator) withRetry(ctx context.Context, stage string, fn func() error) error {
	p := retry.ProviderPolicy()
	p.MaxAttempts = o.cfg.Retries + 1
	return retry.DoIf(ctx, stage, p, func(err error) bool {
		transient := provider.IsTransient(err)
		metrics.ProviderErrorsTotal.WithLabelValues(stage, strconv.FormatBool(transient)).Inc()
		return transient
	}, fn)
}

func (o *Orchestrator) resolveSourceLang(req Request) string {
	if req.SourceLang != "" {
		return req.SourceLang
	}
	if entry, ok := o.directory.Entry(req.SpeakerID); ok && entry.Language != "" {
		return entry.Language
	}
	return constants.DefaultSourceLanguage
}

// resolveListeners builds the listener set: the single counterpart with
// their preferred language for a direct target, or every other connected
// room member with each member's own language for a room
func (o *Orchestrator) resolveListeners(req Request, sourceLang string) ([]Listener, error) {
	if req.TargetUserID != "" {
		if req.TargetUserID == req.SpeakerID {
			return nil, apperrors.ValidationError("cannot target yourself")
		}
		entry, ok := o.directory.Entry(req.TargetUserID)
		if !ok || !entry.Online() {
			return nil, apperrors.UnavailableError("target user is not connected")
		}
		lang := entry.Language
		if lang == "" {
			lang = sourceLang
		}
		return []Listener{{UserID: req.TargetUserID, Language: lang}}, nil
	}

	if req.RoomID == "" {
		return nil, apperrors.MissingFieldError("roomId")
	}
	var listeners []Listener
	for _, uid := range o.roster.Members(req.RoomID) {
		if uid == req.SpeakerID {
			continue
		}
		entry, ok := o.directory.Entry(uid)
		if !ok {
			continue
		}
		lang := entry.Language
		if lang == "" {
			lang = sourceLang
		}
		listeners = append(listeners, Listener{UserID: uid, Language: lang})
	}
	return listeners, nil
}

func (o *Orchestrator) validateAudio(audio []byte) error {
	if len(audio) < o.cfg.MinAudioBytes {
		return apperrors.InvalidAudioError("audio segment too small")
	}
	if len(audio) > o.cfg.MaxAudioBytes {
		return apperrors.InvalidAudioError("audio segment too large")
	}
	if !knownContainer(audio) {
		return apperrors.InvalidAudioError("unrecognized audio container")
	}
	return nil
}

var webmMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// knownContainer accepts the containers browsers record to: WebM, Ogg and
// RIFF/WAV
func knownContainer(b []byte) bool {
	return bytes.HasPrefix(b, webmMagic) ||
		bytes.HasPrefix(b, []byte("OggS")) ||
		bytes.HasPrefix(b, []byte("RIFF"))
}

// canonicalLang reduces a tag to its base language for grouping and for the
// source equals target check. Chinese keeps its region since simplified and
// traditional are distinct translation targets.
func canonicalLang(tag string) string {
	t := strings.ToLower(strings.TrimSpace(tag))
	if strings.HasPrefix(t, "zh") {
		return strings.ReplaceAll(t, "_", "-")
	}
	if i := strings.IndexAny(t, "-_"); i > 0 {
		return t[:i]
	}
	return t
}

func sameLanguage(a, b string) bool {
	return canonicalLang(a) == canonicalLang(b)
}
