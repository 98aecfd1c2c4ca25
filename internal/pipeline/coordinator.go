package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/pipeline/stt"
	"github.com/acme/followup-call-service/internal/queue"
	"github.com/acme/followup-call-service/internal/repository"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
	"github.com/acme/followup-call-service/pkg/logger"
)

// Stage names used in failure reporting.
const (
	StageTranscribe = "transcribe"
	StageAnalyze    = "analyze"
	StageEscalate   = "escalate"
	StageSynthesize = "synthesize"
)

// Transcriber converts call audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (*stt.Transcript, error)
	Model() string
}

// Generator produces raw model completions for analysis prompts.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Synthesizer renders a text summary to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, callID uuid.UUID, text string) (string, error)
}

// EscalationPublisher routes urgent results to medical staff.
type EscalationPublisher interface {
	PublishEscalation(ctx context.Context, msg queue.EscalationMessage) error
}

// Mutator applies a locked, conflict-retried mutation to a call.
type Mutator interface {
	Mutate(ctx context.Context, callID uuid.UUID, fn func(call *domain.Call) error) (*domain.Call, error)
}

// Coordinator runs the post-call AI pipeline: transcribe, analyze,
// synthesize, then one merged save followed by escalation. The pipeline
// runs at most once per completed call; failures leave the call
// completed with whatever results were produced before the failure.
type Coordinator struct {
	registry    repository.CallRegistry
	mutator     Mutator
	transcriber Transcriber
	generator   Generator
	synthesizer Synthesizer
	escalations EscalationPublisher

	stageTimeout time.Duration
	language     string
	log          *logger.Logger
}

// Options carries constructor dependencies.
type Options struct {
	Registry    repository.CallRegistry
	Mutator     Mutator
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
	Escalations EscalationPublisher

	StageTimeout time.Duration
	Language     string
	Logger       *logger.Logger
}

// New constructs the pipeline coordinator. Synthesizer may be nil to
// disable the synthesis stage.
func New(opts Options) *Coordinator {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 2 * time.Minute
	}
	return &Coordinator{
		registry:     opts.Registry,
		mutator:      opts.Mutator,
		transcriber:  opts.Transcriber,
		generator:    opts.Generator,
		synthesizer:  opts.Synthesizer,
		escalations:  opts.Escalations,
		stageTimeout: opts.StageTimeout,
		language:     opts.Language,
		log:          opts.Logger,
	}
}

// Process runs the pipeline for one completed call.
func (c *Coordinator) Process(ctx context.Context, callID uuid.UUID) error {
	call, err := c.registry.Get(ctx, callID)
	if err != nil {
		return err
	}
	if call.Status != domain.CallStatusCompleted && call.Status != domain.CallStatusCancelled {
		return fmt.Errorf("%w: pipeline requires a finished call, got status %s", apperrors.ErrValidation, call.Status)
	}
	if call.RecordingPath == nil || *call.RecordingPath == "" {
		return apperrors.NewStageError(StageTranscribe, fmt.Errorf("call %s has no recording", callID))
	}

	transcription, err := c.transcribe(ctx, *call.RecordingPath)
	if err != nil {
		// Transcription is the prerequisite for everything downstream.
		c.log.Error("pipeline: transcription failed",
			zap.String("call_id", callID.String()), zap.Error(err))
		return apperrors.NewStageError(StageTranscribe, err)
	}

	analysis := c.analyze(ctx, callID, transcription.Text)

	var synthesisPath string
	if c.synthesizer != nil && analysis.Summary != "" {
		synthesisPath, err = c.synthesize(ctx, callID, analysis.Summary)
		if err != nil {
			// Synthesis is optional; the pipeline result stands without it.
			c.log.Warn("pipeline: synthesis failed",
				zap.String("call_id", callID.String()), zap.Error(err))
		}
	}

	saved, err := c.saveResults(ctx, callID, transcription, analysis, synthesisPath)
	if err != nil {
		return err
	}

	if saved.ResultsOrphaned {
		c.log.Info("pipeline: call cancelled mid-flight, results stored as orphaned",
			zap.String("call_id", callID.String()))
		return nil
	}

	if analysis.Urgency.AtLeast(domain.UrgencyElevated) {
		c.escalate(ctx, saved, analysis)
	}
	return nil
}

func (c *Coordinator) transcribe(ctx context.Context, audioPath string) (*domain.TranscriptionResult, error) {
	sctx, cancel := context.WithTimeout(ctx, c.stageTimeout)
	defer cancel()

	transcript, err := c.transcriber.Transcribe(sctx, audioPath, c.language)
	if err != nil {
		return nil, err
	}

	return &domain.TranscriptionResult{
		Text:       transcript.Text,
		Language:   transcript.Language,
		Confidence: stt.Confidence(transcript.Segments),
		Model:      c.transcriber.Model(),
	}, nil
}

// analyze runs every category against the transcript. A category whose
// model call fails or returns garbage contributes its low-confidence
// default; the stage itself never fails.
func (c *Coordinator) analyze(ctx context.Context, callID uuid.UUID, transcript string) domain.AnalysisResult {
	results := make([]domain.AnalysisResult, 0, len(analysisCategories))
	for _, category := range analysisCategories {
		sctx, cancel := context.WithTimeout(ctx, c.stageTimeout)
		raw, err := c.generator.Generate(sctx, buildPrompt(category, transcript, ""))
		cancel()

		if err != nil {
			c.log.Warn("pipeline: analysis category failed",
				zap.String("call_id", callID.String()),
				zap.String("category", category),
				zap.Error(err))
			results = append(results, defaultAnalysis(category))
			continue
		}
		results = append(results, parseAnalysis(category, raw))
	}
	return mergeAnalyses(results)
}

func (c *Coordinator) synthesize(ctx context.Context, callID uuid.UUID, summary string) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, c.stageTimeout)
	defer cancel()
	return c.synthesizer.Synthesize(sctx, callID, summary)
}

// saveResults merges all pipeline outputs into the call in one save. A
// call cancelled while the pipeline ran still receives its results, but
// flagged orphaned so nothing downstream acts on them.
func (c *Coordinator) saveResults(ctx context.Context, callID uuid.UUID, transcription *domain.TranscriptionResult, analysis domain.AnalysisResult, synthesisPath string) (*domain.Call, error) {
	return c.mutator.Mutate(ctx, callID, func(call *domain.Call) error {
		if call.Status == domain.CallStatusCancelled {
			call.ResultsOrphaned = true
		}

		call.TranscriptionText = &transcription.Text
		call.TranscriptionConfidence = &transcription.Confidence
		call.TranscriptionModel = &transcription.Model

		call.Summary = &analysis.Summary
		call.KeyPoints = analysis.KeyPoints
		call.Sentiment = &analysis.Sentiment
		urgency := analysis.Urgency
		call.Urgency = &urgency
		call.MedicalNotes = &analysis.MedicalNotes
		call.Recommendations = analysis.Recommendations
		call.AnalysisConfidence = &analysis.Confidence

		if synthesisPath != "" {
			call.SynthesisAudioPath = &synthesisPath
		}
		return nil
	})
}

func (c *Coordinator) escalate(ctx context.Context, call *domain.Call, analysis domain.AnalysisResult) {
	msg := queue.EscalationMessage{
		CallID:     call.ID,
		PatientID:  call.PatientID,
		OperatorID: call.OperatorID,
		Urgency:    analysis.Urgency,
		Summary:    analysis.Summary,
		Sentiment:  analysis.Sentiment,
		RaisedAt:   time.Now().UTC(),
	}
	if err := c.escalations.PublishEscalation(ctx, msg); err != nil {
		c.log.Error("pipeline: publish escalation",
			zap.String("call_id", call.ID.String()),
			zap.String("urgency", string(analysis.Urgency)),
			zap.Error(err))
	}
}
