package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/acme/followup-call-service/internal/domain"
)

// Analysis categories run against every transcript.
const (
	CategorySentiment   = "sentiment"
	CategoryMedicalRisk = "medical_risk"
	CategoryCompliance  = "compliance"
)

var analysisCategories = []string{CategorySentiment, CategoryMedicalRisk, CategoryCompliance}

var categoryInstructions = map[string]string{
	CategorySentiment: "Assess the patient's overall mood and attitude during the conversation. " +
		"Summarize the conversation in two sentences and list the key points raised.",
	CategoryMedicalRisk: "Identify health complaints, symptoms, medication issues, and anything that " +
		"requires clinical attention. Note medical observations and recommend follow-up actions.",
	CategoryCompliance: "Evaluate whether the patient follows the discharge instructions and medication " +
		"schedule. Recommend corrective actions where adherence is poor.",
}

// buildPrompt renders the generation prompt for one analysis category.
func buildPrompt(category, transcript, patientContext string) string {
	var b strings.Builder
	b.WriteString("You are a medical assistant reviewing the transcript of a follow-up phone call ")
	b.WriteString("with a recently discharged patient.\n\n")

	if patientContext != "" {
		fmt.Fprintf(&b, "Patient context: %s\n\n", patientContext)
	}

	fmt.Fprintf(&b, "Task: %s\n\n", categoryInstructions[category])
	b.WriteString("Respond with only a JSON object using exactly these keys:\n")
	b.WriteString(`{"summary": string, "key_points": [string], "sentiment": "positive"|"neutral"|"negative", ` +
		`"urgency_level": "low"|"normal"|"elevated"|"critical", "medical_notes": string, ` +
		`"recommendations": [string], "confidence": number between 0 and 1}`)
	b.WriteString("\n\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

type analysisPayload struct {
	Summary         string   `json:"summary"`
	KeyPoints       []string `json:"key_points"`
	Sentiment       string   `json:"sentiment"`
	UrgencyLevel    string   `json:"urgency_level"`
	MedicalNotes    string   `json:"medical_notes"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
}

// parseAnalysis extracts the structured result from raw model output.
// Models wrap JSON in prose more often than not, so everything outside
// the outermost braces is discarded. Malformed output degrades to the
// category default instead of failing the stage.
func parseAnalysis(category, raw string) domain.AnalysisResult {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return defaultAnalysis(category)
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return defaultAnalysis(category)
	}

	urgency := domain.UrgencyLevel(payload.UrgencyLevel)
	if !urgency.Valid() {
		urgency = domain.UrgencyNormal
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return domain.AnalysisResult{
		Category:        category,
		Summary:         payload.Summary,
		KeyPoints:       payload.KeyPoints,
		Sentiment:       payload.Sentiment,
		Urgency:         urgency,
		MedicalNotes:    payload.MedicalNotes,
		Recommendations: payload.Recommendations,
		Confidence:      confidence,
	}
}

// defaultAnalysis is the low-confidence fallback for a category whose
// model output could not be used.
func defaultAnalysis(category string) domain.AnalysisResult {
	return domain.AnalysisResult{
		Category:   category,
		Summary:    "analysis unavailable",
		Sentiment:  "unknown",
		Urgency:    domain.UrgencyNormal,
		Confidence: 0.0,
	}
}

// mergeAnalyses folds per-category results into the fields stored on the
// call. The sentiment category supplies the narrative fields, the
// medical category the clinical ones, and urgency is the maximum seen
// anywhere so a single critical finding always surfaces.
func mergeAnalyses(results []domain.AnalysisResult) (merged domain.AnalysisResult) {
	merged.Urgency = domain.UrgencyLow

	var confidenceSum float64
	for _, result := range results {
		confidenceSum += result.Confidence
		if result.Urgency.AtLeast(merged.Urgency) {
			merged.Urgency = result.Urgency
		}

		switch result.Category {
		case CategorySentiment:
			merged.Summary = result.Summary
			merged.KeyPoints = result.KeyPoints
			merged.Sentiment = result.Sentiment
		case CategoryMedicalRisk:
			merged.MedicalNotes = result.MedicalNotes
			merged.Recommendations = append(merged.Recommendations, result.Recommendations...)
		case CategoryCompliance:
			merged.Recommendations = append(merged.Recommendations, result.Recommendations...)
		}
	}

	if len(results) > 0 {
		merged.Confidence = confidenceSum / float64(len(results))
	}
	return merged
}
